package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a router without going through the API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLocal(cmd, func(ctx context.Context, s *stack) error {
			msg, err := s.orchestrator.Create(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a router without going through the API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLocal(cmd, func(ctx context.Context, s *stack) error {
			msg, err := s.orchestrator.Delete(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status NAME",
	Short: "Show the live state of a router",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLocal(cmd, func(ctx context.Context, s *stack) error {
			status, err := s.orchestrator.Status(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		})
	},
}

func init() {
	rootCmd.AddCommand(createCmd, deleteCmd, statusCmd)
}

// runLocal wires the components in-process and runs fn once.
func runLocal(cmd *cobra.Command, fn func(ctx context.Context, s *stack) error) error {
	_, _, s, err := setup(false)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return fn(ctx, s)
}
