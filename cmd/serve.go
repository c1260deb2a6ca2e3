package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/ovs-container-lab/ovs-router/pkg/api"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// startupTimeout bounds the tool checks and ledger reconciliation.
const startupTimeout = 30 * time.Second

var (
	listenAddr string
	socketPath string
	socketGID  int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the router provisioning API",
	Long: "Run the HTTP API that creates and deletes routers. The API listens on a\n" +
		"TCP address and, when --socket is set, on a unix socket as well.",
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "TCP listen address (overrides config)")
	serveCmd.Flags().StringVar(&socketPath, "socket", "", "unix socket path (overrides config)")
	serveCmd.Flags().IntVar(&socketGID, "socket-gid", 0, "group owning the unix socket")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, s, err := setup(true)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer s.Close()

	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}
	if socketPath != "" {
		cfg.Server.SocketPath = socketPath
	}
	if cmd.Flags().Changed("socket-gid") {
		cfg.Server.SocketGID = socketGID
	}

	logger.Infof("Starting ovs-router version %s", buildVersion)
	logger.Debugf("Router image %s, bridge prefix %s, failure policy %s",
		cfg.Router.Image, cfg.Router.BridgePrefix, cfg.FailurePolicy)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	if err := s.checkTools(startCtx); err != nil {
		// The tools may come up later; every request reports its own failure.
		logger.WithError(err).Warn("Startup check failed")
	} else if drifts, err := s.orchestrator.Reconcile(startCtx); err != nil {
		logger.WithError(err).Warn("Failed to reconcile router ledger")
	} else {
		for _, d := range drifts {
			logger.WithField("router", d.Name).Warnf("Drift: %s", d)
		}
	}
	cancel()

	auth, err := api.NewBasicAuth(cfg.Auth.Username, cfg.Auth.Password, cfg.Auth.PasswordHash)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	server := api.NewServer(s.orchestrator, auth, s.metrics, logger)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.Listen != "" {
		g.Go(func() error {
			return server.ListenAndServe(gctx, cfg.Server.Listen)
		})
	}
	if cfg.Server.SocketPath != "" {
		g.Go(func() error {
			return server.ServeUnix(gctx, cfg.Server.SocketPath, cfg.Server.SocketGID)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("Shut down")
	return nil
}
