// Package cmd implements the ovs-router CLI commands.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/ovs-container-lab/ovs-router/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "/etc/ovs-router/config.yaml"

// Environment variables carrying API credentials.
const (
	envUsername     = "ROUTERD_USERNAME"
	envPassword     = "ROUTERD_PASSWORD"
	envPasswordHash = "ROUTERD_PASSWORD_HASH"
)

var (
	cfgFile   string
	logLevel  string
	debugMode bool
	policy    string
	dataDir   string
)

// Build info set from main.
var (
	buildVersion = "dev"
	buildCommit  = "none"
)

// SetVersionInfo sets the version info from build-time ldflags.
func SetVersionInfo(version, commit string) {
	buildVersion = version
	buildCommit = commit
	rootCmd.Version = buildVersion
}

var rootCmd = &cobra.Command{
	Use:   "ovs-router",
	Short: "Provision per-tenant virtual routers on Open vSwitch",
	Long: "ovs-router provisions virtual routers for tenants. Each router is a Docker\n" +
		"container attached to a dedicated OVS bridge, with outbound NAT configured.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "router ledger directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&policy, "failure-policy", "", "behaviour after a failed create: leave or compensate")

	rootCmd.Version = buildVersion
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the config file and applies environment and flag
// overrides on top of it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv(envUsername); v != "" {
		cfg.Auth.Username = v
	}
	if v := os.Getenv(envPassword); v != "" {
		cfg.Auth.Password = v
	}
	if v := os.Getenv(envPasswordHash); v != "" {
		cfg.Auth.PasswordHash = v
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if debugMode {
		cfg.LogLevel = "debug"
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if policy != "" {
		cfg.FailurePolicy = policy
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// newLogger configures logging the same way for every command.
func newLogger(level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger := logrus.New()
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return logger, nil
}
