package cmd

import (
	"context"
	"fmt"

	"github.com/docker/docker/client"
	"github.com/ovs-container-lab/ovs-router/pkg/config"
	"github.com/ovs-container-lab/ovs-router/pkg/container"
	"github.com/ovs-container-lab/ovs-router/pkg/executor"
	"github.com/ovs-container-lab/ovs-router/pkg/metrics"
	"github.com/ovs-container-lab/ovs-router/pkg/nat"
	"github.com/ovs-container-lab/ovs-router/pkg/ovs"
	"github.com/ovs-container-lab/ovs-router/pkg/pipework"
	"github.com/ovs-container-lab/ovs-router/pkg/router"
	"github.com/ovs-container-lab/ovs-router/pkg/store"
	"github.com/sirupsen/logrus"
)

// stack is the set of wired components behind one orchestrator.
type stack struct {
	orchestrator *router.Orchestrator
	bridges      *ovs.Client
	containers   *container.Manager
	metrics      *metrics.Registry
	docker       *client.Client
}

func (s *stack) Close() error {
	return s.docker.Close()
}

// checkTools verifies that OVS and the Docker daemon answer.
func (s *stack) checkTools(ctx context.Context) error {
	if err := s.bridges.Ping(ctx); err != nil {
		return fmt.Errorf("failed to reach OVS: %w", err)
	}
	if err := s.containers.Ping(ctx); err != nil {
		return fmt.Errorf("failed to reach Docker: %w", err)
	}
	return nil
}

func newStack(cfg *config.Config, logger *logrus.Logger) (*stack, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	ledger, err := store.NewStore(cfg.DataDir)
	if err != nil {
		docker.Close()
		return nil, fmt.Errorf("failed to open router ledger: %w", err)
	}

	exec := executor.New(cfg.Tools.Privilege, cfg.Tools.Timeout, logger)
	bridges := ovs.NewClient(exec, cfg.Tools.OVSVsctl, cfg.Router.BridgePrefix, logger)
	containers := container.NewManager(docker, cfg.Router, logger)
	reg := metrics.New()

	orch := router.New(router.Deps{
		Bridges:    bridges,
		Containers: containers,
		Attacher:   pipework.NewAttacher(exec, bridges, cfg.Tools.Pipework, cfg.Router, logger),
		NAT:        nat.NewConfigurator(containers, cfg.Router.PrimaryIface, cfg.NAT.CheckExisting, logger),
		Ledger:     ledger,
		Metrics:    reg,
		Logger:     logger,
		LinkState:  ovs.LinkState,
	}, cfg.Router.BridgePrefix, cfg.FailurePolicy)

	return &stack{
		orchestrator: orch,
		bridges:      bridges,
		containers:   containers,
		metrics:      reg,
		docker:       docker,
	}, nil
}

// setup loads and validates config, then wires the components.
func setup(server bool) (*config.Config, *logrus.Logger, *stack, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	validate := cfg.Validate
	if server {
		validate = cfg.ValidateServer
	}
	if err := validate(); err != nil {
		return nil, nil, nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, err
	}

	s, err := newStack(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, s, nil
}
