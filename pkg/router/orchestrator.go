// Package router sequences bridge, container, attachment and NAT provisioning
// into router create and delete operations.
package router

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ovs-container-lab/ovs-router/pkg/config"
	"github.com/ovs-container-lab/ovs-router/pkg/container"
	"github.com/ovs-container-lab/ovs-router/pkg/metrics"
	"github.com/ovs-container-lab/ovs-router/pkg/store"
	"github.com/ovs-container-lab/ovs-router/pkg/types"
	"github.com/sirupsen/logrus"
)

// Bridges manages per-router OVS bridges.
type Bridges interface {
	BridgeName(name string) string
	BridgeExists(ctx context.Context, name string) (bool, error)
	CreateBridge(ctx context.Context, name string) (bool, error)
	DeleteBridge(ctx context.Context, name string) (bool, error)
	ListPorts(ctx context.Context, bridge string) ([]string, error)
}

// Containers manages router containers.
type Containers interface {
	RunRouter(ctx context.Context, name string) (string, bool, error)
	StopRouter(ctx context.Context, name string) (bool, error)
	Get(ctx context.Context, name string) (*container.Info, error)
}

// Attacher binds a router container into its bridge.
type Attacher interface {
	Attach(ctx context.Context, name string) (bool, error)
}

// NATConfigurator installs the masquerade rule.
type NATConfigurator interface {
	ConfigureNAT(ctx context.Context, name string) (bool, error)
}

// Ledger records router lifecycle for auditing.
type Ledger interface {
	Save(record *store.RouterRecord) error
	Get(name string) (*store.RouterRecord, error)
	Delete(name string) error
	List() []*store.RouterRecord
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Bridges    Bridges
	Containers Containers
	Attacher   Attacher
	NAT        NATConfigurator
	Ledger     Ledger
	Metrics    *metrics.Registry
	Logger     *logrus.Logger

	// LinkState reports the kernel link of a bridge; optional.
	LinkState func(bridge string) (types.LinkStatus, error)
}

// Orchestrator runs router create and delete workflows. Operations on the
// same name are serialized; different names run concurrently.
type Orchestrator struct {
	Deps
	prefix string
	policy string
	locks  *keyedLocks
}

// New creates an Orchestrator. policy is config.PolicyLeave or
// config.PolicyCompensate.
func New(deps Deps, bridgePrefix, policy string) *Orchestrator {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if deps.Ledger == nil {
		deps.Ledger, _ = store.NewStore("")
	}
	if policy == "" {
		policy = config.PolicyLeave
	}
	return &Orchestrator{
		Deps:   deps,
		prefix: bridgePrefix,
		policy: policy,
		locks:  newKeyedLocks(),
	}
}

func (o *Orchestrator) lock(ctx context.Context, name string) (func(), error) {
	start := time.Now()
	unlock, err := o.locks.Lock(ctx, name)
	o.Metrics.LockWaits.Observe(time.Since(start).Seconds())
	return unlock, err
}

// step runs fn and records its outcome.
func (o *Orchestrator) step(step types.Step, fn func() (bool, error)) (bool, error) {
	start := time.Now()
	changed, err := fn()
	o.Metrics.StepDuration.WithLabelValues(string(step)).Observe(time.Since(start).Seconds())

	result := "unchanged"
	switch {
	case err != nil:
		result = "failed"
	case changed:
		result = "changed"
	}
	o.Metrics.StepResults.WithLabelValues(string(step), result).Inc()
	return changed, err
}

func (o *Orchestrator) record(name string) *store.RouterRecord {
	record, err := o.Ledger.Get(name)
	if err != nil || record.Status == store.StatusDeleted {
		return &store.RouterRecord{Name: name, Bridge: o.Bridges.BridgeName(name)}
	}
	return record
}

func (o *Orchestrator) save(record *store.RouterRecord) {
	if err := o.Ledger.Save(record); err != nil {
		o.Logger.WithError(err).WithField("router", record.Name).Warn("Failed to persist router to ledger")
	}
}

// Create provisions the named router: bridge, container, attachment and NAT,
// in that order. Every step is a no-op when its resource already exists, so a
// failed create can be retried. What happens to resources created before a
// failing step depends on the failure policy.
func (o *Orchestrator) Create(ctx context.Context, name string) (string, error) {
	if err := ValidateName(name, o.prefix); err != nil {
		return "", err
	}
	unlock, err := o.lock(ctx, name)
	if err != nil {
		return "", err
	}
	defer unlock()

	log := o.Logger.WithField("router", name)
	log.Info("Creating router")

	record := o.record(name)
	record.Status = store.StatusProvisioning
	record.Steps = nil
	record.LastError = ""
	o.save(record)

	var created []types.Step
	steps := map[types.Step]func() (bool, error){
		types.StepBridge: func() (bool, error) {
			return o.Bridges.CreateBridge(ctx, name)
		},
		types.StepContainer: func() (bool, error) {
			id, changed, err := o.Containers.RunRouter(ctx, name)
			if id != "" {
				record.ContainerID = id
			}
			return changed, err
		},
		types.StepAttach: func() (bool, error) {
			return o.Attacher.Attach(ctx, name)
		},
		types.StepNAT: func() (bool, error) {
			return o.NAT.ConfigureNAT(ctx, name)
		},
	}

	for _, step := range types.CreateSteps {
		// changed is also true for a container created but not started.
		changed, err := o.step(step, steps[step])
		if changed && (step == types.StepBridge || step == types.StepContainer) {
			created = append(created, step)
		}
		if err != nil {
			err = fmt.Errorf("create %s: %s: %w", name, step, err)
			log.WithError(err).WithField("step", step).Error("Router create failed")
			return "", o.fail(ctx, record, created, err)
		}
		record.Steps = append(record.Steps, string(step))
	}

	record.Status = store.StatusReady
	o.save(record)
	o.Metrics.Operations.WithLabelValues("create", "success").Inc()

	log.Info("Router created")
	return "create " + name, nil
}

// fail applies the failure policy after a create step failed.
func (o *Orchestrator) fail(ctx context.Context, record *store.RouterRecord, created []types.Step, cause error) error {
	o.Metrics.Operations.WithLabelValues("create", "failure").Inc()
	record.LastError = cause.Error()
	record.Status = store.StatusPartial

	if o.policy != config.PolicyCompensate || len(created) == 0 {
		o.save(record)
		return cause
	}

	errs := []error{cause}
	for _, step := range slices.Backward(created) {
		if err := o.compensate(ctx, record.Name, step); err != nil {
			errs = append(errs, err)
			continue
		}
		record.Steps = slices.DeleteFunc(record.Steps, func(s string) bool { return s == string(step) })
		if step == types.StepContainer {
			record.ContainerID = ""
		}
	}
	if len(record.Steps) == 0 && len(errs) == 1 {
		record.Status = store.StatusDeleted
	}
	o.save(record)
	return errors.Join(errs...)
}

// compensate tears down a resource created by the failed call. It uses a
// fresh context so a cancelled request still cleans up.
func (o *Orchestrator) compensate(ctx context.Context, name string, step types.Step) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()

	log := o.Logger.WithFields(logrus.Fields{"router": name, "step": step})
	var err error
	switch step {
	case types.StepContainer:
		_, err = o.Containers.StopRouter(ctx, name)
	case types.StepBridge:
		_, err = o.Bridges.DeleteBridge(ctx, name)
	}
	if err != nil {
		o.Metrics.Compensation.WithLabelValues(string(step), "failed").Inc()
		log.WithError(err).Error("Failed to roll back")
		return fmt.Errorf("rollback %s: %w", step, err)
	}
	o.Metrics.Compensation.WithLabelValues(string(step), "success").Inc()
	log.Info("Rolled back")
	return nil
}

// Delete removes the named router's bridge, then its container. The
// attachment and NAT rule disappear with the container. Missing resources
// are skipped.
func (o *Orchestrator) Delete(ctx context.Context, name string) (string, error) {
	if err := ValidateName(name, o.prefix); err != nil {
		return "", err
	}
	unlock, err := o.lock(ctx, name)
	if err != nil {
		return "", err
	}
	defer unlock()

	log := o.Logger.WithField("router", name)
	log.Info("Deleting router")

	record := o.record(name)
	record.LastError = ""

	if _, err := o.step(types.StepBridge, func() (bool, error) {
		return o.Bridges.DeleteBridge(ctx, name)
	}); err != nil {
		return "", o.failDelete(record, fmt.Errorf("delete %s: %s: %w", name, types.StepBridge, err))
	}
	record.Steps = slices.DeleteFunc(record.Steps, func(s string) bool { return s == string(types.StepBridge) })

	if _, err := o.step(types.StepContainer, func() (bool, error) {
		return o.Containers.StopRouter(ctx, name)
	}); err != nil {
		return "", o.failDelete(record, fmt.Errorf("delete %s: %s: %w", name, types.StepContainer, err))
	}

	record.Status = store.StatusDeleted
	record.Steps = nil
	record.ContainerID = ""
	o.save(record)
	o.Metrics.Operations.WithLabelValues("delete", "success").Inc()

	log.Info("Router deleted")
	return "delete " + name, nil
}

func (o *Orchestrator) failDelete(record *store.RouterRecord, err error) error {
	o.Metrics.Operations.WithLabelValues("delete", "failure").Inc()
	o.Logger.WithError(err).WithField("router", record.Name).Error("Router delete failed")
	record.Status = store.StatusPartial
	record.LastError = err.Error()
	o.save(record)
	return err
}

// Status reports the live state of the named router.
func (o *Orchestrator) Status(ctx context.Context, name string) (*types.RouterStatus, error) {
	if err := ValidateName(name, o.prefix); err != nil {
		return nil, err
	}
	unlock, err := o.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	bridge := o.Bridges.BridgeName(name)
	status := &types.RouterStatus{
		Name:   name,
		Bridge: types.BridgeStatus{Name: bridge},
	}

	present, err := o.Bridges.BridgeExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if present {
		status.Bridge.Present = true
		ports, err := o.Bridges.ListPorts(ctx, bridge)
		if err != nil {
			return nil, err
		}
		status.Bridge.Ports = ports
		status.Attached = slices.Contains(ports, name)

		if o.LinkState != nil {
			if link, err := o.LinkState(bridge); err == nil {
				status.Bridge.Link = &link
			} else {
				o.Logger.WithError(err).Debugf("Failed to read link state of %s", bridge)
			}
		}
	}

	info, err := o.Containers.Get(ctx, name)
	switch {
	case errors.Is(err, container.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		status.Container = &types.ContainerStatus{
			ID:      info.ID,
			Image:   info.Image,
			State:   info.State,
			Running: info.Running,
		}
	}

	if record, err := o.Ledger.Get(name); err == nil {
		status.Ledger = record
	}
	return status, nil
}
