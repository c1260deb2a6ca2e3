package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ovs-container-lab/ovs-router/pkg/container"
	"github.com/ovs-container-lab/ovs-router/pkg/store"
)

// Drift describes a ledger record that no longer matches live state.
type Drift struct {
	Name    string
	Missing []string
	Was     store.Status
}

func (d Drift) String() string {
	return fmt.Sprintf("%s (%s): missing %s", d.Name, d.Was, strings.Join(d.Missing, ", "))
}

// Reconcile compares every ledger record with the bridges and containers that
// actually exist. Deleted records are dropped, records whose resources are
// gone are marked partial, and an interrupted create is marked partial. Live
// state is never changed.
func (o *Orchestrator) Reconcile(ctx context.Context) ([]Drift, error) {
	o.Logger.Info("Reconciling router ledger against live state")

	var drifts []Drift
	records := o.Ledger.List()
	for _, record := range records {
		unlock, err := o.lock(ctx, record.Name)
		if err != nil {
			return drifts, err
		}
		drift, err := o.reconcileOne(ctx, record)
		unlock()
		if err != nil {
			return drifts, err
		}
		if drift != nil {
			drifts = append(drifts, *drift)
		}
	}

	o.Logger.Infof("Reconciled %d routers, %d drifted", len(records), len(drifts))
	return drifts, nil
}

func (o *Orchestrator) reconcileOne(ctx context.Context, record *store.RouterRecord) (*Drift, error) {
	log := o.Logger.WithField("router", record.Name)

	if record.Status == store.StatusDeleted {
		log.Debug("Dropping deleted router from ledger")
		if err := o.Ledger.Delete(record.Name); err != nil {
			log.WithError(err).Warn("Failed to drop router from ledger")
		}
		return nil, nil
	}

	bridgePresent, err := o.Bridges.BridgeExists(ctx, record.Name)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", record.Name, err)
	}
	_, err = o.Containers.Get(ctx, record.Name)
	containerPresent := err == nil
	if err != nil && !errors.Is(err, container.ErrNotFound) {
		return nil, fmt.Errorf("reconcile %s: %w", record.Name, err)
	}

	drift := &Drift{Name: record.Name, Was: record.Status}
	if !bridgePresent {
		drift.Missing = append(drift.Missing, "bridge "+record.Bridge)
	}
	if !containerPresent {
		drift.Missing = append(drift.Missing, "container "+record.Name)
	}

	switch {
	case len(drift.Missing) > 0:
		log.Warnf("Router %s no longer matches the ledger: %s", record.Name, drift)
		record.Status = store.StatusPartial
		record.LastError = "drift: missing " + strings.Join(drift.Missing, ", ")
	case record.Status == store.StatusProvisioning:
		log.Warnf("Router %s was interrupted during create", record.Name)
		record.Status = store.StatusPartial
		record.LastError = "interrupted during create"
		drift.Missing = []string{"completion of create"}
	default:
		return nil, nil
	}

	o.save(record)
	return drift, nil
}
