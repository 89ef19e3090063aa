// Package jobs contains background jobs run by the scheduler.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Shivanand-hulikatti/club-registration/internal/metrics"
	"github.com/Shivanand-hulikatti/club-registration/internal/model"
	"github.com/Shivanand-hulikatti/club-registration/internal/repository"
)

// DriftSource lists entities whose roster disagrees with the ledger.
type DriftSource interface {
	RosterDrift(ctx context.Context) ([]model.RosterDrift, error)
}

var _ DriftSource = (repository.Store)(nil)

// Reconciler compares every roster with its active registrations. It only
// reports; repairing drift is an operator decision.
type Reconciler struct {
	source  DriftSource
	log     *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

// NewReconciler constructs a Reconciler. timeout bounds one pass; zero means
// one minute.
func NewReconciler(source DriftSource, log *slog.Logger, m *metrics.Metrics, timeout time.Duration) *Reconciler {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Reconciler{source: source, log: log, metrics: m, timeout: timeout}
}

// Reconcile runs one pass and returns the drifted entities.
func (r *Reconciler) Reconcile(ctx context.Context) ([]model.RosterDrift, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	drifts, err := r.source.RosterDrift(ctx)
	if err != nil {
		return nil, fmt.Errorf("compute roster drift: %w", err)
	}

	r.metrics.SetRosterDrift(len(drifts))
	for _, d := range drifts {
		r.log.WarnContext(ctx, "roster drift detected",
			"entity_id", d.EntityID,
			"roster_only", d.RosterOnly,
			"ledger_only", d.LedgerOnly,
			"over_capacity", d.OverCapacity,
			"active_count", d.ActiveCount,
			"roster_size", d.RosterSize,
		)
	}
	r.log.InfoContext(ctx, "roster reconciliation finished",
		"drifted", len(drifts), "duration_ms", time.Since(start).Milliseconds())
	return drifts, nil
}

// Run is the cron entry point. Errors are logged, not returned.
func (r *Reconciler) Run() {
	if _, err := r.Reconcile(context.Background()); err != nil {
		r.log.Error("roster reconciliation failed", "error", err)
	}
}
