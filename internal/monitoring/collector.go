package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/parcel-risk/internal/model"
	"github.com/sells-group/parcel-risk/internal/store"
)

// RunsSnapshot holds a point-in-time view of run history.
type RunsSnapshot struct {
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	FailRate     float64 `json:"fail_rate"`

	// Averages over completed runs with a summary.
	AvgParcels       float64 `json:"avg_parcels"`
	AvgProtectedRate float64 `json:"avg_protected_rate"`

	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LookbackHours int        `json:"lookback_hours"`
	CollectedAt   time.Time  `json:"collected_at"`
}

// RunLister is the part of store.Store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers run statistics from the store.
type Collector struct {
	runs RunLister
}

// NewCollector creates a new run statistics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs}
}

// collectLimit bounds how many runs one snapshot reads.
const collectLimit = 10000

// Collect gathers a snapshot of run history over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*RunsSnapshot, error) {
	now := time.Now().UTC()
	snap := &RunsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        collectLimit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var parcels, protectedRate float64
	var summarized int

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		if snap.LastRunAt == nil || r.CreatedAt.After(*snap.LastRunAt) {
			created := r.CreatedAt
			snap.LastRunAt = &created
		}

		if r.Status != model.RunStatusComplete || r.Result == nil || r.Result.Summary == nil {
			continue
		}
		s := r.Result.Summary
		summarized++
		parcels += float64(s.Parcels)
		if s.Parcels > 0 {
			protectedRate += float64(s.Codes["protected"]) / float64(s.Parcels)
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if summarized > 0 {
		snap.AvgParcels = parcels / float64(summarized)
		snap.AvgProtectedRate = protectedRate / float64(summarized)
	}
	return snap, nil
}
