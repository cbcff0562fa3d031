// Package pipeline classifies parcels by their exposure to the demolition
// ordinance: zoning, then historic designations, then neighborhood
// character, each stage returning a new parcel table.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-risk/internal/model"
	"github.com/sells-group/parcel-risk/internal/monitoring"
	"github.com/sells-group/parcel-risk/internal/parcel"
	"github.com/sells-group/parcel-risk/internal/store"
)

// Options are the tunables of a run.
type Options struct {
	ResidentialCategories []string
	ThresholdFt           float64
	IncludeLandmarks      bool
	// Output is recorded on the run; the pipeline does not write it.
	Output string
}

// DefaultOptions mirror the published map.
func DefaultOptions() Options {
	return Options{
		ResidentialCategories: DefaultResidentialCategories,
		ThresholdFt:           DefaultThresholdFt,
	}
}

// Sink consumes the final table: the map renderer and the exporters.
type Sink interface {
	Name() string
	Write(ctx context.Context, t *parcel.Table) error
}

// Result is the outcome of a run.
type Result struct {
	RunID   string
	Table   *parcel.Table
	Summary *model.Summary
	Phases  []model.PhaseResult
}

// Pipeline runs the classification stages. The store and metrics are
// optional.
type Pipeline struct {
	opts    Options
	store   store.Store
	metrics *monitoring.Metrics
	sinks   []Sink
}

// New creates a Pipeline. st and m may be nil.
func New(opts Options, st store.Store, m *monitoring.Metrics, sinks ...Sink) *Pipeline {
	if len(opts.ResidentialCategories) == 0 {
		opts.ResidentialCategories = DefaultResidentialCategories
	}
	return &Pipeline{opts: opts, store: st, metrics: m, sinks: sinks}
}

// Run loads the datasets and executes every phase in order. The first
// failing phase stops the run.
func (p *Pipeline) Run(ctx context.Context, datasets Datasets) (*Result, error) {
	return p.run(ctx, datasets, func(ctx context.Context) (*Inputs, error) {
		return Load(ctx, datasets)
	})
}

// RunInputs executes the stages over datasets that are already loaded.
func (p *Pipeline) RunInputs(ctx context.Context, in *Inputs) (*Result, error) {
	return p.run(ctx, Datasets{}, func(context.Context) (*Inputs, error) {
		return in, nil
	})
}

func (p *Pipeline) run(ctx context.Context, datasets Datasets, load func(context.Context) (*Inputs, error)) (*Result, error) {
	log := zap.L().With(zap.Float64("threshold_ft", p.opts.ThresholdFt))
	log.Info("pipeline: starting run")
	start := time.Now()

	result := &Result{}

	var runID string
	if p.store != nil {
		run, err := p.store.CreateRun(ctx, model.RunInputs{
			Datasets:         datasets.Map(),
			ThresholdFt:      p.opts.ThresholdFt,
			IncludeLandmarks: p.opts.IncludeLandmarks,
			Output:           p.opts.Output,
		})
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create run")
		}
		runID = run.ID
		result.RunID = runID
		log = log.With(zap.String("run_id", runID))
	}

	trackPhase := func(name string, fn func() (*model.PhaseResult, error)) error {
		var phase *model.RunPhase
		if p.store != nil {
			var phaseErr error
			phase, phaseErr = p.store.CreatePhase(ctx, runID, name)
			if phaseErr != nil {
				log.Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
			}
		}

		phaseStart := time.Now()
		var phaseResult *model.PhaseResult
		fnErr := ctx.Err()
		if fnErr == nil {
			phaseResult, fnErr = fn()
		}
		elapsed := time.Since(phaseStart)

		if phaseResult == nil {
			phaseResult = &model.PhaseResult{}
		}
		phaseResult.Name = name
		phaseResult.Duration = elapsed.Milliseconds()

		if fnErr != nil {
			phaseResult.Status = model.PhaseStatusFailed
			phaseResult.Error = fnErr.Error()
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", phaseResult.Duration),
				zap.Error(fnErr),
			)
		} else {
			phaseResult.Status = model.PhaseStatusComplete
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", phaseResult.Duration),
				zap.Int("rows", phaseResult.Rows),
			)
		}

		if phase != nil {
			if err := p.store.CompletePhase(ctx, phase.ID, phaseResult); err != nil {
				log.Warn("pipeline: failed to complete phase", zap.String("phase", name), zap.Error(err))
			}
		}
		p.metrics.ObservePhase(name, elapsed)
		result.Phases = append(result.Phases, *phaseResult)
		return fnErr
	}

	fail := func(err error) (*Result, error) {
		p.metrics.ObserveRun(model.RunStatusFailed, nil)
		if p.store != nil {
			// The run context may be the reason we are failing.
			saveCtx := context.WithoutCancel(ctx)
			if saveErr := p.store.FailRun(saveCtx, runID, &model.RunResult{Phases: result.Phases, Error: err.Error()}); saveErr != nil {
				log.Warn("pipeline: failed to record failure", zap.Error(saveErr))
			}
		}
		return nil, err
	}

	var (
		in    *Inputs
		stats stageStats
		zoned *parcel.Table
		hist  *parcel.Table
		final *parcel.Table
	)

	// ===== Phase 0: Load =====
	if err := trackPhase("0_load", func() (*model.PhaseResult, error) {
		var err error
		in, err = load(ctx)
		if err != nil {
			return nil, err
		}
		meta := make(map[string]any, 8)
		for _, l := range in.Layers() {
			if l != nil {
				meta[l.Name] = l.Len()
			}
		}
		return &model.PhaseResult{Rows: in.Lots.Len(), Metadata: meta}, nil
	}); err != nil {
		return fail(err)
	}

	// ===== Phase 1: Zoning =====
	if err := trackPhase("1_zoning", func() (*model.PhaseResult, error) {
		var err error
		zoned, stats.zoning, err = ResolveZoning(in.Lots, in.Zoning, p.opts.ResidentialCategories)
		if err != nil {
			return nil, err
		}
		if err := checkCodes("zoning", zoned); err != nil {
			return nil, err
		}
		return &model.PhaseResult{
			Rows: zoned.Len(),
			Metadata: map[string]any{
				"dropped": stats.zoning.Dropped,
				"tied":    stats.zoning.Tied,
			},
		}, nil
	}); err != nil {
		return fail(err)
	}

	// ===== Phase 2: Historic =====
	if err := trackPhase("2_historic", func() (*model.PhaseResult, error) {
		var err error
		hist, stats.historic, err = ResolveHistoric(zoned, in.Historic, HistoricOptions{
			IncludeLandmarks: p.opts.IncludeLandmarks,
		})
		if err != nil {
			return nil, err
		}
		if err := checkCodes("historic", hist); err != nil {
			return nil, err
		}
		if err := checkMonotonic("historic", zoned, hist); err != nil {
			return nil, err
		}
		return &model.PhaseResult{
			Rows: hist.Len(),
			Metadata: map[string]any{
				"joined_rows": stats.historic.JoinedRows,
				"historic":    stats.historic.Historic,
				"escalated":   stats.historic.Escalated,
			},
		}, nil
	}); err != nil {
		return fail(err)
	}

	// ===== Phase 3: Neighborhood character =====
	if err := trackPhase("3_character", func() (*model.PhaseResult, error) {
		var err error
		final, stats.character, err = ResolveCharacter(hist, in.Buildings, p.opts.ThresholdFt)
		if err != nil {
			return nil, err
		}
		if err := checkCodes("character", final); err != nil {
			return nil, err
		}
		if err := checkMonotonic("character", hist, final); err != nil {
			return nil, err
		}
		return &model.PhaseResult{
			Rows: final.Len(),
			Metadata: map[string]any{
				"pairs":     stats.character.Pairs,
				"deviating": stats.character.Deviating,
				"escalated": stats.character.Escalated,
			},
		}, nil
	}); err != nil {
		return fail(err)
	}
	result.Table = final

	// ===== Phase 4: Persist =====
	if p.store != nil {
		if err := trackPhase("4_persist", func() (*model.PhaseResult, error) {
			n, err := p.store.SaveParcels(ctx, runID, final)
			if err != nil {
				return nil, err
			}
			return &model.PhaseResult{Rows: int(n)}, nil
		}); err != nil {
			return fail(err)
		}
	}

	// ===== Phase 5: Sinks =====
	for _, sink := range p.sinks {
		if err := trackPhase("5_"+sink.Name(), func() (*model.PhaseResult, error) {
			if err := sink.Write(ctx, final); err != nil {
				return nil, err
			}
			return &model.PhaseResult{Rows: final.Len()}, nil
		}); err != nil {
			return fail(err)
		}
	}

	result.Summary = buildSummary(final, stats, p.opts, time.Since(start))
	p.metrics.ObserveRun(model.RunStatusComplete, result.Summary)

	if p.store != nil {
		runResult := &model.RunResult{Summary: result.Summary, Phases: result.Phases}
		if err := p.store.CompleteRun(ctx, runID, runResult); err != nil {
			log.Warn("pipeline: failed to save run result", zap.Error(err))
		}
	}

	log.Info("pipeline: run complete",
		zap.Int("parcels", result.Summary.Parcels),
		zap.Int("protected", result.Summary.Codes[parcel.CodeProtected.String()]),
		zap.Int64("elapsed_ms", result.Summary.ElapsedMS),
	)
	return result, nil
}
