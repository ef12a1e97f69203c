package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/surveybott/fmribatch/internal/models"
)

// LockName is the lock file created at the root of a derivatives tree while a
// batch writes into it.
const LockName = ".fmribatch.lock"

// ErrLocked reports another batch holding the derivatives tree.
var ErrLocked = errors.New("derivatives tree is locked by another batch")

// Recorder persists batch progress.
type Recorder interface {
	StartBatch(ctx context.Context, b models.BatchResult) error
	RecordResult(ctx context.Context, batchID string, r models.WorkResult) error
	FinishBatch(ctx context.Context, b models.BatchResult) error
}

// Dispatcher executes plans.
type Dispatcher struct {
	// Parallel bounds concurrent units. 1 runs units one after another.
	Parallel int
	// LockPath guards the output tree; empty disables locking.
	LockPath string
	// UnitTimeout bounds each unit; zero means no limit.
	UnitTimeout time.Duration
	// StateDir receives <batch id>/result.json when set.
	StateDir string
	Recorder Recorder
}

// Run executes every unit of the plan. A failing unit does not cancel its
// siblings; all failures are returned together once the pool drains.
// Cancelling ctx stops units that have not started yet.
func (d *Dispatcher) Run(ctx context.Context, plan *Plan) (*models.BatchResult, error) {
	batch := &models.BatchResult{
		BatchID:   uuid.NewString(),
		Step:      plan.Step.Name(),
		Skipped:   len(plan.Skipped),
		StartedAt: time.Now(),
	}
	if len(plan.Units) == 0 {
		slog.Info("nothing to dispatch", "step", batch.Step, "skipped", batch.Skipped)
		batch.EndedAt = batch.StartedAt
		return batch, nil
	}

	if d.LockPath != "" {
		lock := flock.New(d.LockPath)
		ok, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("locking %s: %w", d.LockPath, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrLocked, d.LockPath)
		}
		defer lock.Unlock()
	}

	if d.Recorder != nil {
		if err := d.Recorder.StartBatch(ctx, *batch); err != nil {
			return nil, fmt.Errorf("recording batch start: %w", err)
		}
	}
	slog.Info("dispatching", "batch", batch.BatchID, "step", batch.Step, "units", len(plan.Units), "parallel", d.parallel())

	results := make([]*models.WorkResult, len(plan.Units))
	if d.parallel() == 1 {
		for i, u := range plan.Units {
			if ctx.Err() != nil {
				break
			}
			results[i] = d.runUnit(ctx, batch.BatchID, plan.Step, u)
		}
	} else {
		p := pool.New().WithMaxGoroutines(d.parallel())
		for i, u := range plan.Units {
			p.Go(func() {
				if ctx.Err() != nil {
					return
				}
				results[i] = d.runUnit(ctx, batch.BatchID, plan.Step, u)
			})
		}
		p.Wait()
	}

	var errs []error
	for _, r := range results {
		if r == nil {
			batch.Canceled++
			continue
		}
		batch.Dispatched++
		if r.Error != nil {
			batch.Failed++
			errs = append(errs, fmt.Errorf("%s: %s", r.Prefix, r.Error.Message))
		} else {
			batch.Succeeded++
		}
		batch.Results = append(batch.Results, *r)
	}
	batch.EndedAt = time.Now()
	batch.TotalDurationSec = batch.EndedAt.Sub(batch.StartedAt).Seconds()

	if d.Recorder != nil {
		if err := d.Recorder.FinishBatch(context.WithoutCancel(ctx), *batch); err != nil {
			slog.Error("recording batch end", "batch", batch.BatchID, "error", err)
		}
	}
	if err := d.writeState(batch); err != nil {
		slog.Error("writing batch result", "batch", batch.BatchID, "error", err)
	}

	slog.Info("batch finished", "batch", batch.BatchID, "succeeded", batch.Succeeded, "failed", batch.Failed, "skipped", batch.Skipped, "canceled", batch.Canceled)
	if len(errs) > 0 {
		return batch, fmt.Errorf("%w: %d of %d run(s) failed: %w", models.ErrExternalTool, batch.Failed, batch.Dispatched, errors.Join(errs...))
	}
	if err := ctx.Err(); err != nil {
		return batch, err
	}
	return batch, nil
}

func (d *Dispatcher) parallel() int {
	return max(d.Parallel, 1)
}

func (d *Dispatcher) runUnit(ctx context.Context, batchID string, step Step, u Unit) *models.WorkResult {
	r := &models.WorkResult{
		Prefix:    u.Record.Run.Prefix,
		Subject:   u.Record.Run.Subject,
		Step:      step.Name(),
		OutputDir: u.OutputDir,
		StartedAt: time.Now(),
	}

	unitCtx := ctx
	if d.UnitTimeout > 0 {
		var cancel context.CancelFunc
		unitCtx, cancel = context.WithTimeout(ctx, d.UnitTimeout)
		defer cancel()
	}

	slog.Debug("unit started", "step", r.Step, "prefix", r.Prefix, "out", r.OutputDir)
	err := step.Run(unitCtx, u.Record)
	if err != nil && errors.Is(unitCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %w", context.DeadlineExceeded, d.UnitTimeout, err)
	}
	if err != nil {
		r.Error = &models.WorkError{Type: models.Classify(err), Message: err.Error()}
		slog.Warn("unit failed", "step", r.Step, "prefix", r.Prefix, "error", err)
	}
	r.EndedAt = time.Now()
	r.DurationSec = r.EndedAt.Sub(r.StartedAt).Seconds()

	if d.Recorder != nil {
		if err := d.Recorder.RecordResult(context.WithoutCancel(ctx), batchID, *r); err != nil {
			slog.Error("recording result", "prefix", r.Prefix, "error", err)
		}
	}
	return r
}

func (d *Dispatcher) writeState(batch *models.BatchResult) error {
	if d.StateDir == "" {
		return nil
	}
	dir := filepath.Join(d.StateDir, batch.BatchID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "result.json"), data, 0644)
}
