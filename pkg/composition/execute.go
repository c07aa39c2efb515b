package composition

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ag-ui/go-dispatch/pkg/tools"
)

// ExecuteComposition runs a plan. A step starts once all of its
// dependencies completed (or were skipped as optional), up to the
// engine's parallelism bound. The first failed required step cancels the
// steps still running and aborts the ones not started.
//
// Step failures are reported in the returned Result; an error is only
// returned when the plan itself is invalid, in which case nothing runs.
func (e *Engine) ExecuteComposition(ctx context.Context, plan *Plan, execCtx *tools.ExecutionContext) (*Result, error) {
	if err := ValidatePlan(plan); err != nil {
		e.mu.Lock()
		e.stats.rejected++
		e.mu.Unlock()
		return nil, err
	}

	timeout := plan.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id := plan.CompositionID
	if id == "" {
		id = uuid.New().String()
	}
	log := e.logger.WithField("composition_id", id)
	started := time.Now()

	tracked := &activeComposition{id: id, plan: plan, startedAt: started, status: make(map[string]StepStatus)}
	e.track(id, tracked)
	defer e.untrack(id)

	result := &Result{
		CompositionID: id,
		TotalSteps:    len(plan.Steps),
		Results:       make(map[string]*StepResult, len(plan.Steps)),
	}
	done := make(map[string]chan struct{}, len(plan.Steps))
	for _, s := range plan.Steps {
		result.Results[s.StepID] = &StepResult{StepID: s.StepID, ToolID: s.ToolID, Status: StepAborted}
		done[s.StepID] = make(chan struct{})
	}

	var (
		mu      sync.Mutex
		outputs = make(map[string]*tools.ToolResult, len(plan.Steps))
	)
	sem := semaphore.NewWeighted(int64(e.maxParallel))
	g, gctx := errgroup.WithContext(runCtx)

	for _, step := range plan.Steps {
		step := step
		g.Go(func() error {
			defer close(done[step.StepID])

			for _, dep := range step.DependsOn {
				select {
				case <-done[dep]:
				case <-gctx.Done():
					return nil
				}
				mu.Lock()
				status := result.Results[dep].Status
				mu.Unlock()
				if status != StepCompleted && status != StepSkipped {
					// an upstream step did not finish; this one stays aborted
					return nil
				}
			}

			if err := sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)
			if gctx.Err() != nil {
				return nil
			}

			mu.Lock()
			params := bindSteps(step.Parameters, outputs)
			sr := result.Results[step.StepID]
			sr.StartedAt = time.Now()
			mu.Unlock()
			tracked.set(step.StepID, stepRunning)

			res, err := e.dispatcher.ExecuteTool(gctx, step.ToolID, params, execCtx)

			mu.Lock()
			defer mu.Unlock()
			sr.CompletedAt = time.Now()
			if toolID := res.ToolID(); toolID != "" {
				sr.ToolID = toolID
			}

			switch {
			case err == nil:
				sr.Status = StepCompleted
				sr.Result = res
				outputs[step.StepID] = res
			case gctx.Err() != nil:
				sr.Status = StepAborted
				sr.Error = err.Error()
			case step.Optional:
				sr.Status = StepSkipped
				sr.Error = err.Error()
				log.WithError(err).WithField("step", step.StepID).Warn("optional step failed")
			default:
				sr.Status = StepFailed
				sr.Error = err.Error()
				if result.FailedStep == "" {
					result.FailedStep = step.StepID
				}
				log.WithError(err).WithField("step", step.StepID).Error("composition step failed")
			}
			tracked.set(step.StepID, sr.Status)

			if sr.Status == StepFailed {
				return err
			}
			return nil
		})
	}
	stepErr := g.Wait()

	elapsed := time.Since(started)
	result.TotalExecutionTime = elapsed
	result.TimedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded)
	result.Success = stepErr == nil && !result.TimedOut
	var sequence []string
	for _, s := range plan.Steps {
		sr := result.Results[s.StepID]
		switch sr.Status {
		case StepCompleted:
			result.CompletedSteps++
			sequence = append(sequence, e.logicalName(sr.ToolID))
		case StepSkipped:
		default:
			result.Success = false
		}
	}

	e.mu.Lock()
	e.stats.executed++
	e.stats.stepsRun += int64(result.CompletedSteps)
	e.stats.totalTime += elapsed
	if result.Success {
		e.stats.successful++
	} else {
		e.stats.failed++
	}
	e.mu.Unlock()
	e.observePattern(sequence, result.Success)

	log.WithFields(logrus.Fields{
		"success":   result.Success,
		"completed": result.CompletedSteps,
		"total":     result.TotalSteps,
		"elapsed":   elapsed,
	}).Info("composition finished")
	return result, nil
}

func (e *Engine) track(id string, a *activeComposition) {
	e.mu.Lock()
	e.active[id] = a
	e.mu.Unlock()
}

func (e *Engine) untrack(id string) {
	e.mu.Lock()
	delete(e.active, id)
	e.mu.Unlock()
}
