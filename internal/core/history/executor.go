package history

import (
	"context"
	"time"

	coreerrors "graphedit/internal/core/errors"
	"graphedit/internal/shared/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Undo reverts the newest applied entry. It returns false with a nil error
// when there is nothing to undo. If the effect fails the entry stays on the
// undo stack and the error is returned.
func (e *Engine) Undo(ctx context.Context) (bool, error) {
	if err := e.acquire("undo"); err != nil {
		return false, err
	}
	defer e.release()
	return e.step(ctx, DirectionUndo)
}

// Redo re-applies the newest reverted entry; see Undo.
func (e *Engine) Redo(ctx context.Context) (bool, error) {
	if err := e.acquire("redo"); err != nil {
		return false, err
	}
	defer e.release()
	return e.step(ctx, DirectionRedo)
}

// UndoTo undoes every applied entry down to and including id, one step at a
// time. It returns the number of steps completed.
func (e *Engine) UndoTo(ctx context.Context, id string) (int, error) {
	return e.jump(ctx, DirectionUndo, id)
}

// RedoTo redoes every reverted entry up to and including id.
func (e *Engine) RedoTo(ctx context.Context, id string) (int, error) {
	return e.jump(ctx, DirectionRedo, id)
}

func (e *Engine) jump(ctx context.Context, dir Direction, id string) (int, error) {
	if err := e.acquire(string(dir) + "_to"); err != nil {
		return 0, err
	}
	defer e.release()

	ctx, span := observability.Tracer.Start(ctx, "history."+string(dir)+"To",
		trace.WithAttributes(attribute.String("history.target", id)))
	defer span.End()

	steps, ok := e.distance(dir, id)
	if !ok {
		observability.HistoryJumpsTotal.WithLabelValues(string(dir), "not_found").Inc()
		err := errEntryNotFound(dir, id)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	span.SetAttributes(attribute.Int("history.steps", steps))

	for done := 0; done < steps; done++ {
		top, _ := e.top(dir)
		ok, err := e.step(ctx, dir)
		if err == nil && !ok {
			err = coreerrors.Newf(coreerrors.CodeInternal, "%s stack emptied during jump", dir)
		}
		if err != nil {
			jerr := &JumpError{
				Direction: dir,
				Target:    id,
				Requested: steps,
				Completed: done,
				Failed:    top.Summary(),
				Err:       err,
			}
			observability.HistoryJumpsTotal.WithLabelValues(string(dir), "partial").Inc()
			e.logger.Warn("history jump stopped",
				"direction", dir,
				"target", id,
				"completed", done,
				"requested", steps,
				"failed_entry", top.ID,
				"error", err,
			)
			span.SetStatus(codes.Error, jerr.Error())
			return done, errPartial(jerr)
		}
	}

	observability.HistoryJumpsTotal.WithLabelValues(string(dir), "ok").Inc()
	return steps, nil
}

// distance counts how far id sits from the top of the relevant stack, the top being 1.
func (e *Engine) distance(dir Direction, id string) (int, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	stack := e.undo
	if dir == DirectionRedo {
		stack = e.redo
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].ID == id {
			return len(stack) - i, true
		}
	}
	return 0, false
}

func (e *Engine) top(dir Direction) (Entry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	stack := e.undo
	if dir == DirectionRedo {
		stack = e.redo
	}
	if len(stack) == 0 {
		return Entry{}, false
	}
	return stack[len(stack)-1], true
}

// step applies one entry. The entry moves between stacks only after its
// effect has succeeded, so the ledger never claims a change that did not happen.
// The caller holds the busy flag.
func (e *Engine) step(ctx context.Context, dir Direction) (bool, error) {
	entry, ok := e.top(dir)
	if !ok {
		return false, nil
	}

	ctx, span := observability.Tracer.Start(ctx, "history."+string(dir),
		trace.WithAttributes(
			attribute.String("history.entry", entry.ID),
			attribute.String("history.kind", string(entry.Kind)),
		))
	defer span.End()

	// Effects run to completion once started, even if the caller goes away.
	effectCtx := context.WithoutCancel(ctx)
	start := time.Now()
	var err error
	if dir == DirectionUndo {
		err = entry.Op.undo(effectCtx, e.fx)
	} else {
		err = entry.Op.redo(effectCtx, e.fx)
	}
	observability.HistoryStepDuration.WithLabelValues(string(dir), string(entry.Kind)).Observe(time.Since(start).Seconds())

	if err != nil {
		observability.HistoryStepsTotal.WithLabelValues(string(dir), "error").Inc()
		e.logger.Error("history step failed",
			"direction", dir,
			"entry", entry.ID,
			"kind", entry.Kind,
			"description", entry.Description,
			"error", err,
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, errCallback(dir, entry, err)
	}

	e.mu.Lock()
	if dir == DirectionUndo {
		e.undo = removeTop(e.undo, entry.ID)
		e.redo = append(e.redo, entry)
	} else {
		e.redo = removeTop(e.redo, entry.ID)
		e.undo = append(e.undo, entry)
		e.trimLocked()
	}
	e.mu.Unlock()

	observability.HistoryStepsTotal.WithLabelValues(string(dir), "ok").Inc()
	e.logger.Debug("history step applied", "direction", dir, "entry", entry.ID, "kind", entry.Kind)
	e.changed()
	return true, nil
}

// removeTop pops the top entry if it is still id, falling back to a search.
func removeTop(stack []Entry, id string) []Entry {
	n := len(stack)
	if n > 0 && stack[n-1].ID == id {
		return stack[:n-1]
	}
	for i := n - 1; i >= 0; i-- {
		if stack[i].ID == id {
			return append(stack[:i:i], stack[i+1:]...)
		}
	}
	return stack
}
