package history

import (
	"fmt"

	coreerrors "graphedit/internal/core/errors"
)

// JumpError reports a jump-to-entry that stopped partway. Steps that had
// already succeeded stay applied.
type JumpError struct {
	Direction Direction
	Target    string
	Requested int
	Completed int
	Failed    Summary
	Err       error
}

func (e *JumpError) Error() string {
	return fmt.Sprintf("%s to %s stopped after %d of %d steps at %s (%q): %v",
		e.Direction, e.Target, e.Completed, e.Requested, e.Failed.ID, e.Failed.Description, e.Err)
}

func (e *JumpError) Unwrap() error {
	return e.Err
}

func errBusy(op string) error {
	return coreerrors.AddContext(
		coreerrors.New(coreerrors.CodeConflict, "another history operation is in progress"),
		coreerrors.CtxOperation, op,
	)
}

func errEntryNotFound(dir Direction, id string) error {
	stack := "undo"
	if dir == DirectionRedo {
		stack = "redo"
	}
	return coreerrors.AddContext(
		coreerrors.Newf(coreerrors.CodeNotFound, "entry not found on %s stack", stack),
		coreerrors.CtxEntry, id,
	)
}

func errCallback(dir Direction, entry Entry, err error) error {
	wrapped := coreerrors.Wrap(err, coreerrors.CodeCallbackFailed, fmt.Sprintf("%s %q", dir, entry.Description))
	wrapped = coreerrors.AddContext(wrapped, coreerrors.CtxEntry, entry.ID)
	return coreerrors.AddContext(wrapped, coreerrors.CtxKind, string(entry.Kind))
}

func errPartial(jerr *JumpError) error {
	return coreerrors.Wrap(jerr, coreerrors.CodePartialSequence, fmt.Sprintf("%s jump incomplete", jerr.Direction))
}
