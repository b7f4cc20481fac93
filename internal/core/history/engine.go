package history

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	coreerrors "graphedit/internal/core/errors"
	"graphedit/internal/engine/graph"
	"graphedit/internal/shared/observability"

	"github.com/google/uuid"
)

// Options tunes an Engine. The zero value is an unbounded history.
type Options struct {
	// MaxDepth caps the undo stack; the oldest entries are dropped first. 0 disables the cap.
	MaxDepth int
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func() string
}

// Engine is the command history of one editing session: an undo stack of
// applied entries and a redo stack of reverted ones.
//
// Only one mutating call (record, undo, redo, jump, reset) runs at a time; a
// call that arrives while another is in flight is rejected with a CONFLICT
// error instead of being queued.
type Engine struct {
	fx     Effects
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	busy atomic.Bool

	mu       sync.RWMutex
	undo     []Entry
	redo     []Entry
	maxDepth int
	// pendingDepth holds a cap requested while busy; -1 when none.
	pendingDepth int

	listenersMu  sync.Mutex
	listeners    map[uint64]func()
	nextListener uint64
}

func New(fx Effects, opts Options) *Engine {
	e := &Engine{
		fx:        fx,
		logger:    opts.Logger,
		now:       opts.Now,
		newID:     opts.NewID,
		maxDepth:     max(opts.MaxDepth, 0),
		pendingDepth: -1,
		listeners:    make(map[uint64]func()),
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	return e
}

func (e *Engine) acquire(op string) error {
	if !e.busy.CompareAndSwap(false, true) {
		observability.HistoryBusyRejectedTotal.Inc()
		e.logger.Debug("history operation rejected", "operation", op, "reason", "busy")
		return errBusy(op)
	}
	return nil
}

func (e *Engine) release() {
	e.busy.Store(false)
	e.applyPendingDepth()
}

// Busy reports whether a mutating operation is in flight.
func (e *Engine) Busy() bool {
	return e.busy.Load()
}

// Record pushes a new applied entry and discards every reverted one. The
// caller has already applied op and supplies complete snapshots; nothing is
// validated beyond the operation, and every batch member, being present.
func (e *Engine) Record(description string, op Operation) (Entry, error) {
	if op == nil {
		return Entry{}, coreerrors.New(coreerrors.CodeValidationError, "operation must not be nil")
	}
	if b, ok := op.(Batch); ok {
		if len(b.Ops) == 0 {
			return Entry{}, coreerrors.New(coreerrors.CodeValidationError, "batch must contain at least one operation")
		}
		for i, sub := range b.Ops {
			if sub == nil {
				return Entry{}, coreerrors.Newf(coreerrors.CodeValidationError, "batch operation %d must not be nil", i)
			}
		}
	}
	if err := e.acquire("record"); err != nil {
		return Entry{}, err
	}
	defer e.release()

	entry := Entry{
		ID:          e.newID(),
		Kind:        op.Kind(),
		Description: description,
		Timestamp:   e.now(),
		Op:          op,
	}

	e.mu.Lock()
	e.undo = append(e.undo, entry)
	dropped := e.trimLocked()
	discarded := len(e.redo)
	e.redo = nil
	e.mu.Unlock()

	observability.HistoryRecordedTotal.WithLabelValues(string(entry.Kind)).Inc()
	e.logger.Debug("history entry recorded",
		"entry", entry.ID,
		"kind", entry.Kind,
		"description", entry.Description,
		"discarded_redo", discarded,
		"dropped_oldest", dropped,
	)
	e.changed()
	return entry, nil
}

func (e *Engine) RecordEntityCreate(entity graph.Entity) (Entry, error) {
	return e.Record(describeEntity("Created", entity), EntityCreated{Entity: entity.Clone()})
}

func (e *Engine) RecordEntityDelete(entity graph.Entity) (Entry, error) {
	return e.Record(describeEntity("Deleted", entity), EntityDeleted{Entity: entity.Clone()})
}

func (e *Engine) RecordEntityEdit(before, after graph.Entity) (Entry, error) {
	return e.Record(describeEntity("Edited", after), EntityEdited{Before: before.Clone(), After: after.Clone()})
}

func (e *Engine) RecordConnectionCreate(c graph.Connection) (Entry, error) {
	return e.Record(describeConnection("Created", c), ConnectionCreated{Connection: c.Clone()})
}

func (e *Engine) RecordConnectionDelete(c graph.Connection) (Entry, error) {
	return e.Record(describeConnection("Deleted", c), ConnectionDeleted{Connection: c.Clone()})
}

func (e *Engine) RecordConnectionEdit(before, after graph.Connection) (Entry, error) {
	return e.Record(describeConnection("Edited", after), ConnectionEdited{Before: before.Clone(), After: after.Clone()})
}

// RecordNodePositions records one drag. before and after should hold only the moved nodes.
func (e *Engine) RecordNodePositions(before, after map[string]graph.Position) (Entry, error) {
	return e.Record(describeMove(after), NodesMoved{
		Before: graph.ClonePositions(before),
		After:  graph.ClonePositions(after),
	})
}

func (e *Engine) RecordBatch(description string, ops ...Operation) (Entry, error) {
	return e.Record(description, Batch{Ops: append([]Operation(nil), ops...)})
}

// trimLocked enforces maxDepth and returns how many entries were dropped.
func (e *Engine) trimLocked() int {
	if e.maxDepth <= 0 || len(e.undo) <= e.maxDepth {
		return 0
	}
	n := len(e.undo) - e.maxDepth
	e.undo = append([]Entry(nil), e.undo[n:]...)
	return n
}

// SetMaxDepth changes the undo cap and trims if needed. While another
// operation is in flight the change is held and applied when it finishes,
// so a step or jump never sees its stack trimmed underneath it.
func (e *Engine) SetMaxDepth(n int) {
	e.mu.Lock()
	e.pendingDepth = max(n, 0)
	e.mu.Unlock()
	if e.Busy() {
		e.logger.Debug("history max depth change deferred", "max_depth", n)
	}
	e.applyPendingDepth()
}

// applyPendingDepth applies a held cap once the engine is idle. Whoever
// finds a pending cap and wins the busy flag applies it; the in-flight
// holder re-checks on release, so no request is lost.
func (e *Engine) applyPendingDepth() {
	for {
		e.mu.RLock()
		pending := e.pendingDepth >= 0
		e.mu.RUnlock()
		if !pending || !e.busy.CompareAndSwap(false, true) {
			return
		}

		e.mu.Lock()
		n := e.pendingDepth
		e.pendingDepth = -1
		var dropped int
		if n >= 0 {
			e.maxDepth = n
			dropped = e.trimLocked()
		}
		e.mu.Unlock()
		if dropped > 0 {
			e.logger.Info("history trimmed to new max depth", "max_depth", n, "dropped", dropped)
			e.changed()
		}
		e.busy.Store(false)
	}
}

// MaxDepth returns the cap in effect; a deferred change is not yet visible.
func (e *Engine) MaxDepth() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.maxDepth
}

// Reset drops both stacks.
func (e *Engine) Reset() error {
	if err := e.acquire("reset"); err != nil {
		return err
	}
	defer e.release()

	e.mu.Lock()
	e.undo = nil
	e.redo = nil
	e.mu.Unlock()
	e.changed()
	return nil
}

func (e *Engine) CanUndo() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.undo) > 0
}

func (e *Engine) CanRedo() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.redo) > 0
}

// LastUndoDescription describes the entry the next Undo would revert.
func (e *Engine) LastUndoDescription() (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.undo) == 0 {
		return "", false
	}
	return e.undo[len(e.undo)-1].Description, true
}

// LastRedoDescription describes the entry the next Redo would re-apply.
func (e *Engine) LastRedoDescription() (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.redo) == 0 {
		return "", false
	}
	return e.redo[len(e.redo)-1].Description, true
}

// UndoEntries returns the applied entries, oldest first.
func (e *Engine) UndoEntries() []Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return summaries(e.undo)
}

// RedoEntries returns the reverted entries in push order; the last one is redone first.
func (e *Engine) RedoEntries() []Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return summaries(e.redo)
}

func (e *Engine) Depth() (undo, redo int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.undo), len(e.redo)
}

// AddListener subscribes fn to every ledger change. Listeners run
// synchronously after the change; a panicking listener is logged and skipped.
// Mutating the engine from inside a listener is rejected as busy.
func (e *Engine) AddListener(fn func()) (remove func()) {
	if fn == nil {
		return func() {}
	}
	e.listenersMu.Lock()
	id := e.nextListener
	e.nextListener++
	e.listeners[id] = fn
	e.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.listenersMu.Lock()
			delete(e.listeners, id)
			e.listenersMu.Unlock()
		})
	}
}

func (e *Engine) changed() {
	undoDepth, redoDepth := e.Depth()
	observability.HistoryUndoDepth.Set(float64(undoDepth))
	observability.HistoryRedoDepth.Set(float64(redoDepth))

	e.listenersMu.Lock()
	ids := make([]uint64, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(), len(ids))
	for i, id := range ids {
		fns[i] = e.listeners[id]
	}
	e.listenersMu.Unlock()

	for _, fn := range fns {
		e.notify(fn)
	}
}

func (e *Engine) notify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			observability.HistoryListenerPanicsTotal.Inc()
			e.logger.Error("history listener panicked", "panic", r)
		}
	}()
	fn()
}
