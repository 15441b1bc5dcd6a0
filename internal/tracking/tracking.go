// Package tracking implements the dependency-collecting reader system of
// spec.md §4.4 (C4): trackedRead collects a precise (entity, field) read
// set; a later modification to any element of that set schedules the
// reader's callback exactly once, batched within the enclosing transaction.
//
// spec.md §5 describes the source runtime as single-threaded cooperative,
// with the active-tracker stack as thread-local state. Go has no implicit
// single-threaded event loop, so this package guards the stack (and the
// notification queue) with a mutex instead — the same defensive posture the
// teacher takes for small shared in-process state (internal/daemon.Registry).
package tracking

import (
	"sync"
)

// Key identifies what was read or written on an entity. A plain string
// covers declared field names, record keys, and numeric-string array
// indices; All and Indices are the two coarse sentinels from spec.md §4.4.
type Key string

const (
	// All invalidates any reader that accessed anything on the entity.
	All Key = "\x00all"
	// Indices invalidates readers that observed membership/length/keyset.
	Indices Key = "\x00indices"
)

// EntityKey is the unit tracked reads collect and modifications report
// against: one field (or sentinel) on one entity. Entities are identified
// by a caller-supplied stable key (internal/entity uses the entity id;
// internal/proxy uses "<owner id>#<field>" for a container's own scope).
type EntityKey struct {
	Entity string
	Field  Key
}

type tracker struct {
	mu      sync.Mutex
	onChange func()
	reads   map[EntityKey]struct{}
	fired   bool
}

func (t *tracker) record(k EntityKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reads == nil {
		t.reads = make(map[EntityKey]struct{})
	}
	t.reads[k] = struct{}{}
}

// matches reports whether a modification with key k on entity wakes this
// tracker, per spec.md §4.4's reporting rules.
func (t *tracker) matches(entity string, k Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.reads[EntityKey{entity, k}]; ok {
		return true
	}
	if k == All {
		for rk := range t.reads {
			if rk.Entity == entity {
				return true
			}
		}
		return false
	}
	if _, ok := t.reads[EntityKey{entity, All}]; ok {
		return true
	}
	if k == Indices {
		if _, ok := t.reads[EntityKey{entity, Indices}]; ok {
			return true
		}
	}
	return false
}

// Tracking is one document's (or, in tests, one arbitrary scope's) tracking
// core: the collecting-tracker stack, the armed-tracker set, the
// onAccess/onModify hooks, the notification queue, and the transaction
// nesting depth.
type Tracking struct {
	mu sync.Mutex
	// collecting holds trackers whose reader() call is currently running
	// (spec.md §5: "a tracker pushed by trackedRead is visible only within
	// that call; nested trackers stack"). ReportAccess records into every
	// tracker here.
	collecting []*tracker
	// armed holds trackers whose reader() has returned and which are
	// waiting for their first matching modification (single-shot). It is
	// disjoint from collecting: a tracker moves from one to the other the
	// instant its TrackedRead call returns.
	armed    []*tracker
	queue    []func()
	txDepth  int
	suppress int

	onAccess func(entity string, field Key)
	onModify func(entity string, field Key)

	// errLogger receives errors from panicking/erroring onChange callbacks
	// (spec.md §7 NotificationError: logged, not propagated).
	errLogger func(format string, args ...any)
}

// New constructs a Tracking core. logf may be nil to discard log output.
func New(logf func(format string, args ...any)) *Tracking {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Tracking{errLogger: logf}
}

// OnAccess registers the module-wide access hook (spec.md §4.4).
func (t *Tracking) OnAccess(fn func(entity string, field Key)) { t.onAccess = fn }

// OnModify registers the module-wide modification hook.
func (t *Tracking) OnModify(fn func(entity string, field Key)) { t.onModify = fn }

// ReportAccess records a read of (entity, field) against every tracker
// currently collecting (i.e. whose TrackedRead call has not yet returned)
// and fires the onAccess hook.
func (t *Tracking) ReportAccess(entity string, field Key) {
	t.mu.Lock()
	suppressed := t.suppress > 0
	trackers := append([]*tracker{}, t.collecting...)
	hook := t.onAccess
	t.mu.Unlock()

	if suppressed {
		return
	}
	for _, tr := range trackers {
		tr.record(EntityKey{entity, field})
	}
	if hook != nil {
		hook(entity, field)
	}
}

// ReportModify wakes any tracker whose read set is touched by a
// modification of (entity, field), per spec.md §4.4, and fires onModify.
// Outside a transaction the queue drains synchronously at this call site;
// inside one it accumulates until the outermost transaction commits.
func (t *Tracking) ReportModify(entity string, field Key) {
	t.mu.Lock()
	suppressed := t.suppress > 0
	hook := t.onModify
	var woken []func()
	remaining := t.armed[:0:0]
	for _, tr := range t.armed {
		if tr.fired {
			remaining = append(remaining, tr)
			continue
		}
		if !suppressed && tr.matches(entity, field) {
			tr.fired = true
			woken = append(woken, tr.onChange)
		} else {
			remaining = append(remaining, tr)
		}
	}
	t.armed = remaining
	inTx := t.txDepth > 0
	if inTx {
		t.queue = append(t.queue, woken...)
	}
	t.mu.Unlock()

	if suppressed {
		return
	}
	if hook != nil {
		hook(entity, field)
	}
	if !inTx {
		t.runAll(woken)
	}
}

// TrackedRead runs reader, collecting its (entity, field) read set, and
// arranges for onChange to fire exactly once the first time any element of
// that set is later modified (spec.md §4.4, single-shot semantics). The
// tracker only collects reads while reader is actually running: it is
// popped off the collecting stack and moved to the armed set the instant
// reader returns, so reads performed elsewhere afterward (including by an
// unrelated later TrackedRead call) are never attributed to it (spec.md §5:
// "a tracker pushed by trackedRead is visible only within that call").
func TrackedRead[T any](t *Tracking, onChange func(), reader func() T) T {
	tr := &tracker{onChange: onChange}
	t.mu.Lock()
	t.collecting = append(t.collecting, tr)
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		for i := len(t.collecting) - 1; i >= 0; i-- {
			if t.collecting[i] == tr {
				t.collecting = append(t.collecting[:i], t.collecting[i+1:]...)
				break
			}
		}
		t.armed = append(t.armed, tr)
		t.mu.Unlock()
	}()

	return reader()
}

// SuppressTracking runs fn with modification reporting disabled (spec.md
// §4.4), used when constructing ephemeral entities that would otherwise
// emit spurious events.
func (t *Tracking) SuppressTracking(fn func()) {
	t.mu.Lock()
	t.suppress++
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.suppress--
		t.mu.Unlock()
	}()
	fn()
}

// EnterTransaction/ExitTransaction implement the nesting and drain-on-
// commit behavior of spec.md I6/§4.4's scheduling rules. ExitTransaction's
// aborted flag, when true, clears the queue without firing (spec.md
// TransactionAborted).
func (t *Tracking) EnterTransaction() (outermost bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.txDepth++
	return t.txDepth == 1
}

func (t *Tracking) ExitTransaction(outermost bool, aborted bool) {
	if !outermost {
		t.mu.Lock()
		t.txDepth--
		t.mu.Unlock()
		return
	}
	t.mu.Lock()
	t.txDepth--
	queue := t.queue
	t.queue = nil
	t.mu.Unlock()

	if aborted {
		return
	}
	t.runAll(queue)
}

func (t *Tracking) runAll(fns []func()) {
	for _, fn := range fns {
		t.runOne(fn)
	}
}

func (t *Tracking) runOne(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.errLogger("tracking: notification callback panicked: %v", r)
		}
	}()
	fn()
}
