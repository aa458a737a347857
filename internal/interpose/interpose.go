// Package interpose wraps callables stored in named slots of a host object
// so their invocations can be observed, and restores the originals exactly.
package interpose

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
)

// Callable is a host function that can be interposed.
type Callable interface {
	Invoke(ctx context.Context, args ...any) (any, error)
}

// Func adapts an ordinary function to Callable.
type Func func(ctx context.Context, args ...any) (any, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, args ...any) (any, error) {
	return f(ctx, args...)
}

// Holder is an object with named, reassignable function slots.
// Implementations must be comparable (typically a pointer).
type Holder interface {
	Slot(name string) (Callable, bool)
	SetSlot(name string, fn Callable)
}

// Handle is one active wrap of a slot.
type Handle struct {
	original    Callable
	replacement *installed
}

// installed is the value actually written into a slot. Its pointer identity
// is what lets Install tell its own replacement apart from anything else.
type installed struct {
	Callable
}

type slotKey struct {
	holder Holder
	slot   string
}

// Interposer tracks the active handles for any number of holders.
type Interposer struct {
	mu      sync.Mutex
	handles map[slotKey]*Handle
	logger  *slog.Logger
}

// New creates an Interposer. A nil logger discards warnings.
func New(logger *slog.Logger) *Interposer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Interposer{
		handles: make(map[slotKey]*Handle),
		logger:  logger.With("component", "interposer"),
	}
}

// Install wraps holder's slot with the callable returned by makeReplacement.
//
// If the slot already holds this interposer's replacement the call is a
// no-op. If the slot was reassigned since the last install, the new value is
// treated as the original and wrapped again. A missing or nil slot is logged
// and ignored; nil is returned in that case.
func (i *Interposer) Install(holder Holder, slot string, makeReplacement func(original Callable) Callable) *Handle {
	if !comparableHolder(holder) {
		i.logger.Warn("cannot interpose on non-comparable holder", "slot", slot, "holder", fmt.Sprintf("%T", holder))
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	key := slotKey{holder: holder, slot: slot}
	current, ok := holder.Slot(slot)
	if !ok || current == nil {
		i.logger.Warn("interposition target missing, skipping", "slot", slot)
		return nil
	}

	if h, exists := i.handles[key]; exists {
		if current == Callable(h.replacement) {
			return h
		}
		i.logger.Debug("slot reassigned externally, wrapping new value", "slot", slot)
	}

	replacement := makeReplacement(current)
	if replacement == nil {
		i.logger.Warn("replacement factory returned nil, skipping", "slot", slot)
		return nil
	}

	h := &Handle{
		original:    current,
		replacement: &installed{Callable: replacement},
	}
	holder.SetSlot(slot, h.replacement)
	i.handles[key] = h
	return h
}

// Restore writes the original callable back into holder's slot. It is a
// no-op when no handle is active for that slot.
func (i *Interposer) Restore(holder Holder, slot string) {
	if !comparableHolder(holder) {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	key := slotKey{holder: holder, slot: slot}
	h, ok := i.handles[key]
	if !ok {
		return
	}
	holder.SetSlot(slot, h.original)
	delete(i.handles, key)
}

// Active reports whether a handle is installed for holder's slot.
func (i *Interposer) Active(holder Holder, slot string) bool {
	if !comparableHolder(holder) {
		return false
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.handles[slotKey{holder: holder, slot: slot}]
	return ok
}

func comparableHolder(holder Holder) bool {
	if holder == nil {
		return false
	}
	return reflect.TypeOf(holder).Comparable()
}
