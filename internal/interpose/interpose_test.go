package interpose

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
)

type fakeHolder struct {
	mu    sync.Mutex
	slots map[string]Callable
}

func newFakeHolder() *fakeHolder {
	return &fakeHolder{slots: make(map[string]Callable)}
}

func (f *fakeHolder) Slot(name string) (Callable, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn, ok := f.slots[name]
	return fn, ok
}

func (f *fakeHolder) SetSlot(name string, fn Callable) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[name] = fn
}

func (f *fakeHolder) call(t *testing.T, name string, args ...any) (any, error) {
	t.Helper()
	fn, ok := f.Slot(name)
	if !ok {
		t.Fatalf("slot %q missing", name)
	}
	return fn.Invoke(context.Background(), args...)
}

// mapHolder is not comparable and must be rejected.
type mapHolder map[string]Callable

func (m mapHolder) Slot(name string) (Callable, bool) { fn, ok := m[name]; return fn, ok }
func (m mapHolder) SetSlot(name string, fn Callable) { m[name] = fn }

func newTestInterposer() *Interposer {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func counting(calls *int) func(Callable) Callable {
	return func(original Callable) Callable {
		return Wrap(original, Hooks{After: func(context.Context, []any, any, error) { *calls++ }})
	}
}

func TestInstallIsIdempotent(t *testing.T) {
	ip := newTestInterposer()
	h := newFakeHolder()
	h.SetSlot("send", Func(func(_ context.Context, args ...any) (any, error) { return args[0], nil }))

	var calls int
	first := ip.Install(h, "send", counting(&calls))
	second := ip.Install(h, "send", counting(&calls))
	if first == nil || first != second {
		t.Fatalf("second install should return the existing handle, got %p and %p", first, second)
	}

	got, err := h.call(t, "send", "hi")
	if err != nil || got != "hi" {
		t.Fatalf("got (%v, %v), want (hi, nil)", got, err)
	}
	if calls != 1 {
		t.Errorf("hook ran %d times, want 1", calls)
	}
}

func TestRestoreReturnsExactOriginal(t *testing.T) {
	ip := newTestInterposer()
	h := newFakeHolder()
	original := &countingCallable{}
	h.SetSlot("send", original)

	ip.Install(h, "send", func(o Callable) Callable { return Wrap(o, Hooks{}) })
	if cur, _ := h.Slot("send"); cur == Callable(original) {
		t.Fatal("slot still holds the original after install")
	}

	ip.Restore(h, "send")
	if cur, _ := h.Slot("send"); cur != Callable(original) {
		t.Fatalf("slot holds %T after restore, want the original", cur)
	}
	if ip.Active(h, "send") {
		t.Error("handle still active after restore")
	}

	// Restoring twice is a no-op.
	ip.Restore(h, "send")
	if cur, _ := h.Slot("send"); cur != Callable(original) {
		t.Fatal("second restore changed the slot")
	}
}

type countingCallable struct{ n int }

func (c *countingCallable) Invoke(context.Context, ...any) (any, error) {
	c.n++
	return c.n, nil
}

func TestInstallRewrapsExternallyReassignedSlot(t *testing.T) {
	ip := newTestInterposer()
	h := newFakeHolder()
	h.SetSlot("send", &countingCallable{})

	var calls int
	ip.Install(h, "send", counting(&calls))

	replacement := &countingCallable{n: 100}
	h.SetSlot("send", replacement)

	ip.Install(h, "send", counting(&calls))
	got, _ := h.call(t, "send")
	if got != 101 {
		t.Errorf("got %v, want the reassigned callable's result 101", got)
	}
	if calls != 1 {
		t.Errorf("hook ran %d times, want 1", calls)
	}

	ip.Restore(h, "send")
	if cur, _ := h.Slot("send"); cur != Callable(replacement) {
		t.Error("restore should write back the reassigned value")
	}
}

func TestInstallMissingSlotIsNoop(t *testing.T) {
	ip := newTestInterposer()
	h := newFakeHolder()

	if got := ip.Install(h, "absent", counting(new(int))); got != nil {
		t.Fatalf("expected nil handle for missing slot, got %v", got)
	}
	if _, ok := h.Slot("absent"); ok {
		t.Error("missing slot should not be created")
	}

	h.SetSlot("nil", nil)
	if got := ip.Install(h, "nil", counting(new(int))); got != nil {
		t.Fatalf("expected nil handle for nil slot, got %v", got)
	}
}

func TestInstallRejectsNonComparableHolder(t *testing.T) {
	ip := newTestInterposer()
	m := mapHolder{"send": &countingCallable{}}
	if got := ip.Install(m, "send", counting(new(int))); got != nil {
		t.Fatalf("expected nil handle, got %v", got)
	}
	if ip.Active(m, "send") {
		t.Error("non-comparable holder reported active")
	}
}

func TestWrapPreservesResultsAndContainsPanics(t *testing.T) {
	wantErr := errors.New("boom")
	original := Func(func(_ context.Context, args ...any) (any, error) {
		return len(args), wantErr
	})

	var before, after bool
	wrapped := Wrap(original, Hooks{
		Before: func(context.Context, []any) { before = true; panic("before") },
		After: func(_ context.Context, _ []any, result any, err error) {
			after = true
			if result != 2 || !errors.Is(err, wantErr) {
				t.Errorf("after hook saw (%v, %v)", result, err)
			}
			panic("after")
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	got, err := wrapped.Invoke(context.Background(), "a", "b")
	if got != 2 || !errors.Is(err, wantErr) {
		t.Fatalf("got (%v, %v), want (2, %v)", got, err, wantErr)
	}
	if !before || !after {
		t.Errorf("hooks not run: before=%v after=%v", before, after)
	}
}
