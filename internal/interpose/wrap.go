package interpose

import (
	"context"
	"fmt"
	"log/slog"
)

// Hooks observe a wrapped call. Before runs ahead of the original, After runs
// once the original has returned. Either may be nil.
type Hooks struct {
	Before func(ctx context.Context, args []any)
	After  func(ctx context.Context, args []any, result any, err error)

	// Logger receives hook panics. Optional.
	Logger *slog.Logger
}

// Wrap returns a Callable that runs the hooks around original. The original
// always runs and its result and error are returned as-is; a panicking hook
// is recovered and logged.
func Wrap(original Callable, hooks Hooks) Callable {
	return Func(func(ctx context.Context, args ...any) (any, error) {
		if hooks.Before != nil {
			hooks.safe("before", func() { hooks.Before(ctx, args) })
		}
		result, err := original.Invoke(ctx, args...)
		if hooks.After != nil {
			hooks.safe("after", func() { hooks.After(ctx, args, result, err) })
		}
		return result, err
	})
}

func (h Hooks) safe(stage string, fn func()) {
	defer func() {
		if r := recover(); r != nil && h.Logger != nil {
			h.Logger.Error("interposition hook panicked", "stage", stage, "error", fmt.Sprint(r))
		}
	}()
	fn()
}
