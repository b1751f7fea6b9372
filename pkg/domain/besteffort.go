package domain

import (
	"context"
	"log/slog"
)

// BestEffort is the outcome of a side effect that callers must not treat as
// a required step. Err is kept for inspection but has already been logged.
type BestEffort struct {
	Op  string
	Err error
}

// OK reports whether the side effect succeeded.
func (b BestEffort) OK() bool { return b.Err == nil }

// TryBestEffort runs fn and logs, but swallows, its error.
func TryBestEffort(
	ctx context.Context,
	logger *slog.Logger,
	op string,
	fn func(context.Context) error,
) BestEffort {
	err := fn(ctx)
	if err != nil {
		logger.WarnContext(ctx, "best-effort operation failed", "op", op, "error", err)
	}
	return BestEffort{Op: op, Err: err}
}
