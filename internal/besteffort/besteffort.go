// Package besteffort runs calls whose failure must never reach the caller:
// mirror writes to the execution platform and trace writes to the
// observability platform. A failure is logged once here and swallowed.
package besteffort

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Fields are attached to the warning logged on failure.
type Fields map[string]string

// Do runs fn and reports whether it succeeded. Errors and panics are logged
// at warn level and swallowed.
func Do(ctx context.Context, op string, fields Fields, fn func(context.Context) error) bool {
	var (
		catcher panics.Catcher
		err     error
	)
	catcher.Try(func() { err = fn(ctx) })
	if r := catcher.Recovered(); r != nil {
		err = r.AsError()
	}
	if err == nil {
		return true
	}

	event := log.Warn().Err(err).Str("op", op)
	for k, v := range fields {
		event = event.Str(k, v)
	}
	event.Msg("Best-effort call failed")
	return false
}

// Value is Do for calls that produce a result. On failure the zero value is
// returned with ok=false.
func Value[T any](ctx context.Context, op string, fields Fields, fn func(context.Context) (T, error)) (T, bool) {
	var out T
	ok := Do(ctx, op, fields, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, ok
}

// Runner issues best-effort calls without making the caller wait for them.
// In synchronous mode calls run inline, which keeps ordering deterministic.
type Runner struct {
	wg      conc.WaitGroup
	async   bool
	timeout time.Duration
}

// NewRunner creates a runner. A zero timeout means calls inherit only the
// deadline of the context they were issued from.
func NewRunner(async bool, timeout time.Duration) *Runner {
	return &Runner{async: async, timeout: timeout}
}

// Go issues fn. Async calls are detached from ctx cancellation so a client
// disconnect does not drop them, but they still honour the runner timeout.
func (r *Runner) Go(ctx context.Context, op string, fields Fields, fn func(context.Context) error) {
	if !r.async {
		callCtx, cancel := r.withTimeout(ctx)
		defer cancel()
		Do(callCtx, op, fields, fn)
		return
	}

	detached := context.WithoutCancel(ctx)
	r.wg.Go(func() {
		callCtx, cancel := r.withTimeout(detached)
		defer cancel()
		Do(callCtx, op, fields, fn)
	})
}

// Wait blocks until every issued call has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}
