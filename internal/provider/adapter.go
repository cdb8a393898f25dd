package provider

import (
	"context"
	"log/slog"

	"teamsbot/internal/domain"
)

// Invoker is the synchronous provider boundary: one blocking call per
// prompt.
type Invoker interface {
	Invoke(prompt string) (string, error)
	Name() string
}

// Adapter wraps a blocking Invoker behind the non-blocking
// domain.Completer contract. Each completion runs on its own
// goroutine so the dispatcher never stalls waiting on the provider;
// when ctx is cancelled the in-flight call is abandoned without
// blocking on its result. Failures are normalized to
// domain.CompletionError and never retried here; retry policy, if
// any, belongs to the caller.
type Adapter struct {
	invoker Invoker
	logger  *slog.Logger
}

func NewAdapter(invoker Invoker, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{invoker: invoker, logger: logger}
}

func (a *Adapter) Name() string { return a.invoker.Name() }

func (a *Adapter) Complete(ctx context.Context, prompt string) (string, error) {
	type result struct {
		text string
		err  error
	}

	// Buffered so an abandoned call can still deposit its result and
	// let the goroutine exit.
	ch := make(chan result, 1)
	go func() {
		text, err := a.invoker.Invoke(prompt)
		ch <- result{text: text, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			a.logger.Warn("completion failed", "provider", a.invoker.Name(), "err", r.err)
			return "", domain.NewCompletionError(r.err)
		}
		return r.text, nil
	case <-ctx.Done():
		a.logger.Debug("completion abandoned", "provider", a.invoker.Name(), "reason", ctx.Err())
		return "", domain.NewCompletionError(ctx.Err())
	}
}
