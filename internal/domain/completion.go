package domain

import "context"

// Completer turns a free-form prompt into generated text. Complete
// must be safe to call concurrently and must respect ctx cancellation:
// callers abandon in-flight completions when the enclosing dispatch is
// cancelled.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
}

// CompletionError is the normalized failure class for the completion
// provider. Detail is a human-readable string; provider-specific
// error types never cross this boundary.
type CompletionError struct {
	Detail string
}

func (e *CompletionError) Error() string {
	return e.Detail
}

// NewCompletionError wraps an underlying provider failure.
func NewCompletionError(err error) *CompletionError {
	return &CompletionError{Detail: err.Error()}
}
