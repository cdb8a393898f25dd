package command

import (
	"context"
	"fmt"
	"log/slog"

	"teamsbot/internal/domain"
)

// Handler produces the response for one invocation of a command.
type Handler func(ctx context.Context, msg domain.InboundMessage, args []string) (domain.Response, error)

// Registry maps command names to handlers. Built at startup and
// read-only afterwards; safe for concurrent Resolve calls.
type Registry struct {
	handlers map[string]Handler
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register binds name (without the slash) to a handler.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Resolve returns the handler bound to name. Unrecognized names get
// an unknown-command handler, so every parsed command is handled and
// never falls through to the completion provider.
func (r *Registry) Resolve(name string) Handler {
	if h, ok := r.handlers[name]; ok {
		return h
	}
	r.logger.Debug("unknown command", "name", name)
	return func(context.Context, domain.InboundMessage, []string) (domain.Response, error) {
		return domain.TextResponse(fmt.Sprintf("Unknown command \"/%s\". Type /help to see available commands.", name)), nil
	}
}

// Names returns the registered command names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
