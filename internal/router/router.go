// Package router matches inbound message text against an ordered list
// of regular-expression routes. The first route whose pattern matches
// anywhere in the text wins; order is fixed at startup and defines
// precedence.
package router

import (
	"context"
	"fmt"
	"regexp"

	"teamsbot/internal/domain"
)

// Handler produces the response for a matched route.
type Handler func(ctx context.Context, msg domain.InboundMessage) (domain.Response, error)

// Route binds a compiled pattern to a handler.
type Route struct {
	Pattern *regexp.Regexp
	Handler Handler
}

// Table is the ordered route list. It is built once at startup and
// read-only afterwards, so concurrent Match calls need no locking.
type Table struct {
	routes []Route
}

func NewTable() *Table {
	return &Table{}
}

// Add compiles expr and appends a route. When ignoreCase is set the
// pattern matches case-insensitively. Routes match anywhere in the
// text (unanchored), like the patterns they are configured from.
func (t *Table) Add(expr string, ignoreCase bool, h Handler) error {
	if h == nil {
		return fmt.Errorf("route %q: handler is required", expr)
	}
	if ignoreCase {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("route %q: %w", expr, err)
	}
	t.routes = append(t.routes, Route{Pattern: re, Handler: h})
	return nil
}

// AddStatic appends a route that always replies with the given text.
func (t *Table) AddStatic(expr string, ignoreCase bool, reply string) error {
	return t.Add(expr, ignoreCase, func(context.Context, domain.InboundMessage) (domain.Response, error) {
		return domain.TextResponse(reply), nil
	})
}

// Match returns the handler of the first route whose pattern matches
// text, or nil when no route matches. A nil result is not an error;
// it signals fallthrough to the next routing stage.
func (t *Table) Match(text string) Handler {
	for _, r := range t.routes {
		if r.Pattern.MatchString(text) {
			return r.Handler
		}
	}
	return nil
}

// Len returns the number of registered routes.
func (t *Table) Len() int {
	return len(t.routes)
}
