package command

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"teamsbot/internal/domain"
)

// startTime records when the process started for /status.
var startTime = time.Now()

// HandlerDeps carries what the built-in commands need.
type HandlerDeps struct {
	Completer domain.Completer
	Version   string
}

// RegisterBuiltins adds help, search, and status to the registry.
func RegisterBuiltins(r *Registry, deps HandlerDeps) {
	r.Register("help", helpHandler())
	r.Register("search", searchHandler(deps.Completer))
	r.Register("status", statusHandler(deps))
}

func helpHandler() Handler {
	text := `Available commands:

/help — Show this help message
/search <query> — Search for an answer
/status — Show bot status`
	return func(context.Context, domain.InboundMessage, []string) (domain.Response, error) {
		return domain.TextResponse(text), nil
	}
}

// searchHandler prompts the completion provider with the query. With
// no arguments it replies with a usage hint and makes no completion
// call.
func searchHandler(completer domain.Completer) Handler {
	return func(ctx context.Context, _ domain.InboundMessage, args []string) (domain.Response, error) {
		if len(args) == 0 {
			return domain.TextResponse("Usage: /search <query>"), nil
		}
		query := strings.Join(args, " ")
		text, err := completer.Complete(ctx, "Answer this search query concisely: "+query)
		if err != nil {
			return domain.Response{}, err
		}
		return domain.TextResponse(text), nil
	}
}

func statusHandler(deps HandlerDeps) Handler {
	return func(context.Context, domain.InboundMessage, []string) (domain.Response, error) {
		uptime := time.Since(startTime).Round(time.Second)
		var sb strings.Builder
		fmt.Fprintf(&sb, "teamsbot v%s\n\n", deps.Version)
		if deps.Completer != nil {
			fmt.Fprintf(&sb, "Provider: %s\n", deps.Completer.Name())
		}
		fmt.Fprintf(&sb, "Uptime: %s\n", uptime)
		fmt.Fprintf(&sb, "Runtime: %s/%s, Go %s\n", runtime.GOOS, runtime.GOARCH, runtime.Version())
		return domain.TextResponse(sb.String()), nil
	}
}
