// Package dispatch classifies inbound messages and routes each one to
// exactly one handler: a pattern route, a slash command, or the
// free-form completion fallback.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"teamsbot/internal/command"
	"teamsbot/internal/domain"
	"teamsbot/internal/metrics"
	"teamsbot/internal/router"
)

const defaultConcurrency = 5

// Recorder appends a completed exchange to the transcript log. It is
// write-only: nothing read back from it ever influences routing.
type Recorder interface {
	Record(ctx context.Context, in domain.InboundMessage, out domain.OutboundMessage) error
}

// Dispatcher consumes inbound messages from the bus, picks the
// handler, and emits exactly one response per message. It holds no
// mutable cross-message state; the route table and command registry
// are read-only after construction, so concurrent dispatches need no
// locking.
type Dispatcher struct {
	routes      *router.Table
	commands    *command.Registry
	completer   domain.Completer
	bus         domain.MessageBus
	recorder    Recorder
	logger      *slog.Logger
	concurrency int
}

// Config holds the dispatcher's collaborators.
type Config struct {
	Routes      *router.Table
	Commands    *command.Registry
	Completer   domain.Completer
	Bus         domain.MessageBus
	Recorder    Recorder // optional
	Logger      *slog.Logger
	Concurrency int // max parallel messages (default 5)
}

func New(cfg Config) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		routes:      cfg.Routes,
		commands:    cfg.Commands,
		completer:   cfg.Completer,
		bus:         cfg.Bus,
		recorder:    cfg.Recorder,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
	}
}

// Run consumes inbound messages until ctx is cancelled, processing
// them with bounded concurrency so one slow completion call never
// stalls other messages.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", "concurrency", d.concurrency)

	sem := make(chan struct{}, d.concurrency)
	inbound := d.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				d.logger.Info("inbound channel closed, dispatcher stopping")
				return
			}
			sem <- struct{}{}
			go func(m domain.InboundMessage) {
				defer func() { <-sem }()
				d.process(ctx, m)
			}(msg)
		}
	}
}

// process handles one message end to end: typing signal, dispatch,
// emit, transcript.
func (d *Dispatcher) process(ctx context.Context, msg domain.InboundMessage) {
	d.logger.Info("processing message",
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"text_len", len(msg.Text),
	)

	// Best-effort: transports ignore or drop this freely.
	d.bus.SendOutbound(domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Kind:    domain.KindTyping,
	})

	out := d.Dispatch(ctx, msg)
	d.bus.SendOutbound(out)

	if d.recorder != nil {
		if err := d.recorder.Record(ctx, msg, out); err != nil {
			d.logger.Warn("transcript record failed", "err", err)
		}
	}
}

// Dispatch picks the handler for msg and returns the single outbound
// response. Routing order is fixed: pattern routes first, then slash
// commands (handled even when unrecognized), then the completion
// fallback. Handler failures never escape; they become an apologetic
// text response.
func (d *Dispatcher) Dispatch(ctx context.Context, msg domain.InboundMessage) domain.OutboundMessage {
	metrics.MessagesTotal.Inc()

	var (
		resp domain.Response
		err  error
	)

	if h := d.matchPattern(msg.Text); h != nil {
		metrics.PatternMatches.Inc()
		resp, err = h(ctx, msg)
	} else if cmd := command.Parse(msg.Text); cmd != nil {
		metrics.CommandsTotal.Inc()
		resp, err = d.commands.Resolve(cmd.Name)(ctx, msg, cmd.Args)
	} else {
		resp, err = d.complete(ctx, msg)
	}

	if err != nil {
		d.logger.Error("handler failed", "channel", msg.Channel, "err", err)
		resp = domain.TextResponse(fmt.Sprintf("I encountered an error: %s. Please try again.", err))
	}

	return toOutbound(msg, resp)
}

func (d *Dispatcher) matchPattern(text string) router.Handler {
	if d.routes == nil {
		return nil
	}
	return d.routes.Match(text)
}

// complete sends the raw message text to the completion provider.
func (d *Dispatcher) complete(ctx context.Context, msg domain.InboundMessage) (domain.Response, error) {
	metrics.CompletionRequests.Inc()
	start := time.Now()

	text, err := d.completer.Complete(ctx, msg.Text)
	metrics.CompletionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CompletionFailures.Inc()
		return domain.Response{}, err
	}
	return domain.TextResponse(text), nil
}

func toOutbound(msg domain.InboundMessage, resp domain.Response) domain.OutboundMessage {
	out := domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
	}
	if resp.Card != nil {
		out.Kind = domain.KindCard
		out.Card = resp.Card
	} else {
		out.Kind = domain.KindText
		out.Text = resp.Text
	}
	return out
}
