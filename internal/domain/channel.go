package domain

import "context"

// Channel is the interface for user-facing transports (Teams,
// Telegram, Slack, Discord, CLI). A channel publishes inbound
// messages to the bus and renders outbound messages, including the
// typing indicator and rich cards, in whatever form the transport
// supports.
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}
