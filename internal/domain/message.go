package domain

import "time"

// InboundMessage is one inbound chat event. It is immutable once
// published to the bus; the dispatcher only reads Text, the rest is
// opaque routing metadata used to address the reply.
type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	Text      string
	Timestamp time.Time
}

// Response is what a handler produces for a single inbound message:
// either plain text or a rich card, never both.
type Response struct {
	Text string
	Card *Card
}

// TextResponse builds a plain-text response.
func TextResponse(text string) Response {
	return Response{Text: text}
}

// CardResponse builds a rich-card response.
func CardResponse(card *Card) Response {
	return Response{Card: card}
}

// OutboundKind classifies an outbound message for the transport.
type OutboundKind string

const (
	KindTyping OutboundKind = "typing"
	KindText   OutboundKind = "text"
	KindCard   OutboundKind = "card"
)

// OutboundMessage is a response (or typing signal) addressed back to
// the channel the inbound message arrived on.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Kind    OutboundKind
	Text    string
	Card    *Card
}

// Card is a structured rich response: a title block, optional image,
// optional body text, and zero or more action links. How it renders
// (hero card, embed, attachment) is up to each channel.
type Card struct {
	Title    string       `json:"title"`
	Subtitle string       `json:"subtitle,omitempty"`
	ImageURL string       `json:"image_url,omitempty"`
	Body     string       `json:"body,omitempty"`
	Actions  []CardAction `json:"actions,omitempty"`
}

// CardAction is a single tappable link on a card.
type CardAction struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}
