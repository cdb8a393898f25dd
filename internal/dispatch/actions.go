package dispatch

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"teamsbot/internal/domain"
	"teamsbot/internal/router"
)

var urlPattern = regexp.MustCompile(`https?://\S+`)

// Actions returns the named route actions available to the routes
// table. Route specs reference these by name instead of a static
// reply.
func Actions() map[string]router.Handler {
	return map[string]router.Handler{
		"link_card": linkCard,
	}
}

// linkCard answers a message containing a URL with a card that links
// back to it. The URL is presented as-is; no fetching or unfurling.
func linkCard(_ context.Context, msg domain.InboundMessage) (domain.Response, error) {
	raw := urlPattern.FindString(msg.Text)
	if raw == "" {
		// The route matched, so this should not happen; answer
		// plainly rather than erroring out.
		return domain.TextResponse("I could not find a link in that message."), nil
	}

	title := raw
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		title = strings.TrimPrefix(u.Host, "www.")
	}

	return domain.CardResponse(&domain.Card{
		Title: title,
		Body:  "You shared a link. Open it below.",
		Actions: []domain.CardAction{
			{Title: "Open link", URL: raw},
		},
	}), nil
}
