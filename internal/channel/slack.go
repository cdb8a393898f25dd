package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"teamsbot/internal/domain"
)

const slackMaxMsgLen = 4000

// Slack implements domain.Channel for Slack using Socket Mode.
type Slack struct {
	botToken string
	appToken string
	client   *slack.Client
	socket   *socketmode.Client
	bus      domain.MessageBus
	logger   *slog.Logger
	botUID   string // the bot's own user ID, to avoid replying to self
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	BotToken string
	AppToken string
	Logger   *slog.Logger
}

// NewSlack creates a new Slack channel handler.
func NewSlack(cfg SlackConfig) *Slack {
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		logger:   cfg.Logger,
	}
}

func (s *Slack) Name() string { return "slack" }

// Start connects to Slack via Socket Mode and begins listening for events.
func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	s.bus = bus

	api := slack.New(
		s.botToken,
		slack.OptionAppLevelToken(s.appToken),
	)
	s.client = api

	// Get bot user ID.
	authResp, err := api.AuthTest()
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)

	socketClient := socketmode.New(api)
	s.socket = socketClient

	bus.OnOutbound("slack", s.deliver)

	// Event handling goroutine.
	go func() {
		for evt := range socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleEventsAPI(eventsAPIEvent)

			case socketmode.EventTypeSlashCommand:
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleSlashCommand(cmd)

			case socketmode.EventTypeInteractive:
				socketClient.Ack(*evt.Request)

			default:
				// Acknowledge unknown events to prevent Socket Mode disconnection.
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}()

	// Run Socket Mode client (blocks until context is done).
	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *Slack) Stop() error { return nil }

func (s *Slack) deliver(msg domain.OutboundMessage) {
	switch msg.Kind {
	case domain.KindTyping:
		// Slack has no typing API for bot tokens; nothing to show.
	case domain.KindCard:
		s.sendCard(msg.ChatID, msg.Card)
	default:
		if msg.Text != "" {
			s.sendMessage(msg.ChatID, msg.Text)
		}
	}
}

func (s *Slack) handleEventsAPI(event slackevents.EventsAPIEvent) {
	switch event.Type {
	case slackevents.CallbackEvent:
		innerEvent := event.InnerEvent
		switch ev := innerEvent.Data.(type) {
		case *slackevents.MessageEvent:
			// Ignore bot's own messages and message_changed subtypes.
			if ev.User == s.botUID || ev.User == "" {
				return
			}
			if ev.SubType != "" {
				return
			}

			s.logger.Info("slack message received",
				"user", ev.User,
				"channel", ev.Channel,
				"text_len", len(ev.Text),
			)

			s.bus.Publish(domain.InboundMessage{
				Channel:   "slack",
				ChatID:    ev.Channel,
				SenderID:  ev.User,
				Text:      ev.Text,
				Timestamp: time.Now(),
			})

		case *slackevents.AppMentionEvent:
			s.logger.Info("slack mention received",
				"user", ev.User,
				"channel", ev.Channel,
			)

			// Strip the mention prefix.
			text := ev.Text
			if idx := strings.Index(text, ">"); idx >= 0 {
				text = strings.TrimSpace(text[idx+1:])
			}

			s.bus.Publish(domain.InboundMessage{
				Channel:   "slack",
				ChatID:    ev.Channel,
				SenderID:  ev.User,
				Text:      text,
				Timestamp: time.Now(),
			})
		}
	}
}

// handleSlashCommand forwards a workspace slash command as plain text
// so the central parser sees the same "/name args" shape as every
// other transport.
func (s *Slack) handleSlashCommand(cmd slack.SlashCommand) {
	text := strings.TrimSpace(cmd.Command + " " + cmd.Text)

	s.logger.Info("slack slash command",
		"command", cmd.Command,
		"user", cmd.UserID,
		"channel", cmd.ChannelID,
	)

	s.bus.Publish(domain.InboundMessage{
		Channel:   "slack",
		ChatID:    cmd.ChannelID,
		SenderID:  cmd.UserID,
		Text:      text,
		Timestamp: time.Now(),
	})
}

// sendCard renders a card using Block Kit: header, optional image,
// body section, and one button per action.
func (s *Slack) sendCard(channelID string, card *domain.Card) {
	if card == nil {
		return
	}

	var blocks []slack.Block
	blocks = append(blocks, slack.NewHeaderBlock(
		slack.NewTextBlockObject(slack.PlainTextType, card.Title, false, false),
	))

	body := card.Body
	if card.Subtitle != "" {
		body = card.Subtitle + "\n" + body
	}
	if body != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, body, false, false), nil, nil,
		))
	}

	if card.ImageURL != "" {
		blocks = append(blocks, slack.NewImageBlock(card.ImageURL, card.Title, "", nil))
	}

	if len(card.Actions) > 0 {
		var buttons []slack.BlockElement
		for i, a := range card.Actions {
			btn := slack.NewButtonBlockElement(
				fmt.Sprintf("card_action_%d", i),
				a.URL,
				slack.NewTextBlockObject(slack.PlainTextType, a.Title, false, false),
			)
			btn.URL = a.URL
			buttons = append(buttons, btn)
		}
		blocks = append(blocks, slack.NewActionBlock("card_actions", buttons...))
	}

	_, _, err := s.client.PostMessage(
		channelID,
		slack.MsgOptionText(card.Title, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		s.logger.Error("slack card send failed", "channel", channelID, "err", err)
	}
}

func (s *Slack) sendMessage(channelID, text string) {
	// Split long messages.
	chunks := splitSlackMessage(text, slackMaxMsgLen)
	for _, chunk := range chunks {
		_, _, err := s.client.PostMessage(
			channelID,
			slack.MsgOptionText(chunk, false),
			slack.MsgOptionAsUser(true),
		)
		if err != nil {
			s.logger.Error("slack send failed", "channel", channelID, "err", err)
		}
	}
}

func splitSlackMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
