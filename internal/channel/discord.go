package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"teamsbot/internal/domain"
)

const (
	discordMaxMsgLen = 2000
)

// Discord implements domain.Channel for Discord.
type Discord struct {
	token   string
	guildID string
	session *discordgo.Session
	bus     domain.MessageBus
	logger  *slog.Logger

	// pending tracks deferred slash-command interactions per channel
	// so the eventual response completes them as a followup.
	mu      sync.Mutex
	pending map[string]*discordgo.Interaction
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Token   string
	GuildID string
	Logger  *slog.Logger
}

// NewDiscord creates a new Discord channel handler.
func NewDiscord(cfg DiscordConfig) *Discord {
	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		logger:  cfg.Logger,
		pending: make(map[string]*discordgo.Interaction),
	}
}

func (d *Discord) Name() string { return "discord" }

// Start connects to Discord using a bot token and begins listening.
// Message text is forwarded verbatim; native slash-command
// interactions are flattened to "/name args" text so the central
// parser handles them like typed commands.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	d.bus = bus

	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	d.session = session

	bus.OnOutbound("discord", d.deliver)

	// Register message handler.
	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		// Ignore bot's own messages.
		if m.Author.ID == s.State.User.ID {
			return
		}

		// If guildID is set, filter messages.
		if d.guildID != "" && m.GuildID != d.guildID {
			return
		}

		d.logger.Info("discord message received",
			"author", m.Author.Username,
			"channel_id", m.ChannelID,
			"text_len", len(m.Content),
		)

		bus.Publish(domain.InboundMessage{
			Channel:   "discord",
			ChatID:    m.ChannelID,
			SenderID:  m.Author.ID,
			Text:      m.Content,
			Timestamp: time.Now(),
		})
	})

	// Register slash commands handler.
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}

		sender := interactionSender(i)
		if sender == nil {
			d.logger.Warn("discord interaction without a sender", "channel_id", i.ChannelID)
			return
		}

		data := i.ApplicationCommandData()
		text := "/" + data.Name
		for _, opt := range data.Options {
			if opt.Type == discordgo.ApplicationCommandOptionString {
				text += " " + opt.StringValue()
			}
		}

		// Defer the interaction; the dispatcher's response completes
		// it as a followup in deliver.
		err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		})
		if err != nil {
			d.logger.Error("discord interaction ack failed", "channel_id", i.ChannelID, "err", err)
			return
		}
		d.rememberInteraction(i.ChannelID, i.Interaction)

		bus.Publish(domain.InboundMessage{
			Channel:   "discord",
			ChatID:    i.ChannelID,
			SenderID:  sender.ID,
			Text:      text,
			Timestamp: time.Now(),
		})
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}

	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	// Register slash commands.
	d.registerSlashCommands()

	// Wait for context cancellation.
	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

func (d *Discord) Stop() error { return nil }

// interactionSender returns the invoking user. Guild interactions
// carry a Member; DM interactions leave Member nil and set User.
func interactionSender(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// rememberInteraction stores a deferred interaction to be completed
// by the next response on that channel.
func (d *Discord) rememberInteraction(channelID string, in *discordgo.Interaction) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[channelID] = in
}

// takeInteraction pops the deferred interaction for a channel, if any.
func (d *Discord) takeInteraction(channelID string) *discordgo.Interaction {
	d.mu.Lock()
	defer d.mu.Unlock()
	in := d.pending[channelID]
	delete(d.pending, channelID)
	return in
}

func (d *Discord) hasPendingInteraction(channelID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[channelID]
	return ok
}

func (d *Discord) deliver(msg domain.OutboundMessage) {
	switch msg.Kind {
	case domain.KindTyping:
		// A deferred interaction already renders "thinking"; only
		// plain messages need the typing indicator.
		if d.hasPendingInteraction(msg.ChatID) {
			return
		}
		if err := d.session.ChannelTyping(msg.ChatID); err != nil {
			d.logger.Debug("discord typing failed", "err", err)
		}
	case domain.KindCard:
		d.sendCard(msg.ChatID, msg.Card)
	default:
		if msg.Text != "" {
			d.sendMessage(msg.ChatID, msg.Text)
		}
	}
}

// sendCard renders a card as a Discord embed. The first action URL
// becomes the embed link; remaining actions are listed as fields.
func (d *Discord) sendCard(channelID string, card *domain.Card) {
	if card == nil {
		return
	}

	embed := cardEmbed(card)

	if in := d.takeInteraction(channelID); in != nil {
		_, err := d.session.FollowupMessageCreate(in, true, &discordgo.WebhookParams{
			Embeds: []*discordgo.MessageEmbed{embed},
		})
		if err != nil {
			d.logger.Error("discord followup card failed", "channel", channelID, "err", err)
		}
		return
	}

	if _, err := d.session.ChannelMessageSendEmbed(channelID, embed); err != nil {
		d.logger.Error("discord card send failed", "channel", channelID, "err", err)
	}
}

func cardEmbed(card *domain.Card) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       card.Title,
		Description: card.Body,
	}
	if card.Subtitle != "" {
		embed.Description = card.Subtitle + "\n" + embed.Description
	}
	if card.ImageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: card.ImageURL}
	}
	for i, a := range card.Actions {
		if i == 0 {
			embed.URL = a.URL
			continue
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  a.Title,
			Value: a.URL,
		})
	}
	return embed
}

func (d *Discord) sendMessage(channelID, text string) {
	// Split long messages.
	chunks := splitMessage(text, discordMaxMsgLen)
	in := d.takeInteraction(channelID)
	for _, chunk := range chunks {
		if in != nil {
			_, err := d.session.FollowupMessageCreate(in, true, &discordgo.WebhookParams{
				Content: chunk,
			})
			if err != nil {
				d.logger.Error("discord followup failed", "channel", channelID, "err", err)
			}
			continue
		}
		if _, err := d.session.ChannelMessageSend(channelID, chunk); err != nil {
			d.logger.Error("discord send failed", "channel", channelID, "err", err)
		}
	}
}

func (d *Discord) registerSlashCommands() {
	commands := []*discordgo.ApplicationCommand{
		{
			Name:        "search",
			Description: "Search via the completion provider",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "query",
					Description: "What to search for",
					Required:    true,
				},
			},
		},
		{
			Name:        "status",
			Description: "Show bot status",
		},
		{
			Name:        "help",
			Description: "Show available commands",
		},
	}

	guildID := d.guildID // empty = global commands
	for _, cmd := range commands {
		_, err := d.session.ApplicationCommandCreate(d.session.State.User.ID, guildID, cmd)
		if err != nil {
			d.logger.Warn("failed to register slash command", "command", cmd.Name, "err", err)
		}
	}
}

// splitMessage splits a message into chunks that fit within the max length,
// trying to split on newlines when possible.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		// Try to split on a newline.
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
