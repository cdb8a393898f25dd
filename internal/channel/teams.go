package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"teamsbot/internal/domain"
)

const (
	teamsDefaultPath = "/api/messages"
	teamsDefaultPort = 3978

	// Bot Framework client-credentials grant endpoint and scope.
	teamsTokenURL   = "https://login.microsoftonline.com/botframework.com/oauth2/v2.0/token"
	teamsTokenScope = "https://api.botframework.com/.default"

	// teamsMaxConversations bounds the reply-route map; the least
	// recently seen conversation is evicted once the cap is hit.
	teamsMaxConversations = 1000

	heroCardContentType = "application/vnd.microsoft.card.hero"
)

// TeamsConfig configures the Microsoft Teams channel.
type TeamsConfig struct {
	Port        int
	Path        string // activity endpoint path (default: /api/messages)
	AppID       string // Azure bot registration app ID
	AppPassword string // client secret for the token grant
	TokenURL    string // override for tests; defaults to the MS login endpoint
	Logger      *slog.Logger
	HTTPClient  *http.Client
}

// Teams implements domain.Channel for Microsoft Teams via the Bot
// Framework connector: inbound activities arrive on an HTTP endpoint,
// replies go back to each activity's serviceUrl.
type Teams struct {
	port        int
	path        string
	appID       string
	appPassword string
	tokenURL    string

	bus    domain.MessageBus
	logger *slog.Logger
	server *http.Server
	client *http.Client

	mu       sync.RWMutex
	convs    map[string]conversationRef // conversation ID -> reply route
	maxConvs int

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

// conversationRef is everything needed to address a reply back into
// the conversation an activity came from.
type conversationRef struct {
	serviceURL string
	activityID string
	bot        teamsAccount
	user       teamsAccount
	lastSeen   time.Time
}

// teamsActivity is the Bot Framework activity wire format, reduced to
// the fields this bot reads and writes.
type teamsActivity struct {
	Type         string            `json:"type"`
	ID           string            `json:"id,omitempty"`
	Timestamp    string            `json:"timestamp,omitempty"`
	ServiceURL   string            `json:"serviceUrl,omitempty"`
	ChannelID    string            `json:"channelId,omitempty"`
	From         teamsAccount      `json:"from,omitempty"`
	Conversation teamsConversation `json:"conversation,omitempty"`
	Recipient    teamsAccount      `json:"recipient,omitempty"`
	Text         string            `json:"text,omitempty"`
	ReplyToID    string            `json:"replyToId,omitempty"`
	Attachments  []teamsAttachment `json:"attachments,omitempty"`
}

type teamsAccount struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type teamsConversation struct {
	ID string `json:"id,omitempty"`
}

type teamsAttachment struct {
	ContentType string `json:"contentType"`
	Content     any    `json:"content"`
}

// heroCard is the connector's hero card payload.
type heroCard struct {
	Title    string           `json:"title,omitempty"`
	Subtitle string           `json:"subtitle,omitempty"`
	Text     string           `json:"text,omitempty"`
	Images   []heroCardImage  `json:"images,omitempty"`
	Buttons  []heroCardButton `json:"buttons,omitempty"`
}

type heroCardImage struct {
	URL string `json:"url"`
}

type heroCardButton struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Value string `json:"value"`
}

// NewTeams creates a new Teams channel handler.
func NewTeams(cfg TeamsConfig) *Teams {
	if cfg.Path == "" {
		cfg.Path = teamsDefaultPath
	}
	if cfg.Port == 0 {
		cfg.Port = teamsDefaultPort
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = teamsTokenURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Teams{
		port:        cfg.Port,
		path:        cfg.Path,
		appID:       cfg.AppID,
		appPassword: cfg.AppPassword,
		tokenURL:    cfg.TokenURL,
		logger:      cfg.Logger,
		client:      cfg.HTTPClient,
		convs:       make(map[string]conversationRef),
		maxConvs:    teamsMaxConversations,
	}
}

func (t *Teams) Name() string { return "teams" }

// Start begins the activity HTTP server and registers the outbound
// handler. Blocks until ctx is cancelled.
func (t *Teams) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	mux := http.NewServeMux()
	mux.HandleFunc(t.path, t.handleActivity)

	t.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	bus.OnOutbound("teams", t.deliver)

	t.logger.Info("teams activity endpoint starting", "port", t.port, "path", t.path)

	errCh := make(chan error, 1)
	go func() {
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("teams server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("teams server: %w", err)
	}
}

func (t *Teams) Stop() error { return nil }

// handleActivity accepts one Bot Framework activity. Non-message
// activities (conversationUpdate, typing echoes) are acknowledged and
// dropped.
func (t *Teams) handleActivity(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB max
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var act teamsActivity
	if err := json.Unmarshal(body, &act); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if act.Type != "message" || strings.TrimSpace(act.Text) == "" {
		rw.WriteHeader(http.StatusOK)
		return
	}

	t.rememberConversation(act.Conversation.ID, conversationRef{
		serviceURL: strings.TrimSuffix(act.ServiceURL, "/"),
		activityID: act.ID,
		bot:        act.Recipient,
		user:       act.From,
		lastSeen:   time.Now(),
	})

	t.logger.Info("teams activity received",
		"conversation", act.Conversation.ID,
		"from", act.From.ID,
		"text_len", len(act.Text),
	)

	t.bus.Publish(domain.InboundMessage{
		Channel:   "teams",
		ChatID:    act.Conversation.ID,
		SenderID:  act.From.ID,
		Text:      act.Text,
		Timestamp: time.Now(),
	})

	rw.WriteHeader(http.StatusOK)
}

// rememberConversation stores a reply route, evicting the least
// recently seen conversation once the map is full.
func (t *Teams) rememberConversation(id string, ref conversationRef) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.convs[id]; !exists && len(t.convs) >= t.maxConvs {
		var oldestID string
		var oldest time.Time
		for cid, c := range t.convs {
			if oldestID == "" || c.lastSeen.Before(oldest) {
				oldestID = cid
				oldest = c.lastSeen
			}
		}
		delete(t.convs, oldestID)
	}
	t.convs[id] = ref
}

// deliver posts a reply activity back through the connector.
func (t *Teams) deliver(msg domain.OutboundMessage) {
	t.mu.RLock()
	ref, ok := t.convs[msg.ChatID]
	t.mu.RUnlock()
	if !ok {
		t.logger.Warn("no conversation reference for teams outbound", "chat_id", msg.ChatID)
		return
	}

	reply := teamsActivity{
		From:         ref.bot,
		Recipient:    ref.user,
		Conversation: teamsConversation{ID: msg.ChatID},
		ReplyToID:    ref.activityID,
	}

	switch msg.Kind {
	case domain.KindTyping:
		reply.Type = "typing"
	case domain.KindCard:
		if msg.Card == nil {
			return
		}
		reply.Type = "message"
		reply.Attachments = []teamsAttachment{{
			ContentType: heroCardContentType,
			Content:     toHeroCard(msg.Card),
		}}
	default:
		reply.Type = "message"
		reply.Text = msg.Text
	}

	endpoint := fmt.Sprintf("%s/v3/conversations/%s/activities/%s",
		ref.serviceURL, url.PathEscape(msg.ChatID), url.PathEscape(ref.activityID))

	if err := t.postActivity(endpoint, reply); err != nil {
		if msg.Kind == domain.KindTyping {
			// Typing is best-effort.
			t.logger.Debug("teams typing activity failed", "err", err)
			return
		}
		t.logger.Error("teams reply failed", "conversation", msg.ChatID, "err", err)
	}
}

func (t *Teams) postActivity(endpoint string, act teamsActivity) error {
	payload, err := json.Marshal(act)
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if t.appID != "" {
		tok, err := t.bearerToken()
		if err != nil {
			return fmt.Errorf("connector token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("connector returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// bearerToken returns a cached connector token, refreshing it via the
// client-credentials grant when it is within a minute of expiry.
func (t *Teams) bearerToken() (string, error) {
	t.tokenMu.Lock()
	defer t.tokenMu.Unlock()

	if t.token != "" && time.Until(t.tokenExpiry) > time.Minute {
		return t.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {t.appID},
		"client_secret": {t.appPassword},
		"scope":         {teamsTokenScope},
	}

	resp, err := t.client.PostForm(t.tokenURL, form)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("token grant returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var grant struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if grant.AccessToken == "" {
		return "", fmt.Errorf("token grant returned empty access_token")
	}

	t.token = grant.AccessToken
	t.tokenExpiry = time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second)
	return t.token, nil
}

func toHeroCard(card *domain.Card) heroCard {
	hc := heroCard{
		Title:    card.Title,
		Subtitle: card.Subtitle,
		Text:     card.Body,
	}
	if card.ImageURL != "" {
		hc.Images = []heroCardImage{{URL: card.ImageURL}}
	}
	for _, a := range card.Actions {
		hc.Buttons = append(hc.Buttons, heroCardButton{
			Type:  "openUrl",
			Title: a.Title,
			Value: a.URL,
		})
	}
	return hc
}
