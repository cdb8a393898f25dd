package channel

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"teamsbot/internal/domain"
)

func testChannelLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// recordingBus captures published inbound messages for assertions.
type recordingBus struct {
	mu        sync.Mutex
	published []domain.InboundMessage
}

func (b *recordingBus) Publish(msg domain.InboundMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, msg)
}

func (b *recordingBus) Subscribe() <-chan domain.InboundMessage         { return nil }
func (b *recordingBus) SendOutbound(domain.OutboundMessage)             {}
func (b *recordingBus) OnOutbound(string, func(domain.OutboundMessage)) {}
func (b *recordingBus) Close()                                          {}

func (b *recordingBus) messages() []domain.InboundMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.InboundMessage(nil), b.published...)
}

func newTestTeams(bus domain.MessageBus) *Teams {
	t := NewTeams(TeamsConfig{Logger: testChannelLogger()})
	t.bus = bus
	return t
}

func TestTeamsHandleActivity_MethodNotAllowed(t *testing.T) {
	ch := newTestTeams(&recordingBus{})
	req := httptest.NewRequest("GET", "/api/messages", nil)
	rr := httptest.NewRecorder()

	ch.handleActivity(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestTeamsHandleActivity_InvalidJSON(t *testing.T) {
	ch := newTestTeams(&recordingBus{})
	req := httptest.NewRequest("POST", "/api/messages", bytes.NewBufferString("not json"))
	rr := httptest.NewRecorder()

	ch.handleActivity(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestTeamsHandleActivity_IgnoresNonMessage(t *testing.T) {
	bus := &recordingBus{}
	ch := newTestTeams(bus)
	body := `{"type":"conversationUpdate","conversation":{"id":"conv1"}}`
	req := httptest.NewRequest("POST", "/api/messages", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()

	ch.handleActivity(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	if len(bus.messages()) != 0 {
		t.Errorf("non-message activity should not be published")
	}
}

func TestTeamsHandleActivity_PublishesMessage(t *testing.T) {
	bus := &recordingBus{}
	ch := newTestTeams(bus)

	body := `{
		"type": "message",
		"id": "act1",
		"serviceUrl": "https://smba.example.com/emea/",
		"channelId": "msteams",
		"from": {"id": "user-29", "name": "Sam"},
		"conversation": {"id": "conv1"},
		"recipient": {"id": "bot-1", "name": "teamsbot"},
		"text": "hello bot"
	}`
	req := httptest.NewRequest("POST", "/api/messages", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()

	ch.handleActivity(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	msgs := bus.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(msgs))
	}
	got := msgs[0]
	if got.Channel != "teams" || got.ChatID != "conv1" || got.SenderID != "user-29" || got.Text != "hello bot" {
		t.Errorf("unexpected inbound message: %+v", got)
	}

	ch.mu.RLock()
	ref, ok := ch.convs["conv1"]
	ch.mu.RUnlock()
	if !ok {
		t.Fatal("conversation reference not recorded")
	}
	if ref.serviceURL != "https://smba.example.com/emea" {
		t.Errorf("serviceURL = %q, want trailing slash trimmed", ref.serviceURL)
	}
	if ref.activityID != "act1" || ref.bot.ID != "bot-1" || ref.user.ID != "user-29" {
		t.Errorf("unexpected conversation ref: %+v", ref)
	}
}

func TestTeamsConversationMapBounded(t *testing.T) {
	bus := &recordingBus{}
	ch := newTestTeams(bus)
	ch.maxConvs = 2

	for _, id := range []string{"conv1", "conv2", "conv3"} {
		body := `{
			"type": "message",
			"id": "act-` + id + `",
			"serviceUrl": "https://smba.example.com/emea",
			"from": {"id": "user-29"},
			"conversation": {"id": "` + id + `"},
			"recipient": {"id": "bot-1"},
			"text": "hello"
		}`
		req := httptest.NewRequest("POST", "/api/messages", bytes.NewBufferString(body))
		rr := httptest.NewRecorder()
		ch.handleActivity(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("activity for %s: got %d", id, rr.Code)
		}
		time.Sleep(time.Millisecond) // distinct lastSeen stamps
	}

	ch.mu.RLock()
	defer ch.mu.RUnlock()
	if len(ch.convs) != 2 {
		t.Fatalf("conversation map has %d entries, want 2", len(ch.convs))
	}
	if _, ok := ch.convs["conv1"]; ok {
		t.Error("oldest conversation should have been evicted")
	}
	for _, id := range []string{"conv2", "conv3"} {
		if _, ok := ch.convs[id]; !ok {
			t.Errorf("conversation %s missing from map", id)
		}
	}
}

func TestTeamsConversationRefUpdatedInPlace(t *testing.T) {
	ch := newTestTeams(&recordingBus{})
	ch.maxConvs = 1

	ch.rememberConversation("conv1", conversationRef{activityID: "act1", lastSeen: time.Now()})
	ch.rememberConversation("conv1", conversationRef{activityID: "act2", lastSeen: time.Now()})

	ch.mu.RLock()
	defer ch.mu.RUnlock()
	if len(ch.convs) != 1 {
		t.Fatalf("conversation map has %d entries, want 1", len(ch.convs))
	}
	if ref := ch.convs["conv1"]; ref.activityID != "act2" {
		t.Errorf("activityID = %q, want act2", ref.activityID)
	}
}

func TestTeamsDeliver_TextReply(t *testing.T) {
	var gotPath string
	var gotActivity teamsActivity
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotActivity)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := newTestTeams(&recordingBus{})
	ch.convs["conv1"] = conversationRef{
		serviceURL: srv.URL,
		activityID: "act1",
		bot:        teamsAccount{ID: "bot-1"},
		user:       teamsAccount{ID: "user-29"},
	}

	ch.deliver(domain.OutboundMessage{
		Channel: "teams",
		ChatID:  "conv1",
		Kind:    domain.KindText,
		Text:    "Hello! How can I assist you today?",
	})

	if gotPath != "/v3/conversations/conv1/activities/act1" {
		t.Errorf("reply path = %q", gotPath)
	}
	if gotActivity.Type != "message" || gotActivity.Text != "Hello! How can I assist you today?" {
		t.Errorf("unexpected reply activity: %+v", gotActivity)
	}
	if gotActivity.ReplyToID != "act1" || gotActivity.From.ID != "bot-1" || gotActivity.Recipient.ID != "user-29" {
		t.Errorf("reply not addressed back into the conversation: %+v", gotActivity)
	}
}

func TestTeamsDeliver_HeroCard(t *testing.T) {
	var raw []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := newTestTeams(&recordingBus{})
	ch.convs["conv1"] = conversationRef{serviceURL: srv.URL, activityID: "act1"}

	ch.deliver(domain.OutboundMessage{
		Channel: "teams",
		ChatID:  "conv1",
		Kind:    domain.KindCard,
		Card: &domain.Card{
			Title: "example.com",
			Body:  "You shared a link. Open it below.",
			Actions: []domain.CardAction{
				{Title: "Open link", URL: "https://example.com/page"},
			},
		},
	})

	var act struct {
		Type        string `json:"type"`
		Attachments []struct {
			ContentType string   `json:"contentType"`
			Content     heroCard `json:"content"`
		} `json:"attachments"`
	}
	if err := json.Unmarshal(raw, &act); err != nil {
		t.Fatalf("decoding reply: %v", err)
	}
	if act.Type != "message" || len(act.Attachments) != 1 {
		t.Fatalf("unexpected reply: %+v", act)
	}
	att := act.Attachments[0]
	if att.ContentType != heroCardContentType {
		t.Errorf("contentType = %q", att.ContentType)
	}
	if att.Content.Title != "example.com" {
		t.Errorf("card title = %q", att.Content.Title)
	}
	if len(att.Content.Buttons) != 1 || att.Content.Buttons[0].Type != "openUrl" ||
		att.Content.Buttons[0].Value != "https://example.com/page" {
		t.Errorf("card buttons = %+v", att.Content.Buttons)
	}
}

func TestTeamsDeliver_TypingSendsTypingActivity(t *testing.T) {
	var gotActivity teamsActivity
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotActivity)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := newTestTeams(&recordingBus{})
	ch.convs["conv1"] = conversationRef{serviceURL: srv.URL, activityID: "act1"}

	ch.deliver(domain.OutboundMessage{Channel: "teams", ChatID: "conv1", Kind: domain.KindTyping})

	if gotActivity.Type != "typing" {
		t.Errorf("activity type = %q, want typing", gotActivity.Type)
	}
	if gotActivity.Text != "" {
		t.Errorf("typing activity should carry no text, got %q", gotActivity.Text)
	}
}

func TestTeamsDeliver_UnknownConversationDropped(t *testing.T) {
	ch := newTestTeams(&recordingBus{})
	// Must not panic or post anywhere.
	ch.deliver(domain.OutboundMessage{Channel: "teams", ChatID: "nope", Kind: domain.KindText, Text: "hi"})
}

func TestTeamsBearerToken_Cached(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if err := r.ParseForm(); err != nil {
			t.Errorf("parsing token form: %v", err)
		}
		if r.Form.Get("grant_type") != "client_credentials" {
			t.Errorf("grant_type = %q", r.Form.Get("grant_type"))
		}
		if r.Form.Get("client_id") != "app-1" {
			t.Errorf("client_id = %q", r.Form.Get("client_id"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-123",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	ch := NewTeams(TeamsConfig{
		AppID:       "app-1",
		AppPassword: "secret",
		TokenURL:    srv.URL,
		Logger:      testChannelLogger(),
	})

	for i := 0; i < 3; i++ {
		tok, err := ch.bearerToken()
		if err != nil {
			t.Fatalf("bearerToken: %v", err)
		}
		if tok != "tok-123" {
			t.Errorf("token = %q", tok)
		}
	}
	if hits != 1 {
		t.Errorf("token endpoint hit %d times, want 1 (cached)", hits)
	}
}

func TestTeamsBearerToken_RefreshesNearExpiry(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-123",
			"expires_in":   30, // within the refresh margin
		})
	}))
	defer srv.Close()

	ch := NewTeams(TeamsConfig{
		AppID:       "app-1",
		AppPassword: "secret",
		TokenURL:    srv.URL,
		Logger:      testChannelLogger(),
	})

	if _, err := ch.bearerToken(); err != nil {
		t.Fatalf("bearerToken: %v", err)
	}
	if _, err := ch.bearerToken(); err != nil {
		t.Fatalf("bearerToken: %v", err)
	}
	if hits != 2 {
		t.Errorf("token endpoint hit %d times, want 2 (refresh near expiry)", hits)
	}
}

func TestTeamsBearerToken_GrantError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	ch := NewTeams(TeamsConfig{
		AppID:       "app-1",
		AppPassword: "wrong",
		TokenURL:    srv.URL,
		Logger:      testChannelLogger(),
	})

	if _, err := ch.bearerToken(); err == nil {
		t.Fatal("expected error from failed grant")
	}
}

func TestSplitMessage_Short(t *testing.T) {
	chunks := splitMessage("short message", 100)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}
}

func TestSplitMessage_Long(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "word "
	}
	chunks := splitMessage(long, 50)
	if len(chunks) < 2 {
		t.Errorf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 50 {
			t.Errorf("chunk %d too long: %d", i, len(c))
		}
	}
}

func TestSplitMessage_Empty(t *testing.T) {
	chunks := splitMessage("", 100)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk for empty, got %d", len(chunks))
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func TestCLIRendersTyping(t *testing.T) {
	out := &syncBuffer{}
	c := NewCLI(CLIConfig{Logger: testChannelLogger(), In: bytes.NewReader(nil), Out: out})

	c.startThinking()
	time.Sleep(250 * time.Millisecond)
	c.stopThinking()

	if out.Len() == 0 {
		t.Error("spinner wrote nothing")
	}
}
