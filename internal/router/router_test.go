package router

import (
	"context"
	"testing"

	"teamsbot/internal/domain"
)

func staticHandler(reply string) Handler {
	return func(context.Context, domain.InboundMessage) (domain.Response, error) {
		return domain.TextResponse(reply), nil
	}
}

func invoke(t *testing.T, h Handler) domain.Response {
	t.Helper()
	resp, err := h(context.Background(), domain.InboundMessage{})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return resp
}

func TestMatch_FirstMatchWins(t *testing.T) {
	tbl := NewTable()
	if err := tbl.Add(`hello`, false, staticHandler("first")); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Add(`hello world`, false, staticHandler("second")); err != nil {
		t.Fatal(err)
	}

	h := tbl.Match("hello world")
	if h == nil {
		t.Fatal("expected a match")
	}
	if got := invoke(t, h).Text; got != "first" {
		t.Errorf("expected earlier route to win, got %q", got)
	}
}

func TestMatch_Unanchored(t *testing.T) {
	tbl := NewTable()
	if err := tbl.AddStatic(`hello`, false, "hi"); err != nil {
		t.Fatal(err)
	}
	if tbl.Match("well hello there") == nil {
		t.Error("pattern should match anywhere in the text")
	}
}

func TestMatch_CaseSensitivityPerRoute(t *testing.T) {
	tbl := NewTable()
	if err := tbl.AddStatic(`hello|hi|greetings`, true, "greeting"); err != nil {
		t.Fatal(err)
	}
	if err := tbl.AddStatic(`BYE`, false, "farewell"); err != nil {
		t.Fatal(err)
	}

	if tbl.Match("HELLO friend") == nil {
		t.Error("case-insensitive route should match uppercase text")
	}
	if tbl.Match("bye now") != nil {
		t.Error("case-sensitive route should not match lowercase text")
	}
	if tbl.Match("BYE now") == nil {
		t.Error("case-sensitive route should match exact case")
	}
}

func TestMatch_NoMatchReturnsNil(t *testing.T) {
	tbl := NewTable()
	if err := tbl.AddStatic(`hello`, false, "hi"); err != nil {
		t.Fatal(err)
	}
	if tbl.Match("completely unrelated") != nil {
		t.Error("expected nil for non-matching text")
	}
}

func TestAdd_InvalidPattern(t *testing.T) {
	tbl := NewTable()
	if err := tbl.AddStatic(`[unclosed`, false, "x"); err == nil {
		t.Error("expected compile error for invalid pattern")
	}
}

func TestLoad_YAMLOrderIsPrecedence(t *testing.T) {
	data := []byte(`
routes:
  - pattern: "hello"
    ignoreCase: true
    reply: "greeting"
  - pattern: "hello there"
    reply: "specific"
`)
	tbl, err := Load(data, nil)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Len() != 2 {
		t.Fatalf("expected 2 routes, got %d", tbl.Len())
	}
	h := tbl.Match("hello there")
	if h == nil {
		t.Fatal("expected a match")
	}
	if got := invoke(t, h).Text; got != "greeting" {
		t.Errorf("file order should define precedence, got %q", got)
	}
}

func TestLoad_ActionResolution(t *testing.T) {
	data := []byte(`
routes:
  - pattern: "https?://\\S+"
    action: link_card
`)
	called := false
	actions := map[string]Handler{
		"link_card": func(context.Context, domain.InboundMessage) (domain.Response, error) {
			called = true
			return domain.TextResponse("card"), nil
		},
	}
	tbl, err := Load(data, actions)
	if err != nil {
		t.Fatal(err)
	}
	h := tbl.Match("see https://example.com/page")
	if h == nil {
		t.Fatal("expected link route to match")
	}
	invoke(t, h)
	if !called {
		t.Error("action handler not invoked")
	}
}

func TestLoad_UnknownAction(t *testing.T) {
	data := []byte("routes:\n  - pattern: \"x\"\n    action: missing\n")
	if _, err := Load(data, nil); err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestLoad_ReplyAndActionExclusive(t *testing.T) {
	data := []byte("routes:\n  - pattern: \"x\"\n    reply: \"a\"\n    action: link_card\n")
	if _, err := Load(data, map[string]Handler{"link_card": staticHandler("c")}); err == nil {
		t.Error("expected error when both reply and action set")
	}
}

func TestDefaultSpecs_Build(t *testing.T) {
	tbl, err := Build(DefaultSpecs(), map[string]Handler{"link_card": staticHandler("card")})
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Match("Greetings, bot") == nil {
		t.Error("default greeting route should match case-insensitively")
	}
	if tbl.Match("thanks a lot") == nil {
		t.Error("default thanks route should match")
	}
	if tbl.Match("http://example.com") == nil {
		t.Error("default link route should match")
	}
}
