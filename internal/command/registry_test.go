package command

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"teamsbot/internal/domain"
)

// fakeCompleter records whether it was invoked.
type fakeCompleter struct {
	reply  string
	err    error
	called int
	prompt string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.called++
	f.prompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeCompleter) Name() string { return "fake" }

func testRegistryLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestRegistry(completer domain.Completer) *Registry {
	r := NewRegistry(testRegistryLogger())
	RegisterBuiltins(r, HandlerDeps{Completer: completer, Version: "test"})
	return r
}

func TestResolve_UnknownCommand(t *testing.T) {
	fake := &fakeCompleter{}
	r := newTestRegistry(fake)

	resp, err := r.Resolve("unknowncmd")(context.Background(), domain.InboundMessage{}, nil)
	if err != nil {
		t.Fatalf("unknown command must recover locally: %v", err)
	}
	if !strings.Contains(resp.Text, "unknowncmd") {
		t.Errorf("reply should name the command, got %q", resp.Text)
	}
	if !strings.Contains(resp.Text, "/help") {
		t.Errorf("reply should point to /help, got %q", resp.Text)
	}
	if fake.called != 0 {
		t.Error("unknown command must not invoke the completer")
	}
}

func TestHelp_StaticAndSideEffectFree(t *testing.T) {
	fake := &fakeCompleter{}
	r := newTestRegistry(fake)

	first, err := r.Resolve("help")(context.Background(), domain.InboundMessage{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, _ := r.Resolve("help")(context.Background(), domain.InboundMessage{}, []string{"ignored", "args"})
	if first.Text != second.Text {
		t.Error("help should be static regardless of arguments")
	}
	if !strings.Contains(first.Text, "/search") {
		t.Errorf("help should list commands, got %q", first.Text)
	}
	if fake.called != 0 {
		t.Error("help must not invoke the completer")
	}
}

func TestStatus_IgnoresArgs(t *testing.T) {
	r := newTestRegistry(&fakeCompleter{})

	resp, err := r.Resolve("status")(context.Background(), domain.InboundMessage{}, []string{"extra"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp.Text, "Uptime") {
		t.Errorf("status should report uptime, got %q", resp.Text)
	}
	if !strings.Contains(resp.Text, "fake") {
		t.Errorf("status should name the provider, got %q", resp.Text)
	}
}

func TestSearch_EmptyArgsUsageHint(t *testing.T) {
	fake := &fakeCompleter{}
	r := newTestRegistry(fake)

	resp, err := r.Resolve("search")(context.Background(), domain.InboundMessage{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp.Text, "Usage: /search") {
		t.Errorf("expected usage hint, got %q", resp.Text)
	}
	if fake.called != 0 {
		t.Error("search with no args must not invoke the completer")
	}
}

func TestSearch_WithArgsInvokesCompleter(t *testing.T) {
	fake := &fakeCompleter{reply: "found it"}
	r := newTestRegistry(fake)

	resp, err := r.Resolve("search")(context.Background(), domain.InboundMessage{}, []string{"foo", "bar"})
	if err != nil {
		t.Fatal(err)
	}
	if fake.called != 1 {
		t.Fatalf("expected one completion call, got %d", fake.called)
	}
	if !strings.Contains(fake.prompt, "foo bar") {
		t.Errorf("prompt should carry the joined query, got %q", fake.prompt)
	}
	if resp.Text != "found it" {
		t.Errorf("expected completion text, got %q", resp.Text)
	}
}

func TestSearch_CompletionErrorPropagates(t *testing.T) {
	fake := &fakeCompleter{err: errors.New("boom")}
	r := newTestRegistry(fake)

	_, err := r.Resolve("search")(context.Background(), domain.InboundMessage{}, []string{"q"})
	if err == nil {
		t.Fatal("expected completion error to propagate to the dispatcher")
	}
}
