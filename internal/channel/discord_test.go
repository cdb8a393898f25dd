package channel

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestInteractionSenderGuild(t *testing.T) {
	i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Member: &discordgo.Member{User: &discordgo.User{ID: "u-guild"}},
	}}
	u := interactionSender(i)
	if u == nil || u.ID != "u-guild" {
		t.Fatalf("sender = %v, want member user u-guild", u)
	}
}

func TestInteractionSenderDirectMessage(t *testing.T) {
	// DM interactions leave Member nil and set User instead.
	i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		User: &discordgo.User{ID: "u-dm"},
	}}
	u := interactionSender(i)
	if u == nil || u.ID != "u-dm" {
		t.Fatalf("sender = %v, want user u-dm", u)
	}
}

func TestInteractionSenderMissing(t *testing.T) {
	i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}
	if u := interactionSender(i); u != nil {
		t.Fatalf("sender = %v, want nil", u)
	}
}

func TestDeferredInteractionConsumedOnce(t *testing.T) {
	d := &Discord{
		logger:  testChannelLogger(),
		pending: make(map[string]*discordgo.Interaction),
	}

	in := &discordgo.Interaction{ID: "int-1"}
	d.rememberInteraction("chan-1", in)

	if !d.hasPendingInteraction("chan-1") {
		t.Fatal("expected a pending interaction for chan-1")
	}
	if got := d.takeInteraction("chan-1"); got != in {
		t.Fatalf("takeInteraction = %v, want %v", got, in)
	}
	// The deferred ack is completed by exactly one followup.
	if got := d.takeInteraction("chan-1"); got != nil {
		t.Fatalf("second take = %v, want nil", got)
	}
	if d.hasPendingInteraction("chan-1") {
		t.Fatal("pending interaction should be cleared after take")
	}
}

func TestTakeInteractionOtherChannel(t *testing.T) {
	d := &Discord{
		logger:  testChannelLogger(),
		pending: make(map[string]*discordgo.Interaction),
	}
	d.rememberInteraction("chan-1", &discordgo.Interaction{ID: "int-1"})

	if got := d.takeInteraction("chan-2"); got != nil {
		t.Fatalf("takeInteraction for unrelated channel = %v, want nil", got)
	}
	if !d.hasPendingInteraction("chan-1") {
		t.Fatal("pending interaction for chan-1 should survive")
	}
}
