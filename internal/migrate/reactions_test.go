package migrate

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"slack2chat/internal/chat"
	"slack2chat/internal/export"
	"slack2chat/internal/state"
)

func TestReactionsGroupedPerIdentity(t *testing.T) {
	admin := &fakeClient{}
	delegate := &fakeClient{}
	resolver := testResolver()
	resolver.admin = admin
	resolver.delegates = map[string]chat.Client{"alice@corp.example": delegate}

	ledger := state.NewLedger()
	p := NewReactionProcessor(Options{}, ledger, resolver, nil, zap.NewNop())

	p.Process(context.Background(), "general", "spaces/s1/messages/m1", "1.0", []export.Reaction{
		{Name: "thumbsup", Users: []string{"U1", "U2"}},
		{Name: "tada", Users: []string{"U1"}},
	})

	// U1 has a delegate: both emojis go through it in one batch.
	if len(delegate.reactions) != 2 {
		t.Errorf("delegate dispatched %d reactions, want 2", len(delegate.reactions))
	}
	// U2 falls back to synchronous creates through the admin.
	if len(admin.reactions) != 1 {
		t.Errorf("admin dispatched %d reactions, want 1", len(admin.reactions))
	}
	if ledger.Summary().ReactionsCreated != 3 {
		t.Errorf("reaction count %d, want 3", ledger.Summary().ReactionsCreated)
	}
}

func TestReactionsUnmappedGoToSideChannel(t *testing.T) {
	admin := &fakeClient{}
	resolver := testResolver()
	resolver.admin = admin

	ledger := state.NewLedger()
	p := NewReactionProcessor(Options{}, ledger, resolver, nil, zap.NewNop())

	p.Process(context.Background(), "general", "spaces/s1/messages/m1", "1.0", []export.Reaction{
		{Name: "fire", Users: []string{"UX"}},
	})

	if len(admin.reactions) != 0 {
		t.Error("unmapped reaction must never reach the API")
	}
	if len(resolver.unmapped) != 1 {
		t.Fatalf("unmapped reaction not reported, got %d", len(resolver.unmapped))
	}
	if resolver.unmapped[0] != "UX:fire" {
		t.Errorf("wrong report %q", resolver.unmapped[0])
	}
}

func TestReactionsExternalExcludedButCounted(t *testing.T) {
	admin := &fakeClient{}
	resolver := testResolver()
	resolver.admin = admin

	ledger := state.NewLedger()
	p := NewReactionProcessor(Options{}, ledger, resolver, nil, zap.NewNop())

	// U3 resolves to a partner-domain email.
	p.Process(context.Background(), "general", "spaces/s1/messages/m1", "1.0", []export.Reaction{
		{Name: "heart", Users: []string{"U3"}},
	})

	if len(admin.reactions) != 0 {
		t.Error("external reaction must not be dispatched")
	}
	if ledger.Summary().ReactionsCreated != 1 {
		t.Errorf("external reaction still counts, got %d", ledger.Summary().ReactionsCreated)
	}
}

func TestReactionsBotFiltered(t *testing.T) {
	admin := &fakeClient{}
	resolver := testResolver()
	resolver.admin = admin
	resolver.emails["UB"] = "bot@corp.example"
	resolver.users["UB"] = export.User{ID: "UB", IsBot: true}

	ledger := state.NewLedger()
	p := NewReactionProcessor(Options{IgnoreBots: true}, ledger, resolver, nil, zap.NewNop())

	p.Process(context.Background(), "general", "spaces/s1/messages/m1", "1.0", []export.Reaction{
		{Name: "eyes", Users: []string{"UB", "U1"}},
	})

	if ledger.Summary().ReactionsCreated != 1 {
		t.Errorf("bot reaction counted, got %d", ledger.Summary().ReactionsCreated)
	}
}

func TestReactionsValidateModeCountsOnly(t *testing.T) {
	admin := &fakeClient{}
	resolver := testResolver()
	resolver.admin = admin

	ledger := state.NewLedger()
	p := NewReactionProcessor(Options{Validate: true}, ledger, resolver, nil, zap.NewNop())

	p.Process(context.Background(), "general", "spaces/s1/messages/m1", "1.0", []export.Reaction{
		{Name: "thumbsup", Users: []string{"U1", "U2"}},
	})

	if len(admin.reactions) != 0 {
		t.Error("validation mode dispatched reactions")
	}
	if ledger.Summary().ReactionsCreated != 2 {
		t.Errorf("validation count %d, want 2", ledger.Summary().ReactionsCreated)
	}
}

func TestEmojiUnicodePassthrough(t *testing.T) {
	if got := emojiUnicode("thumbsup"); got != "\U0001F44D" {
		t.Errorf("known alias wrong: %q", got)
	}
	got := emojiUnicode("some_custom_emoji")
	if !strings.HasPrefix(got, ":") || !strings.HasSuffix(got, ":") {
		t.Errorf("unknown alias must pass through as shortcode, got %q", got)
	}
}
