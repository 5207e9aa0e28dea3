package state

import (
	"sort"
	"testing"
)

func TestResetForRunPreservesResumeState(t *testing.T) {
	l := NewLedger()
	l.SetSpace("general", "spaces/a")
	l.SetSpaceID("general", "spaces/a")
	l.MarkSent("general:1.0")
	l.SetThreadIfAbsent("1.0", "spaces/a/threads/t1")
	l.RecordFailure(FailedMessage{Channel: "general", TS: "2.0"})
	l.CountMessage("general")

	l.ResetForRun()

	// Resume-critical state survives.
	if space, ok := l.SpaceFor("general"); !ok || space != "spaces/a" {
		t.Errorf("space cache lost on reset: %q %v", space, ok)
	}
	if !l.WasSent("general:1.0") {
		t.Error("sent set lost on reset")
	}

	// Per-run state is cleared.
	if len(l.Failures()) != 0 {
		t.Error("failures survived reset")
	}
	if l.Stats("general").Messages != 0 {
		t.Error("channel stats survived reset")
	}
	if _, ok := l.Thread("1.0"); ok {
		t.Error("thread map survived reset")
	}
}

func TestSetThreadIfAbsentWriteOnce(t *testing.T) {
	l := NewLedger()

	existing, present := l.SetThreadIfAbsent("1.0", "threads/a")
	if present {
		t.Fatalf("first write reported existing mapping %q", existing)
	}

	existing, present = l.SetThreadIfAbsent("1.0", "threads/b")
	if !present || existing != "threads/a" {
		t.Fatalf("second write must report the first mapping: %q %v", existing, present)
	}
	if name, _ := l.Thread("1.0"); name != "threads/a" {
		t.Errorf("first mapping overwritten: %q", name)
	}
}

func TestConflictLifecycle(t *testing.T) {
	l := NewLedger()
	l.AddConflict("general")
	l.AddConflict("random")

	if !l.HasConflict("general") {
		t.Fatal("conflict not recorded")
	}
	l.ResolveConflict("general")
	if l.HasConflict("general") {
		t.Error("resolved conflict still present")
	}

	got := l.Conflicts()
	sort.Strings(got)
	if len(got) != 1 || got[0] != "random" {
		t.Errorf("conflicts = %v, want [random]", got)
	}
}

func TestSpaceIDFirstSeenWins(t *testing.T) {
	l := NewLedger()
	if !l.SetSpaceIDIfAbsent("general", "spaces/a") {
		t.Fatal("first mapping rejected")
	}
	if l.SetSpaceIDIfAbsent("general", "spaces/b") {
		t.Fatal("second mapping must be rejected")
	}
	if id, _ := l.SpaceIDFor("general"); id != "spaces/a" {
		t.Errorf("first-seen mapping lost: %q", id)
	}

	l.RemoveSpaceID("general")
	if _, ok := l.SpaceIDFor("general"); ok {
		t.Error("revoked mapping still present")
	}
}

func TestSeedSent(t *testing.T) {
	l := NewLedger()
	l.SeedSent([]string{"a:1.0", "a:2.0"})
	if !l.WasSent("a:1.0") || !l.WasSent("a:2.0") {
		t.Error("seeded keys not in sent set")
	}
	if l.WasSent("a:3.0") {
		t.Error("unexpected key in sent set")
	}
}

func TestActiveUsersCopySemantics(t *testing.T) {
	l := NewLedger()
	src := map[string]struct{}{"U1": {}}
	l.SetActiveUsers("general", src)
	src["U2"] = struct{}{}

	got, ok := l.ActiveUsers("general")
	if !ok {
		t.Fatal("active set missing")
	}
	if _, in := got["U2"]; in {
		t.Error("ledger aliases the caller's map")
	}
	got["U3"] = struct{}{}
	again, _ := l.ActiveUsers("general")
	if _, in := again["U3"]; in {
		t.Error("returned map aliases the ledger's copy")
	}
}

func TestSkippedReactionRecords(t *testing.T) {
	l := NewLedger()
	l.RecordSkippedReaction("UX", "fire", "1.0", "general")

	got := l.SkippedReactions()
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	r := got[0]
	if r.UserID != "UX" || r.Emoji != "fire" || r.MessageTS != "1.0" || r.Channel != "general" {
		t.Errorf("record fields wrong: %+v", r)
	}
}

func TestExternalUsersDedupedAndSorted(t *testing.T) {
	l := NewLedger()
	l.AddExternalUser("zed@partner.example")
	l.AddExternalUser("ana@partner.example")
	l.AddExternalUser("zed@partner.example")

	got := l.ExternalUsers()
	if len(got) != 2 {
		t.Fatalf("got %d external users, want 2", len(got))
	}
	if got[0] != "ana@partner.example" || got[1] != "zed@partner.example" {
		t.Errorf("external users not sorted: %v", got)
	}
}

func TestSummaryAccumulates(t *testing.T) {
	l := NewLedger()
	l.AddProcessedChannel("general")
	l.IncSpacesCreated()
	l.IncMessagesCreated()
	l.IncMessagesCreated()
	l.AddReactionsCreated(3)
	l.AddFilesCreated(1)
	l.AddMembership(2)

	s := l.Summary()
	if len(s.ChannelsProcessed) != 1 || s.SpacesCreated != 1 || s.MessagesCreated != 2 ||
		s.ReactionsCreated != 3 || s.FilesCreated != 1 || s.MembershipsAdded != 2 {
		t.Errorf("summary wrong: %+v", s)
	}
}
