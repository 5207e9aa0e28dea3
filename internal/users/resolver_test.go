package users

import (
	"errors"
	"strings"
	"testing"

	"slack2chat/internal/chat"
	"slack2chat/internal/export"
)

func newDirectory(t *testing.T, opts DirectoryOptions) *Directory {
	t.Helper()
	if opts.Admin == nil {
		opts.Admin = chat.NewDryRunClient()
	}
	return NewDirectory(opts)
}

func TestInternalEmailWithOverrides(t *testing.T) {
	d := newDirectory(t, DirectoryOptions{
		UserMap: map[string]string{
			"U1": "alice@corp.example",
			"U2": "bob.old@corp.example",
			"U3": "",
		},
		EmailOverrides: map[string]string{
			"bob.old@corp.example": "bob@corp.example",
		},
	})

	if email, ok := d.InternalEmail("U1"); !ok || email != "alice@corp.example" {
		t.Errorf("plain mapping wrong: %q %v", email, ok)
	}
	if email, ok := d.InternalEmail("U2"); !ok || email != "bob@corp.example" {
		t.Errorf("override not applied: %q %v", email, ok)
	}
	if _, ok := d.InternalEmail("U3"); ok {
		t.Error("empty email must count as unmapped")
	}
	if _, ok := d.InternalEmail("UX"); ok {
		t.Error("unknown user must be unmapped")
	}
}

func TestIsExternal(t *testing.T) {
	d := newDirectory(t, DirectoryOptions{WorkspaceDomain: "Corp.Example"})

	if d.IsExternal("alice@corp.example") {
		t.Error("same-domain email flagged external")
	}
	if d.IsExternal("alice@CORP.EXAMPLE") {
		t.Error("domain comparison must be case insensitive")
	}
	if !d.IsExternal("eve@partner.example") {
		t.Error("foreign domain not flagged")
	}
	if d.IsExternal("") || d.IsExternal("no-at-sign") {
		t.Error("degenerate inputs must not flag external")
	}
}

func TestDelegateFactoryAndCaching(t *testing.T) {
	admin := chat.NewDryRunClient()
	calls := 0
	d := newDirectory(t, DirectoryOptions{
		Admin:           admin,
		WorkspaceDomain: "corp.example",
		Delegates: func(email string) (chat.Client, error) {
			calls++
			if email == "broken@corp.example" {
				return nil, errors.New("no token")
			}
			return chat.NewDryRunClient(), nil
		},
	})

	first := d.Delegate("alice@corp.example")
	second := d.Delegate("alice@corp.example")
	if first != second {
		t.Error("delegate not cached")
	}
	if calls != 1 {
		t.Errorf("factory called %d times, want 1", calls)
	}
	if first == admin {
		t.Error("working factory must not fall back to admin")
	}

	// Factory failure falls back to the admin client, and the fallback is
	// cached too.
	if d.Delegate("broken@corp.example") != admin {
		t.Error("factory error must fall back to admin")
	}
	d.Delegate("broken@corp.example")
	if calls != 2 {
		t.Errorf("failed factory result not cached: %d calls", calls)
	}

	// Externals never get a delegate.
	if d.Delegate("eve@partner.example") != admin {
		t.Error("external identity must use the admin client")
	}
}

func TestDelegateWithoutFactory(t *testing.T) {
	admin := chat.NewDryRunClient()
	d := newDirectory(t, DirectoryOptions{Admin: admin})
	if d.Delegate("alice@corp.example") != admin {
		t.Error("no factory configured must mean admin client")
	}
}

func TestAttributeUnmappedPrefersRealName(t *testing.T) {
	d := newDirectory(t, DirectoryOptions{
		AdminEmail: "admin@corp.example",
		Users: map[string]export.User{
			"U1": {ID: "U1", Name: "alice", RealName: "Alice Liddell"},
			"U2": {ID: "U2", Name: "bob"},
		},
	})

	adminEmail, text := d.AttributeUnmapped("U1", "hello")
	if adminEmail != "admin@corp.example" {
		t.Errorf("wrong admin email %q", adminEmail)
	}
	if !strings.Contains(text, "Alice Liddell") || !strings.Contains(text, "hello") {
		t.Errorf("attribution text wrong: %q", text)
	}

	_, text = d.AttributeUnmapped("U2", "hi")
	if !strings.Contains(text, "bob") {
		t.Errorf("handle fallback missing: %q", text)
	}
	_, text = d.AttributeUnmapped("UX", "hi")
	if !strings.Contains(text, "UX") {
		t.Errorf("raw ID fallback missing: %q", text)
	}
}

type recordingReporter struct {
	records [][4]string
}

func (r *recordingReporter) RecordSkippedReaction(userID, emoji, messageTS, channel string) {
	r.records = append(r.records, [4]string{userID, emoji, messageTS, channel})
}

func TestReportUnmappedReaction(t *testing.T) {
	rec := &recordingReporter{}
	d := newDirectory(t, DirectoryOptions{Reporter: rec})

	d.ReportUnmappedReaction("UX", "fire", "1.0", "general")
	if len(rec.records) != 1 {
		t.Fatalf("got %d records, want 1", len(rec.records))
	}
	if rec.records[0] != [4]string{"UX", "fire", "1.0", "general"} {
		t.Errorf("record wrong: %v", rec.records[0])
	}
}
