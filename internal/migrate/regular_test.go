package migrate

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"slack2chat/internal/chat"
	"slack2chat/internal/export"
	"slack2chat/internal/state"
)

func newRegular(client *fakeClient, resolver *fakeResolver, ledger *state.Ledger) *RegularMembership {
	return NewRegularMembership(Options{MembershipDelay: time.Nanosecond}, client, resolver, ledger, nil, zap.NewNop())
}

func TestReconcileAddsActiveMembers(t *testing.T) {
	client := &fakeClient{}
	ledger := state.NewLedger()
	ledger.SetActiveUsers("general", map[string]struct{}{"U1": {}, "U2": {}})
	r := newRegular(client, testResolver(), ledger)

	added, failed := r.Reconcile(context.Background(), "spaces/s1", "general", export.Channel{Name: "general"})
	if added != 2 || failed != 0 {
		t.Fatalf("added=%d failed=%d", added, failed)
	}
	for _, cm := range client.memberships {
		if cm.membership.CreateTime != "" || cm.membership.DeleteTime != "" {
			t.Errorf("ongoing membership must carry no historical times: %+v", cm.membership)
		}
	}
}

func TestReconcileFallsBackToExportMembers(t *testing.T) {
	client := &fakeClient{}
	r := newRegular(client, testResolver(), state.NewLedger())

	meta := export.Channel{Name: "general", Members: []string{"U1"}}
	added, _ := r.Reconcile(context.Background(), "spaces/s1", "general", meta)
	if added != 1 {
		t.Fatalf("export member list fallback missing, added=%d", added)
	}
}

func TestReconcileConflictIsSuccess(t *testing.T) {
	client := &fakeClient{
		membershipErr: func(m *chat.Membership) error {
			return &chat.StatusError{Code: 409}
		},
	}
	ledger := state.NewLedger()
	ledger.SetActiveUsers("general", map[string]struct{}{"U1": {}})
	r := newRegular(client, testResolver(), ledger)

	added, failed := r.Reconcile(context.Background(), "spaces/s1", "general", export.Channel{Name: "general"})
	if added != 1 || failed != 0 {
		t.Errorf("409 must count as success: added=%d failed=%d", added, failed)
	}
}

func TestReconcileEnablesExternalAccess(t *testing.T) {
	client := &fakeClient{}
	ledger := state.NewLedger()
	ledger.SetActiveUsers("general", map[string]struct{}{"U3": {}})
	r := newRegular(client, testResolver(), ledger)

	r.Reconcile(context.Background(), "spaces/s1", "general", export.Channel{Name: "general"})

	if len(client.patched) != 1 || client.patched[0] != "spaces/s1:externalUserAllowed" {
		t.Errorf("external access patch missing: %v", client.patched)
	}
}

func TestReconcileRemovesAdminWhenNotMember(t *testing.T) {
	client := &fakeClient{
		listedMembers: map[string][]chat.Membership{
			"spaces/s1": {
				{Name: "spaces/s1/members/u1", Member: &chat.User{Name: "users/alice@corp.example"}},
				{Name: "spaces/s1/members/admin", Member: &chat.User{Name: "users/admin@corp.example"}},
			},
		},
	}
	resolver := testResolver()
	resolver.adminMail = "admin@corp.example"
	ledger := state.NewLedger()
	ledger.SetActiveUsers("general", map[string]struct{}{"U1": {}})
	r := newRegular(client, resolver, ledger)

	r.Reconcile(context.Background(), "spaces/s1", "general", export.Channel{Name: "general"})

	if len(client.deletedNames) != 1 || client.deletedNames[0] != "spaces/s1/members/admin" {
		t.Errorf("admin membership not removed: %v", client.deletedNames)
	}
}

func TestReconcileKeepsAdminWhenMember(t *testing.T) {
	client := &fakeClient{}
	resolver := testResolver()
	resolver.adminMail = "alice@corp.example"
	ledger := state.NewLedger()
	ledger.SetActiveUsers("general", map[string]struct{}{"U1": {}})
	r := newRegular(client, resolver, ledger)

	r.Reconcile(context.Background(), "spaces/s1", "general", export.Channel{Name: "general"})

	if len(client.deletedNames) != 0 {
		t.Errorf("admin removed from a channel they belong to: %v", client.deletedNames)
	}
}

func TestReconcileValidateCountsOnly(t *testing.T) {
	client := &fakeClient{}
	ledger := state.NewLedger()
	ledger.SetActiveUsers("general", map[string]struct{}{"U1": {}, "U2": {}})
	r := NewRegularMembership(Options{Validate: true}, client, testResolver(), ledger, nil, zap.NewNop())

	added, failed := r.Reconcile(context.Background(), "spaces/s1", "general", export.Channel{Name: "general"})
	if added != 2 || failed != 0 {
		t.Errorf("validation count wrong: added=%d failed=%d", added, failed)
	}
	if len(client.memberships) != 0 {
		t.Error("validation mode reached the API")
	}
}
