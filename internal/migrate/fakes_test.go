package migrate

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"slack2chat/internal/chat"
	"slack2chat/internal/export"
)

// fakeClient implements chat.Client with per-method hooks and call recording.
type fakeClient struct {
	mu sync.Mutex

	spaces      []chat.Space
	listErr     error
	getErr      error
	createdMsgs []createdMessage
	createMsgFn func(parent string, msg *chat.Message, opts chat.CreateMessageOptions) (*chat.Message, error)

	memberships   []createdMembership
	membershipErr func(m *chat.Membership) error
	listedMembers map[string][]chat.Membership
	deletedNames  []string

	patched   []string
	completed []string
	deleted   []string
	reactions []string
	msgPages  map[string]*chat.MessagePage

	seq int
}

type createdMessage struct {
	parent string
	msg    *chat.Message
	opts   chat.CreateMessageOptions
}

type createdMembership struct {
	parent     string
	membership *chat.Membership
}

func (f *fakeClient) ListSpaces(ctx context.Context, pageSize int, pageToken string) (*chat.SpacePage, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &chat.SpacePage{Spaces: f.spaces}, nil
}

func (f *fakeClient) GetSpace(ctx context.Context, name string) (*chat.Space, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &chat.Space{Name: name}, nil
}

func (f *fakeClient) CreateSpace(ctx context.Context, space *chat.Space) (*chat.Space, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	out := *space
	out.Name = fmt.Sprintf("spaces/%d", f.seq)
	return &out, nil
}

func (f *fakeClient) PatchSpace(ctx context.Context, name, updateMask string, space *chat.Space) (*chat.Space, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patched = append(f.patched, name+":"+updateMask)
	return space, nil
}

func (f *fakeClient) DeleteSpace(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeClient) CompleteImport(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, name)
	return nil
}

func (f *fakeClient) CreateMessage(ctx context.Context, parent string, msg *chat.Message, opts chat.CreateMessageOptions) (*chat.Message, error) {
	f.mu.Lock()
	f.createdMsgs = append(f.createdMsgs, createdMessage{parent, msg, opts})
	f.mu.Unlock()
	if f.createMsgFn != nil {
		return f.createMsgFn(parent, msg, opts)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	out := *msg
	out.Name = fmt.Sprintf("%s/messages/%d", parent, f.seq)
	out.Thread = &chat.Thread{Name: fmt.Sprintf("%s/threads/%d", parent, f.seq)}
	return &out, nil
}

func (f *fakeClient) ListMessages(ctx context.Context, parent string, pageSize int, orderBy string) (*chat.MessagePage, error) {
	if page, ok := f.msgPages[parent]; ok {
		return page, nil
	}
	return &chat.MessagePage{}, nil
}

func (f *fakeClient) CreateReaction(ctx context.Context, parent string, reaction *chat.Reaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, parent+":"+reaction.Emoji.Unicode)
	return nil
}

func (f *fakeClient) NewReactionBatch(callback chat.BatchCallback) chat.ReactionBatch {
	return &fakeBatch{client: f, callback: callback}
}

type fakeBatch struct {
	client   *fakeClient
	callback chat.BatchCallback
	items    []string
}

func (b *fakeBatch) Add(parent string, reaction *chat.Reaction) {
	b.items = append(b.items, parent+":"+reaction.Emoji.Unicode)
}

func (b *fakeBatch) Len() int { return len(b.items) }

func (b *fakeBatch) Execute(ctx context.Context) error {
	b.client.mu.Lock()
	defer b.client.mu.Unlock()
	b.client.reactions = append(b.client.reactions, b.items...)
	return nil
}

func (f *fakeClient) CreateMembership(ctx context.Context, parent string, m *chat.Membership) (*chat.Membership, error) {
	if f.membershipErr != nil {
		if err := f.membershipErr(m); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memberships = append(f.memberships, createdMembership{parent, m})
	return m, nil
}

func (f *fakeClient) ListMemberships(ctx context.Context, parent string, pageSize int, pageToken string) (*chat.MembershipPage, error) {
	return &chat.MembershipPage{Memberships: f.listedMembers[parent]}, nil
}

func (f *fakeClient) DeleteMembership(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedNames = append(f.deletedNames, name)
	return nil
}

// fakeResolver implements users.Resolver over static maps.
type fakeResolver struct {
	emails    map[string]string // user ID -> email
	users     map[string]export.User
	domain    string
	admin     chat.Client
	delegates map[string]chat.Client // email -> delegate
	adminMail string

	mu       sync.Mutex
	unmapped []string
}

func (r *fakeResolver) InternalEmail(userID string) (string, bool) {
	email, ok := r.emails[userID]
	return email, ok
}

func (r *fakeResolver) IsExternal(email string) bool {
	if r.domain == "" {
		return false
	}
	return !strings.HasSuffix(email, "@"+r.domain)
}

func (r *fakeResolver) Delegate(email string) chat.Client {
	if c, ok := r.delegates[email]; ok {
		return c
	}
	return r.admin
}

func (r *fakeResolver) Admin() chat.Client { return r.admin }

func (r *fakeResolver) AdminEmail() string {
	if r.adminMail != "" {
		return r.adminMail
	}
	return "admin@corp.example"
}

func (r *fakeResolver) User(userID string) (export.User, bool) {
	u, ok := r.users[userID]
	return u, ok
}

func (r *fakeResolver) AttributeUnmapped(userID, text string) (string, string) {
	return r.AdminEmail(), fmt.Sprintf("*%s (external):*\n%s", userID, text)
}

func (r *fakeResolver) ReportUnmappedReaction(userID, emoji, messageTS, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unmapped = append(r.unmapped, userID+":"+emoji)
}
