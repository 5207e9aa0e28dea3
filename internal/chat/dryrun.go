package chat

import (
	"context"
	"fmt"
	"sync/atomic"
)

// DryRunClient satisfies Client without touching the network. Create calls
// return synthetic resources with stable names so downstream bookkeeping
// (thread maps, membership counts) still exercises its normal paths.
type DryRunClient struct {
	spaceSeq   atomic.Int64
	messageSeq atomic.Int64
}

// NewDryRunClient creates a no-op Client for validation runs.
func NewDryRunClient() *DryRunClient { return &DryRunClient{} }

func (c *DryRunClient) ListSpaces(ctx context.Context, pageSize int, pageToken string) (*SpacePage, error) {
	return &SpacePage{}, nil
}

func (c *DryRunClient) GetSpace(ctx context.Context, name string) (*Space, error) {
	return &Space{Name: name}, nil
}

func (c *DryRunClient) CreateSpace(ctx context.Context, space *Space) (*Space, error) {
	created := *space
	created.Name = fmt.Sprintf("spaces/dryrun-%d", c.spaceSeq.Add(1))
	return &created, nil
}

func (c *DryRunClient) PatchSpace(ctx context.Context, name, updateMask string, space *Space) (*Space, error) {
	updated := *space
	updated.Name = name
	return &updated, nil
}

func (c *DryRunClient) DeleteSpace(ctx context.Context, name string) error { return nil }

func (c *DryRunClient) CompleteImport(ctx context.Context, name string) error { return nil }

func (c *DryRunClient) CreateMessage(ctx context.Context, parent string, msg *Message, opts CreateMessageOptions) (*Message, error) {
	created := *msg
	created.Name = fmt.Sprintf("%s/messages/dryrun-%d", parent, c.messageSeq.Add(1))
	threadName := created.Name + "/thread"
	if msg.Thread != nil && msg.Thread.Name != "" {
		threadName = msg.Thread.Name
	}
	created.Thread = &Thread{Name: threadName}
	return &created, nil
}

func (c *DryRunClient) ListMessages(ctx context.Context, parent string, pageSize int, orderBy string) (*MessagePage, error) {
	return &MessagePage{}, nil
}

func (c *DryRunClient) CreateReaction(ctx context.Context, parent string, reaction *Reaction) error {
	return nil
}

func (c *DryRunClient) NewReactionBatch(callback BatchCallback) ReactionBatch {
	return &dryRunBatch{callback: callback}
}

type dryRunBatch struct {
	callback BatchCallback
	count    int
}

func (b *dryRunBatch) Add(parent string, reaction *Reaction) { b.count++ }
func (b *dryRunBatch) Len() int                              { return b.count }
func (b *dryRunBatch) Execute(ctx context.Context) error     { return nil }

func (c *DryRunClient) CreateMembership(ctx context.Context, parent string, m *Membership) (*Membership, error) {
	created := *m
	created.Name = parent + "/members/dryrun"
	return &created, nil
}

func (c *DryRunClient) ListMemberships(ctx context.Context, parent string, pageSize int, pageToken string) (*MembershipPage, error) {
	return &MembershipPage{}, nil
}

func (c *DryRunClient) DeleteMembership(ctx context.Context, name string) error { return nil }
