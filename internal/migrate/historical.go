package migrate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"slack2chat/internal/chat"
	"slack2chat/internal/export"
	"slack2chat/internal/metrics"
	"slack2chat/internal/state"
	"slack2chat/internal/users"
)

const (
	// Offset before a member's first message when no join event exists.
	firstMessageJoinOffset = time.Minute
	// Offset before the channel's earliest message, the deeper fallback.
	earliestMessageJoinOffset = 2 * time.Minute
	// Historical delete times sit this far before the run time so they are
	// always strictly in the past.
	historicalDeleteOffset = 5 * time.Second
)

// fallbackJoinTime is the last-resort join time when a channel has no
// creation time and no messages at all.
var fallbackJoinTime = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// MemberRecord is the reconstructed membership interval for one identity.
type MemberRecord struct {
	JoinTime  time.Time
	LeaveTime time.Time
	Active    bool

	firstMessage time.Time
	hasJoinEvent bool
}

// HistoricalMembership replays a channel's membership history into a space
// still in import mode.
type HistoricalMembership struct {
	opts     Options
	client   chat.Client
	resolver users.Resolver
	ledger   *state.Ledger
	metrics  *metrics.Collector
	logger   *zap.Logger
	now      func() time.Time
}

// NewHistoricalMembership wires the reconstructor. metrics may be nil.
func NewHistoricalMembership(opts Options, client chat.Client, resolver users.Resolver,
	ledger *state.Ledger, collector *metrics.Collector, logger *zap.Logger) *HistoricalMembership {
	return &HistoricalMembership{
		opts:     opts,
		client:   client,
		resolver: resolver,
		ledger:   ledger,
		metrics:  collector,
		logger:   logger,
		now:      time.Now,
	}
}

// Reconstruct derives per-member join/leave intervals from the channel's
// message stream and metadata. The channel's current member list is
// authoritative for who is active at the end of history.
func (h *HistoricalMembership) Reconstruct(channel string, msgs []export.Message, meta export.Channel) map[string]*MemberRecord {
	members := h.collect(msgs)

	// Current members are active regardless of what the event stream says;
	// exports routinely miss join events for early members.
	for _, uid := range meta.Members {
		rec, ok := members[uid]
		if !ok {
			rec = &MemberRecord{}
			members[uid] = rec
		}
		rec.Active = true
		rec.LeaveTime = time.Time{}
	}

	h.fillJoinTimes(channel, meta, msgs, members)

	active := make(map[string]struct{}, len(members))
	for uid, rec := range members {
		if rec.Active {
			active[uid] = struct{}{}
		}
	}
	h.ledger.SetActiveUsers(channel, active)

	return members
}

// collect walks the message stream in order, tracking join/leave events and
// each author's first message time.
func (h *HistoricalMembership) collect(msgs []export.Message) map[string]*MemberRecord {
	members := make(map[string]*MemberRecord)
	get := func(uid string) *MemberRecord {
		rec, ok := members[uid]
		if !ok {
			rec = &MemberRecord{}
			members[uid] = rec
		}
		return rec
	}

	for i := range msgs {
		m := &msgs[i]
		if m.User == "" {
			continue
		}
		switch m.Subtype {
		case export.SubtypeChannelJoin, "group_join":
			rec := get(m.User)
			if !rec.hasJoinEvent {
				rec.JoinTime = export.TSTime(m.TS)
				rec.hasJoinEvent = true
			}
			rec.Active = true
			rec.LeaveTime = time.Time{}
		case export.SubtypeChannelLeave, "group_leave":
			rec := get(m.User)
			rec.Active = false
			rec.LeaveTime = export.TSTime(m.TS)
		default:
			rec := get(m.User)
			rec.Active = true
			if rec.firstMessage.IsZero() {
				rec.firstMessage = export.TSTime(m.TS)
			}
		}
	}
	return members
}

// fillJoinTimes applies the join-time fallback cascade to members with no
// explicit join event. The strategies run in order; the first that yields a
// time wins.
func (h *HistoricalMembership) fillJoinTimes(channel string, meta export.Channel, msgs []export.Message, members map[string]*MemberRecord) {
	var earliest time.Time
	for i := range msgs {
		if t := export.TSTime(msgs[i].TS); !t.IsZero() {
			earliest = t
			break
		}
	}
	var created time.Time
	if meta.Created > 0 {
		created = time.Unix(meta.Created, 0).UTC()
	}

	strategies := []func(rec *MemberRecord) (time.Time, bool){
		func(rec *MemberRecord) (time.Time, bool) {
			return rec.JoinTime, rec.hasJoinEvent
		},
		func(rec *MemberRecord) (time.Time, bool) {
			if rec.firstMessage.IsZero() {
				return time.Time{}, false
			}
			return rec.firstMessage.Add(-firstMessageJoinOffset), true
		},
		func(rec *MemberRecord) (time.Time, bool) {
			return created, !created.IsZero()
		},
		func(rec *MemberRecord) (time.Time, bool) {
			if earliest.IsZero() {
				return time.Time{}, false
			}
			return earliest.Add(-earliestMessageJoinOffset), true
		},
		func(rec *MemberRecord) (time.Time, bool) {
			return fallbackJoinTime, true
		},
	}

	for uid, rec := range members {
		for _, strategy := range strategies {
			if t, ok := strategy(rec); ok {
				rec.JoinTime = t
				break
			}
		}
		if rec.JoinTime.Equal(fallbackJoinTime) {
			h.logger.Debug("no join evidence, using fallback epoch",
				zap.String("channel", channel), zap.String("user", uid))
		}
	}
}

// Apply creates the historical memberships on the space. Conflicts (409) are
// duplicates from a prior run and count as success. Every membership carries
// a delete time strictly in the past, active members included; the regular
// reconciler re-adds active members as ongoing memberships afterwards.
// Members with an explicit leave event keep their own leave time, the rest
// get a uniform run time minus a small offset.
func (h *HistoricalMembership) Apply(ctx context.Context, space, channel string, members map[string]*MemberRecord) (added, failed int) {
	uniformDelete := h.now().Add(-historicalDeleteOffset).UTC()

	for uid, rec := range members {
		email, ok := h.resolver.InternalEmail(uid)
		if !ok {
			h.logger.Debug("historical member unmapped, skipped",
				zap.String("channel", channel), zap.String("user", uid))
			continue
		}
		if h.resolver.IsExternal(email) {
			h.ledger.AddExternalUser(email)
		}

		deleteTime := uniformDelete
		if !rec.Active && !rec.LeaveTime.IsZero() {
			deleteTime = rec.LeaveTime.UTC()
		}
		m := &chat.Membership{
			Member:     &chat.User{Name: "users/" + email, Type: "HUMAN"},
			CreateTime: rec.JoinTime.UTC().Format(time.RFC3339),
			DeleteTime: deleteTime.Format(time.RFC3339),
		}

		if h.opts.Validate {
			added++
			continue
		}

		_, err := h.client.CreateMembership(ctx, space, m)
		switch {
		case err == nil, chat.IsConflict(err):
			added++
			h.ledger.AddMembership(1)
			h.incMembership("historical", "ok")
		default:
			failed++
			h.incMembership("historical", "error")
			h.logger.Warn("historical membership failed",
				zap.String("channel", channel),
				zap.String("email", email),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return added, failed
		case <-time.After(h.opts.membershipDelay()):
		}
	}
	return added, failed
}

// AddHistoricalMembers reconstructs and applies a channel's membership
// history in one call.
func (h *HistoricalMembership) AddHistoricalMembers(ctx context.Context, space, channel string, msgs []export.Message, meta export.Channel) (added, failed int) {
	members := h.Reconstruct(channel, msgs, meta)
	return h.Apply(ctx, space, channel, members)
}

func (h *HistoricalMembership) incMembership(kind, status string) {
	if h.metrics != nil {
		h.metrics.IncMembership(kind, status)
	}
}
