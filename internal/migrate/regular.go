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

// RegularMembership reconciles a space's ongoing memberships after the
// import completes: active channel members get regular memberships, external
// access is enabled when needed, and the admin is removed from spaces they
// were never part of.
type RegularMembership struct {
	opts     Options
	client   chat.Client
	resolver users.Resolver
	ledger   *state.Ledger
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewRegularMembership wires the reconciler. metrics may be nil.
func NewRegularMembership(opts Options, client chat.Client, resolver users.Resolver,
	ledger *state.Ledger, collector *metrics.Collector, logger *zap.Logger) *RegularMembership {
	return &RegularMembership{
		opts:     opts,
		client:   client,
		resolver: resolver,
		ledger:   ledger,
		metrics:  collector,
		logger:   logger,
	}
}

// Reconcile adds the channel's active members to the space as ongoing
// memberships. Returns the counts of added and failed memberships.
func (r *RegularMembership) Reconcile(ctx context.Context, space, channel string, meta export.Channel) (added, failed int) {
	active, ok := r.ledger.ActiveUsers(channel)
	if !ok {
		// No reconstruction ran for this channel (resumed space); fall back
		// to the export's member list.
		active = make(map[string]struct{}, len(meta.Members))
		for _, uid := range meta.Members {
			active[uid] = struct{}{}
		}
	}

	emails := make([]string, 0, len(active))
	adminIsMember := false
	hasExternal := false
	for uid := range active {
		email, mapped := r.resolver.InternalEmail(uid)
		if !mapped {
			r.logger.Debug("active member unmapped, skipped",
				zap.String("channel", channel), zap.String("user", uid))
			continue
		}
		if email == r.resolver.AdminEmail() {
			adminIsMember = true
		}
		if r.resolver.IsExternal(email) {
			hasExternal = true
			r.ledger.AddExternalUser(email)
		}
		emails = append(emails, email)
	}

	if r.opts.Validate {
		return len(emails), 0
	}

	if hasExternal {
		r.ensureExternalAccess(ctx, space, channel)
	}

	for _, email := range emails {
		m := &chat.Membership{
			Member: &chat.User{Name: "users/" + email, Type: "HUMAN"},
		}
		_, err := r.client.CreateMembership(ctx, space, m)
		switch {
		case err == nil, chat.IsConflict(err):
			added++
			r.ledger.AddMembership(1)
			r.incMembership("regular", "ok")
		default:
			failed++
			r.incMembership("regular", "error")
			r.logger.Warn("regular membership failed",
				zap.String("channel", channel),
				zap.String("email", email),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return added, failed
		case <-time.After(r.opts.membershipDelay()):
		}
	}

	if !adminIsMember {
		r.removeAdmin(ctx, space, channel)
	}
	return added, failed
}

// ensureExternalAccess flips the space's external-user flag when the channel
// has members outside the workspace domain.
func (r *RegularMembership) ensureExternalAccess(ctx context.Context, space, channel string) {
	sp, err := r.client.GetSpace(ctx, space)
	if err != nil {
		r.logger.Warn("space read failed before external access update",
			zap.String("space", space), zap.Error(err))
		return
	}
	if sp.ExternalUserAllowed {
		return
	}
	_, err = r.client.PatchSpace(ctx, space, "externalUserAllowed", &chat.Space{
		ExternalUserAllowed: true,
	})
	if err != nil {
		r.logger.Warn("external access update failed",
			zap.String("space", space), zap.Error(err))
		return
	}
	r.logger.Info("external access enabled",
		zap.String("channel", channel), zap.String("space", space))
}

// removeAdmin deletes the admin's own membership from a space whose channel
// never included the admin. Import-mode creation adds the admin implicitly;
// leaving the membership in place would leak the admin into every space.
func (r *RegularMembership) removeAdmin(ctx context.Context, space, channel string) {
	adminMember := "users/" + r.resolver.AdminEmail()
	pageToken := ""
	for {
		page, err := r.client.ListMemberships(ctx, space, r.opts.pageSize(), pageToken)
		if err != nil {
			r.logger.Warn("membership listing failed during admin cleanup",
				zap.String("space", space), zap.Error(err))
			return
		}
		for _, m := range page.Memberships {
			if m.Member != nil && m.Member.Name == adminMember {
				if err := r.client.DeleteMembership(ctx, m.Name); err != nil && !chat.IsNotFound(err) {
					r.logger.Warn("admin membership removal failed",
						zap.String("space", space), zap.Error(err))
				} else {
					r.logger.Info("admin removed from space",
						zap.String("channel", channel), zap.String("space", space))
				}
				return
			}
		}
		pageToken = page.NextPageToken
		if pageToken == "" {
			return
		}
	}
}

func (r *RegularMembership) incMembership(kind, status string) {
	if r.metrics != nil {
		r.metrics.IncMembership(kind, status)
	}
}
