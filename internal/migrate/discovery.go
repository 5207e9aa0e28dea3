package migrate

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"slack2chat/internal/chat"
	"slack2chat/internal/state"
)

// SpaceCandidate is one destination space that matched a channel name during
// discovery.
type SpaceCandidate struct {
	SpaceName   string
	DisplayName string
	CreateTime  string
	// MemberCount is filled for duplicates only, to help the operator pick;
	// -1 means the count could not be fetched.
	MemberCount int
}

// Discovery finds previously imported spaces by display-name convention and
// maps them back to channels, flagging ambiguous matches as conflicts.
type Discovery struct {
	opts   Options
	client chat.Client
	ledger *state.Ledger
	logger *zap.Logger
}

// NewDiscovery wires a discovery pass.
func NewDiscovery(opts Options, client chat.Client, ledger *state.Ledger, logger *zap.Logger) *Discovery {
	return &Discovery{opts: opts, client: client, ledger: ledger, logger: logger}
}

// Discover lists all visible spaces and groups the prefix matches by channel
// name. First match wins in the ledger; later matches for the same channel
// revoke the mapping and mark the channel conflicted.
func (d *Discovery) Discover(ctx context.Context) (map[string][]SpaceCandidate, error) {
	prefix := d.opts.prefix()
	candidates := make(map[string][]SpaceCandidate)

	pageToken := ""
	for {
		page, err := d.client.ListSpaces(ctx, d.opts.pageSize(), pageToken)
		if err != nil {
			return nil, err
		}
		for _, sp := range page.Spaces {
			if !strings.HasPrefix(sp.DisplayName, prefix) {
				continue
			}
			channel := strings.TrimSpace(strings.TrimPrefix(sp.DisplayName, prefix))
			if channel == "" {
				continue
			}
			candidates[channel] = append(candidates[channel], SpaceCandidate{
				SpaceName:   sp.Name,
				DisplayName: sp.DisplayName,
				CreateTime:  sp.CreateTime,
			})
		}
		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}

	for channel, list := range candidates {
		if len(list) == 1 {
			if d.ledger.SetSpaceIDIfAbsent(channel, list[0].SpaceName) {
				d.ledger.SetSpace(channel, list[0].SpaceName)
			}
			continue
		}
		d.handleDuplicates(ctx, channel, list)
		candidates[channel] = list
	}

	return candidates, nil
}

// handleDuplicates enriches each candidate with its member count, revokes
// any mapping already recorded for the channel, and marks the conflict.
func (d *Discovery) handleDuplicates(ctx context.Context, channel string, list []SpaceCandidate) {
	for i := range list {
		list[i].MemberCount = d.memberCount(ctx, list[i].SpaceName)
	}
	d.ledger.RemoveSpaceID(channel)
	d.ledger.AddConflict(channel)

	fields := []zap.Field{zap.String("channel", channel), zap.Int("candidates", len(list))}
	for _, c := range list {
		fields = append(fields, zap.String(c.SpaceName, c.CreateTime))
	}
	d.logger.Warn("multiple spaces match channel, operator resolution needed", fields...)
}

func hasCandidate(list []SpaceCandidate, space string) bool {
	for _, c := range list {
		if c.SpaceName == space {
			return true
		}
	}
	return false
}

func (d *Discovery) memberCount(ctx context.Context, space string) int {
	count := 0
	pageToken := ""
	for {
		page, err := d.client.ListMemberships(ctx, space, d.opts.pageSize(), pageToken)
		if err != nil {
			// Enrichment only; the conflict still stands without the count.
			d.logger.Debug("member count unavailable", zap.String("space", space), zap.Error(err))
			return -1
		}
		count += len(page.Memberships)
		pageToken = page.NextPageToken
		if pageToken == "" {
			return count
		}
	}
}

// LoadExistingMappings runs discovery plus operator overrides and seeds the
// ledger for a resumed run. A listing failure is fatal when resuming for
// real; in validation mode it degrades to an empty mapping.
func (d *Discovery) LoadExistingMappings(ctx context.Context) error {
	candidates, err := d.Discover(ctx)
	if err != nil {
		if d.opts.Resume && !d.opts.Validate {
			return err
		}
		d.logger.Warn("space discovery failed, continuing without existing mappings", zap.Error(err))
		candidates = nil
	}

	for channel, space := range d.opts.SpaceMapping {
		// For a conflicted channel the override has to pick one of the
		// discovered duplicates; an arbitrary space does not resolve it.
		if list := candidates[channel]; len(list) > 1 && !hasCandidate(list, space) {
			d.logger.Warn("space mapping override matches none of the duplicate candidates, conflict stands",
				zap.String("channel", channel),
				zap.String("space", space))
			continue
		}
		if _, err := d.client.GetSpace(ctx, space); err != nil {
			d.logger.Warn("space mapping override points at unreadable space",
				zap.String("channel", channel),
				zap.String("space", space),
				zap.Error(err))
			continue
		}
		d.ledger.SetSpace(channel, space)
		d.ledger.SetSpaceID(channel, space)
		d.ledger.ResolveConflict(channel)
		d.logger.Info("space conflict resolved by override",
			zap.String("channel", channel), zap.String("space", space))
	}

	mapped := 0
	for channel := range candidates {
		if _, ok := d.ledger.SpaceFor(channel); ok {
			mapped++
		}
	}
	d.logger.Info("existing space mappings loaded",
		zap.Int("mapped", mapped),
		zap.Int("conflicts", len(d.ledger.Conflicts())))
	return nil
}

// LastMessageTimestamp returns the source timestamp of the newest message in
// the space, for the resume watermark. Zero means unknown or empty space.
func (d *Discovery) LastMessageTimestamp(ctx context.Context, space string) float64 {
	page, err := d.client.ListMessages(ctx, space, 1, "createTime desc")
	if err != nil || len(page.Messages) == 0 {
		if err != nil {
			d.logger.Debug("last message lookup failed", zap.String("space", space), zap.Error(err))
		}
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, page.Messages[0].CreateTime)
	if err != nil {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}
