package migrate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"slack2chat/internal/chat"
	"slack2chat/internal/checkpoint"
	"slack2chat/internal/export"
	"slack2chat/internal/files"
	"slack2chat/internal/metrics"
	"slack2chat/internal/state"
	"slack2chat/internal/users"
)

// minMessagesForFailureGate is how many messages must be processed before
// the failure-rate gate can trip; small channels would otherwise abort on a
// single failure.
const minMessagesForFailureGate = 10

// ChannelProcessor migrates one channel end to end: space creation or reuse,
// historical members, the message stream, import completion, and regular
// members.
type ChannelProcessor struct {
	opts       Options
	ledger     *state.Ledger
	resolver   users.Resolver
	loader     *export.Loader
	client     chat.Client
	sender     *Sender
	historical *HistoricalMembership
	regular    *RegularMembership
	discovery  *Discovery
	store      checkpoint.Store
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// ChannelProcessorDeps bundles the collaborators of a ChannelProcessor.
type ChannelProcessorDeps struct {
	Ledger     *state.Ledger
	Resolver   users.Resolver
	Loader     *export.Loader
	Client     chat.Client
	Sender     *Sender
	Historical *HistoricalMembership
	Regular    *RegularMembership
	Discovery  *Discovery
	Store      checkpoint.Store
	Metrics    *metrics.Collector
	Logger     *zap.Logger
}

// NewChannelProcessor wires a channel processor. Store and Metrics may be nil.
func NewChannelProcessor(opts Options, deps ChannelProcessorDeps) *ChannelProcessor {
	return &ChannelProcessor{
		opts:       opts,
		ledger:     deps.Ledger,
		resolver:   deps.Resolver,
		loader:     deps.Loader,
		client:     deps.Client,
		sender:     deps.Sender,
		historical: deps.Historical,
		regular:    deps.Regular,
		discovery:  deps.Discovery,
		store:      deps.Store,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}
}

// Process migrates a single channel. An unresolved space conflict blocks the
// channel; everything else degrades per message and the channel keeps going.
func (p *ChannelProcessor) Process(ctx context.Context, ch export.Channel) error {
	log := p.logger.With(zap.String("channel", ch.Name))

	if p.ledger.HasConflict(ch.Name) {
		log.Warn("channel blocked by unresolved space conflict, skipped")
		return nil
	}

	msgs, err := p.loader.Messages(ch.Name)
	if err != nil {
		return fmt.Errorf("load messages for %s: %w", ch.Name, err)
	}
	p.ledger.AddProcessedChannel(ch.Name)
	log.Info("processing channel", zap.Int("messages", len(msgs)))

	space, isNew, err := p.ensureSpace(ctx, ch, log)
	if err != nil {
		return fmt.Errorf("space for %s: %w", ch.Name, err)
	}

	if isNew {
		added, failed := p.historical.AddHistoricalMembers(ctx, space, ch.Name, msgs, ch)
		log.Info("historical members applied", zap.Int("added", added), zap.Int("failed", failed))
	} else {
		// Reused space: membership history is already there, but the active
		// set is still needed for the regular-membership pass.
		p.historical.Reconstruct(ch.Name, msgs, ch)
	}

	maxSentTS := p.sendMessages(ctx, space, ch, msgs, log)

	if !p.opts.Validate {
		if isNew && !p.completeImport(ctx, space, ch, log) {
			return nil
		}
		added, failed := p.regular.Reconcile(ctx, space, ch.Name, ch)
		log.Info("regular members reconciled", zap.Int("added", added), zap.Int("failed", failed))
	}

	if p.store != nil && maxSentTS > 0 {
		if err := p.store.SaveProgress(ch.Name, maxSentTS); err != nil {
			log.Warn("progress checkpoint failed", zap.Error(err))
		}
	}
	if p.metrics != nil {
		p.metrics.ChannelDone()
	}

	stats := p.ledger.Stats(ch.Name)
	log.Info("channel done",
		zap.Int("messages", stats.Messages),
		zap.Int("reactions", stats.Reactions),
		zap.Int("files", stats.Files),
		zap.Int("failures", len(p.ledger.FailedTS(ch.Name))))
	return nil
}

// ensureSpace returns the channel's space, creating an import-mode space when
// no prior mapping exists. In validation mode no space is touched.
func (p *ChannelProcessor) ensureSpace(ctx context.Context, ch export.Channel, log *zap.Logger) (space string, isNew bool, err error) {
	if existing, ok := p.ledger.SpaceFor(ch.Name); ok {
		if p.opts.Resume && !p.opts.Validate {
			if ts := p.discovery.LastMessageTimestamp(ctx, existing); ts > 0 {
				p.ledger.SetLastProcessed(ch.Name, ts)
				log.Info("resume watermark set", zap.Float64("last_ts", ts))
			}
		}
		return existing, false, nil
	}

	if p.opts.Validate {
		return "validate/" + ch.Name, true, nil
	}

	created, err := p.client.CreateSpace(ctx, &chat.Space{
		DisplayName: p.opts.prefix() + ch.Name,
		SpaceType:   "SPACE",
		ImportMode:  true,
	})
	if err != nil {
		return "", false, err
	}
	p.ledger.SetSpace(ch.Name, created.Name)
	p.ledger.SetSpaceID(ch.Name, created.Name)
	p.ledger.IncSpacesCreated()
	if p.metrics != nil {
		p.metrics.IncSpaceCreated()
	}
	log.Info("space created", zap.String("space", created.Name))
	return created.Name, true, nil
}

// sendMessages walks the ordered stream and returns the newest source
// timestamp actually sent, for the progress watermark.
func (p *ChannelProcessor) sendMessages(ctx context.Context, space string, ch export.Channel, msgs []export.Message, log *zap.Logger) float64 {
	var maxSentTS float64
	processed, failures := 0, 0

	for i := range msgs {
		if ctx.Err() != nil {
			log.Warn("channel interrupted", zap.Int("at", i), zap.Int("of", len(msgs)))
			break
		}
		m := &msgs[i]
		p.trackStats(ch.Name, m)

		outcome := p.sender.Send(ctx, space, ch.Name, m)
		processed++
		switch {
		case outcome.Sent():
			if ts := export.TSFloat(m.TS); ts > maxSentTS {
				maxSentTS = ts
			}
		case outcome.Failed():
			failures++
		}

		if p.failureGate(processed, failures) {
			pct := float64(failures) / float64(processed) * 100
			p.ledger.RecordHighFailureRate(ch.Name, pct)
			log.Error("failure rate exceeded threshold, aborting channel",
				zap.Float64("percent", pct),
				zap.Float64("threshold", p.opts.MaxFailurePercent))
			break
		}

		if outcome.Sent() && p.opts.SendThrottle > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(p.opts.SendThrottle):
			}
		}
	}
	return maxSentTS
}

func (p *ChannelProcessor) failureGate(processed, failures int) bool {
	if p.opts.MaxFailurePercent <= 0 || processed < minMessagesForFailureGate {
		return false
	}
	return float64(failures)/float64(processed)*100 > p.opts.MaxFailurePercent
}

// trackStats records the channel's per-message counters. It mirrors the skip
// rules the sender applies, resume dedup included, so validation and resumed
// runs report only the work this run would actually do.
func (p *ChannelProcessor) trackStats(channel string, m *export.Message) {
	if p.opts.IgnoreBots && p.sender.isBotMessage(m) {
		return
	}
	if p.sender.alreadySent(channel, MessageKey(channel, m), m) {
		return
	}
	if export.IsSystemSubtype(m.Subtype) {
		return
	}
	p.ledger.CountMessage(channel)

	reactions, mapped := 0, 0
	for _, r := range m.Reactions {
		for _, uid := range r.Users {
			if p.opts.IgnoreBots {
				if u, ok := p.resolver.User(uid); ok && u.IsBot {
					continue
				}
			}
			reactions++
			if _, ok := p.resolver.InternalEmail(uid); ok {
				mapped++
			}
		}
	}
	if reactions > 0 {
		p.ledger.CountReactions(channel, reactions)
	}
	// In validation mode the sender returns before the reaction processor
	// runs, so the run summary is fed here instead.
	if p.opts.Validate && mapped > 0 {
		p.ledger.AddReactionsCreated(mapped)
	}
	if n := files.CountFiles(m); n > 0 {
		p.ledger.CountFiles(channel, n)
	}
}

// completeImport finishes the import-mode phase. Returns false when the space
// must stay in import mode (completion failed, or the channel's failures call
// for deleting the space) so regular membership must not run.
func (p *ChannelProcessor) completeImport(ctx context.Context, space string, ch export.Channel, log *zap.Logger) bool {
	failed := p.ledger.FailedTS(ch.Name)
	if len(failed) > 0 && p.opts.DeleteSpacesOnErrors {
		log.Warn("deleting space after failures so the next run starts clean",
			zap.String("space", space), zap.Int("failures", len(failed)))
		if err := p.client.DeleteSpace(ctx, space); err != nil {
			log.Error("space deletion failed", zap.String("space", space), zap.Error(err))
		} else {
			p.ledger.RemoveSpace(ch.Name)
			p.ledger.RemoveSpaceID(ch.Name)
		}
		return false
	}

	if err := p.client.CompleteImport(ctx, space); err != nil {
		p.ledger.RecordIncompleteImport(space, ch.Name)
		log.Error("import completion failed, space left in import mode",
			zap.String("space", space), zap.Error(err))
		return false
	}
	log.Info("import completed", zap.String("space", space))
	p.sendIntro(ctx, space, ch)
	return true
}

// sendIntro posts a short housekeeping note into a freshly imported space.
func (p *ChannelProcessor) sendIntro(ctx context.Context, space string, ch export.Channel) {
	text := fmt.Sprintf("This space holds the imported history of #%s.", ch.Name)
	if ch.Purpose.Value != "" {
		text += "\nPurpose: " + ch.Purpose.Value
	}
	if ch.Topic.Value != "" {
		text += "\nTopic: " + ch.Topic.Value
	}
	_, err := p.resolver.Admin().CreateMessage(ctx, space, &chat.Message{Text: text}, chat.CreateMessageOptions{})
	if err != nil {
		p.logger.Warn("intro message failed",
			zap.String("channel", ch.Name), zap.Error(err))
	}
}
