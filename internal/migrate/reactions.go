package migrate

import (
	"context"

	"go.uber.org/zap"

	"slack2chat/internal/chat"
	"slack2chat/internal/export"
	"slack2chat/internal/metrics"
	"slack2chat/internal/state"
	"slack2chat/internal/users"
)

// emojiAliases maps source reaction shortcodes to unicode. Unknown aliases
// pass through as ":name:" so nothing is dropped on the wire.
var emojiAliases = map[string]string{
	"+1":                    "\U0001F44D",
	"thumbsup":              "\U0001F44D",
	"-1":                    "\U0001F44E",
	"thumbsdown":            "\U0001F44E",
	"smile":                 "\U0001F604",
	"grin":                  "\U0001F601",
	"laughing":              "\U0001F606",
	"joy":                   "\U0001F602",
	"slightly_smiling_face": "\U0001F642",
	"wink":                  "\U0001F609",
	"cry":                   "\U0001F622",
	"sob":                   "\U0001F62D",
	"thinking_face":         "\U0001F914",
	"heart":                 "❤️",
	"tada":                  "\U0001F389",
	"eyes":                  "\U0001F440",
	"fire":                  "\U0001F525",
	"rocket":                "\U0001F680",
	"clap":                  "\U0001F44F",
	"wave":                  "\U0001F44B",
	"pray":                  "\U0001F64F",
	"ok_hand":               "\U0001F44C",
	"raised_hands":          "\U0001F64C",
	"muscle":                "\U0001F4AA",
	"100":                   "\U0001F4AF",
	"white_check_mark":      "✅",
	"heavy_check_mark":      "✔️",
	"x":                     "❌",
	"heavy_plus_sign":       "➕",
	"question":              "❓",
	"warning":               "⚠️",
	"bulb":                  "\U0001F4A1",
	"star":                  "⭐",
	"party_parrot":          "\U0001F99C",
}

func emojiUnicode(name string) string {
	if u, ok := emojiAliases[name]; ok {
		return u
	}
	return ":" + name + ":"
}

// ReactionProcessor attaches source reactions to a created message, batched
// per reacting identity.
type ReactionProcessor struct {
	opts     Options
	ledger   *state.Ledger
	resolver users.Resolver
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewReactionProcessor wires a reaction processor. metrics may be nil.
func NewReactionProcessor(opts Options, ledger *state.Ledger, resolver users.Resolver,
	collector *metrics.Collector, logger *zap.Logger) *ReactionProcessor {
	return &ReactionProcessor{
		opts:     opts,
		ledger:   ledger,
		resolver: resolver,
		metrics:  collector,
		logger:   logger,
	}
}

// Process groups the reactions by resolved identity and dispatches one batch
// per identity. External identities are excluded from dispatch but still
// counted; unmapped identities go to the skipped-reaction record, never to
// silent admin attribution.
func (p *ReactionProcessor) Process(ctx context.Context, channel, messageName, ts string, reactions []export.Reaction) {
	byEmail := make(map[string][]string)
	total := 0

	for _, r := range reactions {
		emoji := emojiUnicode(r.Name)
		for _, uid := range r.Users {
			if p.opts.IgnoreBots {
				if u, ok := p.resolver.User(uid); ok && u.IsBot {
					continue
				}
			}
			email, ok := p.resolver.InternalEmail(uid)
			if !ok {
				p.resolver.ReportUnmappedReaction(uid, r.Name, ts, channel)
				if p.metrics != nil {
					p.metrics.IncReactionSkipped()
				}
				continue
			}
			byEmail[email] = append(byEmail[email], emoji)
			total++
		}
	}

	p.ledger.AddReactionsCreated(total)
	if p.metrics != nil && total > 0 {
		p.metrics.AddReactions(total)
	}

	if p.opts.Validate || total == 0 {
		return
	}

	for email, emojis := range byEmail {
		if p.resolver.IsExternal(email) {
			p.logger.Debug("external reactor excluded",
				zap.String("channel", channel), zap.String("email", email))
			continue
		}
		p.dispatch(ctx, channel, messageName, email, emojis)
	}
}

func (p *ReactionProcessor) dispatch(ctx context.Context, channel, messageName, email string, emojis []string) {
	svc := p.resolver.Delegate(email)
	if svc == p.resolver.Admin() {
		// No delegate for this identity: fall back to synchronous creates
		// through the admin client.
		for _, e := range emojis {
			err := svc.CreateReaction(ctx, messageName, &chat.Reaction{
				Emoji: chat.Emoji{Unicode: e},
			})
			if err != nil && !chat.IsConflict(err) {
				p.reactionFailed(channel, messageName, email, err)
			}
		}
		return
	}

	batch := svc.NewReactionBatch(func(requestID string, err error) {
		if err != nil && !chat.IsConflict(err) {
			p.reactionFailed(channel, messageName, email, err)
		}
	})
	for _, e := range emojis {
		batch.Add(messageName, &chat.Reaction{Emoji: chat.Emoji{Unicode: e}})
	}
	if err := batch.Execute(ctx); err != nil {
		p.logger.Warn("reaction batch failed",
			zap.String("channel", channel),
			zap.String("message", messageName),
			zap.String("email", email),
			zap.Error(err))
	}
}

func (p *ReactionProcessor) reactionFailed(channel, messageName, email string, err error) {
	if p.metrics != nil {
		p.metrics.IncReactionFailed()
	}
	p.logger.Warn("reaction create failed",
		zap.String("channel", channel),
		zap.String("message", messageName),
		zap.String("email", email),
		zap.Error(err))
}
