package migrate

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"slack2chat/internal/chat"
	"slack2chat/internal/checkpoint"
	"slack2chat/internal/export"
	"slack2chat/internal/files"
	"slack2chat/internal/metrics"
	"slack2chat/internal/state"
	"slack2chat/internal/users"
)

// SkipReason says why a message was not sent.
type SkipReason string

const (
	SkipNone        SkipReason = ""
	SkipIgnoredBot  SkipReason = "IGNORED_BOT"
	SkipAlreadySent SkipReason = "ALREADY_SENT"
	SkipSystem      SkipReason = "SKIPPED"
)

// SendOutcome is the result of a single send attempt.
type SendOutcome struct {
	MessageName string
	Skip        SkipReason
	Err         error
	Code        int
	Retryable   bool
}

// Sent reports whether the message was created on the destination.
func (o SendOutcome) Sent() bool { return o.MessageName != "" }

// Failed reports whether the attempt ended in an error.
func (o SendOutcome) Failed() bool { return o.Err != nil }

// Sender drives the per-message send state machine.
type Sender struct {
	opts      Options
	ledger    *state.Ledger
	resolver  users.Resolver
	builder   PayloadBuilder
	stager    files.Stager
	reactions *ReactionProcessor
	store     checkpoint.Store
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewSender wires a sender. store and metrics may be nil.
func NewSender(opts Options, ledger *state.Ledger, resolver users.Resolver,
	builder PayloadBuilder, stager files.Stager, reactions *ReactionProcessor,
	store checkpoint.Store, collector *metrics.Collector, logger *zap.Logger) *Sender {
	if stager == nil {
		stager = files.NoopStager{}
	}
	return &Sender{
		opts:      opts,
		ledger:    ledger,
		resolver:  resolver,
		builder:   builder,
		stager:    stager,
		reactions: reactions,
		store:     store,
		metrics:   collector,
		logger:    logger,
	}
}

// Send pushes one message into the space. Skip checks run in a fixed order:
// bot filter, resume dedup, counting mode, system subtype, empty payload.
func (s *Sender) Send(ctx context.Context, space, channel string, m *export.Message) SendOutcome {
	if s.opts.IgnoreBots && s.isBotMessage(m) {
		s.incSkipped("bot")
		return SendOutcome{Skip: SkipIgnoredBot}
	}

	key := MessageKey(channel, m)
	if s.alreadySent(channel, key, m) {
		s.incSkipped("already_sent")
		return SendOutcome{Skip: SkipAlreadySent}
	}

	if s.opts.Validate {
		return SendOutcome{}
	}

	if export.IsSystemSubtype(m.Subtype) {
		s.incSkipped("system")
		return SendOutcome{Skip: SkipSystem}
	}

	if s.builder.NormalizedText(m) == "" && len(m.AllFiles()) == 0 {
		s.incSkipped("empty")
		return SendOutcome{}
	}

	built := s.builder.Build(channel, m)
	s.stageAttachments(ctx, channel, m, built)

	svc := s.resolver.Admin()
	if built.SenderEmail != "" {
		svc = s.resolver.Delegate(built.SenderEmail)
	}

	created, err := svc.CreateMessage(ctx, space, built.Body, chat.CreateMessageOptions{
		MessageID:   MessageID(channel, m),
		ReplyOption: built.ReplyOption,
	})
	if err != nil {
		return s.recordFailure(channel, m, built, err)
	}

	s.onSent(ctx, channel, key, m, created)
	return SendOutcome{MessageName: created.Name}
}

func (s *Sender) isBotMessage(m *export.Message) bool {
	if export.IsBotSubtype(m.Subtype) || m.BotID != "" {
		return true
	}
	if u, ok := s.resolver.User(m.User); ok && u.IsBot {
		return true
	}
	return false
}

func (s *Sender) alreadySent(channel, key string, m *export.Message) bool {
	if !s.opts.Resume {
		return false
	}
	if last := s.ledger.LastProcessed(channel); last > 0 && export.TSFloat(m.TS) <= last {
		return true
	}
	return s.ledger.WasSent(key)
}

func (s *Sender) stageAttachments(ctx context.Context, channel string, m *export.Message, built *BuiltMessage) {
	for _, f := range m.AllFiles() {
		url, err := s.stager.Stage(ctx, channel, f)
		if err != nil {
			s.logger.Warn("attachment staging failed",
				zap.String("channel", channel),
				zap.String("file", f.Name),
				zap.Error(err))
			continue
		}
		if url != "" {
			built.Body.Text = fmt.Sprintf("%s\n\n%s (%s)", built.Body.Text, f.Name, url)
			s.ledger.AddFilesCreated(1)
		}
	}
}

func (s *Sender) recordFailure(channel string, m *export.Message, built *BuiltMessage, err error) SendOutcome {
	payload, _ := json.Marshal(built.Body)
	code := chat.StatusCode(err)
	s.ledger.RecordFailure(state.FailedMessage{
		Channel:     channel,
		TS:          m.TS,
		Error:       fmt.Sprintf("status %d", code),
		ErrorDetail: err.Error(),
		Payload:     string(payload),
	})
	if s.metrics != nil {
		s.metrics.IncFailed()
	}
	s.logger.Warn("message send failed",
		zap.String("channel", channel),
		zap.String("ts", m.TS),
		zap.Int("code", code),
		zap.Error(err))
	return SendOutcome{Err: err, Code: code, Retryable: chat.Retryable(err)}
}

func (s *Sender) onSent(ctx context.Context, channel, key string, m *export.Message, created *chat.Message) {
	s.ledger.SetMessageID(IdentityKey(m), created.Name)
	s.recordThread(channel, m, created)

	if len(m.Reactions) > 0 && s.reactions != nil {
		s.reactions.Process(ctx, channel, created.Name, m.TS, m.Reactions)
	}

	s.ledger.MarkSent(key)
	s.ledger.IncMessagesCreated()
	if s.store != nil {
		if err := s.store.MarkSent(key, created.Name); err != nil {
			s.logger.Warn("checkpoint write failed", zap.String("key", key), zap.Error(err))
		}
	}
	if s.metrics != nil {
		s.metrics.IncSent()
	}
}

func (s *Sender) recordThread(channel string, m *export.Message, created *chat.Message) {
	if created.Thread == nil || created.Thread.Name == "" {
		s.logger.Warn("created message carries no thread name",
			zap.String("channel", channel), zap.String("ts", m.TS))
		return
	}
	rootTS := m.TS
	if m.IsThreadReply() {
		rootTS = m.ThreadTS
	}
	existing, present := s.ledger.SetThreadIfAbsent(rootTS, created.Thread.Name)
	if present && existing != created.Thread.Name {
		// The destination routed this reply into a different thread than the
		// root's. Keep the first mapping; later replies still land somewhere.
		s.logger.Warn("thread mismatch",
			zap.String("channel", channel),
			zap.String("root_ts", rootTS),
			zap.String("expected", existing),
			zap.String("actual", created.Thread.Name))
	}
}

func (s *Sender) incSkipped(reason string) {
	if s.metrics != nil {
		s.metrics.IncSkipped(reason)
	}
}
