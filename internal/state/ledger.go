// Package state holds the migration ledger: the single mutable record of
// what a run has already done. All orchestration components read and mutate
// it; resumption correctness depends on the sent-message set and space cache
// surviving ResetForRun.
package state

import (
	"sort"
	"sync"
)

// FailedMessage is one entry in the ledger's failure list.
type FailedMessage struct {
	Channel     string
	TS          string
	Error       string
	ErrorDetail string
	Payload     string // raw message payload, kept for diagnosis
}

// SkippedReaction records a reaction whose user could not be resolved.
type SkippedReaction struct {
	UserID    string
	Emoji     string
	MessageTS string
	Channel   string
}

// ChannelStats are per-channel counters consumed by report generation.
type ChannelStats struct {
	Messages  int
	Reactions int
	Files     int
}

// Summary holds run-wide counters.
type Summary struct {
	ChannelsProcessed []string
	SpacesCreated     int
	MessagesCreated   int
	ReactionsCreated  int
	FilesCreated      int
	MembershipsAdded  int
}

// Ledger is the run-scoped mutable aggregate. It is safe for concurrent use
// so channel-level worker parallelism stays an option; within one channel the
// components mutate it strictly sequentially.
type Ledger struct {
	mu sync.Mutex

	spaceByChannel     map[string]string // channel name -> space resource name
	spaceIDByChannelID map[string]string // channel ID -> bare space ID

	messageIDs map[string]string // ts or ts:edited:ets -> message resource name
	threads    map[string]string // thread root ts -> thread resource name
	sent       map[string]struct{}

	failures        []FailedMessage
	failedByChannel map[string][]string

	activeUsers   map[string]map[string]struct{}
	conflicts     map[string]struct{}
	skippedReacts []SkippedReaction
	externalUsers map[string]struct{}

	lastProcessed map[string]float64
	stats         map[string]*ChannelStats
	summary       Summary

	highFailureRate   map[string]float64
	incompleteImports map[string]string // space -> channel
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	l := &Ledger{}
	l.reset(false)
	return l
}

// reset initializes run-scoped fields. When preserve is true the space cache
// and sent-message set survive, which is what makes resumption possible.
func (l *Ledger) reset(preserve bool) {
	if !preserve || l.spaceByChannel == nil {
		l.spaceByChannel = make(map[string]string)
	}
	if !preserve || l.spaceIDByChannelID == nil {
		l.spaceIDByChannelID = make(map[string]string)
	}
	if !preserve || l.sent == nil {
		l.sent = make(map[string]struct{})
	}
	l.messageIDs = make(map[string]string)
	l.threads = make(map[string]string)
	l.failures = nil
	l.failedByChannel = make(map[string][]string)
	l.activeUsers = make(map[string]map[string]struct{})
	l.conflicts = make(map[string]struct{})
	l.skippedReacts = nil
	l.externalUsers = make(map[string]struct{})
	l.lastProcessed = make(map[string]float64)
	l.stats = make(map[string]*ChannelStats)
	l.summary = Summary{}
	l.highFailureRate = make(map[string]float64)
	l.incompleteImports = make(map[string]string)
}

// ResetForRun clears per-run counters and error lists while preserving the
// space cache and the sent-message set.
func (l *Ledger) ResetForRun() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reset(true)
}

// --- Space mapping ---

// SpaceFor returns the space resource name recorded for a channel.
func (l *Ledger) SpaceFor(channel string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.spaceByChannel[channel]
	return s, ok
}

// SetSpace records the space for a channel.
func (l *Ledger) SetSpace(channel, space string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spaceByChannel[channel] = space
}

// RemoveSpace drops the space recorded for a channel, e.g. after the space
// was deleted because of send failures.
func (l *Ledger) RemoveSpace(channel string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.spaceByChannel, channel)
}

// SetSpaceIDIfAbsent records a channel-ID to space-ID mapping unless one
// already exists; first-seen wins during discovery.
func (l *Ledger) SetSpaceIDIfAbsent(channelID, spaceID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.spaceIDByChannelID[channelID]; ok {
		return false
	}
	l.spaceIDByChannelID[channelID] = spaceID
	return true
}

// SetSpaceID records a channel-ID to space-ID mapping unconditionally.
func (l *Ledger) SetSpaceID(channelID, spaceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spaceIDByChannelID[channelID] = spaceID
}

// SpaceIDFor returns the space ID recorded for a channel ID.
func (l *Ledger) SpaceIDFor(channelID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.spaceIDByChannelID[channelID]
	return s, ok
}

// RemoveSpaceID revokes an ambiguous channel-ID mapping.
func (l *Ledger) RemoveSpaceID(channelID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.spaceIDByChannelID, channelID)
}

// --- Message identity and thread maps ---

// MessageID returns the destination message name for an identity-map key.
func (l *Ledger) MessageID(key string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.messageIDs[key]
	return id, ok
}

// SetMessageID records an identity-map entry after a successful send.
func (l *Ledger) SetMessageID(key, name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messageIDs[key] = name
}

// Thread returns the thread resource recorded for a thread-root timestamp.
func (l *Ledger) Thread(rootTS string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.threads[rootTS]
	return t, ok
}

// SetThreadIfAbsent records a thread mapping unless one exists, returning the
// mapping now in force and whether it was already present. Callers use the
// existing/observed pair to detect thread inconsistencies.
func (l *Ledger) SetThreadIfAbsent(rootTS, name string) (existing string, present bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.threads[rootTS]; ok {
		return cur, true
	}
	l.threads[rootTS] = name
	return name, false
}

// ThreadCount returns the number of thread mappings.
func (l *Ledger) ThreadCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.threads)
}

// --- Sent-message set ---

// WasSent reports whether an idempotency key is in the sent-message set.
func (l *Ledger) WasSent(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.sent[key]
	return ok
}

// MarkSent adds an idempotency key to the sent-message set.
func (l *Ledger) MarkSent(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent[key] = struct{}{}
}

// SeedSent loads previously persisted idempotency keys, used when resuming.
func (l *Ledger) SeedSent(keys []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		l.sent[k] = struct{}{}
	}
}

// --- Failures ---

// RecordFailure appends to the failure list.
func (l *Ledger) RecordFailure(f FailedMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = append(l.failures, f)
	l.failedByChannel[f.Channel] = append(l.failedByChannel[f.Channel], f.TS)
}

// Failures returns a copy of the failure list.
func (l *Ledger) Failures() []FailedMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]FailedMessage(nil), l.failures...)
}

// FailedTS returns the failed message timestamps for a channel.
func (l *Ledger) FailedTS(channel string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.failedByChannel[channel]...)
}

// --- Membership sets ---

// SetActiveUsers records the channel's authoritative active-member set.
func (l *Ledger) SetActiveUsers(channel string, userIDs map[string]struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set := make(map[string]struct{}, len(userIDs))
	for id := range userIDs {
		set[id] = struct{}{}
	}
	l.activeUsers[channel] = set
}

// ActiveUsers returns a copy of the channel's active-member set.
func (l *Ledger) ActiveUsers(channel string) (map[string]struct{}, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.activeUsers[channel]
	if !ok {
		return nil, false
	}
	out := make(map[string]struct{}, len(set))
	for id := range set {
		out[id] = struct{}{}
	}
	return out, true
}

// AddExternalUser tracks an external identity seen during the run.
func (l *Ledger) AddExternalUser(email string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.externalUsers[email] = struct{}{}
}

// ExternalUsers returns the external identities seen during the run, sorted.
func (l *Ledger) ExternalUsers() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.externalUsers))
	for email := range l.externalUsers {
		out = append(out, email)
	}
	sort.Strings(out)
	return out
}

// --- Conflict set ---

// AddConflict places a channel in the duplicate-space conflict set.
func (l *Ledger) AddConflict(channel string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conflicts[channel] = struct{}{}
}

// ResolveConflict removes a channel from the conflict set.
func (l *Ledger) ResolveConflict(channel string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.conflicts, channel)
}

// HasConflict reports whether a channel is blocked by an unresolved conflict.
func (l *Ledger) HasConflict(channel string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.conflicts[channel]
	return ok
}

// Conflicts returns the channels with unresolved conflicts.
func (l *Ledger) Conflicts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.conflicts))
	for ch := range l.conflicts {
		out = append(out, ch)
	}
	return out
}

// --- Skipped reactions ---

// RecordSkippedReaction implements users.UnmappedReporter.
func (l *Ledger) RecordSkippedReaction(userID, emoji, messageTS, channel string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.skippedReacts = append(l.skippedReacts, SkippedReaction{
		UserID:    userID,
		Emoji:     emoji,
		MessageTS: messageTS,
		Channel:   channel,
	})
}

// SkippedReactions returns a copy of the skipped-reaction records.
func (l *Ledger) SkippedReactions() []SkippedReaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]SkippedReaction(nil), l.skippedReacts...)
}

// --- Resume bookkeeping ---

// LastProcessed returns the resume watermark for a channel (0 when none).
func (l *Ledger) LastProcessed(channel string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastProcessed[channel]
}

// SetLastProcessed records the resume watermark for a channel.
func (l *Ledger) SetLastProcessed(channel string, ts float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastProcessed[channel] = ts
}

// --- Stats and counters ---

func (l *Ledger) channelStats(channel string) *ChannelStats {
	st, ok := l.stats[channel]
	if !ok {
		st = &ChannelStats{}
		l.stats[channel] = st
	}
	return st
}

// CountMessage increments the channel's message counter.
func (l *Ledger) CountMessage(channel string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.channelStats(channel).Messages++
}

// CountReactions adds to the channel's reaction counter.
func (l *Ledger) CountReactions(channel string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.channelStats(channel).Reactions += n
}

// CountFiles adds to the channel's file counter.
func (l *Ledger) CountFiles(channel string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.channelStats(channel).Files += n
}

// Stats returns a snapshot of a channel's counters.
func (l *Ledger) Stats(channel string) ChannelStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.stats[channel]; ok {
		return *st
	}
	return ChannelStats{}
}

// AddProcessedChannel appends to the run's processed-channel list.
func (l *Ledger) AddProcessedChannel(channel string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summary.ChannelsProcessed = append(l.summary.ChannelsProcessed, channel)
}

// IncSpacesCreated increments the run's created-space counter.
func (l *Ledger) IncSpacesCreated() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summary.SpacesCreated++
}

// IncMessagesCreated increments the run's created-message counter.
func (l *Ledger) IncMessagesCreated() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summary.MessagesCreated++
}

// AddReactionsCreated adds to the run's reaction counter.
func (l *Ledger) AddReactionsCreated(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summary.ReactionsCreated += n
}

// AddFilesCreated adds to the run's file counter.
func (l *Ledger) AddFilesCreated(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summary.FilesCreated += n
}

// AddMembership adds to the run's membership counter.
func (l *Ledger) AddMembership(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summary.MembershipsAdded += n
}

// Summary returns a snapshot of the run-wide counters.
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.summary
	s.ChannelsProcessed = append([]string(nil), l.summary.ChannelsProcessed...)
	return s
}

// --- Error tracking ---

// RecordHighFailureRate flags a channel whose failure rate crossed the
// configured threshold.
func (l *Ledger) RecordHighFailureRate(channel string, pct float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.highFailureRate[channel] = pct
}

// HighFailureRateChannels returns the flagged channels and their rates.
func (l *Ledger) HighFailureRateChannels() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]float64, len(l.highFailureRate))
	for ch, pct := range l.highFailureRate {
		out[ch] = pct
	}
	return out
}

// RecordIncompleteImport tracks a space whose import mode was not completed.
func (l *Ledger) RecordIncompleteImport(space, channel string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.incompleteImports[space] = channel
}

// IncompleteImports returns the spaces left in import mode.
func (l *Ledger) IncompleteImports() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.incompleteImports))
	for s, ch := range l.incompleteImports {
		out[s] = ch
	}
	return out
}
