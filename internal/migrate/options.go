package migrate

import "time"

// Options carries the run-mode switches and throttles shared by the core
// components.
type Options struct {
	// Resume continues a prior run: previously imported spaces are reused
	// and already-sent messages are skipped.
	Resume bool
	// Validate counts what would be migrated without any network calls.
	Validate bool
	// IgnoreBots drops bot-authored messages and reactions.
	IgnoreBots bool

	// SpacePrefix is prepended to channel names when naming spaces.
	SpacePrefix string
	// SpaceMapping overrides discovery: channel name to space resource name.
	SpaceMapping map[string]string

	// SendThrottle is the pause between message creates in one channel.
	SendThrottle time.Duration
	// MembershipDelay is the pause between membership calls.
	MembershipDelay time.Duration
	// MaxFailurePercent aborts a channel when the failed share of processed
	// messages exceeds it. Zero disables the gate.
	MaxFailurePercent float64

	// DeleteSpacesOnErrors removes a freshly created space when its channel
	// had failures, so the next run starts clean.
	DeleteSpacesOnErrors bool
	// DiscoveryPageSize is the page size for space listing.
	DiscoveryPageSize int
}

func (o Options) pageSize() int {
	if o.DiscoveryPageSize > 0 {
		return o.DiscoveryPageSize
	}
	return 100
}

func (o Options) prefix() string {
	if o.SpacePrefix != "" {
		return o.SpacePrefix
	}
	return "Slack #"
}

func (o Options) membershipDelay() time.Duration {
	if o.MembershipDelay > 0 {
		return o.MembershipDelay
	}
	return 100 * time.Millisecond
}
