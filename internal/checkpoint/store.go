package checkpoint

import (
	"time"
)

// SentRecord is a persisted sent-message entry. Key is the idempotency key
// (channel:ts[:edited:edit_ts]) and MessageName the destination resource
// created for it.
type SentRecord struct {
	Key         string    `json:"key"`
	MessageName string    `json:"message_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChannelProgress is the persisted resume watermark for a channel.
type ChannelProgress struct {
	Channel       string    `json:"channel"`
	LastTimestamp float64   `json:"last_timestamp"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store persists migration progress across runs. The ledger is hydrated from
// it at startup in resume mode and written through as messages are sent.
type Store interface {
	// Sent-message set
	MarkSent(key, messageName string) error
	ListSentKeys() ([]string, error)

	// Resume watermarks
	SaveProgress(channel string, lastTimestamp float64) error
	GetProgress(channel string) (*ChannelProgress, error)
	ListProgress() ([]*ChannelProgress, error)

	Close() error
}
