package chat

import (
	"context"
	"errors"
	"fmt"
)

// Client defines the destination messaging platform operations the migrator
// consumes. Implementations are expected to be pre-wrapped with whatever
// retry/backoff policy the transport needs; the migrator only classifies
// status codes, it never retries by itself.
type Client interface {
	// Space operations
	ListSpaces(ctx context.Context, pageSize int, pageToken string) (*SpacePage, error)
	GetSpace(ctx context.Context, name string) (*Space, error)
	CreateSpace(ctx context.Context, space *Space) (*Space, error)
	PatchSpace(ctx context.Context, name, updateMask string, space *Space) (*Space, error)
	DeleteSpace(ctx context.Context, name string) error
	CompleteImport(ctx context.Context, name string) error

	// Message operations
	CreateMessage(ctx context.Context, parent string, msg *Message, opts CreateMessageOptions) (*Message, error)
	ListMessages(ctx context.Context, parent string, pageSize int, orderBy string) (*MessagePage, error)

	// Reaction operations
	CreateReaction(ctx context.Context, parent string, reaction *Reaction) error
	NewReactionBatch(callback BatchCallback) ReactionBatch

	// Membership operations
	CreateMembership(ctx context.Context, parent string, m *Membership) (*Membership, error)
	ListMemberships(ctx context.Context, parent string, pageSize int, pageToken string) (*MembershipPage, error)
	DeleteMembership(ctx context.Context, name string) error
}

// BatchCallback receives the per-item result of a batched reaction create.
type BatchCallback func(requestID string, err error)

// ReactionBatch accumulates reaction-create requests for a single identity
// and dispatches them in one round trip. Individual item failures are
// delivered through the batch callback; Execute returns an error only when
// the batch as a whole could not be dispatched.
type ReactionBatch interface {
	Add(parent string, reaction *Reaction)
	Len() int
	Execute(ctx context.Context) error
}

// Space is a destination space resource.
type Space struct {
	Name                string `json:"name,omitempty"`
	DisplayName         string `json:"displayName,omitempty"`
	SpaceType           string `json:"spaceType,omitempty"`
	ImportMode          bool   `json:"importMode,omitempty"`
	ExternalUserAllowed bool   `json:"externalUserAllowed,omitempty"`
	CreateTime          string `json:"createTime,omitempty"`
}

// SpacePage is one page of a space listing.
type SpacePage struct {
	Spaces        []Space `json:"spaces,omitempty"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
}

// User identifies a platform user, addressed as "users/<email>".
type User struct {
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// Thread identifies a message thread. Exactly one of Name (a resolved thread
// resource) or ThreadKey (a caller-supplied stable key) is set on create.
type Thread struct {
	Name      string `json:"name,omitempty"`
	ThreadKey string `json:"threadKey,omitempty"`
}

// Message is a destination message resource / create body.
type Message struct {
	Name       string  `json:"name,omitempty"`
	Text       string  `json:"text,omitempty"`
	Sender     *User   `json:"sender,omitempty"`
	Thread     *Thread `json:"thread,omitempty"`
	CreateTime string  `json:"createTime,omitempty"`
}

// MessagePage is one page of a message listing.
type MessagePage struct {
	Messages      []Message `json:"messages,omitempty"`
	NextPageToken string    `json:"nextPageToken,omitempty"`
}

// CreateMessageOptions carries the optional create-call parameters.
type CreateMessageOptions struct {
	// MessageID is the client-assigned message identifier (import-mode
	// idempotency key at the API level).
	MessageID string
	// ReplyOption controls thread fallback behavior, e.g.
	// "REPLY_MESSAGE_FALLBACK_TO_NEW_THREAD".
	ReplyOption string
}

// Emoji is the unicode emoji body of a reaction.
type Emoji struct {
	Unicode string `json:"unicode,omitempty"`
}

// Reaction is a reaction-create body.
type Reaction struct {
	Emoji Emoji `json:"emoji"`
}

// Membership is a destination membership resource / create body. Historical
// (import-mode) memberships carry both CreateTime and DeleteTime, the latter
// strictly in the past; ongoing memberships carry neither.
type Membership struct {
	Name       string `json:"name,omitempty"`
	Member     *User  `json:"member,omitempty"`
	CreateTime string `json:"createTime,omitempty"`
	DeleteTime string `json:"deleteTime,omitempty"`
}

// MembershipPage is one page of a membership listing.
type MembershipPage struct {
	Memberships   []Membership `json:"memberships,omitempty"`
	NextPageToken string       `json:"nextPageToken,omitempty"`
}

// StatusError is a remote failure carrying the HTTP status of the response.
type StatusError struct {
	Code    int
	Message string
	Body    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("chat api error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("chat api error %d", e.Code)
}

// StatusCode extracts the HTTP status from err, or 0 when err carries none.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsConflict reports whether err is an HTTP 409 response. Duplicate creation
// requests for memberships surface as conflicts and are treated as success.
func IsConflict(err error) bool {
	return StatusCode(err) == 409
}

// IsNotFound reports whether err is an HTTP 404 response.
func IsNotFound(err error) bool {
	return StatusCode(err) == 404
}

// Retryable reports whether err is a rate limit or server-side failure that
// an outer retry policy may act on.
func Retryable(err error) bool {
	code := StatusCode(err)
	return code == 429 || code >= 500
}
