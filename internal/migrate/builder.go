package migrate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"slack2chat/internal/chat"
	"slack2chat/internal/export"
	"slack2chat/internal/users"
)

// BuiltMessage is the output of a PayloadBuilder: the wire body plus the
// routing facts the sender needs.
type BuiltMessage struct {
	Body          *chat.Message
	SenderEmail   string // resolved internal email, "" when unmapped
	IsThreadReply bool
	ReplyOption   string
}

// PayloadBuilder renders a source message into a destination create body.
type PayloadBuilder interface {
	Build(channel string, m *export.Message) *BuiltMessage
	// NormalizedText returns the message text after markup normalization;
	// the sender uses it for empty-payload detection.
	NormalizedText(m *export.Message) string
}

// replyFallbackToNewThread lets the destination start a thread lazily when a
// reply arrives before its root is known.
const replyFallbackToNewThread = "REPLY_MESSAGE_FALLBACK_TO_NEW_THREAD"

const messageIDMaxLength = 63

var (
	userMentionRe = regexp.MustCompile(`<@([A-Z0-9]+)(\|[^>]*)?>`)
	linkRe        = regexp.MustCompile(`<(https?://[^>|]+)\|([^>]+)>`)
	bareLinkRe    = regexp.MustCompile(`<(https?://[^>|]+)>`)
	channelRefRe  = regexp.MustCompile(`<#[A-Z0-9]+\|([^>]*)>`)
)

// Builder is the default PayloadBuilder. It normalizes the source markup,
// resolves sender attribution (with the admin-attributed fallback for
// unmapped and external senders), and applies the thread-key policy.
type Builder struct {
	ledger   ThreadLookup
	resolver users.Resolver
}

// ThreadLookup is the slice of the ledger the builder needs.
type ThreadLookup interface {
	Thread(rootTS string) (string, bool)
}

// NewBuilder creates the default payload builder.
func NewBuilder(ledger ThreadLookup, resolver users.Resolver) *Builder {
	return &Builder{ledger: ledger, resolver: resolver}
}

// NormalizedText converts the source markup to destination text: mention and
// channel references are rewritten, links unwrapped, bold markers translated.
func (b *Builder) NormalizedText(m *export.Message) string {
	text := m.Text
	if text == "" && len(m.Attachments) > 0 {
		for _, a := range m.Attachments {
			if a.Text != "" {
				text = a.Text
				break
			}
		}
	}

	text = userMentionRe.ReplaceAllStringFunc(text, func(match string) string {
		groups := userMentionRe.FindStringSubmatch(match)
		userID := groups[1]
		if email, ok := b.resolver.InternalEmail(userID); ok {
			return "@" + email
		}
		if u, ok := b.resolver.User(userID); ok && u.Name != "" {
			return "@" + u.Name
		}
		return "@" + userID
	})
	text = channelRefRe.ReplaceAllString(text, "#$1")
	text = linkRe.ReplaceAllString(text, "$2 ($1)")
	text = bareLinkRe.ReplaceAllString(text, "$1")

	// Source bold is *text*; destination uses the same marker, so only the
	// HTML entities need unescaping.
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&amp;", "&")

	return text
}

// Build renders the create body for a message.
func (b *Builder) Build(channel string, m *export.Message) *BuiltMessage {
	text := b.NormalizedText(m)

	if m.IsEdited() {
		editTime := export.TSTime(m.EditedTS()).Format("2006-01-02 15:04:05")
		text = fmt.Sprintf("%s\n\n_(edited at %s)_", text, editTime)
	}

	body := &chat.Message{
		CreateTime: export.TSTime(m.TS).Format(time.RFC3339Nano),
	}

	senderEmail := ""
	if email, ok := b.resolver.InternalEmail(m.User); ok {
		if b.resolver.IsExternal(email) {
			adminEmail, attributed := b.resolver.AttributeUnmapped(m.User, text)
			text = attributed
			body.Sender = &chat.User{Type: "HUMAN", Name: "users/" + adminEmail}
		} else {
			senderEmail = email
			body.Sender = &chat.User{Type: "HUMAN", Name: "users/" + email}
		}
	} else if m.User != "" {
		adminEmail, attributed := b.resolver.AttributeUnmapped(m.User, text)
		text = attributed
		body.Sender = &chat.User{Type: "HUMAN", Name: "users/" + adminEmail}
	}
	// No user at all: leave the sender empty, the platform attributes it.

	body.Text = text

	built := &BuiltMessage{Body: body, SenderEmail: senderEmail}

	if m.IsThreadReply() {
		built.IsThreadReply = true
		if threadName, ok := b.ledger.Thread(m.ThreadTS); ok {
			body.Thread = &chat.Thread{Name: threadName}
		} else {
			// Parent not sent yet (or failed): fall back to the raw thread
			// key and let the destination create the thread lazily.
			body.Thread = &chat.Thread{ThreadKey: m.ThreadTS}
		}
		built.ReplyOption = replyFallbackToNewThread
	} else {
		// The message may become a thread root; its own timestamp is the
		// thread's stable key.
		body.Thread = &chat.Thread{ThreadKey: m.TS}
	}

	return built
}

// MessageKey returns the idempotency key for a message:
// channel:ts or channel:ts:edited:edit_ts.
func MessageKey(channel string, m *export.Message) string {
	if m.IsEdited() {
		return fmt.Sprintf("%s:%s:edited:%s", channel, m.TS, m.EditedTS())
	}
	return fmt.Sprintf("%s:%s", channel, m.TS)
}

// IdentityKey returns the identity-map key for a message: ts or
// ts:edited:edit_ts.
func IdentityKey(m *export.Message) string {
	if m.IsEdited() {
		return fmt.Sprintf("%s:edited:%s", m.TS, m.EditedTS())
	}
	return m.TS
}

// MessageID derives the client-assigned message identifier. It is a pure
// function of the idempotency key, so a re-issued create for the same
// message carries the same ID and the destination can reject the duplicate.
func MessageID(channel string, m *export.Message) string {
	key := MessageKey(channel, m)
	sum := sha256.Sum256([]byte(key))
	id := "client-" + hex.EncodeToString(sum[:20])
	if len(id) > messageIDMaxLength {
		id = id[:messageIDMaxLength]
	}
	return id
}
