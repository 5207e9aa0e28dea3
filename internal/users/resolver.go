package users

import (
	"fmt"
	"strings"
	"sync"

	"slack2chat/internal/chat"
	"slack2chat/internal/export"

	"go.uber.org/zap"
)

// Resolver maps source user identifiers to destination identities and hands
// out clients able to act as those identities.
type Resolver interface {
	// InternalEmail resolves a source user ID to the internal email used for
	// attribution, applying any configured overrides. ok is false when the
	// user has no email mapping at all.
	InternalEmail(userID string) (email string, ok bool)
	// IsExternal reports whether the email belongs to a user outside the
	// destination workspace.
	IsExternal(email string) bool
	// Delegate returns a client acting as the given identity, or the admin
	// client when impersonation is unavailable for it.
	Delegate(email string) chat.Client
	// Admin returns the administrative client.
	Admin() chat.Client
	// AdminEmail returns the workspace administrator identity.
	AdminEmail() string
	// User returns the source directory record for a user ID.
	User(userID string) (export.User, bool)
	// AttributeUnmapped rewrites message text for a sender with no usable
	// identity so it can be sent by the admin without losing attribution.
	AttributeUnmapped(userID, text string) (adminEmail, attributed string)
	// ReportUnmappedReaction surfaces a reaction whose user cannot be
	// resolved; it is recorded, never silently dropped.
	ReportUnmappedReaction(userID, emoji, messageTS, channel string)
}

// UnmappedReporter receives unmapped-identity events. The migration ledger
// implements it.
type UnmappedReporter interface {
	RecordSkippedReaction(userID, emoji, messageTS, channel string)
}

// DelegateFactory builds a client acting as the given internal identity.
type DelegateFactory func(email string) (chat.Client, error)

// DirectoryOptions configures a Directory.
type DirectoryOptions struct {
	Users           map[string]export.User
	UserMap         map[string]string // source user ID -> email
	EmailOverrides  map[string]string // email -> internal alias email
	WorkspaceDomain string
	AdminEmail      string
	Admin           chat.Client
	Delegates       DelegateFactory // nil disables impersonation
	Reporter        UnmappedReporter
	Logger          *zap.Logger
}

// Directory is the standard Resolver backed by the export's user records.
type Directory struct {
	users           map[string]export.User
	userMap         map[string]string
	overrides       map[string]string
	workspaceDomain string
	adminEmail      string
	admin           chat.Client
	factory         DelegateFactory
	reporter        UnmappedReporter
	logger          *zap.Logger

	mu        sync.Mutex
	delegates map[string]chat.Client
}

// NewDirectory creates a Directory resolver.
func NewDirectory(opts DirectoryOptions) *Directory {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		users:           opts.Users,
		userMap:         opts.UserMap,
		overrides:       opts.EmailOverrides,
		workspaceDomain: strings.ToLower(opts.WorkspaceDomain),
		adminEmail:      opts.AdminEmail,
		admin:           opts.Admin,
		factory:         opts.Delegates,
		reporter:        opts.Reporter,
		logger:          logger,
		delegates:       make(map[string]chat.Client),
	}
}

func (d *Directory) InternalEmail(userID string) (string, bool) {
	email, ok := d.userMap[userID]
	if !ok || email == "" {
		return "", false
	}
	if alias, ok := d.overrides[email]; ok && alias != "" {
		return alias, true
	}
	return email, true
}

func (d *Directory) IsExternal(email string) bool {
	if email == "" || d.workspaceDomain == "" {
		return false
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	return strings.ToLower(email[at+1:]) != d.workspaceDomain
}

func (d *Directory) Delegate(email string) chat.Client {
	if d.factory == nil || email == "" || d.IsExternal(email) {
		return d.admin
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if svc, ok := d.delegates[email]; ok {
		return svc
	}
	svc, err := d.factory(email)
	if err != nil {
		d.logger.Debug("Impersonation unavailable, using admin client",
			zap.String("user", email),
			zap.Error(err))
		svc = d.admin
	}
	d.delegates[email] = svc
	return svc
}

func (d *Directory) Admin() chat.Client { return d.admin }

func (d *Directory) AdminEmail() string { return d.adminEmail }

func (d *Directory) User(userID string) (export.User, bool) {
	u, ok := d.users[userID]
	return u, ok
}

func (d *Directory) AttributeUnmapped(userID, text string) (string, string) {
	display := userID
	if u, ok := d.users[userID]; ok {
		if u.RealName != "" {
			display = u.RealName
		} else if u.Name != "" {
			display = u.Name
		}
	}
	attributed := fmt.Sprintf("*%s (external):*\n%s", display, text)
	return d.adminEmail, attributed
}

func (d *Directory) ReportUnmappedReaction(userID, emoji, messageTS, channel string) {
	d.logger.Debug("Reaction from unmapped user",
		zap.String("user_id", userID),
		zap.String("emoji", emoji),
		zap.String("ts", messageTS),
		zap.String("channel", channel))
	if d.reporter != nil {
		d.reporter.RecordSkippedReaction(userID, emoji, messageTS, channel)
	}
}
