// Package files stages message attachments into an S3-compatible bucket so
// migrated messages can link to them. Staging is best effort: a failed stage
// never blocks the message itself.
package files

import (
	"context"

	"slack2chat/internal/export"
)

// Stager copies a source attachment into destination-reachable storage and
// returns the link to embed in the migrated message.
type Stager interface {
	Stage(ctx context.Context, channel string, f export.File) (url string, err error)
}

// CountFiles returns the number of attachable files on a message, including
// files nested in forwarded or unfurled attachments.
func CountFiles(m *export.Message) int {
	return len(m.AllFiles())
}

// NoopStager skips staging and returns no link; used in validation runs.
type NoopStager struct{}

func (NoopStager) Stage(ctx context.Context, channel string, f export.File) (string, error) {
	return "", nil
}
