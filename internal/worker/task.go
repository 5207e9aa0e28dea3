package worker

import "slack2chat/internal/export"

// Task is one unit of work for the pool: a single channel to migrate.
type Task struct {
	Channel export.Channel
}
