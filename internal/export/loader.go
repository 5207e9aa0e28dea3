package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

// Loader reads a chat workspace export from disk.
type Loader struct {
	root   string
	logger *zap.Logger
}

// NewLoader creates a loader rooted at the export directory.
func NewLoader(root string, logger *zap.Logger) *Loader {
	return &Loader{root: root, logger: logger}
}

// Root returns the export root directory.
func (l *Loader) Root() string { return l.root }

// Validate checks that the export root has the expected layout.
func (l *Loader) Validate() error {
	info, err := os.Stat(l.root)
	if err != nil {
		return fmt.Errorf("export root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("export root %s is not a directory", l.root)
	}
	if _, err := os.Stat(filepath.Join(l.root, "channels.json")); err != nil {
		return fmt.Errorf("export root missing channels.json: %w", err)
	}
	return nil
}

// Users loads users.json keyed by user ID.
func (l *Loader) Users() (map[string]User, error) {
	data, err := os.ReadFile(filepath.Join(l.root, "users.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read users.json: %w", err)
	}
	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("failed to parse users.json: %w", err)
	}
	byID := make(map[string]User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	return byID, nil
}

// Channels loads channels.json keyed by channel name.
func (l *Loader) Channels() (map[string]Channel, error) {
	data, err := os.ReadFile(filepath.Join(l.root, "channels.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read channels.json: %w", err)
	}
	var channels []Channel
	if err := json.Unmarshal(data, &channels); err != nil {
		return nil, fmt.Errorf("failed to parse channels.json: %w", err)
	}
	byName := make(map[string]Channel, len(channels))
	for _, ch := range channels {
		byName[ch.Name] = ch
	}
	return byName, nil
}

// Messages loads every message file in the channel's directory, sorted by
// timestamp with duplicate timestamps removed. Thread replies commonly appear
// in more than one day file, so duplicates are expected, not an error.
func (l *Loader) Messages(channel string) ([]Message, error) {
	dir := filepath.Join(l.root, channel)
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var msgs []Message
	for _, jf := range files {
		data, err := os.ReadFile(jf)
		if err != nil {
			l.logger.Warn("Failed to read message file",
				zap.String("channel", channel),
				zap.String("file", jf),
				zap.Error(err))
			continue
		}
		var batch []Message
		if err := json.Unmarshal(data, &batch); err != nil {
			l.logger.Warn("Failed to parse message file",
				zap.String("channel", channel),
				zap.String("file", jf),
				zap.Error(err))
			continue
		}
		msgs = append(msgs, batch...)
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return TSFloat(msgs[i].TS) < TSFloat(msgs[j].TS)
	})

	seen := make(map[string]bool, len(msgs))
	deduped := msgs[:0]
	duplicates := 0
	for _, m := range msgs {
		if m.TS == "" {
			deduped = append(deduped, m)
			continue
		}
		if seen[m.TS] {
			duplicates++
			continue
		}
		seen[m.TS] = true
		deduped = append(deduped, m)
	}
	if duplicates > 0 {
		l.logger.Info("Removed duplicate messages",
			zap.String("channel", channel),
			zap.Int("duplicates", duplicates))
	}

	return deduped, nil
}

// ChannelDirs lists the channel directories present in the export.
func (l *Loader) ChannelDirs() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}
