package export

import (
	"strconv"
	"time"
)

// Message subtypes emitted by the source platform. Bot subtypes identify
// messages from integrations; system subtypes are join/leave notices and
// similar bookkeeping that should never be replayed.
const (
	SubtypeBotMessage   = "bot_message"
	SubtypeChannelJoin  = "channel_join"
	SubtypeChannelLeave = "channel_leave"
)

var botSubtypes = map[string]bool{
	SubtypeBotMessage: true,
	"bot_add":         true,
	"bot_remove":      true,
}

var systemSubtypes = map[string]bool{
	SubtypeChannelJoin:   true,
	SubtypeChannelLeave:  true,
	"channel_topic":      true,
	"channel_purpose":    true,
	"channel_name":       true,
	"channel_archive":    true,
	"channel_unarchive":  true,
	"group_join":         true,
	"group_leave":        true,
	"pinned_item":        true,
	"unpinned_item":      true,
}

// IsBotSubtype reports whether the subtype marks a system bot message.
func IsBotSubtype(subtype string) bool { return botSubtypes[subtype] }

// IsSystemSubtype reports whether the subtype marks a join/leave style notice.
func IsSystemSubtype(subtype string) bool { return systemSubtypes[subtype] }

// User is a record from the export's users.json.
type User struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	RealName string  `json:"real_name"`
	IsBot    bool    `json:"is_bot"`
	IsApp    bool    `json:"is_app_user"`
	Deleted  bool    `json:"deleted"`
	Profile  Profile `json:"profile"`
}

// Profile is the nested profile block inside a user record.
type Profile struct {
	RealName string `json:"real_name"`
	Email    string `json:"email"`
}

// Channel is a record from the export's channels.json.
type Channel struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Created int64    `json:"created"`
	General bool     `json:"is_general"`
	Members []string `json:"members"`
	Purpose TextVal  `json:"purpose"`
	Topic   TextVal  `json:"topic"`
}

// TextVal wraps the {value: …} shape the export uses for purpose/topic.
type TextVal struct {
	Value string `json:"value"`
}

// Reaction is a per-emoji reaction entry inside a message.
type Reaction struct {
	Name  string   `json:"name"`
	Users []string `json:"users"`
	Count int      `json:"count"`
}

// File is an attachment reference inside a message.
type File struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	User     string `json:"user"`
	MimeType string `json:"mimetype"`
	URL      string `json:"url_private_download"`
	Size     int64  `json:"size"`
}

// Attachment is a forwarded/unfurled attachment that may itself carry files.
type Attachment struct {
	IsShare     bool   `json:"is_share"`
	IsMsgUnfurl bool   `json:"is_msg_unfurl"`
	Files       []File `json:"files"`
	Text        string `json:"text"`
}

// Edited records the edit timestamp of an edited message.
type Edited struct {
	TS   string `json:"ts"`
	User string `json:"user"`
}

// Message is a single record from a channel's message files.
type Message struct {
	Type        string       `json:"type"`
	Subtype     string       `json:"subtype"`
	TS          string       `json:"ts"`
	User        string       `json:"user"`
	BotID       string       `json:"bot_id"`
	Username    string       `json:"username"`
	Text        string       `json:"text"`
	ThreadTS    string       `json:"thread_ts"`
	Edited      *Edited      `json:"edited"`
	Files       []File       `json:"files"`
	Attachments []Attachment `json:"attachments"`
	Reactions   []Reaction   `json:"reactions"`
}

// IsEdited reports whether the message carries an edit timestamp.
func (m *Message) IsEdited() bool {
	return m.Edited != nil && m.Edited.TS != ""
}

// EditedTS returns the edit timestamp, or "" when the message is unedited.
func (m *Message) EditedTS() string {
	if m.Edited == nil {
		return ""
	}
	return m.Edited.TS
}

// IsThreadReply reports whether the message replies to an earlier thread root.
func (m *Message) IsThreadReply() bool {
	return m.ThreadTS != "" && m.ThreadTS != m.TS
}

// AllFiles returns the message's own files plus any files nested inside
// forwarded or unfurled attachments.
func (m *Message) AllFiles() []File {
	if len(m.Attachments) == 0 {
		return m.Files
	}
	files := append([]File(nil), m.Files...)
	for _, a := range m.Attachments {
		if a.IsShare || a.IsMsgUnfurl {
			files = append(files, a.Files...)
		}
	}
	return files
}

// TSTime converts a source timestamp ("1609459200.000123") to a time.Time.
// A malformed timestamp yields the zero time.
func TSTime(ts string) time.Time {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Time{}
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// TSFloat converts a source timestamp to its numeric form for ordering.
// Malformed timestamps sort first.
func TSFloat(ts string) float64 {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return 0
	}
	return f
}
