// Package transcript accumulates per-turn transcription fragments from a live
// session, flushes them into immutable entries on turn completion, optionally
// translates them, and keeps the chronological transcript [Log].
package transcript

import "time"

// Role identifies who produced an entry.
type Role string

// Entry roles.
const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
)

// Entry is one immutable transcript line.
type Entry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`

	// Translation is the English rendering of Text, empty when none was
	// recorded.
	Translation string `json:"translation,omitempty"`

	// IsDictation marks entries produced by one-shot dictation rather than a
	// live turn.
	IsDictation bool `json:"is_dictation,omitempty"`
}

// HasTranslation reports whether a translation was recorded.
func (e Entry) HasTranslation() bool { return e.Translation != "" }
