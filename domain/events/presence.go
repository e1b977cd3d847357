package events

import (
	"time"

	"mindmeld/domain/core/valueobjects"
)

// Broadcast event names used on sync channels
const (
	EventCursor     = "cursor"
	EventLiveChange = "live_change"
)

// PresenceMeta is the small identity payload a participant announces on a
// channel. Remote identity is only ever read from what participants announce
// themselves; the core never looks identities up.
type PresenceMeta struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

// CursorBroadcast carries one participant's pointer position in canvas space.
// Seq is a monotonic per-sender counter; staleness comparisons use it instead
// of SentAt so clock skew between participants cannot expire a live cursor.
type CursorBroadcast struct {
	UserID      string                `json:"user_id"`
	DisplayName string                `json:"display_name"`
	AvatarRef   string                `json:"avatar_ref,omitempty"`
	Position    valueobjects.Position `json:"position"`
	Seq         uint64                `json:"seq"`
	SentAt      time.Time             `json:"sent_at"`
}
