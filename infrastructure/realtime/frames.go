package realtime

import (
	"encoding/json"

	"mindmeld/application/ports"
	"mindmeld/domain/events"
)

// frameType discriminates websocket frames in both directions
type frameType string

const (
	// client -> server
	frameSubscribe   frameType = "subscribe"
	frameUnsubscribe frameType = "unsubscribe"
	frameTrack       frameType = "track"
	// both directions
	frameBroadcast frameType = "broadcast"
	// server -> client
	framePresence frameType = "presence"
)

// frame is the websocket wire envelope. Every frame names its channel; the
// remaining fields depend on the type.
type frame struct {
	Type          frameType               `json:"type"`
	Channel       string                  `json:"channel"`
	SelfBroadcast bool                    `json:"self_broadcast,omitempty"`
	Event         string                  `json:"event,omitempty"`
	Payload       json.RawMessage         `json:"payload,omitempty"`
	Meta          *events.PresenceMeta    `json:"meta,omitempty"`
	Presence      ports.PresenceEventType `json:"presence,omitempty"`
	Roster        []events.PresenceMeta   `json:"roster,omitempty"`
}
