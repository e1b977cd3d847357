// Package ports defines the interfaces the application layer consumes.
// Implementations live in infrastructure; the application never imports them.
package ports

import (
	"context"

	"mindmeld/domain/events"
)

// PresenceEventType is the presence sub-protocol event family
type PresenceEventType string

const (
	PresenceJoin  PresenceEventType = "join"
	PresenceLeave PresenceEventType = "leave"
	// PresenceSync carries the full roster on (re)subscribe
	PresenceSync PresenceEventType = "sync"
)

// PresenceEvent is delivered for every roster change on a subscribed channel
type PresenceEvent struct {
	Type   PresenceEventType
	Meta   events.PresenceMeta
	Roster []events.PresenceMeta
}

// ChannelConfig controls per-channel behavior at creation time
type ChannelConfig struct {
	// SelfBroadcast echoes a sender's own broadcasts back to its own
	// subscription. Sync channels leave it false; receivers additionally
	// drop own-origin messages as defense in depth.
	SelfBroadcast bool
}

// Channel is one named pub/sub channel: a presence sub-protocol carrying
// small identity metadata per participant, and a broadcast sub-protocol
// carrying named JSON events. Handlers must be registered before Subscribe;
// they are invoked serially per channel in delivery order.
type Channel interface {
	// OnPresence registers the roster change handler
	OnPresence(fn func(PresenceEvent))

	// OnBroadcast registers a handler for one named broadcast event
	OnBroadcast(event string, fn func(payload []byte))

	// Subscribe opens the channel. Join/leave events start flowing after
	// this returns; a sync event with the current roster is delivered
	// first.
	Subscribe(ctx context.Context) error

	// Track announces (or refreshes) the local participant's presence
	Track(ctx context.Context, meta events.PresenceMeta) error

	// Broadcast publishes a named event. Best-effort: a failed send never
	// rolls back local state.
	Broadcast(ctx context.Context, event string, payload interface{}) error

	// Participants returns the current roster
	Participants() []events.PresenceMeta

	// Close unsubscribes and releases the channel
	Close(ctx context.Context) error
}

// Transport is the pub/sub primitive consumed by the collaboration engine.
// Channels are cheap to create; nothing flows until Subscribe.
type Transport interface {
	Channel(name string, cfg ChannelConfig) Channel
}
