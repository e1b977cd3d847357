// Package realtime implements the pub/sub transport the collaboration engine
// consumes: an in-process broker with named channels, a presence
// sub-protocol, and broadcast with sender self-exclusion, plus websocket
// server and client adapters exposing the same broker across processes.
package realtime

import (
	"sync"

	"go.uber.org/zap"

	"mindmeld/application/ports"
	"mindmeld/domain/events"
	"mindmeld/pkg/observability"
)

// Broker maintains named channels and fans broadcasts and presence events
// out to their subscribers. Delivery is synchronous on the publisher's
// goroutine, after internal locks are released, in publish order per
// channel — the only ordering guarantee the protocol offers.
type Broker struct {
	mu       sync.Mutex
	channels map[string]*brokerChannel
	nextSub  uint64
	logger   *zap.Logger
	metrics  *observability.RealtimeMetrics
}

type brokerChannel struct {
	name string
	subs map[uint64]*subscriber
}

// subscriber is one transport client's registration on one channel
type subscriber struct {
	id            uint64
	clientID      string
	selfBroadcast bool
	meta          *events.PresenceMeta

	onBroadcast func(event string, payload []byte)
	onPresence  func(ports.PresenceEvent)
}

// NewBroker creates an empty broker
func NewBroker(logger *zap.Logger, metrics *observability.RealtimeMetrics) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NopRealtimeMetrics()
	}
	return &Broker{
		channels: map[string]*brokerChannel{},
		logger:   logger,
		metrics:  metrics,
	}
}

// subscribe registers a subscriber and delivers the current roster as a
// presence sync event
func (b *Broker) subscribe(channel string, sub *subscriber) uint64 {
	b.mu.Lock()
	ch, ok := b.channels[channel]
	if !ok {
		ch = &brokerChannel{name: channel, subs: map[uint64]*subscriber{}}
		b.channels[channel] = ch
		b.metrics.ActiveChannels.Inc()
	}
	b.nextSub++
	sub.id = b.nextSub
	ch.subs[sub.id] = sub
	roster := ch.rosterLocked()
	b.mu.Unlock()

	b.logger.Debug("subscriber joined channel",
		zap.String("channel", channel),
		zap.Uint64("sub", sub.id),
	)

	if sub.onPresence != nil {
		sub.onPresence(ports.PresenceEvent{Type: ports.PresenceSync, Roster: roster})
	}
	return sub.id
}

// unsubscribe removes a subscriber, announcing a leave if it was tracked
func (b *Broker) unsubscribe(channel string, subID uint64) {
	b.mu.Lock()
	ch, ok := b.channels[channel]
	if !ok {
		b.mu.Unlock()
		return
	}
	sub, ok := ch.subs[subID]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(ch.subs, subID)
	if len(ch.subs) == 0 {
		delete(b.channels, channel)
		b.metrics.ActiveChannels.Dec()
	}
	var meta *events.PresenceMeta
	if sub.meta != nil {
		meta = sub.meta
		b.metrics.Participants.Dec()
	}
	targets, roster := ch.deliveryLocked()
	b.mu.Unlock()

	if meta == nil {
		return
	}
	for _, t := range targets {
		if t.onPresence != nil {
			t.onPresence(ports.PresenceEvent{Type: ports.PresenceLeave, Meta: *meta, Roster: roster})
		}
	}
}

// track announces (or refreshes) a subscriber's presence to every subscriber
// on the channel, itself included
func (b *Broker) track(channel string, subID uint64, meta events.PresenceMeta) {
	b.mu.Lock()
	ch, ok := b.channels[channel]
	if !ok {
		b.mu.Unlock()
		return
	}
	sub, ok := ch.subs[subID]
	if !ok {
		b.mu.Unlock()
		return
	}
	if sub.meta == nil {
		b.metrics.Participants.Inc()
	}
	m := meta
	sub.meta = &m
	targets, roster := ch.deliveryLocked()
	b.mu.Unlock()

	for _, t := range targets {
		if t.onPresence != nil {
			t.onPresence(ports.PresenceEvent{Type: ports.PresenceJoin, Meta: meta, Roster: roster})
		}
	}
}

// publish fans a broadcast out to the channel, excluding the sender's own
// subscriptions unless it opted into self-broadcast
func (b *Broker) publish(channel, fromClientID, event string, payload []byte) {
	b.mu.Lock()
	ch, ok := b.channels[channel]
	if !ok {
		b.mu.Unlock()
		return
	}
	targets := make([]*subscriber, 0, len(ch.subs))
	for _, sub := range ch.subs {
		if sub.clientID == fromClientID && !sub.selfBroadcast {
			continue
		}
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, t := range targets {
		if t.onBroadcast == nil {
			b.metrics.BroadcastFailures.Inc()
			continue
		}
		t.onBroadcast(event, payload)
		b.metrics.BroadcastsSent.Inc()
	}
}

// participants returns the tracked roster of a channel
func (b *Broker) participants(channel string) []events.PresenceMeta {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[channel]
	if !ok {
		return nil
	}
	return ch.rosterLocked()
}

func (c *brokerChannel) rosterLocked() []events.PresenceMeta {
	seen := map[string]struct{}{}
	var roster []events.PresenceMeta
	for _, sub := range c.subs {
		if sub.meta == nil {
			continue
		}
		if _, dup := seen[sub.meta.UserID]; dup {
			continue
		}
		seen[sub.meta.UserID] = struct{}{}
		roster = append(roster, *sub.meta)
	}
	return roster
}

func (c *brokerChannel) deliveryLocked() ([]*subscriber, []events.PresenceMeta) {
	targets := make([]*subscriber, 0, len(c.subs))
	for _, sub := range c.subs {
		targets = append(targets, sub)
	}
	return targets, c.rosterLocked()
}
