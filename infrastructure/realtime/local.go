package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"mindmeld/application/ports"
	"mindmeld/domain/events"
	apperrors "mindmeld/pkg/errors"
)

// Client returns a transport bound to this broker. Each client has its own
// identity for self-broadcast exclusion, so two clients in one process (as
// in tests) behave exactly like two remote connections.
func (b *Broker) Client() ports.Transport {
	return &localTransport{broker: b, clientID: uuid.NewString()}
}

type localTransport struct {
	broker   *Broker
	clientID string
}

func (t *localTransport) Channel(name string, cfg ports.ChannelConfig) ports.Channel {
	return &localChannel{
		broker:   t.broker,
		clientID: t.clientID,
		name:     name,
		cfg:      cfg,
		handlers: map[string]func([]byte){},
	}
}

// localChannel is one subscription of one client on one broker channel
type localChannel struct {
	broker   *Broker
	clientID string
	name     string
	cfg      ports.ChannelConfig

	mu         sync.Mutex
	onPresence func(ports.PresenceEvent)
	handlers   map[string]func([]byte)
	subID      uint64
	subscribed bool
	closed     bool
}

func (c *localChannel) OnPresence(fn func(ports.PresenceEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPresence = fn
}

func (c *localChannel) OnBroadcast(event string, fn func(payload []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = fn
}

func (c *localChannel) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperrors.NewConflictError("channel is closed")
	}
	if c.subscribed {
		c.mu.Unlock()
		return nil
	}
	c.subscribed = true
	c.mu.Unlock()

	sub := &subscriber{
		clientID:      c.clientID,
		selfBroadcast: c.cfg.SelfBroadcast,
		onBroadcast:   c.dispatch,
		onPresence:    c.dispatchPresence,
	}
	id := c.broker.subscribe(c.name, sub)

	c.mu.Lock()
	c.subID = id
	c.mu.Unlock()
	return nil
}

func (c *localChannel) Track(ctx context.Context, meta events.PresenceMeta) error {
	c.mu.Lock()
	if !c.subscribed || c.closed {
		c.mu.Unlock()
		return apperrors.NewConflictError("track requires an open subscription")
	}
	id := c.subID
	c.mu.Unlock()

	c.broker.track(c.name, id, meta)
	return nil
}

func (c *localChannel) Broadcast(ctx context.Context, event string, payload interface{}) error {
	c.mu.Lock()
	if !c.subscribed || c.closed {
		c.mu.Unlock()
		return apperrors.NewConflictError("broadcast requires an open subscription")
	}
	c.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Wrap(err, "encode broadcast payload")
	}
	c.broker.publish(c.name, c.clientID, event, data)
	return nil
}

func (c *localChannel) Participants() []events.PresenceMeta {
	return c.broker.participants(c.name)
}

func (c *localChannel) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	wasSubscribed := c.subscribed
	id := c.subID
	c.subscribed = false
	c.mu.Unlock()

	if wasSubscribed {
		c.broker.unsubscribe(c.name, id)
	}
	return nil
}

func (c *localChannel) dispatch(event string, payload []byte) {
	c.mu.Lock()
	fn := c.handlers[event]
	closed := c.closed
	c.mu.Unlock()
	if closed || fn == nil {
		return
	}
	fn(payload)
}

func (c *localChannel) dispatchPresence(ev ports.PresenceEvent) {
	c.mu.Lock()
	fn := c.onPresence
	closed := c.closed
	c.mu.Unlock()
	if closed || fn == nil {
		return
	}
	fn(ev)
}
