package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mindmeld/application/ports"
	"mindmeld/domain/events"
	apperrors "mindmeld/pkg/errors"
)

// WSTransport is a ports.Transport backed by a single websocket connection
// to a realtime server. All channels share the socket; frames are routed by
// channel name.
type WSTransport struct {
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	channels map[string]*wsChannel
	closed   bool
}

// Dial connects to a realtime server endpoint
func Dial(ctx context.Context, url string, header http.Header, logger *zap.Logger) (*WSTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, apperrors.NewNetworkError("dial realtime server", err)
	}
	t := &WSTransport{
		conn:     conn,
		logger:   logger,
		channels: map[string]*wsChannel{},
	}
	go t.readLoop()
	return t, nil
}

func (t *WSTransport) Channel(name string, cfg ports.ChannelConfig) ports.Channel {
	return &wsChannel{
		transport: t,
		name:      name,
		cfg:       cfg,
		handlers:  map[string]func([]byte){},
	}
}

// Close tears the connection down; the server drops every subscription
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.writeMu.Lock()
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()
	return t.conn.Close()
}

func (t *WSTransport) readLoop() {
	defer t.conn.Close()
	t.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				t.logger.Warn("realtime connection lost", zap.Error(err))
			}
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.logger.Warn("malformed frame dropped", zap.Error(err))
			continue
		}

		t.mu.Lock()
		ch := t.channels[f.Channel]
		t.mu.Unlock()
		if ch == nil {
			continue
		}

		switch f.Type {
		case frameBroadcast:
			ch.dispatch(f.Event, f.Payload)
		case framePresence:
			ev := ports.PresenceEvent{Type: f.Presence, Roster: f.Roster}
			if f.Meta != nil {
				ev.Meta = *f.Meta
			}
			ch.dispatchPresence(ev)
		}
	}
}

func (t *WSTransport) write(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return apperrors.Wrap(err, "encode frame")
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return apperrors.NewNetworkError("write frame", err)
	}
	return nil
}

// wsChannel mirrors localChannel over the socket. The server owns the
// roster; Participants reflects the latest presence frame seen.
type wsChannel struct {
	transport *WSTransport
	name      string
	cfg       ports.ChannelConfig

	mu         sync.Mutex
	onPresence func(ports.PresenceEvent)
	handlers   map[string]func([]byte)
	roster     []events.PresenceMeta
	subscribed bool
	closed     bool
}

func (c *wsChannel) OnPresence(fn func(ports.PresenceEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPresence = fn
}

func (c *wsChannel) OnBroadcast(event string, fn func(payload []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = fn
}

func (c *wsChannel) Subscribe(ctx context.Context) error {
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

	// Registration and the subscribe frame go out under the transport lock
	// so wire order always matches registration order; a racing Close of a
	// same-named predecessor cannot slip its unsubscribe frame in between.
	c.transport.mu.Lock()
	defer c.transport.mu.Unlock()
	c.transport.channels[c.name] = c
	return c.transport.write(frame{
		Type:          frameSubscribe,
		Channel:       c.name,
		SelfBroadcast: c.cfg.SelfBroadcast,
	})
}

func (c *wsChannel) Track(ctx context.Context, meta events.PresenceMeta) error {
	c.mu.Lock()
	if !c.subscribed || c.closed {
		c.mu.Unlock()
		return apperrors.NewConflictError("track requires an open subscription")
	}
	c.mu.Unlock()
	return c.transport.write(frame{Type: frameTrack, Channel: c.name, Meta: &meta})
}

func (c *wsChannel) Broadcast(ctx context.Context, event string, payload interface{}) error {
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
	return c.transport.write(frame{
		Type:    frameBroadcast,
		Channel: c.name,
		Event:   event,
		Payload: data,
	})
}

func (c *wsChannel) Participants() []events.PresenceMeta {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.PresenceMeta, len(c.roster))
	copy(out, c.roster)
	return out
}

func (c *wsChannel) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	wasSubscribed := c.subscribed
	c.subscribed = false
	c.mu.Unlock()

	c.transport.mu.Lock()
	defer c.transport.mu.Unlock()
	// A newer channel of the same name may already own the registration;
	// closing the stale handle must leave it untouched. The server-side
	// subscription now belongs to the replacement, so no unsubscribe frame
	// goes out either.
	if c.transport.channels[c.name] != c {
		return nil
	}
	delete(c.transport.channels, c.name)
	if !wasSubscribed {
		return nil
	}
	return c.transport.write(frame{Type: frameUnsubscribe, Channel: c.name})
}

func (c *wsChannel) dispatch(event string, payload []byte) {
	c.mu.Lock()
	fn := c.handlers[event]
	closed := c.closed
	c.mu.Unlock()
	if closed || fn == nil {
		return
	}
	fn(payload)
}

func (c *wsChannel) dispatchPresence(ev ports.PresenceEvent) {
	c.mu.Lock()
	c.roster = ev.Roster
	fn := c.onPresence
	closed := c.closed
	c.mu.Unlock()
	if closed || fn == nil {
		return
	}
	fn(ev)
}
