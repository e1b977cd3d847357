package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mindmeld/application/ports"
	"mindmeld/pkg/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 256 * 1024
	sendBuffer     = 64
)

// Server exposes the broker over a websocket endpoint. Each connection is
// one transport client: it can hold many channel subscriptions, all
// multiplexed over the single socket.
type Server struct {
	broker   *Broker
	logger   *zap.Logger
	limiter  *auth.TokenBucketLimiter
	upgrader websocket.Upgrader
}

// NewServer creates a websocket front for the broker. Broadcast frames are
// rate limited per connection; cursor traffic is already throttled client
// side, so the bucket only has to absorb bursts.
func NewServer(broker *Broker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		broker:  broker,
		logger:  logger,
		limiter: auth.NewTokenBucketLimiter(240, 10*time.Millisecond),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// wsSession is the server-side state of one websocket connection. The send
// channel is never closed: broker delivery runs on publisher goroutines that
// may race teardown, so the write pump is stopped through done instead.
type wsSession struct {
	server   *Server
	conn     *websocket.Conn
	clientID string
	send     chan []byte
	done     chan struct{}

	mu     sync.Mutex
	subs   map[string]uint64
	closed bool
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sess := &wsSession{
		server:   s,
		conn:     conn,
		clientID: uuid.NewString(),
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		subs:     map[string]uint64{},
	}
	s.logger.Info("websocket connected",
		zap.String("client_id", sess.clientID),
		zap.String("remote", r.RemoteAddr),
	)

	go sess.writePump()
	sess.readPump()
}

func (c *wsSession) readPump() {
	defer c.teardown()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn("websocket read failed",
					zap.String("client_id", c.clientID),
					zap.Error(err),
				)
			}
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.server.logger.Warn("malformed frame dropped",
				zap.String("client_id", c.clientID),
				zap.Error(err),
			)
			continue
		}
		c.handle(f)
	}
}

func (c *wsSession) handle(f frame) {
	switch f.Type {
	case frameSubscribe:
		channel := f.Channel
		c.mu.Lock()
		old, dup := c.subs[channel]
		delete(c.subs, channel)
		c.mu.Unlock()
		if dup {
			// Re-subscribing a name supersedes the previous registration.
			// The client recreates channels on session re-escalation; the
			// old handle's late unsubscribe must not kill the new one.
			c.server.broker.unsubscribe(channel, old)
		}
		sub := &subscriber{
			clientID:      c.clientID,
			selfBroadcast: f.SelfBroadcast,
			onBroadcast: func(event string, payload []byte) {
				c.enqueue(frame{Type: frameBroadcast, Channel: channel, Event: event, Payload: payload})
			},
			onPresence: func(ev ports.PresenceEvent) {
				out := frame{Type: framePresence, Channel: channel, Presence: ev.Type, Roster: ev.Roster}
				if ev.Type != ports.PresenceSync {
					meta := ev.Meta
					out.Meta = &meta
				}
				c.enqueue(out)
			},
		}
		id := c.server.broker.subscribe(channel, sub)
		c.mu.Lock()
		c.subs[channel] = id
		c.mu.Unlock()

	case frameUnsubscribe:
		c.mu.Lock()
		id, ok := c.subs[f.Channel]
		delete(c.subs, f.Channel)
		c.mu.Unlock()
		if ok {
			c.server.broker.unsubscribe(f.Channel, id)
		}

	case frameTrack:
		if f.Meta == nil {
			return
		}
		c.mu.Lock()
		id, ok := c.subs[f.Channel]
		c.mu.Unlock()
		if ok {
			c.server.broker.track(f.Channel, id, *f.Meta)
		}

	case frameBroadcast:
		if !c.server.limiter.Allow(c.clientID) {
			c.server.metricsDrop(c.clientID, f.Channel)
			return
		}
		c.server.broker.publish(f.Channel, c.clientID, f.Event, f.Payload)

	default:
		c.server.logger.Warn("unknown frame type",
			zap.String("client_id", c.clientID),
			zap.String("frame_type", string(f.Type)),
		)
	}
}

// enqueue hands a frame to the write pump. A slow consumer loses frames
// rather than blocking broker delivery; a torn-down connection drops them
// silently.
func (c *wsSession) enqueue(f frame) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		c.server.metricsDrop(c.clientID, f.Channel)
	}
}

func (s *Server) metricsDrop(clientID, channel string) {
	s.broker.metrics.BroadcastFailures.Inc()
	s.logger.Warn("send buffer full, frame dropped",
		zap.String("client_id", clientID),
		zap.String("channel", channel),
	)
}

func (c *wsSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// teardown drops every subscription held by the connection so tracked
// presences leave their channels
func (c *wsSession) teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = map[string]uint64{}
	c.mu.Unlock()

	for channel, id := range subs {
		c.server.broker.unsubscribe(channel, id)
	}
	c.server.limiter.Forget(c.clientID)
	close(c.done)
	c.server.logger.Info("websocket disconnected", zap.String("client_id", c.clientID))
}
