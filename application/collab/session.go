// Package collab implements the collaboration sync engine: presence
// tracking, escalation from a lightweight presence channel to a full sync
// channel when at least two participants are present, and cursor plus
// live-change propagation.
package collab

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"mindmeld/application/ports"
	"mindmeld/domain/core/valueobjects"
	"mindmeld/domain/events"
)

// State is the session's collaboration mode
type State int

const (
	// StateSolo keeps only the presence subscription open; no cursor or
	// live-change traffic flows.
	StateSolo State = iota
	// StateCollaborating is entered the moment the roster reaches two
	// distinct participants; a second, heavier channel carries cursors and
	// live changes.
	StateCollaborating
)

const (
	// Network cursor sends are throttled to ~60 Hz with trailing-edge
	// coalescing; the local cursor itself updates unthrottled.
	cursorSendInterval = 16667 * time.Microsecond

	// A remote cursor not refreshed within this window is expired locally.
	cursorTTL = 3 * time.Second
)

// Session is one document's collaboration state: channel handles, roster,
// cursor map, and timers. One Session per open document, constructed at
// document-open and torn down at document-close; never shared across
// documents. All state is serialized through the session mutex, mirroring the
// single event queue the protocol assumes.
type Session struct {
	docID     string
	local     ports.Participant
	transport ports.Transport
	logger    *zap.Logger

	mu       sync.Mutex
	presence ports.Channel
	syncCh   ports.Channel
	roster   map[string]events.PresenceMeta
	cursors  map[string]*RemoteCursor
	closed   bool

	localCursor  valueobjects.Position
	outSeq       uint64
	lastSend     time.Time
	pending      *valueobjects.Position
	pendingTimer *time.Timer
	expiryTimers map[string]*time.Timer

	onRemoteChange func(events.LiveChange)
	onStateChange  func(State)

	entropy *ulid.MonotonicEntropy

	// Overridable in tests.
	sendInterval time.Duration
	ttl          time.Duration
	now          func() time.Time
}

// NewSession creates a session for one open document. Call Start to begin
// presence tracking.
func NewSession(docID string, local ports.Participant, transport ports.Transport, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		docID:     docID,
		local:     local,
		transport: transport,
		logger: logger.With(
			zap.String("docID", docID),
			zap.String("userID", local.UserID),
		),
		roster:       map[string]events.PresenceMeta{},
		cursors:      map[string]*RemoteCursor{},
		expiryTimers: map[string]*time.Timer{},
		entropy:      ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		sendInterval: cursorSendInterval,
		ttl:          cursorTTL,
		now:          time.Now,
	}
}

// OnRemoteChange registers the callback that hands inbound live changes to
// the mutation pipeline. Direct method call, no event bus: both live in the
// same process.
func (s *Session) OnRemoteChange(fn func(events.LiveChange)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRemoteChange = fn
}

// OnStateChange registers a callback invoked on every solo/collaborating
// transition
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = fn
}

// Start opens the lightweight presence channel and announces the local
// participant
func (s *Session) Start(ctx context.Context) error {
	ch := s.transport.Channel("presence:"+s.docID, ports.ChannelConfig{})
	ch.OnPresence(s.handlePresence)

	if err := ch.Subscribe(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.presence = ch
	s.mu.Unlock()

	if err := ch.Track(ctx, s.localMeta()); err != nil {
		// Best-effort: presence will be re-announced on the next roster
		// event; the session stays usable for local editing.
		s.logger.Warn("presence track failed", zap.Error(err))
	}
	return nil
}

// State returns the current collaboration mode
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncCh != nil {
		return StateCollaborating
	}
	return StateSolo
}

// Roster returns the current participant set, local participant included
func (s *Session) Roster() []events.PresenceMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.PresenceMeta, 0, len(s.roster))
	for _, meta := range s.roster {
		out = append(out, meta)
	}
	return out
}

// BroadcastChange sends one live change to collaborators. No-op in solo
// mode. Best-effort: failures are logged and never affect local state.
func (s *Session) BroadcastChange(ctx context.Context, change events.LiveChange) {
	s.mu.Lock()
	ch := s.syncCh
	if ch == nil {
		s.mu.Unlock()
		return
	}
	change.ChangeID = ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
	change.OriginID = s.local.UserID
	change.OriginName = s.local.DisplayName
	change.SentAt = s.now()
	s.mu.Unlock()

	if err := ch.Broadcast(ctx, events.EventLiveChange, change); err != nil {
		s.logger.Warn("live change broadcast failed",
			zap.String("target", change.TargetID),
			zap.String("action", string(change.Action)),
			zap.Error(err),
		)
	}
}

// BroadcastChanges sends a batch of live changes in order
func (s *Session) BroadcastChanges(ctx context.Context, changes []events.LiveChange) {
	for _, change := range changes {
		s.BroadcastChange(ctx, change)
	}
}

// Close tears the session down: both channels, the cursor map, and every
// scheduled timer
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	presence := s.presence
	syncCh := s.syncCh
	s.presence = nil
	s.syncCh = nil
	s.clearTimersLocked()
	s.cursors = map[string]*RemoteCursor{}
	s.mu.Unlock()

	var err error
	if syncCh != nil {
		err = syncCh.Close(ctx)
	}
	if presence != nil {
		if cerr := presence.Close(ctx); err == nil {
			err = cerr
		}
	}
	return err
}

// handlePresence tracks the roster and drives channel escalation
func (s *Session) handlePresence(ev ports.PresenceEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	switch ev.Type {
	case ports.PresenceSync:
		s.roster = make(map[string]events.PresenceMeta, len(ev.Roster))
		for _, meta := range ev.Roster {
			s.roster[meta.UserID] = meta
		}
	case ports.PresenceJoin:
		s.roster[ev.Meta.UserID] = ev.Meta
	case ports.PresenceLeave:
		delete(s.roster, ev.Meta.UserID)
		s.dropCursorLocked(ev.Meta.UserID)
	}

	var transitioned *State
	if len(s.roster) >= 2 && s.syncCh == nil {
		s.escalateLocked()
		state := StateCollaborating
		transitioned = &state
	} else if len(s.roster) < 2 && s.syncCh != nil {
		s.deescalateLocked()
		state := StateSolo
		transitioned = &state
	}
	notify := s.onStateChange
	s.mu.Unlock()

	if transitioned != nil && notify != nil {
		notify(*transitioned)
	}
}

// escalateLocked opens the heavy sync channel. A fresh channel is created on
// every escalation; a torn-down one is never revived.
func (s *Session) escalateLocked() {
	ch := s.transport.Channel("sync:"+s.docID, ports.ChannelConfig{SelfBroadcast: false})
	ch.OnBroadcast(events.EventCursor, s.handleCursor)
	ch.OnBroadcast(events.EventLiveChange, s.handleLiveChange)

	ctx := context.Background()
	if err := ch.Subscribe(ctx); err != nil {
		s.logger.Warn("sync channel subscribe failed", zap.Error(err))
		return
	}
	// Re-announce identity on the heavy channel from the presence roster;
	// no extra identity lookup.
	if err := ch.Track(ctx, s.localMetaLocked()); err != nil {
		s.logger.Warn("sync channel track failed", zap.Error(err))
	}

	s.syncCh = ch
	s.logger.Info("collaboration session escalated",
		zap.Int("participants", len(s.roster)),
	)
}

// deescalateLocked tears the heavy channel down to avoid idle broadcast
// overhead for single-user editing
func (s *Session) deescalateLocked() {
	ch := s.syncCh
	s.syncCh = nil
	s.clearTimersLocked()
	s.cursors = map[string]*RemoteCursor{}

	go func() {
		if err := ch.Close(context.Background()); err != nil {
			s.logger.Warn("sync channel close failed", zap.Error(err))
		}
	}()
	s.logger.Info("collaboration session back to solo")
}

// handleLiveChange applies an inbound remote mutation via the registered
// pipeline callback. Own-origin messages are dropped as defense in depth; the
// transport is already configured not to echo.
func (s *Session) handleLiveChange(payload []byte) {
	var change events.LiveChange
	if err := json.Unmarshal(payload, &change); err != nil {
		s.logger.Warn("malformed live change dropped", zap.Error(err))
		return
	}
	if change.OriginID == s.local.UserID {
		return
	}

	s.mu.Lock()
	apply := s.onRemoteChange
	s.mu.Unlock()

	if apply != nil {
		apply(change)
	}
}

func (s *Session) localMeta() events.PresenceMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localMetaLocked()
}

func (s *Session) localMetaLocked() events.PresenceMeta {
	if meta, ok := s.roster[s.local.UserID]; ok {
		return meta
	}
	return events.PresenceMeta{
		UserID:      s.local.UserID,
		DisplayName: s.local.DisplayName,
		AvatarRef:   s.local.AvatarRef,
	}
}

func (s *Session) clearTimersLocked() {
	if s.pendingTimer != nil {
		s.pendingTimer.Stop()
		s.pendingTimer = nil
	}
	s.pending = nil
	for id, timer := range s.expiryTimers {
		timer.Stop()
		delete(s.expiryTimers, id)
	}
}
