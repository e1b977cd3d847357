package collab

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"mindmeld/application/ports"
	"mindmeld/domain/core/valueobjects"
	"mindmeld/domain/events"
)

// RemoteCursor is one collaborator's last known pointer position. Created or
// refreshed on each inbound cursor broadcast; expired locally when no newer
// broadcast supersedes it within the TTL.
type RemoteCursor struct {
	UserID      string
	DisplayName string
	AvatarRef   string
	Position    valueobjects.Position
	LastSeenAt  time.Time

	// seq is the sender's monotonic counter; the expiry timer compares it
	// so an older scheduled timeout can never remove a refreshed cursor.
	seq uint64
}

// PublishCursor updates the local cursor state immediately and broadcasts it
// in canvas space. The caller converts from screen coordinates (pan/zoom)
// before calling. Network sends are throttled to one per ~16.7 ms; a send
// arriving too soon is deferred to the next frame with the latest position,
// never dropped.
func (s *Session) PublishCursor(ctx context.Context, pos valueobjects.Position) {
	s.mu.Lock()
	s.localCursor = pos

	if s.syncCh == nil || s.closed {
		s.mu.Unlock()
		return
	}

	now := s.now()
	if elapsed := now.Sub(s.lastSend); elapsed >= s.sendInterval && s.pendingTimer == nil {
		payload := s.nextCursorLocked(pos, now)
		ch := s.syncCh
		s.mu.Unlock()
		s.sendCursor(ctx, ch, payload)
		return
	}

	// Trailing edge: remember the newest position and flush once the
	// interval elapses.
	p := pos
	s.pending = &p
	if s.pendingTimer == nil {
		wait := s.sendInterval - now.Sub(s.lastSend)
		if wait < 0 {
			wait = 0
		}
		s.pendingTimer = time.AfterFunc(wait, s.flushPendingCursor)
	}
	s.mu.Unlock()
}

// LocalCursor returns the unthrottled local cursor position
func (s *Session) LocalCursor() valueobjects.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localCursor
}

// Cursors returns the live collaborator cursors for rendering
func (s *Session) Cursors() []RemoteCursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RemoteCursor, 0, len(s.cursors))
	for _, c := range s.cursors {
		out = append(out, *c)
	}
	return out
}

func (s *Session) flushPendingCursor() {
	s.mu.Lock()
	s.pendingTimer = nil
	if s.closed || s.syncCh == nil || s.pending == nil {
		s.pending = nil
		s.mu.Unlock()
		return
	}
	pos := *s.pending
	s.pending = nil
	payload := s.nextCursorLocked(pos, s.now())
	ch := s.syncCh
	s.mu.Unlock()

	s.sendCursor(context.Background(), ch, payload)
}

func (s *Session) nextCursorLocked(pos valueobjects.Position, now time.Time) events.CursorBroadcast {
	s.outSeq++
	s.lastSend = now
	meta := s.localMetaLocked()
	return events.CursorBroadcast{
		UserID:      meta.UserID,
		DisplayName: meta.DisplayName,
		AvatarRef:   meta.AvatarRef,
		Position:    pos,
		Seq:         s.outSeq,
		SentAt:      now,
	}
}

func (s *Session) sendCursor(ctx context.Context, ch ports.Channel, payload events.CursorBroadcast) {
	if err := ch.Broadcast(ctx, events.EventCursor, payload); err != nil {
		s.logger.Debug("cursor broadcast failed", zap.Error(err))
	}
}

// handleCursor stores an inbound collaborator cursor, keyed by sender id,
// and (re)arms its expiry timer
func (s *Session) handleCursor(payload []byte) {
	var cursor events.CursorBroadcast
	if err := json.Unmarshal(payload, &cursor); err != nil {
		s.logger.Warn("malformed cursor broadcast dropped", zap.Error(err))
		return
	}
	if cursor.UserID == s.local.UserID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.syncCh == nil {
		return
	}

	if existing, ok := s.cursors[cursor.UserID]; ok && existing.seq >= cursor.Seq {
		// Out-of-order delivery; the stored cursor is newer.
		return
	}

	s.cursors[cursor.UserID] = &RemoteCursor{
		UserID:      cursor.UserID,
		DisplayName: cursor.DisplayName,
		AvatarRef:   cursor.AvatarRef,
		Position:    cursor.Position,
		LastSeenAt:  s.now(),
		seq:         cursor.Seq,
	}
	s.armExpiryLocked(cursor.UserID, cursor.Seq)
}

// armExpiryLocked schedules stale-cursor removal. The timer captures the seq
// it was armed for and checks freshness before deleting, so a timeout firing
// after a newer broadcast arrived is a no-op.
func (s *Session) armExpiryLocked(userID string, seq uint64) {
	if old, ok := s.expiryTimers[userID]; ok {
		old.Stop()
	}
	s.expiryTimers[userID] = time.AfterFunc(s.ttl, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		if current, ok := s.cursors[userID]; ok && current.seq == seq {
			delete(s.cursors, userID)
			delete(s.expiryTimers, userID)
		}
	})
}

func (s *Session) dropCursorLocked(userID string) {
	delete(s.cursors, userID)
	if timer, ok := s.expiryTimers[userID]; ok {
		timer.Stop()
		delete(s.expiryTimers, userID)
	}
}
