// Package schedule arms delayed follow-up actions per chat, suppressing
// duplicates for the same (chat, kind) pair. Cancellation is advisory:
// timers are never removed, a fired timer that finds its registration
// gone does nothing, and handlers re-check their gating condition.
package schedule

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Action is a fired follow-up, delivered to the owning chat's handler.
type Action struct {
	ID     string
	ChatID int64
	Kind   string
}

// EmitFunc receives fired actions. The bot routes them into the chat's
// signal channel so timer handling is serialized with inbound events.
type EmitFunc func(Action)

type Scheduler struct {
	emit EmitFunc

	mu      sync.Mutex
	pending map[string]string // dedupe key -> armed action id
}

func New(emit EmitFunc) *Scheduler {
	return &Scheduler{
		emit:    emit,
		pending: map[string]string{},
	}
}

// Schedule arms kind for chatID after delay. If the same (chat, kind)
// is already outstanding this is a no-op and ok is false.
func (s *Scheduler) Schedule(chatID int64, kind string, delay time.Duration) (id string, ok bool) {
	key := dedupeKey(chatID, kind)

	s.mu.Lock()
	if _, outstanding := s.pending[key]; outstanding {
		s.mu.Unlock()
		return "", false
	}
	id = uuid.NewString()
	s.pending[key] = id
	s.mu.Unlock()

	time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.pending[key] != id {
			// cancelled or superseded since arming
			s.mu.Unlock()
			return
		}
		delete(s.pending, key)
		s.mu.Unlock()

		s.emit(Action{ID: id, ChatID: chatID, Kind: kind})
	})
	return id, true
}

// Cancel drops the registration for (chatID, kind). The timer still
// fires but emits nothing.
func (s *Scheduler) Cancel(chatID int64, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, dedupeKey(chatID, kind))
}

// Outstanding reports whether (chatID, kind) is currently armed.
func (s *Scheduler) Outstanding(chatID int64, kind string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[dedupeKey(chatID, kind)]
	return ok
}

func dedupeKey(chatID int64, kind string) string {
	return fmt.Sprintf("%d:%s", chatID, kind)
}
