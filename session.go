package giftfunnel

import (
	"sync"
	"time"
)

// Stage is a node in the funnel's scripted flow.
type Stage string

const (
	StageStart             Stage = "START"
	StageGiftOffered       Stage = "GIFT_OFFERED"
	StageConfirmPending    Stage = "CONFIRM_PENDING"
	StageAccessGranted     Stage = "ACCESS_GRANTED"
	StageVipOffered        Stage = "VIP_OFFERED"
	StageVipChoicePending  Stage = "VIP_CHOICE_PENDING"
	StageVipVerdictPending Stage = "VIP_VERDICT_PENDING"
	StageVipGranted        Stage = "VIP_GRANTED"
)

// Session tracks one chat's progress through the funnel. A session is
// created on first inbound event and lives until the process exits.
// Fields are only touched from the chat's own handler goroutine.
type Session struct {
	ChatID    int64
	UserName  string
	FirstName string
	StartedAt time.Time
	LastSeen  time.Time

	Stage Stage

	// AwaitingVerdict gates proof submissions and the VIP reminder.
	AwaitingVerdict bool
	// VerdictInFlight is set before the oracle call and cleared once
	// the verdict is fully processed, so a second submission cannot
	// start a judge run while one is outstanding.
	VerdictInFlight bool
}

// Registry owns every live session, replacing the ambient global sets
// the flow would otherwise accumulate.
type Registry struct {
	mu sync.RWMutex
	m  map[int64]*Session
}

func NewRegistry() *Registry {
	return &Registry{m: map[int64]*Session{}}
}

func (r *Registry) Get(chatID int64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.m[chatID]
	return sess, ok
}

func (r *Registry) GetOrCreate(chatID int64) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.m[chatID]; ok {
		return sess
	}
	sess := &Session{
		ChatID:    chatID,
		StartedAt: time.Now(),
		Stage:     StageStart,
	}
	r.m[chatID] = sess
	return sess
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}
