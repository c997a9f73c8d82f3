// Package session tracks conversation-mode sessions and expires idle ones.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("session not found")

// ErrEnded is returned when a turn targets a session that is no longer active.
var ErrEnded = errors.New("session ended")

type Session struct {
	ID             string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	Status         Status    `json:"status"`
	Language       string    `json:"language"`
	Mode           string    `json:"mode"`
	ActiveTurnID   string    `json:"active_turn_id"`
	TurnCount      int       `json:"turn_count"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	// ended sessions are kept this long so late clients get ErrEnded, not
	// ErrNotFound.
	retention time.Duration
	onExpire  func(*Session)
	now       func() time.Time
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 10 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
		retention:         inactivityTimeout,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) InactivityTimeout() time.Duration { return m.inactivityTimeout }

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(userID, language, mode string) *Session {
	now := m.now()
	s := &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		Language:       language,
		Mode:           mode,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// update applies fn to the live session under the write lock.
func (m *Manager) update(sessionID string, fn func(*Session) error) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	return clone(s), nil
}

func (m *Manager) Touch(sessionID string) error {
	_, err := m.update(sessionID, func(s *Session) error {
		s.LastActivityAt = m.now()
		return nil
	})
	return err
}

// StartTurn marks turnID as in flight for an active session.
func (m *Manager) StartTurn(sessionID, turnID string) error {
	_, err := m.update(sessionID, func(s *Session) error {
		if s.Status != StatusActive {
			return ErrEnded
		}
		s.ActiveTurnID = turnID
		s.TurnCount++
		s.LastActivityAt = m.now()
		return nil
	})
	return err
}

// FinishTurn clears turnID if it is still the active one.
func (m *Manager) FinishTurn(sessionID, turnID string) {
	_, _ = m.update(sessionID, func(s *Session) error {
		if s.ActiveTurnID == turnID {
			s.ActiveTurnID = ""
			s.LastActivityAt = m.now()
		}
		return nil
	})
}

// End marks the session ended. Ending twice is not an error.
func (m *Manager) End(sessionID string) (*Session, error) {
	return m.update(sessionID, func(s *Session) error {
		s.end(m.now())
		return nil
	})
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			n++
		}
	}
	return n
}

func (m *Manager) expireInactive() {
	now := m.now()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		idle := now.Sub(s.LastActivityAt)
		if s.Status != StatusActive {
			if idle >= m.retention {
				delete(m.sessions, id)
			}
			continue
		}
		if idle < m.inactivityTimeout {
			continue
		}
		s.end(now)
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func (s *Session) end(at time.Time) {
	s.Status = StatusEnded
	s.ActiveTurnID = ""
	s.LastActivityAt = at
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
