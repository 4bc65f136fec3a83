package nutrition

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vbonduro/nutrilog/internal/generation"
)

// SessionStore keeps sessions in process memory and expires them after an
// idle TTL. Sessions are never persisted.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	preset   generation.Client
	now      func() time.Time
	logger   *slog.Logger
}

// NewSessionStore creates a store. When preset is non-nil every new session
// starts with that client, which is how a server-side default credential is
// applied. A zero ttl disables expiry.
func NewSessionStore(ttl time.Duration, preset generation.Client, logger *slog.Logger) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		preset:   preset,
		now:      time.Now,
		logger:   logger,
	}
}

func (st *SessionStore) Create() *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := NewSession(uuid.NewString(), st.now())
	s.client = st.preset
	st.sessions[s.ID] = s
	st.logger.Debug("session created", "session_id", s.ID, "preset_client", st.preset != nil)
	return s
}

// Get returns the live session with id and marks it used. Expired sessions are
// dropped and reported as missing.
func (st *SessionStore) Get(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return nil, false
	}
	now := st.now()
	if st.expired(s, now) {
		delete(st.sessions, id)
		return nil, false
	}
	s.lastUsed = now
	return s, true
}

// GetOrCreate returns the session with id, or a fresh one when id is unknown
// or expired. created reports which happened.
func (st *SessionStore) GetOrCreate(id string) (s *Session, created bool) {
	if id != "" {
		if s, ok := st.Get(id); ok {
			return s, false
		}
	}
	return st.Create(), true
}

// Restart ends old and returns a fresh session that keeps old's client, so
// the user starts over without re-entering a credential. Goal, ledger and
// cached texts go away with the old session.
func (st *SessionStore) Restart(old *Session) *Session {
	old.mu.Lock()
	client := old.client
	old.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	delete(st.sessions, old.ID)
	s := NewSession(uuid.NewString(), st.now())
	s.client = client
	s.started = client != nil
	st.sessions[s.ID] = s
	st.logger.Info("session restarted", "old_session_id", old.ID, "session_id", s.ID)
	return s
}

func (st *SessionStore) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Sweep removes every expired session and returns how many were removed.
func (st *SessionStore) Sweep() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.now()
	removed := 0
	for id, s := range st.sessions {
		if st.expired(s, now) {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (st *SessionStore) RunSweeper(ctx context.Context, interval time.Duration) {
	if st.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := st.Sweep(); n > 0 {
				st.logger.Info("expired sessions removed", "count", n)
			}
		}
	}
}

func (st *SessionStore) expired(s *Session, now time.Time) bool {
	return st.ttl > 0 && now.Sub(s.lastUsed) > st.ttl
}
