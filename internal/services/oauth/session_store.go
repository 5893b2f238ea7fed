package oauth

import (
	"sync"
	"time"

	"github.com/warewatch/camsync/internal/models"
)

// SessionStore is an expiring arena for in-flight OAuth sessions, keyed by
// session id. A background sweep removes entries whose TTL has passed, so
// abandoned flows do not accumulate. Sessions are single use: Consume
// removes the entry whether or not the caller accepts it.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*models.OAuthSession
	ttl      time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSessionStore creates a store with the given TTL and starts the sweep
// goroutine. Callers must Stop the store on shutdown.
func NewSessionStore(ttl, sweepInterval time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	s := &SessionStore{
		sessions: make(map[string]*models.OAuthSession),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}

	go s.sweep(sweepInterval)

	return s
}

// Put records a new session, stamping its expiry from the store TTL.
func (s *SessionStore) Put(session *models.OAuthSession) {
	now := time.Now()
	session.CreatedAt = now
	session.ExpiresAt = now.Add(s.ttl)

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
}

// Consume removes and returns the session. A missing or expired session
// returns ok=false; an expired entry is removed on the way out.
func (s *SessionStore) Consume(id string) (*models.OAuthSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	delete(s.sessions, id)

	if session.Expired(time.Now()) {
		return nil, false
	}
	return session, true
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Stop halts the sweep goroutine.
func (s *SessionStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *SessionStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for id, session := range s.sessions {
				if session.Expired(now) {
					delete(s.sessions, id)
				}
			}
			s.mu.Unlock()
		}
	}
}
