package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"animerec/internal/domain"
)

const sessionCookie = "animerec_session"

// SessionState is what one browser session remembers between requests.
type SessionState struct {
	LastQuery   string
	LastResults []domain.Recommendation
}

type sessionEntry struct {
	state   SessionState
	expires time.Time
}

// SessionStore keeps per-session state in memory, keyed by a random cookie
// value. Entries expire ttl after their last write.
type SessionStore struct {
	mu      sync.Mutex
	entries map[string]*sessionEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewSessionStore returns an empty store. A non-positive ttl means one hour.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionStore{entries: make(map[string]*sessionEntry), ttl: ttl, now: time.Now}
}

// Get returns the state stored under id, if present and not expired.
func (s *SessionStore) Get(id string) (SessionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return SessionState{}, false
	}
	if s.now().After(e.expires) {
		delete(s.entries, id)
		return SessionState{}, false
	}
	return e.state, true
}

// Put replaces the state for id and pushes its expiry forward.
func (s *SessionStore) Put(id string, state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = &sessionEntry{state: state, expires: s.now().Add(s.ttl)}
}

// Sweep drops expired entries and reports how many were removed.
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

// Len is the number of stored sessions, expired or not.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// sessionID returns the caller's session id, issuing a new cookie when the
// request carries none or an unparsable one.
func (s *SessionStore) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.ttl / time.Second),
	})
	return id
}
