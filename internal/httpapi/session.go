package httpapi

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// session is an authenticated API client, gated by the single catalog
// password rather than a per-user table (spec §6 has one operator per
// Catalog). Shaped directly on the teacher's auth.Session/Sessions map.
type session struct {
	token      string
	csrfToken  string
	expiryTime time.Time
}

func (s session) isExpired() bool { return s.expiryTime.Before(time.Now()) }

type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]session)}
}

func (s *sessionStore) create() session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := session{
		token:      generateToken(32),
		csrfToken:  generateToken(32),
		expiryTime: time.Now().Add(24 * time.Hour),
	}
	s.sessions[sess.token] = sess
	return sess
}

func (s *sessionStore) get(token string) (session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return session{}, false
	}
	if sess.isExpired() {
		delete(s.sessions, token)
		return session{}, false
	}
	return sess, true
}

func generateToken(length int) string {
	arr := make([]byte, length)
	_, _ = rand.Read(arr)
	return base64.URLEncoding.EncodeToString(arr)
}
