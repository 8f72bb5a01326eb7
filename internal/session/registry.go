package session

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"
)

const (
	// CookieName carries the session id.
	CookieName = "ga4r_session"

	idBytes = 32

	// idleTimeout ends sessions nobody has used for a while.
	idleTimeout = 12 * time.Hour

	cleanupInterval = 10 * time.Minute
)

// Registry holds every live session keyed by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	factory        ClientFactory
	defaultProject string
	timeout        time.Duration
	logger         *slog.Logger
	now            func() time.Time

	stopGC chan struct{}
	once   sync.Once
}

// NewRegistry creates a registry and starts the idle-session reaper.
// Call Stop to end it.
func NewRegistry(factory ClientFactory, defaultProject string, timeout time.Duration, logger *slog.Logger) *Registry {
	r := &Registry{
		sessions:       make(map[string]*Session),
		factory:        factory,
		defaultProject: defaultProject,
		timeout:        timeout,
		logger:         logger,
		now:            time.Now,
		stopGC:         make(chan struct{}),
	}
	go r.gcLoop()

	return r
}

// Stop terminates the reaper goroutine.
func (r *Registry) Stop() {
	r.once.Do(func() { close(r.stopGC) })
}

func (r *Registry) gcLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.cleanup()
		case <-r.stopGC:
			return
		}
	}
}

func (r *Registry) cleanup() {
	cutoff := r.now().Add(-idleTimeout)

	r.mu.Lock()
	var idle []*Session
	for id, s := range r.sessions {
		if s.idleSince().Before(cutoff) {
			idle = append(idle, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		s.Logout()
	}

	if len(idle) > 0 {
		r.logger.Debug("idle sessions removed", slog.Int("count", len(idle)))
	}
}

// New creates an unauthenticated session.
func (r *Registry) New() *Session {
	id := randomHex(idBytes)

	s := newSession(id, r.factory, r.defaultProject, r.timeout, r.logger)
	s.now = r.now
	s.lastSeen = r.now()

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	return s
}

// Get returns the session with the given id and marks it used.
func (r *Registry) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}

	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok {
		return nil, false
	}

	s.touch(r.now())

	return s, true
}

// Destroy logs out and forgets a session.
func (r *Registry) Destroy(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		s.Logout()
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

func randomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return hex.EncodeToString(b)
}
