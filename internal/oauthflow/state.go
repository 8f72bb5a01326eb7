package oauthflow

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// Purpose says what a completed handshake is for.
type Purpose string

const (
	// PurposeDelegation attaches the credential to an access token.
	PurposeDelegation Purpose = "delegation"

	// PurposeLogin starts a dashboard session.
	PurposeLogin Purpose = "login"
)

const (
	// stateExpiry controls how long a handshake may take end to end.
	stateExpiry = 10 * time.Minute

	// stateBytes is the number of random bytes in a state value
	// (hex-encoded to twice this length).
	stateBytes = 32

	// cleanupInterval controls how often expired states are reaped.
	cleanupInterval = 5 * time.Minute
)

type pendingState struct {
	purpose   Purpose
	subject   string
	expiresAt time.Time
}

// StateStore tracks outstanding handshakes. Each state value is random,
// bound to a purpose and subject, and can be consumed exactly once.
type StateStore struct {
	mu     sync.Mutex
	states map[string]pendingState
	ttl    time.Duration
	now    func() time.Time
	stopGC chan struct{}
	once   sync.Once
}

// NewStateStore creates an empty store and starts a background
// goroutine that removes expired states. Call Stop to end it.
func NewStateStore() *StateStore {
	s := &StateStore{
		states: make(map[string]pendingState),
		ttl:    stateExpiry,
		now:    time.Now,
		stopGC: make(chan struct{}),
	}
	go s.gcLoop()

	return s
}

// Stop terminates the background cleanup goroutine.
func (s *StateStore) Stop() {
	s.once.Do(func() { close(s.stopGC) })
}

func (s *StateStore) gcLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopGC:
			return
		}
	}
}

func (s *StateStore) cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, st := range s.states {
		if now.After(st.expiresAt) {
			delete(s.states, k)
		}
	}
}

// Issue creates and records a new state value.
func (s *StateStore) Issue(purpose Purpose, subject string) string {
	state := randomHex(stateBytes)

	s.mu.Lock()
	s.states[state] = pendingState{
		purpose:   purpose,
		subject:   subject,
		expiresAt: s.now().Add(s.ttl),
	}
	s.mu.Unlock()

	return state
}

// Consume retrieves and deletes a state value. It returns false if the
// state is empty, unknown, already used, or expired.
func (s *StateStore) Consume(state string) (Purpose, string, bool) {
	if state == "" {
		return "", "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[state]
	if !ok {
		return "", "", false
	}
	delete(s.states, state)

	if s.now().After(st.expiresAt) {
		return "", "", false
	}

	return st.purpose, st.subject, true
}

// Len returns the number of outstanding states.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.states)
}

func randomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return hex.EncodeToString(b)
}
