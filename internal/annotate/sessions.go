package annotate

import (
	"errors"
	"sync"
	"time"

	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/ids"
)

// DefaultIdleTTL is how long an untouched editing session survives.
const DefaultIdleTTL = 30 * time.Minute

var ErrSessionNotFound = errors.New("annotate: editing session not found or expired")

// Session is one admin editing a certificate document.
type Session struct {
	ID            string
	CertificateID string

	mu       sync.Mutex
	canvas   *Canvas
	lastUsed time.Time
}

// Sessions keeps editing sessions in memory and drops the ones left idle.
type Sessions struct {
	mu         sync.Mutex
	items      map[string]*Session
	idleTTL    time.Duration
	clock      func() time.Time
	idProvider ids.Provider
}

func NewSessions(idProvider ids.Provider, idleTTL time.Duration, clock func() time.Time) *Sessions {
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &Sessions{
		items:      make(map[string]*Session),
		idleTTL:    idleTTL,
		clock:      clock,
		idProvider: idProvider,
	}
}

func (s *Sessions) Create(certificateID string, canvas *Canvas) (*Session, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		return nil, err
	}
	session := &Session{ID: id, CertificateID: certificateID, canvas: canvas, lastUsed: s.clock()}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.items[id] = session
	return session, nil
}

// Get returns a live session and marks it used.
func (s *Sessions) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	session, ok := s.items[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	session.lastUsed = s.clock()
	return session, nil
}

func (s *Sessions) Close(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
}

// Len counts live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return len(s.items)
}

func (s *Sessions) sweepLocked() {
	cutoff := s.clock().Add(-s.idleTTL)
	for id, session := range s.items {
		if session.lastUsed.Before(cutoff) {
			delete(s.items, id)
		}
	}
}

// Do runs fn with exclusive access to the session's canvas.
func (s *Session) Do(fn func(*Canvas) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.canvas)
}
