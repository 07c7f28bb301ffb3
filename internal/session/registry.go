package session

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seatmap-booking/internal/domain"
	"github.com/robertarktes/seatmap-booking/internal/observability"
)

// Registry holds the live sessions of one gateway process.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	idleTTL  time.Duration
	logger   observability.Logger
	now      func() time.Time
}

func NewRegistry(idleTTL time.Duration, logger observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Registry{
		sessions: map[string]*Session{},
		idleTTL:  idleTTL,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	n := len(r.sessions)
	r.mu.Unlock()
	observability.LiveSessions.Set(float64(n))
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "session %q", id)
	}
	return s, nil
}

// Remove drops a session. Sessions with requests in flight are kept and
// Remove reports domain.ErrSessionBusy.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "session %q", id)
	}
	if s.Busy() {
		return errors.Wrapf(domain.ErrSessionBusy, "session %q has requests in flight", id)
	}
	delete(r.sessions, id)
	observability.LiveSessions.Set(float64(len(r.sessions)))
	return nil
}

// MarkStale flags every session on showtimeID except the one with id except.
func (r *Registry) MarkStale(showtimeID, except string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for id, s := range r.sessions {
		if id == except || s.ShowtimeID() != showtimeID {
			continue
		}
		s.MarkStale()
		n++
	}
	return n
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Reap removes sessions idle for longer than the registry TTL. Busy sessions
// are skipped.
func (r *Registry) Reap(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	reaped := 0
	for id, s := range r.sessions {
		if now.Sub(s.LastActive()) < r.idleTTL || s.Busy() {
			continue
		}
		delete(r.sessions, id)
		reaped++
	}
	observability.LiveSessions.Set(float64(len(r.sessions)))
	return reaped
}

// Run reaps idle sessions every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Reap(r.now()); n > 0 {
				r.logger.WithField("reaped", n).Info("reaped idle sessions")
			}
		}
	}
}
