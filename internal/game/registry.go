package game

import (
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/Origanire/netfilm-backend/internal/service"
)

const (
	DefaultSessionTTL    = time.Hour
	DefaultSweepInterval = 5 * time.Minute
)

// Registry maps session ids to live sessions. Entries expire after ttl
// without a transition; expiry, deletion and shutdown all abandon the
// session and notify the abandon hook exactly once.
type Registry struct {
	sessions  *cache.Cache
	logger    *slog.Logger
	onAbandon func(*Session)
	now       func() time.Time
}

// NewRegistry creates a registry whose janitor sweeps expired sessions every sweepInterval
func NewRegistry(ttl, sweepInterval time.Duration, logger *slog.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	r := &Registry{
		sessions: cache.New(ttl, sweepInterval),
		logger:   logger,
		now:      time.Now,
	}
	r.sessions.OnEvicted(r.evicted)
	return r
}

// OnAbandon sets the hook called after a live session is abandoned.
// It must be set before the registry is used.
func (r *Registry) OnAbandon(fn func(*Session)) {
	r.onAbandon = fn
}

// evicted runs for every entry leaving the cache, expired or deleted
func (r *Registry) evicted(id string, value interface{}) {
	s, ok := value.(*Session)
	if !ok {
		return
	}
	if !s.abandon(r.now()) {
		return
	}

	r.logger.Info("Session abandoned", "session_id", id, "question_number", s.QuestionNumber())
	if r.onAbandon != nil {
		r.onAbandon(s)
	}
}

// create registers a new session under a fresh id. The session is returned
// with its transition lock held so no other request can act on it before
// the caller finishes the start event.
func (r *Registry) create(provider service.Provider, historyLimit int) *Session {
	for {
		s := newSession(uuid.NewString(), provider, historyLimit, r.now())
		s.tryBegin()
		if err := r.sessions.Add(s.id, s, cache.DefaultExpiration); err == nil {
			return s
		}
	}
}

// Get returns a live session or ErrSessionNotFound
func (r *Registry) Get(id string) (*Session, error) {
	value, ok := r.sessions.Get(id)
	if !ok {
		// An expired entry the janitor has not swept yet is evicted now
		r.sessions.Delete(id)
		return nil, ErrSessionNotFound
	}

	s := value.(*Session)
	if s.State().Terminal() {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Touch restarts the idle timer of a session that is still registered
func (r *Registry) Touch(s *Session) {
	s.touch(r.now())
	_ = r.sessions.Replace(s.id, s, cache.DefaultExpiration)
}

// Delete abandons and removes a live session
func (r *Registry) Delete(id string) error {
	if _, err := r.Get(id); err != nil {
		return err
	}
	r.sessions.Delete(id)
	return nil
}

// remove drops a session without abandoning it; used once it is FOUND
func (r *Registry) remove(id string) {
	r.sessions.Delete(id)
}

// ListActive returns the live sessions, oldest first
func (r *Registry) ListActive() []*Session {
	items := r.sessions.Items()

	sessions := make([]*Session, 0, len(items))
	for _, item := range items {
		if s, ok := item.Object.(*Session); ok && !s.State().Terminal() {
			sessions = append(sessions, s)
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].createdAt.Equal(sessions[j].createdAt) {
			return sessions[i].id < sessions[j].id
		}
		return sessions[i].createdAt.Before(sessions[j].createdAt)
	})
	return sessions
}

// sweep evicts every expired session immediately
func (r *Registry) sweep() {
	r.sessions.DeleteExpired()
}

// Shutdown abandons every live session
func (r *Registry) Shutdown() {
	r.sweep()
	for id := range r.sessions.Items() {
		r.sessions.Delete(id)
	}
}
