package game

import (
	"sync"
	"time"

	"github.com/Origanire/netfilm-backend/internal/dialogue"
	"github.com/Origanire/netfilm-backend/internal/service"
)

// State is the lifecycle state of a session
type State string

const (
	StateAsking    State = "ASKING"
	StateGuessing  State = "GUESSING"
	StateFound     State = "FOUND"
	StateAbandoned State = "ABANDONED"
)

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateFound || s == StateAbandoned
}

// Session is one guessing game. Its fields are only mutated by the engine
// while it holds the transition lock, except for abandon which may run
// concurrently from deletion or eviction.
type Session struct {
	id        string
	provider  service.Provider
	createdAt time.Time

	// transition serializes state machine events; acquired with TryLock
	transition sync.Mutex

	mu             sync.RWMutex
	state          State
	questionNumber int
	history        *dialogue.History
	lastGuess      string
	lastActivityAt time.Time
	endedAt        time.Time
	finalGuess     string
}

// SessionInfo is a read-only snapshot of a session
type SessionInfo struct {
	ID             string          `json:"sessionId"`
	State          State           `json:"state"`
	QuestionNumber int             `json:"questionNumber"`
	Provider       string          `json:"provider"`
	LastGuess      string          `json:"lastGuess,omitempty"`
	StartedAt      time.Time       `json:"startedAt"`
	LastActivityAt time.Time       `json:"lastActivityAt"`
	History        []dialogue.Turn `json:"history,omitempty"`
}

func newSession(id string, provider service.Provider, historyLimit int, now time.Time) *Session {
	return &Session{
		id:             id,
		provider:       provider,
		createdAt:      now,
		state:          StateAsking,
		history:        dialogue.NewHistory(historyLimit),
		lastActivityAt: now,
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Provider returns the adapter bound at creation
func (s *Session) Provider() service.Provider {
	return s.provider
}

// State returns the current state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// QuestionNumber returns the number of questions emitted so far
func (s *Session) QuestionNumber() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.questionNumber
}

// LastGuess returns the pending guess, empty unless the session is guessing
func (s *Session) LastGuess() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastGuess
}

// History returns a copy of the retained turns
func (s *Session) History() []dialogue.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.Snapshot()
}

// Info returns a snapshot, including the transcript when withHistory is set
func (s *Session) Info(withHistory bool) SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := SessionInfo{
		ID:             s.id,
		State:          s.state,
		QuestionNumber: s.questionNumber,
		Provider:       s.provider.Name(),
		LastGuess:      s.lastGuess,
		StartedAt:      s.createdAt,
		LastActivityAt: s.lastActivityAt,
	}
	if withHistory {
		info.History = s.history.Snapshot()
	}
	return info
}

// tryBegin acquires the transition lock without blocking
func (s *Session) tryBegin() bool {
	return s.transition.TryLock()
}

func (s *Session) end() {
	s.transition.Unlock()
}

// touch records activity on a live session
func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Terminal() {
		s.lastActivityAt = now
	}
}

// window returns the prompt history with pending turns appended, bounded like the real history
func (s *Session) window(pending ...dialogue.Turn) []dialogue.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.SnapshotWith(pending...)
}

// commit applies a successful transition atomically. It fails with
// ErrSessionNotFound when the session was abandoned during the provider call,
// in which case the result is discarded.
func (s *Session) commit(now time.Time, pending []dialogue.Turn, action *dialogue.ParsedAction) (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return Reply{}, ErrSessionNotFound
	}

	for _, turn := range pending {
		s.history.Append(turn)
	}
	s.lastActivityAt = now

	if action == nil {
		return Reply{}, nil
	}

	s.history.Append(action.Turn())
	switch action.Kind {
	case dialogue.ActionGuess:
		s.state = StateGuessing
		s.lastGuess = action.Payload
	default:
		s.questionNumber++
		s.state = StateAsking
		s.lastGuess = ""
	}

	return Reply{
		Action:         action.Kind.String(),
		Content:        action.Payload,
		QuestionNumber: s.questionNumber,
	}, nil
}

// found finalizes an accepted guess and returns the guessed identity
func (s *Session) found(now time.Time) (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return "", 0, ErrSessionNotFound
	}

	s.finalGuess = s.lastGuess
	s.history.Append(dialogue.ConfirmationTurn(true))
	s.state = StateFound
	s.lastGuess = ""
	s.lastActivityAt = now
	s.endedAt = now
	return s.finalGuess, s.questionNumber, nil
}

// abandon moves a live session to ABANDONED. It reports false when the
// session had already reached a terminal state.
func (s *Session) abandon(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return false
	}
	s.finalGuess = s.lastGuess
	s.state = StateAbandoned
	s.lastGuess = ""
	s.endedAt = now
	return true
}

// summary describes a finished session for persistence
type summary struct {
	state          State
	questionNumber int
	finalGuess     string
	startedAt      time.Time
	endedAt        time.Time
	transcript     []dialogue.Turn
}

func (s *Session) summary() summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return summary{
		state:          s.state,
		questionNumber: s.questionNumber,
		finalGuess:     s.finalGuess,
		startedAt:      s.createdAt,
		endedAt:        s.endedAt,
		transcript:     s.history.Snapshot(),
	}
}
