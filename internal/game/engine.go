package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Origanire/netfilm-backend/internal/dialogue"
	"github.com/Origanire/netfilm-backend/internal/service"
	"github.com/Origanire/netfilm-backend/internal/storage"
	"github.com/Origanire/netfilm-backend/internal/telemetry"
)

const (
	DefaultMaxRetries           = 2
	DefaultRetryInitialInterval = 250 * time.Millisecond
	DefaultRetryMaxInterval     = 2 * time.Second

	DefaultRecentGames = 20
	MaxRecentGames     = 100

	persistTimeout = 5 * time.Second
)

const (
	ResultFound    = "found"
	ResultContinue = "continue"
)

// Config tunes the engine
type Config struct {
	HistoryLimit         int
	MaxRetries           int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	SystemPrompt         string
}

func (c Config) withDefaults() Config {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = dialogue.DefaultHistoryLimit
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = DefaultRetryInitialInterval
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = DefaultRetryMaxInterval
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = dialogue.DefaultSystemPrompt
	}
	return c
}

// ProviderSelector resolves a provider name, empty meaning the default
type ProviderSelector interface {
	Select(name string) (service.Provider, error)
}

// Reply is the questioner's move after a successful transition
type Reply struct {
	Action         string
	Content        string
	QuestionNumber int
}

// StartResult is returned by Start
type StartResult struct {
	SessionID string
	Provider  string
	Reply
}

// ConfirmResult is returned by Confirm. QuestionsAsked and Guess are set
// when Result is found, Reply when it is continue.
type ConfirmResult struct {
	Result         string
	QuestionsAsked int
	Guess          string
	Reply          *Reply
}

// GameSummary is a finished game read back from storage
type GameSummary struct {
	SessionID      string          `json:"sessionId"`
	Provider       string          `json:"provider"`
	Outcome        string          `json:"outcome"`
	QuestionsAsked int             `json:"questionsAsked"`
	FinalGuess     string          `json:"finalGuess,omitempty"`
	StartedAt      time.Time       `json:"startedAt"`
	EndedAt        time.Time       `json:"endedAt"`
	Transcript     []dialogue.Turn `json:"transcript,omitempty"`
}

// Stats summarizes the live sessions and, when storage is enabled, the finished ones
type Stats struct {
	ActiveSessions   int                `json:"active_sessions"`
	TotalQuestions   int                `json:"total_questions"`
	AverageQuestions float64            `json:"average_questions"`
	SessionsByState  map[State]int      `json:"sessions_by_state"`
	Persisted        *storage.GameStats `json:"persisted,omitempty"`
}

// Engine drives the question, answer, guess and confirm protocol of every session
type Engine struct {
	cfg       Config
	registry  *Registry
	providers ProviderSelector
	store     storage.StorageService
	recorder  *telemetry.Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine wires an engine. store and recorder may be nil.
func NewEngine(cfg Config, registry *Registry, providers ProviderSelector, store storage.StorageService, recorder *telemetry.Recorder, logger *slog.Logger) *Engine {
	e := &Engine{
		cfg:       cfg.withDefaults(),
		registry:  registry,
		providers: providers,
		store:     store,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
	}
	registry.OnAbandon(e.abandoned)
	return e
}

// Start creates a session and asks the provider for the first question
func (e *Engine) Start(ctx context.Context, providerName string) (*StartResult, error) {
	provider, err := e.providers.Select(providerName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	s := e.registry.create(provider, e.cfg.HistoryLimit)
	defer s.end()

	action, err := e.advance(ctx, s, nil, dialogue.OpeningPrompt, false)
	if err != nil {
		e.registry.remove(s.id)
		return nil, err
	}

	reply, err := s.commit(e.now(), nil, &action)
	if err != nil {
		return nil, err
	}
	e.registry.Touch(s)
	e.recorder.GameStarted(ctx, provider.Name())

	e.logger.Info("Game started",
		"session_id", s.id,
		"provider", provider.Name())

	return &StartResult{SessionID: s.id, Provider: provider.Name(), Reply: reply}, nil
}

// Answer records the user's answer to the pending question and returns the next move
func (e *Engine) Answer(ctx context.Context, sessionID, input string) (*Reply, error) {
	s, err := e.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer s.end()

	if state := s.State(); state != StateAsking {
		return nil, fmt.Errorf("%w: answer requires %s, session is %s", ErrInvalidState, StateAsking, state)
	}

	answer, err := dialogue.ParseAnswer(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	pending := []dialogue.Turn{dialogue.AnswerTurn(answer)}
	action, err := e.advance(ctx, s, pending, "", true)
	if err != nil {
		if s.State().Terminal() {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	reply, err := s.commit(e.now(), pending, &action)
	if err != nil {
		e.logger.Info("Discarding provider reply for abandoned session", "session_id", s.id)
		return nil, err
	}
	e.registry.Touch(s)

	e.logger.Debug("Answer applied",
		"session_id", s.id,
		"answer", string(answer),
		"action", reply.Action,
		"question_number", reply.QuestionNumber)

	return &reply, nil
}

// Confirm resolves a pending guess. A correct guess ends the game; a
// rejected one asks the provider for the next question.
func (e *Engine) Confirm(ctx context.Context, sessionID string, correct bool) (*ConfirmResult, error) {
	s, err := e.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer s.end()

	if state := s.State(); state != StateGuessing {
		return nil, fmt.Errorf("%w: confirm requires %s, session is %s", ErrInvalidState, StateGuessing, state)
	}

	if correct {
		guess, questions, err := s.found(e.now())
		if err != nil {
			return nil, err
		}
		e.registry.remove(s.id)
		e.finished(s, storage.OutcomeFound)

		e.logger.Info("Game won",
			"session_id", s.id,
			"guess", guess,
			"questions_asked", questions)

		return &ConfirmResult{Result: ResultFound, QuestionsAsked: questions, Guess: guess}, nil
	}

	pending := []dialogue.Turn{dialogue.ConfirmationTurn(false)}
	action, err := e.advance(ctx, s, pending, "", false)
	if err != nil {
		if s.State().Terminal() {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	reply, err := s.commit(e.now(), pending, &action)
	if err != nil {
		return nil, err
	}
	e.registry.Touch(s)

	return &ConfirmResult{Result: ResultContinue, Reply: &reply}, nil
}

// Sessions lists the live sessions, oldest first
func (e *Engine) Sessions() []SessionInfo {
	sessions := e.registry.ListActive()
	infos := make([]SessionInfo, len(sessions))
	for i, s := range sessions {
		infos[i] = s.Info(false)
	}
	return infos
}

// Session returns a snapshot of one session including its transcript
func (e *Engine) Session(sessionID string) (SessionInfo, error) {
	s, err := e.registry.Get(sessionID)
	if err != nil {
		return SessionInfo{}, err
	}
	return s.Info(true), nil
}

// DeleteSession abandons a live session. An in-flight transition on it
// completes but its result is discarded.
func (e *Engine) DeleteSession(sessionID string) error {
	return e.registry.Delete(sessionID)
}

// Stats aggregates live sessions and persisted games
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{SessionsByState: make(map[State]int)}
	for _, s := range e.registry.ListActive() {
		info := s.Info(false)
		stats.ActiveSessions++
		stats.TotalQuestions += info.QuestionNumber
		stats.SessionsByState[info.State]++
	}
	if stats.ActiveSessions > 0 {
		stats.AverageQuestions = float64(stats.TotalQuestions) / float64(stats.ActiveSessions)
	}

	if e.store != nil {
		persisted, err := e.store.GetGameStats(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load game stats: %w", err)
		}
		stats.Persisted = persisted
	}

	return stats, nil
}

// RecentGames returns the most recently finished games, newest first.
// A limit outside 1..MaxRecentGames falls back to the nearest bound, or to
// DefaultRecentGames when it is not positive.
func (e *Engine) RecentGames(ctx context.Context, limit int) ([]GameSummary, error) {
	if e.store == nil {
		return nil, ErrStorageDisabled
	}
	if limit <= 0 {
		limit = DefaultRecentGames
	}
	limit = min(limit, MaxRecentGames)

	records, err := e.store.ListRecentGames(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent games: %w", err)
	}

	games := make([]GameSummary, len(records))
	for i, record := range records {
		games[i] = e.summarize(record, false)
	}
	return games, nil
}

// Game returns one finished game with its transcript
func (e *Engine) Game(ctx context.Context, sessionID string) (*GameSummary, error) {
	if e.store == nil {
		return nil, ErrStorageDisabled
	}

	record, err := e.store.GetGameRecord(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load game %s: %w", sessionID, err)
	}
	if record == nil {
		return nil, ErrGameNotFound
	}

	g := e.summarize(record, true)
	return &g, nil
}

func (e *Engine) summarize(record *storage.GameRecord, withTranscript bool) GameSummary {
	g := GameSummary{
		SessionID:      record.SessionID,
		Provider:       record.Provider,
		Outcome:        record.Outcome,
		QuestionsAsked: record.QuestionsAsked,
		FinalGuess:     record.FinalGuess,
		StartedAt:      time.Unix(record.StartedAt, 0).UTC(),
		EndedAt:        time.Unix(record.EndedAt, 0).UTC(),
	}
	if withTranscript && record.Transcript != "" {
		if err := json.Unmarshal([]byte(record.Transcript), &g.Transcript); err != nil {
			e.logger.Warn("Failed to decode stored transcript", "session_id", record.SessionID, "error", err)
		}
	}
	return g
}

// Shutdown abandons every live session
func (e *Engine) Shutdown() {
	e.registry.Shutdown()
}

// acquire locates a session, takes its transition lock and restarts its
// idle timer so the janitor cannot evict it while the request runs
func (e *Engine) acquire(sessionID string) (*Session, error) {
	s, err := e.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if !s.tryBegin() {
		return nil, ErrSessionBusy
	}
	if s.State().Terminal() {
		s.end()
		return nil, ErrSessionNotFound
	}
	e.registry.Touch(s)
	return s, nil
}

// advance asks the provider for the next move. Transient failures are
// retried with exponential backoff; an unparseable reply, or a guess where a
// question is required, gets one clarifying reprompt. Nothing is committed.
func (e *Engine) advance(ctx context.Context, s *Session, pending []dialogue.Turn, prompt string, allowGuess bool) (dialogue.ParsedAction, error) {
	// The provider call outlives a disconnected caller; its result is
	// discarded at commit if the session is gone by then.
	ctx = context.WithoutCancel(ctx)

	history := append([]dialogue.Turn{dialogue.InstructionTurn(e.cfg.SystemPrompt)}, s.window(pending...)...)

	action, err := e.ask(ctx, s, history, prompt, allowGuess)
	if !isMalformed(err) {
		return action, err
	}

	instruction := dialogue.ClarifyInstruction
	if !allowGuess {
		instruction = dialogue.QuestionRequiredInstruction
	}
	e.logger.Warn("Reprompting provider after unusable reply",
		"session_id", s.id,
		"provider", s.provider.Name(),
		"error", err)

	action, err = e.ask(ctx, s, history, dialogue.WithInstruction(prompt, instruction), allowGuess)
	if isMalformed(err) {
		return action, &service.ProviderError{
			Provider: s.provider.Name(),
			Kind:     service.KindMalformedResponse,
			Message:  "reply unusable after reprompt",
			Cause:    err,
		}
	}
	return action, err
}

// isMalformed matches unparseable replies and replies without any text
func isMalformed(err error) bool {
	return errors.Is(err, dialogue.ErrMalformedResponse) || errors.Is(err, service.ErrMalformedResponse)
}

// ask performs one logical provider call with retries and parses the reply
func (e *Engine) ask(ctx context.Context, s *Session, history []dialogue.Turn, prompt string, allowGuess bool) (dialogue.ParsedAction, error) {
	provider := s.provider
	attempt := 0

	var raw string
	operation := func() error {
		attempt++
		callCtx, done := e.recorder.StartProviderCall(ctx, provider.Name(), attempt)
		reply, err := provider.Ask(callCtx, history, prompt)
		if err != nil {
			done(service.KindOf(err).String(), err)
			if service.IsRetryable(err) {
				e.logger.Warn("Transient provider failure",
					"session_id", s.id,
					"provider", provider.Name(),
					"attempt", attempt,
					"error", err)
				return err
			}
			return backoff.Permanent(err)
		}
		done("ok", nil)
		raw = reply
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.RetryInitialInterval
	b.MaxInterval = e.cfg.RetryMaxInterval
	b.MaxElapsedTime = 0

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.cfg.MaxRetries)), ctx))
	if err != nil {
		if service.IsRetryable(err) {
			e.logger.Error("Provider unavailable after retries",
				"session_id", s.id,
				"provider", provider.Name(),
				"attempts", attempt,
				"error", err)
			return dialogue.ParsedAction{}, &service.ProviderError{
				Provider: provider.Name(),
				Kind:     service.KindUnavailable,
				Message:  fmt.Sprintf("gave up after %d attempts", attempt),
				Cause:    err,
			}
		}
		e.logger.Error("Provider call failed",
			"session_id", s.id,
			"provider", provider.Name(),
			"error", err)
		return dialogue.ParsedAction{}, err
	}

	action, err := dialogue.Parse(raw)
	if err != nil {
		return dialogue.ParsedAction{}, err
	}
	if !allowGuess && action.Kind == dialogue.ActionGuess {
		return dialogue.ParsedAction{}, fmt.Errorf("%w: guess received where a question is required", dialogue.ErrMalformedResponse)
	}
	return action, nil
}

// abandoned is the registry hook for deleted and evicted sessions
func (e *Engine) abandoned(s *Session) {
	e.finished(s, storage.OutcomeAbandoned)
}

// finished records metrics and persists a terminal session. Games that
// never produced a first question are not recorded.
func (e *Engine) finished(s *Session, outcome string) {
	sum := s.summary()
	if sum.questionNumber == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	e.recorder.GameEnded(ctx, s.provider.Name(), outcome, sum.questionNumber)

	if e.store == nil {
		return
	}

	transcript, err := json.Marshal(sum.transcript)
	if err != nil {
		e.logger.Error("Failed to encode transcript", "session_id", s.id, "error", err)
		transcript = []byte("[]")
	}

	record := &storage.GameRecord{
		SessionID:      s.id,
		Provider:       s.provider.Name(),
		Outcome:        outcome,
		QuestionsAsked: sum.questionNumber,
		FinalGuess:     sum.finalGuess,
		Transcript:     string(transcript),
		StartedAt:      sum.startedAt.Unix(),
		EndedAt:        sum.endedAt.Unix(),
	}
	if err := e.store.SaveGameRecord(ctx, record); err != nil {
		e.logger.Error("Failed to persist game record",
			"session_id", s.id,
			"outcome", outcome,
			"error", err)
	}
}
