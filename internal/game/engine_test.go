package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Origanire/netfilm-backend/internal/dialogue"
	"github.com/Origanire/netfilm-backend/internal/service"
	"github.com/Origanire/netfilm-backend/internal/storage"
)

// playToGuess starts a game and answers yes until the provider guesses
func playToGuess(t *testing.T, engine *Engine) string {
	t.Helper()
	ctx := context.Background()

	start, err := engine.Start(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "question", start.Action)
	assert.Equal(t, "Is it an action movie?", start.Content)
	assert.Equal(t, 1, start.QuestionNumber)

	for expected := 2; expected <= 7; expected++ {
		reply, err := engine.Answer(ctx, start.SessionID, "y")
		require.NoError(t, err)
		assert.Equal(t, "question", reply.Action)
		assert.Equal(t, expected, reply.QuestionNumber)
	}

	reply, err := engine.Answer(ctx, start.SessionID, "y")
	require.NoError(t, err)
	assert.Equal(t, "guess", reply.Action)
	assert.Equal(t, "Inception", reply.Content)
	assert.Equal(t, 7, reply.QuestionNumber, "a guess does not count as a question")

	return start.SessionID
}

func TestEngineScenarioFound(t *testing.T) {
	store := newMemoryStore()
	provider := newScriptedProvider(inceptionScript()...)
	engine := newTestEngine(t, store, []service.Provider{provider})
	ctx := context.Background()

	id := playToGuess(t, engine)

	result, err := engine.Confirm(ctx, id, true)
	require.NoError(t, err)
	assert.Equal(t, ResultFound, result.Result)
	assert.Equal(t, 7, result.QuestionsAsked)
	assert.Equal(t, "Inception", result.Guess)
	assert.Nil(t, result.Reply)
	assert.Equal(t, 8, provider.callCount(), "confirming a correct guess makes no provider call")

	_, err = engine.Answer(ctx, id, "y")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = engine.Confirm(ctx, id, true)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = engine.Session(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, engine.DeleteSession(id), ErrSessionNotFound)
	assert.Empty(t, engine.Sessions())

	record := store.record(id)
	require.NotNil(t, record)
	assert.Equal(t, storage.OutcomeFound, record.Outcome)
	assert.Equal(t, 7, record.QuestionsAsked)
	assert.Equal(t, "Inception", record.FinalGuess)
	assert.Equal(t, "stub", record.Provider)
	assert.Contains(t, record.Transcript, "Inception")
}

func TestEngineScenarioRejectedGuess(t *testing.T) {
	provider := newScriptedProvider(append(inceptionScript(), question("Is it from the 1990s?"))...)
	engine := newTestEngine(t, nil, []service.Provider{provider})
	ctx := context.Background()

	id := playToGuess(t, engine)

	result, err := engine.Confirm(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, ResultContinue, result.Result)
	require.NotNil(t, result.Reply)
	assert.Equal(t, "question", result.Reply.Action)
	assert.Equal(t, "Is it from the 1990s?", result.Reply.Content)
	assert.Equal(t, 8, result.Reply.QuestionNumber)

	info, err := engine.Session(id)
	require.NoError(t, err)
	assert.Equal(t, StateAsking, info.State)
	assert.Equal(t, 8, info.QuestionNumber)
	assert.Empty(t, info.LastGuess)

	history := info.History
	require.GreaterOrEqual(t, len(history), 3)
	assert.Equal(t, dialogue.GuessTurn("Inception"), history[len(history)-3])
	assert.Equal(t, dialogue.ConfirmationTurn(false), history[len(history)-2])
	assert.Equal(t, dialogue.QuestionTurn("Is it from the 1990s?"), history[len(history)-1])

	// The rejection is sent with the question-only constraint
	call := provider.lastCall()
	assert.Equal(t, dialogue.ConfirmationTurn(false), call.history[len(call.history)-1])
}

func TestEngineDeterministicTranscript(t *testing.T) {
	transcript := func() []dialogue.Turn {
		provider := newScriptedProvider(inceptionScript()...)
		engine := newTestEngine(t, nil, []service.Provider{provider})
		id := playToGuess(t, engine)
		info, err := engine.Session(id)
		require.NoError(t, err)
		return info.History
	}

	first := transcript()
	second := transcript()
	assert.Equal(t, first, second)
	assert.Len(t, first, 15)
}

func TestEngineInvalidStateLeavesSessionUnchanged(t *testing.T) {
	provider := newScriptedProvider(question("Is it a comedy?"), guess("Airplane!"))
	engine := newTestEngine(t, nil, []service.Provider{provider})
	ctx := context.Background()

	start, err := engine.Start(ctx, "")
	require.NoError(t, err)

	// confirm while asking
	before, err := engine.Session(start.SessionID)
	require.NoError(t, err)
	_, err = engine.Confirm(ctx, start.SessionID, true)
	assert.ErrorIs(t, err, ErrInvalidState)
	after, err := engine.Session(start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	reply, err := engine.Answer(ctx, start.SessionID, "yes")
	require.NoError(t, err)
	require.Equal(t, "guess", reply.Action)

	// answer while guessing
	calls := provider.callCount()
	before, err = engine.Session(start.SessionID)
	require.NoError(t, err)
	_, err = engine.Answer(ctx, start.SessionID, "n")
	assert.ErrorIs(t, err, ErrInvalidState)
	after, err = engine.Session(start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, StateGuessing, after.State)
	assert.Equal(t, "Airplane!", after.LastGuess)
	assert.Equal(t, calls, provider.callCount())
}

func TestEngineInvalidAnswerMakesNoProviderCall(t *testing.T) {
	provider := newScriptedProvider(question("Is it a comedy?"))
	engine := newTestEngine(t, nil, []service.Provider{provider})
	ctx := context.Background()

	start, err := engine.Start(ctx, "")
	require.NoError(t, err)

	for _, input := range []string{"", "maybe", "yess"} {
		_, err := engine.Answer(ctx, start.SessionID, input)
		assert.ErrorIs(t, err, ErrInvalidInput, "input %q", input)
	}
	assert.Equal(t, 1, provider.callCount())

	info, err := engine.Session(start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, info.QuestionNumber)
	assert.Len(t, info.History, 1)
}

func TestEngineUnknownProvider(t *testing.T) {
	engine := newTestEngine(t, nil, []service.Provider{newScriptedProvider()})

	_, err := engine.Start(context.Background(), "mistral")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, engine.Sessions())
}

func TestEngineRetriesTransientFailures(t *testing.T) {
	provider := newScriptedProvider(
		failure(service.KindRateLimited),
		failure(service.KindTimeout),
		question("Is it black and white?"),
	)
	engine := newTestEngine(t, nil, []service.Provider{provider})

	start, err := engine.Start(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "Is it black and white?", start.Content)
	assert.Equal(t, 3, provider.callCount())
}

func TestEngineRetryExhaustionPreservesState(t *testing.T) {
	provider := newScriptedProvider(question("Is it a musical?"))
	engine := newTestEngine(t, nil, []service.Provider{provider})
	ctx := context.Background()

	start, err := engine.Start(ctx, "")
	require.NoError(t, err)
	before, err := engine.Session(start.SessionID)
	require.NoError(t, err)

	provider.push(failure(service.KindTimeout), failure(service.KindTimeout), failure(service.KindTimeout))
	_, err = engine.Answer(ctx, start.SessionID, "n")
	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrUnavailable)
	assert.Equal(t, service.KindUnavailable, service.KindOf(err))
	assert.Equal(t, 4, provider.callCount(), "one call plus two retries")

	after, err := engine.Session(start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, before.History, after.History, "no partial turn is appended")
	assert.Equal(t, 1, after.QuestionNumber)
	assert.Equal(t, StateAsking, after.State)

	// The session stays usable
	provider.push(question("Is it in color?"))
	reply, err := engine.Answer(ctx, start.SessionID, "n")
	require.NoError(t, err)
	assert.Equal(t, 2, reply.QuestionNumber)
}

func TestEngineFatalProviderErrorsAreNotRetried(t *testing.T) {
	testCases := []struct {
		name     string
		kind     service.ErrorKind
		sentinel error
	}{
		{"auth invalid", service.KindAuthInvalid, service.ErrAuthInvalid},
		{"unavailable", service.KindUnavailable, service.ErrUnavailable},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			provider := newScriptedProvider(question("Is it a drama?"), failure(tc.kind))
			engine := newTestEngine(t, nil, []service.Provider{provider})
			ctx := context.Background()

			start, err := engine.Start(ctx, "")
			require.NoError(t, err)

			_, err = engine.Answer(ctx, start.SessionID, "?")
			assert.ErrorIs(t, err, tc.sentinel)
			assert.Equal(t, 2, provider.callCount())

			info, err := engine.Session(start.SessionID)
			require.NoError(t, err)
			assert.Len(t, info.History, 1)
		})
	}
}

func TestEngineMalformedReplyIsRepromptedOnce(t *testing.T) {
	provider := newScriptedProvider(
		question("Is it animated?"),
		scriptedReply{text: "Hmm, let me think about that."},
		question("Is it made by Pixar?"),
	)
	engine := newTestEngine(t, nil, []service.Provider{provider})
	ctx := context.Background()

	start, err := engine.Start(ctx, "")
	require.NoError(t, err)

	reply, err := engine.Answer(ctx, start.SessionID, "y")
	require.NoError(t, err)
	assert.Equal(t, "Is it made by Pixar?", reply.Content)
	assert.Equal(t, 2, reply.QuestionNumber)
	assert.Equal(t, 3, provider.callCount())
	assert.Contains(t, provider.lastCall().prompt, dialogue.ClarifyInstruction)
}

func TestEngineMalformedTwiceSurfaces(t *testing.T) {
	provider := newScriptedProvider(
		question("Is it animated?"),
		scriptedReply{text: "no marker here"},
		scriptedReply{text: "QUESTION:"},
	)
	engine := newTestEngine(t, nil, []service.Provider{provider})
	ctx := context.Background()

	start, err := engine.Start(ctx, "")
	require.NoError(t, err)

	_, err = engine.Answer(ctx, start.SessionID, "y")
	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrMalformedResponse)
	assert.Equal(t, service.KindMalformedResponse, service.KindOf(err))
	assert.Equal(t, 3, provider.callCount())

	info, err := engine.Session(start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StateAsking, info.State)
	assert.Len(t, info.History, 1)
}

func TestEngineGuessAtStartIsRejected(t *testing.T) {
	provider := newScriptedProvider(guess("Titanic"), question("Is it a romance?"))
	engine := newTestEngine(t, nil, []service.Provider{provider})

	start, err := engine.Start(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "question", start.Action)
	assert.Equal(t, "Is it a romance?", start.Content)
	assert.Contains(t, provider.lastCall().prompt, dialogue.QuestionRequiredInstruction)
}

func TestEngineFailedStartLeavesNoSession(t *testing.T) {
	store := newMemoryStore()
	provider := newScriptedProvider(failure(service.KindAuthInvalid))
	engine := newTestEngine(t, store, []service.Provider{provider})

	_, err := engine.Start(context.Background(), "")
	assert.ErrorIs(t, err, service.ErrAuthInvalid)
	assert.Empty(t, engine.Sessions())

	records, err := store.GetAllGameRecords(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records, "a game without a first question is not recorded")
}

func TestEngineSameSessionIsBusy(t *testing.T) {
	provider := newScriptedProvider(question("Is it a thriller?"), question("Is it a heist movie?"))
	engine := newTestEngine(t, nil, []service.Provider{provider})
	ctx := context.Background()

	start, err := engine.Start(ctx, "")
	require.NoError(t, err)

	entered, release := provider.block()
	done := make(chan error, 1)
	go func() {
		_, err := engine.Answer(ctx, start.SessionID, "y")
		done <- err
	}()
	<-entered

	_, err = engine.Answer(ctx, start.SessionID, "n")
	assert.ErrorIs(t, err, ErrSessionBusy)
	_, err = engine.Confirm(ctx, start.SessionID, false)
	assert.ErrorIs(t, err, ErrSessionBusy)

	// Reads are not blocked by an in-flight transition
	info, err := engine.Session(start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, info.QuestionNumber)

	release()
	require.NoError(t, <-done)

	info, err = engine.Session(start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, info.QuestionNumber)
}

func TestEngineDeleteDuringProviderCallDiscardsResult(t *testing.T) {
	store := newMemoryStore()
	provider := newScriptedProvider(question("Is it a western?"), question("Is Clint Eastwood in it?"))
	engine := newTestEngine(t, store, []service.Provider{provider})

	ctx, cancel := context.WithCancel(context.Background())
	start, err := engine.Start(ctx, "")
	require.NoError(t, err)

	entered, release := provider.block()
	done := make(chan error, 1)
	go func() {
		_, err := engine.Answer(ctx, start.SessionID, "y")
		done <- err
	}()
	<-entered

	// The caller going away does not abort the call
	cancel()
	require.NoError(t, engine.DeleteSession(start.SessionID))

	release()
	assert.ErrorIs(t, <-done, ErrSessionNotFound)

	_, err = engine.Session(start.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	record := store.record(start.SessionID)
	require.NotNil(t, record)
	assert.Equal(t, storage.OutcomeAbandoned, record.Outcome)
	assert.Equal(t, 1, record.QuestionsAsked)
}

func TestEngineHistoryWindowAndPinnedInstructions(t *testing.T) {
	provider := newScriptedProvider(question("q1"))
	for i := 2; i <= 12; i++ {
		provider.push(question("next"))
	}
	engine := newTestEngine(t, nil, []service.Provider{provider}, func(c *Config) {
		c.HistoryLimit = 4
		c.SystemPrompt = "custom rules"
	})
	ctx := context.Background()

	start, err := engine.Start(ctx, "")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := engine.Answer(ctx, start.SessionID, "n")
		require.NoError(t, err)

		call := provider.lastCall()
		require.LessOrEqual(t, len(call.history), 5)
		assert.Equal(t, dialogue.InstructionTurn("custom rules"), call.history[0])
		assert.Equal(t, dialogue.AnswerTurn(dialogue.AnswerNo), call.history[len(call.history)-1])
	}

	info, err := engine.Session(start.SessionID)
	require.NoError(t, err)
	assert.Len(t, info.History, 4)
	assert.Equal(t, 11, info.QuestionNumber)
}

func TestEngineProviderChoicePerGame(t *testing.T) {
	first := newScriptedProvider(question("from first"))
	second := newScriptedProvider(question("from second"))
	second.name = "other"
	engine := newTestEngine(t, nil, []service.Provider{first, second})
	ctx := context.Background()

	a, err := engine.Start(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "stub", a.Provider)
	assert.Equal(t, "from first", a.Content)

	b, err := engine.Start(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, "other", b.Provider)
	assert.Equal(t, "from second", b.Content)
}

func TestEngineStats(t *testing.T) {
	store := newMemoryStore()
	provider := newScriptedProvider(question("a"), question("b"), question("c"))
	engine := newTestEngine(t, store, []service.Provider{provider})
	ctx := context.Background()

	first, err := engine.Start(ctx, "")
	require.NoError(t, err)
	_, err = engine.Start(ctx, "")
	require.NoError(t, err)
	_, err = engine.Answer(ctx, first.SessionID, "y")
	require.NoError(t, err)

	stats, err := engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ActiveSessions)
	assert.Equal(t, 3, stats.TotalQuestions)
	assert.InDelta(t, 1.5, stats.AverageQuestions, 0.001)
	assert.Equal(t, 2, stats.SessionsByState[StateAsking])
	require.NotNil(t, stats.Persisted)
	assert.Equal(t, 0, stats.Persisted.TotalGames)

	assert.Len(t, engine.Sessions(), 2)
	engine.Shutdown()
	assert.Empty(t, engine.Sessions())

	stats, err = engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Persisted.AbandonedGames)
}

func TestEngineIdleSessionIsEvicted(t *testing.T) {
	store := newMemoryStore()
	provider := newScriptedProvider(question("Is it a horror movie?"))
	registry := NewRegistry(20*time.Millisecond, time.Hour, testLogger())
	engine := NewEngine(Config{}, registry, service.NewStaticFactory(provider), store, nil, testLogger())
	ctx := context.Background()

	start, err := engine.Start(ctx, "")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = engine.Answer(ctx, start.SessionID, "y")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	record := store.record(start.SessionID)
	require.NotNil(t, record, "lazy eviction abandons the session")
	assert.Equal(t, storage.OutcomeAbandoned, record.Outcome)
}

func TestEngineInFlightAnswerOutlivesIdleTimer(t *testing.T) {
	store := newMemoryStore()
	provider := newScriptedProvider(question("Is it a musical?"), question("Is it set in Paris?"))
	registry := NewRegistry(150*time.Millisecond, 10*time.Millisecond, testLogger())
	engine := NewEngine(Config{}, registry, service.NewStaticFactory(provider), store, nil, testLogger())
	t.Cleanup(engine.Shutdown)
	ctx := context.Background()

	start, err := engine.Start(ctx, "")
	require.NoError(t, err)

	// The answer arrives inside the idle window, the reply lands after it
	time.Sleep(100 * time.Millisecond)
	entered, release := provider.block()
	done := make(chan error, 1)
	go func() {
		_, err := engine.Answer(ctx, start.SessionID, "y")
		done <- err
	}()
	<-entered
	time.Sleep(100 * time.Millisecond)
	release()

	require.NoError(t, <-done)
	info, err := engine.Session(start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, info.QuestionNumber)
	assert.Nil(t, store.record(start.SessionID), "session was never abandoned")
}

func TestEngineGameHistory(t *testing.T) {
	store := newMemoryStore()
	provider := newScriptedProvider(inceptionScript()...)
	engine := newTestEngine(t, store, []service.Provider{provider})
	ctx := context.Background()

	id := playToGuess(t, engine)
	_, err := engine.Confirm(ctx, id, true)
	require.NoError(t, err)

	games, err := engine.RecentGames(ctx, 0)
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, DefaultRecentGames, store.lastLimit)
	assert.Equal(t, id, games[0].SessionID)
	assert.Equal(t, storage.OutcomeFound, games[0].Outcome)
	assert.Equal(t, 7, games[0].QuestionsAsked)
	assert.Equal(t, "Inception", games[0].FinalGuess)
	assert.Empty(t, games[0].Transcript, "listings omit transcripts")

	_, err = engine.RecentGames(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, MaxRecentGames, store.lastLimit)

	game, err := engine.Game(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "stub", game.Provider)
	require.NotEmpty(t, game.Transcript)
	assert.Contains(t, game.Transcript, dialogue.GuessTurn("Inception"))
	assert.False(t, game.EndedAt.Before(game.StartedAt))

	_, err = engine.Game(ctx, "missing")
	assert.ErrorIs(t, err, ErrGameNotFound)
}

func TestEngineGameHistoryWithoutStorage(t *testing.T) {
	engine := newTestEngine(t, nil, []service.Provider{newScriptedProvider()})

	_, err := engine.RecentGames(context.Background(), 10)
	assert.ErrorIs(t, err, ErrStorageDisabled)
	_, err = engine.Game(context.Background(), "any")
	assert.ErrorIs(t, err, ErrStorageDisabled)
}
