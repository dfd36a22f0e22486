package service

import (
	"context"
	"io"
	"log/slog"

	"github.com/Origanire/netfilm-backend/internal/dialogue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sampleHistory is a short game: pinned instructions, one question and its answer
func sampleHistory() []dialogue.Turn {
	return []dialogue.Turn{
		dialogue.InstructionTurn("You are playing a movie guessing game."),
		dialogue.QuestionTurn("Is it an action movie?"),
		dialogue.AnswerTurn(dialogue.AnswerYes),
	}
}

type stubProvider struct {
	name  string
	reply string
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Ask(_ context.Context, _ []dialogue.Turn, _ string) (string, error) {
	s.calls++
	return s.reply, s.err
}

type fixedLimiter struct {
	allow bool
	asked []string
}

func (l *fixedLimiter) Allow(provider string) bool {
	l.asked = append(l.asked, provider)
	return l.allow
}
