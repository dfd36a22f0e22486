package dialogue

import (
	"errors"
	"fmt"
	"strings"
)

// Role identifies who produced a turn
type Role string

const (
	RoleSystem     Role = "system"
	RoleQuestioner Role = "questioner"
	RoleUser       Role = "user"
)

// Kind identifies what a turn carries
type Kind string

const (
	KindInstruction  Kind = "instruction"
	KindQuestion     Kind = "question"
	KindAnswer       Kind = "answer"
	KindGuess        Kind = "guess"
	KindConfirmation Kind = "confirmation"
)

// Turn is one recorded exchange unit of a game transcript
type Turn struct {
	Role    Role   `json:"role"`
	Kind    Kind   `json:"kind"`
	Content string `json:"content"`
}

// Answer is the encoded form of a user reply to a question
type Answer string

const (
	AnswerYes     Answer = "y"
	AnswerNo      Answer = "n"
	AnswerUnknown Answer = "?"
)

// ErrInvalidAnswer is returned by ParseAnswer for input outside the yes/no/unknown vocabulary
var ErrInvalidAnswer = errors.New("dialogue: invalid answer")

var answerAliases = map[string]Answer{
	"y":        AnswerYes,
	"yes":      AnswerYes,
	"oui":      AnswerYes,
	"n":        AnswerNo,
	"no":       AnswerNo,
	"non":      AnswerNo,
	"?":        AnswerUnknown,
	"unknown":  AnswerUnknown,
	"idk":      AnswerUnknown,
	"dontknow": AnswerUnknown,
}

// ParseAnswer normalizes user input into one of the three encoded answers
func ParseAnswer(input string) (Answer, error) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if answer, ok := answerAliases[normalized]; ok {
		return answer, nil
	}
	return "", fmt.Errorf("%w: %q (expected y, n or ?)", ErrInvalidAnswer, input)
}

// QuestionTurn records a question asked by the questioner
func QuestionTurn(text string) Turn {
	return Turn{Role: RoleQuestioner, Kind: KindQuestion, Content: text}
}

// GuessTurn records a candidate proposed by the questioner
func GuessTurn(candidate string) Turn {
	return Turn{Role: RoleQuestioner, Kind: KindGuess, Content: candidate}
}

// AnswerTurn records the user's answer to the latest question
func AnswerTurn(answer Answer) Turn {
	return Turn{Role: RoleUser, Kind: KindAnswer, Content: string(answer)}
}

// ConfirmationTurn records whether the user accepted the latest guess
func ConfirmationTurn(correct bool) Turn {
	content := "false"
	if correct {
		content = "true"
	}
	return Turn{Role: RoleUser, Kind: KindConfirmation, Content: content}
}

// InstructionTurn carries the questioner's standing instructions
func InstructionTurn(text string) Turn {
	return Turn{Role: RoleSystem, Kind: KindInstruction, Content: text}
}

// Text renders the turn the way it is shown to a provider
func (t Turn) Text() string {
	switch t.Kind {
	case KindQuestion:
		return QuestionMarker + " " + t.Content
	case KindGuess:
		return GuessMarker + " " + t.Content
	case KindAnswer:
		switch Answer(t.Content) {
		case AnswerYes:
			return "Answer: yes"
		case AnswerNo:
			return "Answer: no"
		default:
			return "Answer: I don't know"
		}
	case KindConfirmation:
		if t.Content == "true" {
			return "Correct, you found it!"
		}
		return RejectedGuessText
	default:
		return t.Content
	}
}
