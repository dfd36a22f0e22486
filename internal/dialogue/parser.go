package dialogue

import (
	"errors"
	"fmt"
	"strings"
)

// ActionKind tags the variant of a ParsedAction
type ActionKind int

const (
	ActionQuestion ActionKind = iota + 1
	ActionGuess
)

func (k ActionKind) String() string {
	switch k {
	case ActionQuestion:
		return "question"
	case ActionGuess:
		return "guess"
	default:
		return "unknown"
	}
}

// ParsedAction is the structured interpretation of a provider reply
type ParsedAction struct {
	Kind    ActionKind
	Payload string
}

// Turn converts the action into the questioner turn that records it
func (a ParsedAction) Turn() Turn {
	if a.Kind == ActionGuess {
		return GuessTurn(a.Payload)
	}
	return QuestionTurn(a.Payload)
}

// ErrMalformedResponse is returned when a reply carries no marker or an empty payload
var ErrMalformedResponse = errors.New("dialogue: malformed response")

var markers = []struct {
	token string
	kind  ActionKind
}{
	{QuestionMarker, ActionQuestion},
	{GuessMarker, ActionGuess},
}

// Parse extracts the action from raw provider output. The earliest marker
// in the text wins and its payload is the first non-empty line after it.
func Parse(raw string) (ParsedAction, error) {
	best := -1
	var kind ActionKind
	var token string
	for _, m := range markers {
		idx := indexFold(raw, m.token)
		if idx >= 0 && (best < 0 || idx < best) {
			best, kind, token = idx, m.kind, m.token
		}
	}
	if best < 0 {
		return ParsedAction{}, fmt.Errorf("%w: no %s or %s marker in %q",
			ErrMalformedResponse, QuestionMarker, GuessMarker, preview(raw))
	}

	rest := strings.TrimLeft(raw[best+len(token):], " \t\r\n*_`")
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	payload := cleanPayload(rest)
	if payload == "" {
		return ParsedAction{}, fmt.Errorf("%w: empty payload after %s", ErrMalformedResponse, token)
	}

	return ParsedAction{Kind: kind, Payload: payload}, nil
}

// indexFold finds an ASCII token ignoring case without shifting byte offsets
func indexFold(s, token string) int {
	for i := 0; i+len(token) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(token)], token) {
			return i
		}
	}
	return -1
}

// cleanPayload strips markdown emphasis and wrapping quotes left around the payload
func cleanPayload(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*_` ")
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}
