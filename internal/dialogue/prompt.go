package dialogue

const (
	// QuestionMarker tags a reply that asks the user a yes/no question
	QuestionMarker = "QUESTION:"
	// GuessMarker tags a reply that proposes a candidate movie
	GuessMarker = "GUESS:"

	// OpeningPrompt is sent as the user message of the very first call
	OpeningPrompt = "Start the game!"

	// ClarifyInstruction is appended to a prompt whose reply could not be classified
	ClarifyInstruction = "Reply with exactly one line that starts with QUESTION: or GUESS:"

	// QuestionRequiredInstruction is appended when a guess arrived where a question is required
	QuestionRequiredInstruction = "Do not guess yet. Reply with exactly one line that starts with QUESTION:"

	// RejectedGuessText is how a rejected guess is reported back to the questioner
	RejectedGuessText = "No, that is not the movie. Keep asking questions."
)

// DefaultSystemPrompt holds the questioner's standing game rules
const DefaultSystemPrompt = `You are playing a guessing game: the user is thinking of a movie and you must find it.

RULES:
1. Ask CLOSED questions that can be answered with yes, no or "I don't know".
2. Start broad (genre, era, country) and narrow down step by step.
3. Only propose a movie when you are very confident.
4. If a guess is rejected, keep asking questions.

REPLY FORMAT (exactly one line, nothing else):
To ask a question: "QUESTION: your question?"
To guess: "GUESS: Movie title"`

// WithInstruction appends an extra instruction to a prompt
func WithInstruction(prompt, instruction string) string {
	if prompt == "" {
		return instruction
	}
	return prompt + "\n\n" + instruction
}
