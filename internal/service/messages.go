package service

import (
	"strings"

	"github.com/Origanire/netfilm-backend/internal/dialogue"
)

type messageRole int

const (
	roleUser messageRole = iota
	roleAssistant
)

// chatMessage is the vendor neutral shape every adapter converts from
type chatMessage struct {
	role messageRole
	text string
}

// conversation is a history plus prompt flattened for a chat style API
type conversation struct {
	system   string
	messages []chatMessage
}

// buildConversation folds system turns into one instruction, appends the
// prompt as the final user message, merges consecutive messages from the
// same side and makes sure the first message comes from the user. The
// sliding window can leave a questioner turn first, which Claude rejects.
func buildConversation(history []dialogue.Turn, prompt string) conversation {
	var system []string
	var conv conversation

	push := func(role messageRole, text string) {
		if text == "" {
			return
		}
		if n := len(conv.messages); n > 0 && conv.messages[n-1].role == role {
			conv.messages[n-1].text += "\n\n" + text
			return
		}
		conv.messages = append(conv.messages, chatMessage{role: role, text: text})
	}

	for _, turn := range history {
		switch turn.Role {
		case dialogue.RoleSystem:
			system = append(system, turn.Text())
		case dialogue.RoleQuestioner:
			if len(conv.messages) == 0 {
				push(roleUser, dialogue.OpeningPrompt)
			}
			push(roleAssistant, turn.Text())
		default:
			push(roleUser, turn.Text())
		}
	}
	push(roleUser, prompt)

	if len(conv.messages) == 0 {
		push(roleUser, dialogue.OpeningPrompt)
	}

	conv.system = strings.Join(system, "\n\n")
	return conv
}
