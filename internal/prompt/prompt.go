// Package prompt renders conversation histories into text prompts.
// All functions are pure: same history in, same prompt out.
package prompt

import (
	"strings"

	"github.com/chatrelay/chatrelay/internal/conversation"
)

// ChatWindow caps how many trailing messages a chat prompt includes.
// The bound keeps prompt size and model cost flat as sessions grow.
const ChatWindow = 10

const chatPreamble = "You are a concise, helpful assistant. Continue the conversation.\n\n"

const summaryInstruction = "Summarize the following conversation in 4-6 bullet points. " +
	"Focus on key questions, answers, and decisions.\n\n"

// BuildChatPrompt renders the last ChatWindow messages of history as a
// completion prompt, ending with an "Assistant:" cue. The caller must
// append the new user message before calling so it lands inside the window.
func BuildChatPrompt(history conversation.History) string {
	window := history
	if len(window) > ChatWindow {
		window = window[len(window)-ChatWindow:]
	}

	convo := renderTranscript(window)

	var b strings.Builder
	b.WriteString(chatPreamble)
	b.WriteString(convo)
	if convo != "" {
		b.WriteString("\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}

// BuildSummaryPrompt renders the entire history, untruncated, under a
// fixed summarization instruction.
func BuildSummaryPrompt(history conversation.History) string {
	return summaryInstruction + renderTranscript(history)
}

func renderTranscript(history conversation.History) string {
	lines := make([]string, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case conversation.RoleUser:
			lines = append(lines, "User: "+m.Content)
		default:
			lines = append(lines, "Assistant: "+m.Content)
		}
	}
	return strings.Join(lines, "\n")
}
