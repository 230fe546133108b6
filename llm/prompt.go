package llm

import (
	"fmt"
	"strings"
)

const groundedSystemPrompt = "You are an assistant that answers using ONLY the provided context. " +
	"Keep the answer concise and factual." +
	"Do NOT repeat the context verbatim — instead, paraphrase the policy in 1-2 sentences."

const contextSeparator = "\n\n---\n\n"

// GroundedPrompt builds the message pair for answering a question from
// retrieved passages. The model is instructed to stay inside the supplied
// context rather than answer from its own knowledge.
func GroundedPrompt(question string, contexts []string) []Message {
	joined := strings.Join(contexts, contextSeparator)
	user := fmt.Sprintf("Context:\n\n%s\n\nQuestion: %s\n\nAnswer:", joined, question)

	return []Message{
		{Role: RoleSystem, Content: groundedSystemPrompt},
		{Role: RoleUser, Content: user},
	}
}
