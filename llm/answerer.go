package llm

import (
	"context"
	"fmt"
	"strings"
)

// AnswerService adapts a chat-completion Client to the pipeline's
// question-plus-contexts calling convention.
type AnswerService struct {
	client Client
}

func NewAnswerService(client Client) *AnswerService {
	return &AnswerService{client: client}
}

func (a *AnswerService) Generate(ctx context.Context, question string, contexts []string) (string, error) {
	if a.client == nil {
		return "", fmt.Errorf("llm client is not configured")
	}

	answer, err := a.client.Generate(ctx, GroundedPrompt(question, contexts))
	if err != nil {
		return "", fmt.Errorf("llm generate: %w", err)
	}

	return strings.TrimSpace(answer), nil
}
