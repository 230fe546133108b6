package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chattyhq/chat-engine/llm"
)

func TestGroundedPromptShape(t *testing.T) {
	messages := llm.GroundedPrompt("What is the refund window?", []string{"ctx one", "ctx two"})

	require.Len(t, messages, 2)
	require.Equal(t, llm.RoleSystem, messages[0].Role)
	require.Contains(t, messages[0].Content, "ONLY the provided context")

	require.Equal(t, llm.RoleUser, messages[1].Role)
	require.Contains(t, messages[1].Content, "Context:\n\nctx one\n\n---\n\nctx two")
	require.Contains(t, messages[1].Content, "Question: What is the refund window?")
	require.Contains(t, messages[1].Content, "Answer:")
}

type cannedClient struct {
	answer   string
	err      error
	received []llm.Message
}

func (c *cannedClient) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	c.received = messages
	if c.err != nil {
		return "", c.err
	}
	return c.answer, nil
}

func TestAnswerServiceTrimsAndDelegates(t *testing.T) {
	client := &cannedClient{answer: "  padded answer \n"}
	svc := llm.NewAnswerService(client)

	got, err := svc.Generate(context.Background(), "q?", []string{"ctx"})
	require.NoError(t, err)
	require.Equal(t, "padded answer", got)
	require.Len(t, client.received, 2)
}

func TestAnswerServicePropagatesFailure(t *testing.T) {
	svc := llm.NewAnswerService(&cannedClient{err: errors.New("overloaded")})

	_, err := svc.Generate(context.Background(), "q?", []string{"ctx"})
	require.Error(t, err)
}
