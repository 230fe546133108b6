package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAssembleRecoversFromPanic(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, zap.NewNop(), Options{})

	resp := svc.assemble(zap.NewNop(), func() ChatResponse {
		panic("boom")
	})

	require.NotNil(t, resp.Answer)
	require.Equal(t, assemblyFaultAnswer, *resp.Answer)
	require.Zero(t, resp.Confidence)
	require.Empty(t, resp.Sources)
	require.NotNil(t, resp.Sources)
	require.Nil(t, resp.FollowUp)
	require.Empty(t, resp.Followups)
	require.NotNil(t, resp.Followups)
	require.False(t, resp.Redacted)
	require.False(t, resp.Cached)
}

func TestAssemblePassesThroughBuiltResponse(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, zap.NewNop(), Options{})

	resp := svc.assemble(zap.NewNop(), func() ChatResponse {
		return svc.answeredResponse("All plans include support.", false, 0.8, []string{"faq | Sheet1 | row:1 | chunk:0"}, nil)
	})

	require.NotNil(t, resp.Answer)
	require.Equal(t, "All plans include support.", *resp.Answer)
	require.Equal(t, 0.8, resp.Confidence)
	require.Equal(t, []string{"faq | Sheet1 | row:1 | chunk:0"}, resp.Sources)
	require.NotNil(t, resp.Followups)
	require.Empty(t, resp.Followups)
}
