package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chattyhq/chat-engine/api"
	"github.com/chattyhq/chat-engine/cache"
	"github.com/chattyhq/chat-engine/pipeline"
)

type stubRetriever struct {
	passages []pipeline.ScoredPassage
	err      error
}

func (s *stubRetriever) Retrieve(ctx context.Context, question string, topK int) ([]pipeline.ScoredPassage, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.passages, nil
}

type stubGenerator struct {
	answer string
	err    error
}

func (s *stubGenerator) Generate(ctx context.Context, question string, contexts []string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

func confidentPassages() []pipeline.ScoredPassage {
	return []pipeline.ScoredPassage{
		{
			Passage: pipeline.RetrievedPassage{Doc: "doc-a", Sheet: "S1", Row: 1, ChunkID: 0, Text: "passage a"},
			Score:   0.9,
		},
		{
			Passage: pipeline.RetrievedPassage{Doc: "doc-b", Sheet: "S1", Row: 2, ChunkID: 0, Text: "passage b"},
			Score:   0.8,
		},
	}
}

func newTestServer(retriever pipeline.RetrievalClient, generator pipeline.AnswerGenerator) *api.Server {
	svc := pipeline.NewService(retriever, generator, cache.NewLRU(10), nil, zap.NewNop(), pipeline.Options{})
	return api.New(svc, zap.NewNop(), []string{"http://localhost:3000"})
}

func postChat(t *testing.T, server *api.Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func TestChatWelcome(t *testing.T) {
	server := newTestServer(&stubRetriever{}, &stubGenerator{})

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp pipeline.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Answer)
	require.Equal(t, pipeline.WelcomeAnswer, *resp.Answer)
	require.Equal(t, 1.0, resp.Confidence)
	require.False(t, resp.Cached)
}

func TestChatAnswersQuestion(t *testing.T) {
	server := newTestServer(
		&stubRetriever{passages: confidentPassages()},
		&stubGenerator{answer: "A concise answer."},
	)

	rec := postChat(t, server, `{"user_id":"u1","question":"refund policy?"}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp pipeline.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Answer)
	require.Equal(t, "A concise answer.", *resp.Answer)
	require.Equal(t, []string{"doc-a | S1 | row:1 | chunk:0", "doc-b | S1 | row:2 | chunk:0"}, resp.Sources)
}

func TestChatIgnoresUnknownFields(t *testing.T) {
	server := newTestServer(
		&stubRetriever{passages: confidentPassages()},
		&stubGenerator{answer: "A concise answer."},
	)

	rec := postChat(t, server, `{"user_id":"u1","question":"refund policy?","session":"abc","client_version":"2.1"}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp pipeline.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Answer)
	require.Equal(t, "A concise answer.", *resp.Answer)
}

func TestChatEmptyQuestionIsBadRequest(t *testing.T) {
	server := newTestServer(&stubRetriever{}, &stubGenerator{})

	rec := postChat(t, server, `{"user_id":"u1","question":"  "}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "question is empty", resp["error"])
}

func TestChatRetrievalFailureIsServiceUnavailable(t *testing.T) {
	server := newTestServer(&stubRetriever{err: errors.New("connection refused")}, &stubGenerator{})

	rec := postChat(t, server, `{"user_id":"u1","question":"q?"}`)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestChatGenerationFailureIsBadGateway(t *testing.T) {
	server := newTestServer(
		&stubRetriever{passages: confidentPassages()},
		&stubGenerator{err: errors.New("model overloaded")},
	)

	rec := postChat(t, server, `{"user_id":"u1","question":"q?"}`)

	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestChatSecondCallIsCached(t *testing.T) {
	server := newTestServer(
		&stubRetriever{passages: confidentPassages()},
		&stubGenerator{answer: "An answer."},
	)

	first := postChat(t, server, `{"user_id":"u1","question":"q?"}`)
	require.Equal(t, http.StatusOK, first.Code)

	second := postChat(t, server, `{"user_id":"u1","question":"q?"}`)
	require.Equal(t, http.StatusOK, second.Code)

	var resp pipeline.ChatResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	require.True(t, resp.Cached)
}

func TestCacheClearEndpoint(t *testing.T) {
	server := newTestServer(
		&stubRetriever{passages: confidentPassages()},
		&stubGenerator{answer: "An answer."},
	)

	postChat(t, server, `{"user_id":"u1","question":"q?"}`)

	req := httptest.NewRequest(http.MethodPost, "/v1/cache/clear", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	after := postChat(t, server, `{"user_id":"u1","question":"q?"}`)
	var resp pipeline.ChatResponse
	require.NoError(t, json.Unmarshal(after.Body.Bytes(), &resp))
	require.False(t, resp.Cached)
}

func TestHealthAndRoot(t *testing.T) {
	server := newTestServer(&stubRetriever{}, &stubGenerator{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatRejectsUnsupportedMethod(t *testing.T) {
	server := newTestServer(&stubRetriever{}, &stubGenerator{})

	req := httptest.NewRequest(http.MethodDelete, "/chat", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Allow"))
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	server := newTestServer(&stubRetriever{}, &stubGenerator{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSIgnoresUnknownOrigin(t *testing.T) {
	server := newTestServer(&stubRetriever{}, &stubGenerator{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	server := newTestServer(&stubRetriever{}, &stubGenerator{})

	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Content-Type")
}

func TestRequestIDHeader(t *testing.T) {
	server := newTestServer(&stubRetriever{}, &stubGenerator{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "client-supplied")
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	require.Equal(t, "client-supplied", rec.Header().Get("X-Request-ID"))
}
