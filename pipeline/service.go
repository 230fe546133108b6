package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chattyhq/chat-engine/config"
	"github.com/chattyhq/chat-engine/filter"
	"github.com/chattyhq/chat-engine/metrics"
)

// Fixed user-facing messages. These are part of the API contract and are
// asserted on by clients; change them only together with the consumers.
const (
	WelcomeAnswer = "Hi there! I'm Chatty, how can I assist you today?"

	fallbackAnswer      = "I don't have enough information on that yet."
	fallbackFollowUp    = "Would you like to ask something else?"
	clarificationPrompt = "Could you rephrase or add a bit more detail?"
	refusalAnswer       = "I cannot provide that information."
	assemblyFaultAnswer = "Something went wrong while preparing the response. Please try again."
)

// Terminal states of a pipeline run, used as metric and log labels.
const (
	OutcomeCacheHit      = "cache_hit"
	OutcomeNoResults     = "no_results"
	OutcomeLowConfidence = "low_confidence"
	OutcomeRefused       = "refused"
	OutcomeAnswered      = "answered"
	OutcomeError         = "error"
)

// AnswerGenerator produces generated text for a question given supporting
// context passages.
type AnswerGenerator interface {
	Generate(ctx context.Context, question string, contexts []string) (string, error)
}

// ResponseCache stores fully-assembled responses keyed by CacheKey. Absence
// is represented, not signaled as an error: Get reports a miss with ok=false.
// Implementations must be safe for concurrent use.
type ResponseCache interface {
	Get(ctx context.Context, key string) (ChatResponse, bool)
	Set(ctx context.Context, key string, value ChatResponse)
	Clear(ctx context.Context)
}

// CacheKey derives the cache key for a (user, question) pair. Questions
// differing only in case or surrounding whitespace collide on purpose.
func CacheKey(userID, question string) string {
	return userID + "::" + strings.ToLower(strings.TrimSpace(question))
}

// Options carries the pipeline tunables. Zero values fall back to the
// defaults applied by NewService.
type Options struct {
	ConfidenceThreshold     float64
	TopKDefault             int
	MaxSources              int
	MaxFollowups            int
	FollowupThresholdLow    float64
	FollowupThresholdNormal float64
	DefaultFollowups        []string
	RetrievalTimeout        time.Duration
	GenerationTimeout       time.Duration
}

// OptionsFromConfig maps the application configuration onto pipeline options.
func OptionsFromConfig(cfg config.PipelineConfig) Options {
	return Options{
		ConfidenceThreshold:     cfg.ConfidenceThreshold,
		TopKDefault:             cfg.TopKDefault,
		MaxSources:              cfg.MaxSources,
		MaxFollowups:            cfg.MaxFollowups,
		FollowupThresholdLow:    cfg.FollowupThresholdLow,
		FollowupThresholdNormal: cfg.FollowupThresholdNormal,
		DefaultFollowups:        cfg.DefaultFollowups,
		RetrievalTimeout:        cfg.RetrievalTimeout,
		GenerationTimeout:       cfg.GenerationTimeout,
	}
}

// Service is the query orchestration pipeline: cache lookup, retrieval,
// confidence scoring, follow-up ranking, the confidence gate, answer
// generation, content filtering, and the final cache commit.
type Service struct {
	retriever RetrievalClient
	generator AnswerGenerator
	cache     ResponseCache
	metrics   *metrics.Metrics
	logger    *zap.Logger
	opts      Options
}

func NewService(retriever RetrievalClient, generator AnswerGenerator, cache ResponseCache, m *metrics.Metrics, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ConfidenceThreshold == 0 {
		opts.ConfidenceThreshold = 0.35
	}
	if opts.TopKDefault <= 0 {
		opts.TopKDefault = 3
	}
	if opts.MaxSources <= 0 {
		opts.MaxSources = 5
	}
	if opts.MaxFollowups <= 0 {
		opts.MaxFollowups = 3
	}
	if opts.FollowupThresholdLow == 0 {
		opts.FollowupThresholdLow = 0.3
	}
	if opts.FollowupThresholdNormal == 0 {
		opts.FollowupThresholdNormal = 0.5
	}

	return &Service{
		retriever: retriever,
		generator: generator,
		cache:     cache,
		metrics:   m,
		logger:    logger,
		opts:      opts,
	}
}

// Welcome is the canned greeting returned when a conversation starts. It
// never touches the cache or the collaborators.
func (s *Service) Welcome() ChatResponse {
	answer := WelcomeAnswer
	return ChatResponse{
		Answer:     &answer,
		Confidence: 1.0,
		Sources:    []string{},
		Followups:  []FollowupCandidate{},
	}
}

// Ask runs the full pipeline for one query. Degraded responses (no
// information, low confidence, refusal) are successful terminal states, not
// errors; only validation and collaborator failures return a non-nil error.
func (s *Service) Ask(ctx context.Context, query Query) (ChatResponse, error) {
	started := time.Now()

	question := strings.TrimSpace(query.Question)
	if question == "" {
		return ChatResponse{}, ErrInvalidRequest
	}
	topK := query.TopK
	if topK <= 0 {
		topK = s.opts.TopKDefault
	}

	logger := s.logger.With(zap.String("user_id", query.UserID))

	key := CacheKey(query.UserID, query.Question)
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, key); ok {
			cached.Cached = true
			s.observe(OutcomeCacheHit, started)
			logger.Debug("cache hit", zap.String("cache_key", key))
			return cached, nil
		}
	}

	passages, err := s.retrieve(ctx, question, topK)
	if err != nil {
		s.observe(OutcomeError, started)
		logger.Warn("retrieval failed", zap.Error(err))
		return ChatResponse{}, &Error{Kind: KindRetrievalUnavailable, Message: "retrieval backend unavailable", Err: err}
	}

	if len(passages) == 0 {
		resp := s.noInformationResponse()
		s.commit(ctx, key, resp)
		s.observe(OutcomeNoResults, started)
		logger.Info("no passages retrieved", zap.String("question", question))
		return resp, nil
	}

	scores := make([]float64, len(passages))
	sources := make([]string, len(passages))
	texts := make([]string, len(passages))
	for i := range passages {
		scores[i] = passages[i].Score
		sources[i] = passages[i].Passage.Source()
		texts[i] = passages[i].Passage.Text
	}

	confidence := ConfidenceFromScores(scores)

	// The follow-up threshold depends on which side of the gate this
	// request lands on, so confidence is computed first.
	threshold := s.opts.FollowupThresholdNormal
	if confidence < s.opts.ConfidenceThreshold {
		threshold = s.opts.FollowupThresholdLow
	}
	followups := RankFollowups(passages, threshold, s.opts.MaxFollowups)

	if confidence < s.opts.ConfidenceThreshold {
		resp := s.lowConfidenceResponse(confidence, sources, followups)
		s.commit(ctx, key, resp)
		s.observe(OutcomeLowConfidence, started)
		logger.Info("confidence below threshold",
			zap.Float64("confidence", confidence),
			zap.Float64("threshold", s.opts.ConfidenceThreshold))
		return resp, nil
	}

	answer, err := s.generate(ctx, question, texts)
	if err != nil {
		s.observe(OutcomeError, started)
		logger.Warn("generation failed", zap.Error(err))
		return ChatResponse{}, &Error{Kind: KindGenerationFailure, Message: "answer generation failed", Err: err}
	}

	if filter.IsDisallowed(answer) {
		resp := s.refusalResponse()
		s.commit(ctx, key, resp)
		s.observe(OutcomeRefused, started)
		logger.Info("generated answer refused by content filter")
		return resp, nil
	}

	redacted, hadRedaction := filter.Redact(answer)

	resp := s.assemble(logger, func() ChatResponse {
		return s.answeredResponse(redacted, hadRedaction, confidence, sources, followups)
	})
	s.commit(ctx, key, resp)
	s.observe(OutcomeAnswered, started)
	logger.Info("question answered",
		zap.Float64("confidence", confidence),
		zap.Int("sources", len(resp.Sources)),
		zap.Bool("redacted", resp.Redacted))
	return resp, nil
}

// ClearCache empties the response cache.
func (s *Service) ClearCache(ctx context.Context) {
	if s.cache != nil {
		s.cache.Clear(ctx)
	}
}

func (s *Service) retrieve(ctx context.Context, question string, topK int) ([]ScoredPassage, error) {
	if s.retriever == nil {
		return nil, fmt.Errorf("retrieval client is not configured")
	}
	if s.opts.RetrievalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RetrievalTimeout)
		defer cancel()
	}
	return s.retriever.Retrieve(ctx, question, topK)
}

func (s *Service) generate(ctx context.Context, question string, texts []string) (string, error) {
	if s.generator == nil {
		return "", fmt.Errorf("answer generator is not configured")
	}
	if s.opts.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.GenerationTimeout)
		defer cancel()
	}
	return s.generator.Generate(ctx, question, texts)
}

func (s *Service) noInformationResponse() ChatResponse {
	answer := fallbackAnswer
	followUp := fallbackFollowUp

	followups := make([]FollowupCandidate, 0, len(s.opts.DefaultFollowups))
	for _, text := range s.opts.DefaultFollowups {
		followups = append(followups, FollowupCandidate{Text: text})
	}
	if len(followups) > s.opts.MaxFollowups {
		followups = followups[:s.opts.MaxFollowups]
	}

	return ChatResponse{
		Answer:    &answer,
		Sources:   []string{},
		FollowUp:  &followUp,
		Followups: followups,
	}
}

func (s *Service) lowConfidenceResponse(confidence float64, sources []string, followups []FollowupCandidate) ChatResponse {
	followUp := clarificationPrompt
	if len(followups) > 0 {
		followUp = followups[0].Text
	}
	if followups == nil {
		followups = []FollowupCandidate{}
	}

	return ChatResponse{
		Confidence: confidence,
		Sources:    sources[:1],
		FollowUp:   &followUp,
		Followups:  followups,
	}
}

func (s *Service) refusalResponse() ChatResponse {
	answer := refusalAnswer
	return ChatResponse{
		Answer:    &answer,
		Sources:   []string{},
		Followups: []FollowupCandidate{},
	}
}

// assemble runs the final response construction. A fault here must not
// surface to the caller once retrieval and generation have already
// succeeded, so any panic is recovered into a minimal safe response.
func (s *Service) assemble(logger *zap.Logger, build func() ChatResponse) (resp ChatResponse) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("response assembly fault", zap.Any("panic", r))
			fallback := assemblyFaultAnswer
			resp = ChatResponse{
				Answer:    &fallback,
				Sources:   []string{},
				Followups: []FollowupCandidate{},
			}
		}
	}()

	return build()
}

func (s *Service) answeredResponse(answer string, redacted bool, confidence float64, sources []string, followups []FollowupCandidate) ChatResponse {
	if len(sources) > s.opts.MaxSources {
		sources = sources[:s.opts.MaxSources]
	}

	var followUp *string
	if len(followups) > 0 {
		followUp = &followups[0].Text
	}
	if followups == nil {
		followups = []FollowupCandidate{}
	}

	resp := ChatResponse{
		Confidence: confidence,
		Sources:    sources,
		FollowUp:   followUp,
		Followups:  followups,
		Redacted:   redacted,
	}
	if strings.TrimSpace(answer) != "" {
		resp.Answer = &answer
	}
	return resp
}

// commit writes a terminal response to the cache. A cancelled request must
// not leave a partial write behind, so cancellation is checked first.
func (s *Service) commit(ctx context.Context, key string, resp ChatResponse) {
	if s.cache == nil || ctx.Err() != nil {
		return
	}
	s.cache.Set(ctx, key, resp)
}

func (s *Service) observe(outcome string, started time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveRequest(outcome, time.Since(started))
}
