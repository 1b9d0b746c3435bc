// Package governor wires the response cache, request router and usage ledger
// into the per-request control flow that guards every chat answer.
package governor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pario-ai/governor/pkg/besteffort"
	"github.com/pario-ai/governor/pkg/budget"
	"github.com/pario-ai/governor/pkg/cache/memory"
	"github.com/pario-ai/governor/pkg/metrics"
	"github.com/pario-ai/governor/pkg/models"
	"github.com/pario-ai/governor/pkg/pricing"
)

// ErrEmptyMessage is returned for a request without a message.
var ErrEmptyMessage = errors.New("empty message")

// Ledger is the usage ledger as seen by the request path.
type Ledger interface {
	EffectiveLimits(ctx context.Context, tenantID string) (models.EffectiveLimits, error)
	CheckBudget(ctx context.Context, tenantID string) (models.BudgetCheck, error)
	CheckCallsLimit(ctx context.Context, tenantID string) (models.CallsCheck, error)
	TrackUsage(ctx context.Context, tenantID, model string, inputTokens, outputTokens int64)
}

// Classifier picks an execution tier for a request.
type Classifier interface {
	Classify(req models.RoutingRequest) models.RoutingDecision
	ModelName(tier models.Tier) string
	MaxTokens(tier models.Tier) int
}

// Cache stores answers by request fingerprint.
type Cache interface {
	Get(key string) (models.CacheEntry, bool)
	Set(key, answer, model string, tier models.Tier)
}

type noCache struct{}

func (noCache) Get(string) (models.CacheEntry, bool) { return models.CacheEntry{}, false }
func (noCache) Set(string, string, string, models.Tier) {}

// Recorder receives one interaction per answered request.
type Recorder interface {
	Record(ctx context.Context, in models.Interaction) error
}

// Service answers chat requests within the tenant's budget.
type Service struct {
	ledger   Ledger
	router   Classifier
	cache    Cache
	provider Provider
	fallback Provider
	recorder Recorder
	runner   *besteffort.Runner
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithFallbackProvider sets the provider used for degraded answers.
// The primary provider is used when unset.
func WithFallbackProvider(p Provider) Option { return func(s *Service) { s.fallback = p } }

// WithRecorder sets the interaction analytics sink.
func WithRecorder(r Recorder) Option { return func(s *Service) { s.recorder = r } }

// WithRunner sets the best-effort runner.
func WithRunner(r *besteffort.Runner) Option { return func(s *Service) { s.runner = r } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New creates a Service. A nil cache disables answer caching.
func New(ledger Ledger, router Classifier, cache Cache, provider Provider, opts ...Option) *Service {
	s := &Service{
		ledger:   ledger,
		router:   router,
		cache:    cache,
		provider: provider,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "governor").Logger()
	if s.fallback == nil {
		s.fallback = s.provider
	}
	if s.cache == nil {
		s.cache = noCache{}
	}
	if s.runner == nil {
		s.runner = besteffort.New(s.logger)
	}
	return s
}

// Answer runs req through cache lookup, classification, budget and call
// checks, the provider call, usage tracking and cache store, in that order.
// A policy refusal is returned as a *budget.LimitError; with soft degrade
// enabled a free answer is returned instead.
func (s *Service) Answer(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	if req.TenantID == "" {
		return models.ChatResponse{}, budget.ErrInvalidTenant
	}
	if req.Message == "" {
		return models.ChatResponse{}, ErrEmptyMessage
	}
	log := s.logger.With().Str("tenant", req.TenantID).Logger()

	key := memory.Fingerprint(req.TenantID, req.Message, req.Page, req.BuildingID, req.UnitID)
	if e, ok := s.cache.Get(key); ok {
		log.Debug().Str("model", e.Model).Int64("hits", e.Hits).Msg("cache hit")
		s.record(ctx, req, models.Interaction{Tier: e.Tier, Model: e.Model, Cached: true})
		return models.ChatResponse{
			Answer: e.Answer,
			Model:  e.Model,
			Tier:   e.Tier,
			Cached: true,
		}, nil
	}

	decision := s.router.Classify(req.Routing())
	resp := models.ChatResponse{Tier: decision.Tier, Decision: decision}

	limits, err := s.ledger.EffectiveLimits(ctx, req.TenantID)
	if err != nil {
		return models.ChatResponse{}, fmt.Errorf("answer: %w", err)
	}
	if resp.Tier == models.TierExpensive && !limits.AllowExpensive {
		resp.Tier = models.TierCheap
		resp.Downgraded = true
		metrics.TierDowngrades.Inc()
		log.Debug().Str("reason", decision.Reason).Msg("expensive tier not allowed, downgraded")
	}

	bc, err := s.ledger.CheckBudget(ctx, req.TenantID)
	if err != nil {
		return models.ChatResponse{}, fmt.Errorf("answer: %w", err)
	}
	resp.Budget = bc
	if bc.Blocked {
		if !bc.SoftDegrade {
			metrics.PolicyRejections.WithLabelValues(bc.Reason, "refused").Inc()
			return models.ChatResponse{}, budget.BudgetError(bc)
		}
		metrics.PolicyRejections.WithLabelValues(bc.Reason, "degraded").Inc()
		return s.degraded(ctx, req, resp, bc.Reason)
	}

	cc, err := s.ledger.CheckCallsLimit(ctx, req.TenantID)
	if err != nil {
		return models.ChatResponse{}, fmt.Errorf("answer: %w", err)
	}
	if cc.Reason != models.ReasonOK {
		if !cc.SoftDegrade {
			metrics.PolicyRejections.WithLabelValues(cc.Reason, "refused").Inc()
			return models.ChatResponse{}, budget.CallsError(cc)
		}
		metrics.PolicyRejections.WithLabelValues(cc.Reason, "degraded").Inc()
		return s.degraded(ctx, req, resp, cc.Reason)
	}

	model := s.router.ModelName(resp.Tier)
	res, err := s.provider.Complete(ctx, Completion{
		Model:     model,
		Message:   req.Message,
		Page:      req.Page,
		MaxTokens: s.router.MaxTokens(resp.Tier),
	})
	if err != nil {
		return models.ChatResponse{}, fmt.Errorf("provider %s: %w", model, err)
	}

	s.ledger.TrackUsage(ctx, req.TenantID, model, int64(res.InputTokens), int64(res.OutputTokens))
	s.cache.Set(key, res.Text, model, resp.Tier)
	s.record(ctx, req, models.Interaction{Tier: resp.Tier, RequestedTier: decision.Tier, Model: model})

	log.Info().Str("model", model).Str("tier", string(resp.Tier)).
		Int("input_tokens", res.InputTokens).Int("output_tokens", res.OutputTokens).Msg("answered")

	resp.Answer = res.Text
	resp.Model = model
	resp.InputTokens = res.InputTokens
	resp.OutputTokens = res.OutputTokens
	return resp, nil
}

// degraded answers with the free model. Degraded answers are not cached.
func (s *Service) degraded(ctx context.Context, req models.ChatRequest, resp models.ChatResponse, reason string) (models.ChatResponse, error) {
	res, err := s.fallback.Complete(ctx, Completion{
		Model:     pricing.FreeModel,
		Message:   req.Message,
		Page:      req.Page,
		MaxTokens: s.router.MaxTokens(models.TierCheap),
	})
	if err != nil {
		return models.ChatResponse{}, fmt.Errorf("degraded answer: %w", err)
	}

	tenant := req.TenantID
	in, out := int64(res.InputTokens), int64(res.OutputTokens)
	s.runner.Go(ctx, "governor.track_degraded", func(ctx context.Context) error {
		s.ledger.TrackUsage(ctx, tenant, pricing.FreeModel, in, out)
		return nil
	})
	s.record(ctx, req, models.Interaction{Tier: models.TierCheap, Model: pricing.FreeModel, Free: true})

	s.logger.Info().Str("tenant", req.TenantID).Str("reason", reason).Msg("answered in degraded mode")

	resp.Answer = res.Text
	resp.Model = pricing.FreeModel
	resp.Tier = models.TierCheap
	resp.Degraded = true
	resp.InputTokens = res.InputTokens
	resp.OutputTokens = res.OutputTokens
	return resp, nil
}

// record fills in the request fields of in and stores it in the background.
func (s *Service) record(ctx context.Context, req models.ChatRequest, in models.Interaction) {
	if s.recorder == nil {
		return
	}
	in.TenantID = req.TenantID
	in.MembershipID = req.MembershipID
	in.Template = req.Template
	in.CreatedAt = s.now().UTC()
	s.runner.Go(ctx, "analytics.record", func(ctx context.Context) error {
		return s.recorder.Record(ctx, in)
	})
}

// Wait blocks until trailing best-effort writes have finished.
func (s *Service) Wait() {
	s.runner.Wait()
}
