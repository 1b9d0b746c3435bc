package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/pario-ai/governor/pkg/config"
	"github.com/pario-ai/governor/pkg/metrics"
	"github.com/pario-ai/governor/pkg/models"
	"github.com/pario-ai/governor/pkg/pricing"
)

// analysisKeywords send a request to the expensive tier when found anywhere
// in the message, case-insensitively. Order matters only for the reason text.
var analysisKeywords = []string{
	"analyze",
	"analyse",
	"analysis",
	"compare",
	"trend",
	"forecast",
	"summarize",
	"summarise",
	"breakdown",
	"projection",
	"optimize",
	"recommend",
	"evaluate",
	"explain why",
}

var financialPages = map[string]bool{
	"financials": true,
	"reports":    true,
	"analytics":  true,
	"accounting": true,
	"payments":   true,
	"budgets":    true,
}

// Savings estimate assumptions.
const (
	savingsCheapShare   = 0.70
	savingsInputTokens  = 500
	savingsOutputTokens = 300
)

// Router classifies chat requests into cheap and expensive tiers.
//
// Classify is advisory: callers are expected to downgrade an expensive
// decision when the tenant may not use the expensive tier.
type Router struct {
	cfg     config.RouterConfig
	counter TokenCounter
	logger  zerolog.Logger

	mu    sync.Mutex
	pages map[string]int
}

// Option configures a Router.
type Option func(*Router)

// WithTokenCounter overrides the token counter chosen by cfg.Tokenizer.
func WithTokenCounter(c TokenCounter) Option { return func(r *Router) { r.counter = c } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(r *Router) { r.logger = l } }

// New creates a Router from the given configuration.
func New(cfg config.RouterConfig, opts ...Option) *Router {
	def := config.Default().Router
	if cfg.CheapModel == "" {
		cfg.CheapModel = def.CheapModel
	}
	if cfg.ExpensiveModel == "" {
		cfg.ExpensiveModel = def.ExpensiveModel
	}
	if cfg.CheapMaxTokens <= 0 {
		cfg.CheapMaxTokens = def.CheapMaxTokens
	}
	if cfg.ExpensiveMaxTokens <= 0 {
		cfg.ExpensiveMaxTokens = def.ExpensiveMaxTokens
	}
	if cfg.WordThreshold <= 0 {
		cfg.WordThreshold = def.WordThreshold
	}
	if cfg.CounterReset <= 0 {
		cfg.CounterReset = def.CounterReset
	}

	r := &Router{
		cfg:    cfg,
		logger: zerolog.Nop(),
		pages:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "router").Logger()
	if r.counter == nil {
		r.counter = NewTokenCounter(cfg.Tokenizer, r.logger)
	}
	return r
}

// Classify picks a tier for req. Rules are evaluated in order and the first
// match wins: analysis keyword, financial page, multiple questions or a long
// message, and finally the cheap tier.
func (r *Router) Classify(req models.RoutingRequest) models.RoutingDecision {
	page := normalizePage(req.Page)
	d := models.RoutingDecision{PageRequests: r.countPage(page)}

	lower := strings.ToLower(req.Message)
	words := len(strings.Fields(req.Message))
	questions := strings.Count(req.Message, "?")

	switch kw := matchKeyword(lower); {
	case kw != "":
		d.Tier = models.TierExpensive
		d.Complexity = models.ComplexityAnalytical
		d.Reason = fmt.Sprintf("analysis keyword %q", kw)
	case financialPages[page]:
		d.Tier = models.TierExpensive
		d.Complexity = models.ComplexityFinancial
		d.Reason = fmt.Sprintf("financial page %q", page)
	case questions > 1:
		d.Tier = models.TierExpensive
		d.Complexity = models.ComplexityComplex
		d.Reason = fmt.Sprintf("%d questions in one message", questions)
	case words > r.cfg.WordThreshold:
		d.Tier = models.TierExpensive
		d.Complexity = models.ComplexityComplex
		d.Reason = fmt.Sprintf("long message (%d words)", words)
	default:
		d.Tier = models.TierCheap
		d.Complexity = models.ComplexitySimple
		d.Reason = "simple request"
	}

	d.EstimatedTokens = r.counter.Count(req.Message) + r.MaxTokens(d.Tier)
	metrics.TierDecisions.WithLabelValues(string(d.Tier), d.Complexity).Inc()
	r.logger.Debug().Str("tenant", req.TenantID).Str("tier", string(d.Tier)).
		Str("reason", d.Reason).Int("page_requests", d.PageRequests).Msg("classified request")
	return d
}

func matchKeyword(lower string) string {
	for _, kw := range analysisKeywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return ""
}

func normalizePage(page string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(page)), "/")
}

func (r *Router) countPage(page string) int {
	if page == "" {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages[page]++
	return r.pages[page]
}

// PageRequests returns the requests counted for page since the last reset.
func (r *Router) PageRequests(page string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pages[normalizePage(page)]
}

// ResetCounters clears the per-page request counters.
func (r *Router) ResetCounters() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.pages)
}

// Run resets the page counters every cfg.CounterReset until ctx is done.
func (r *Router) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.CounterReset)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ResetCounters()
		}
	}
}

// ModelName returns the model configured for tier.
func (r *Router) ModelName(tier models.Tier) string {
	if tier == models.TierExpensive {
		return r.cfg.ExpensiveModel
	}
	return r.cfg.CheapModel
}

// MaxTokens returns the output token ceiling configured for tier.
func (r *Router) MaxTokens(tier models.Tier) int {
	if tier == models.TierExpensive {
		return r.cfg.ExpensiveMaxTokens
	}
	return r.cfg.CheapMaxTokens
}

// EstimateSavings projects the monthly saving of routing versus sending every
// call to the expensive model. It assumes a 70/30 cheap/expensive mix and a
// fixed 500 input / 300 output tokens per call.
func (r *Router) EstimateSavings(monthlyCalls int64) models.SavingsEstimate {
	if monthlyCalls < 0 {
		monthlyCalls = 0
	}
	calls := decimal.NewFromInt(monthlyCalls)
	cheapShare := decimal.NewFromFloat(savingsCheapShare)
	expensiveShare := decimal.NewFromInt(1).Sub(cheapShare)

	cheapCall := pricing.CostUSD(r.cfg.CheapModel, savingsInputTokens, savingsOutputTokens)
	expensiveCall := pricing.CostUSD(r.cfg.ExpensiveModel, savingsInputTokens, savingsOutputTokens)

	allExpensive := expensiveCall.Mul(calls)
	routed := cheapCall.Mul(cheapShare).Add(expensiveCall.Mul(expensiveShare)).Mul(calls)

	est := models.SavingsEstimate{
		MonthlyCalls:      monthlyCalls,
		CheapShare:        savingsCheapShare,
		AllExpensiveCents: toCents(allExpensive),
		RoutedCents:       toCents(routed),
		SavingsCents:      toCents(allExpensive.Sub(routed)),
		CheapModel:        r.cfg.CheapModel,
		ExpensiveModel:    r.cfg.ExpensiveModel,
	}
	if allExpensive.IsPositive() {
		est.SavingsPercent = int(allExpensive.Sub(routed).Mul(decimal.NewFromInt(100)).
			Div(allExpensive).Round(0).IntPart())
	}
	return est
}

func toCents(usd decimal.Decimal) int64 {
	return usd.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
