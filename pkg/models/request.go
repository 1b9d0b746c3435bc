package models

// Tier is the execution path selected for a chat request.
type Tier string

const (
	TierCheap     Tier = "cheap"
	TierExpensive Tier = "expensive"
)

// Complexity labels attached to routing decisions.
const (
	ComplexitySimple     = "simple"
	ComplexityComplex    = "complex"
	ComplexityAnalytical = "analytical"
	ComplexityFinancial  = "financial"
)

// RoutingRequest describes an incoming chat request for classification.
type RoutingRequest struct {
	TenantID   string `json:"tenant_id"`
	Message    string `json:"message"`
	Page       string `json:"page,omitempty"`
	BuildingID string `json:"building_id,omitempty"`
	UnitID     string `json:"unit_id,omitempty"`
}

// RoutingDecision is the advisory output of the request classifier.
type RoutingDecision struct {
	Tier            Tier   `json:"tier"`
	Reason          string `json:"reason"`
	Complexity      string `json:"complexity"`
	EstimatedTokens int    `json:"estimated_tokens"`
	PageRequests    int    `json:"page_requests"`
}

// SavingsEstimate is the dashboard projection of routing savings.
type SavingsEstimate struct {
	MonthlyCalls      int64   `json:"monthly_calls"`
	CheapShare        float64 `json:"cheap_share"`
	AllExpensiveCents int64   `json:"all_expensive_cents"`
	RoutedCents       int64   `json:"routed_cents"`
	SavingsCents      int64   `json:"savings_cents"`
	SavingsPercent    int     `json:"savings_percent"`
	CheapModel        string  `json:"cheap_model"`
	ExpensiveModel    string  `json:"expensive_model"`
}

// ChatRequest is what the chat orchestrator hands to the governor.
type ChatRequest struct {
	TenantID     string `json:"tenant_id"`
	MembershipID string `json:"membership_id,omitempty"`
	Message      string `json:"message"`
	Page         string `json:"page,omitempty"`
	BuildingID   string `json:"building_id,omitempty"`
	UnitID       string `json:"unit_id,omitempty"`
	Template     string `json:"template,omitempty"`
}

// Routing returns the classifier view of the request.
func (r ChatRequest) Routing() RoutingRequest {
	return RoutingRequest{
		TenantID:   r.TenantID,
		Message:    r.Message,
		Page:       r.Page,
		BuildingID: r.BuildingID,
		UnitID:     r.UnitID,
	}
}

// ChatResponse is the governed answer.
type ChatResponse struct {
	Answer       string          `json:"answer"`
	Model        string          `json:"model"`
	Tier         Tier            `json:"tier"`
	Cached       bool            `json:"cached"`
	Degraded     bool            `json:"degraded"`
	Downgraded   bool            `json:"downgraded"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	Decision     RoutingDecision `json:"decision"`
	Budget       BudgetCheck     `json:"budget"`
}
