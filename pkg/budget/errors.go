package budget

import (
	"errors"
	"fmt"

	"github.com/pario-ai/governor/pkg/models"
)

var (
	// ErrInvalidTenant is returned when the tenant identifier is empty.
	ErrInvalidTenant = errors.New("invalid tenant")
	// ErrInvalidBudget is returned for budget amounts outside the accepted range.
	ErrInvalidBudget = errors.New("invalid budget")
	// ErrBudgetExceeded is the policy error for a tenant past its monthly budget.
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrCallsLimitExceeded is the policy error for a tenant past its call cap.
	ErrCallsLimitExceeded = errors.New("calls limit exceeded")
)

// LimitError carries the usage figures behind a policy refusal.
// It unwraps to ErrBudgetExceeded or ErrCallsLimitExceeded.
type LimitError struct {
	Kind        error
	TenantID    string
	Reason      string
	Used        int64
	Limit       int64
	PercentUsed int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%v: tenant %s used %d of %d (%d%%)", e.Kind, e.TenantID, e.Used, e.Limit, e.PercentUsed)
}

func (e *LimitError) Unwrap() error { return e.Kind }

// BudgetError returns a *LimitError when c refuses the request, nil otherwise.
// A soft-degraded check is still a refusal of the paid path.
func BudgetError(c models.BudgetCheck) error {
	if !c.Blocked {
		return nil
	}
	return &LimitError{
		Kind:        ErrBudgetExceeded,
		TenantID:    c.TenantID,
		Reason:      c.Reason,
		Used:        c.UsedCents,
		Limit:       c.BudgetCents,
		PercentUsed: c.PercentUsed,
	}
}

// CallsError returns a *LimitError when c reports an exhausted call cap.
func CallsError(c models.CallsCheck) error {
	if c.Reason != models.ReasonCallsLimitExceeded && c.Reason != models.ReasonDailyLimitExceeded {
		return nil
	}
	return &LimitError{
		Kind:        ErrCallsLimitExceeded,
		TenantID:    c.TenantID,
		Reason:      c.Reason,
		Used:        c.Used,
		Limit:       c.Limit,
		PercentUsed: c.PercentUsed,
	}
}
