package guardrail

import (
	"context"
	"fmt"
	"math"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
)

// Reader loads guardrail settings. Implementations return models.DefaultGuardrails
// when a profile has none stored.
type Reader interface {
	GetGuardrails(ctx context.Context, profileID string) (*models.GuardrailSettings, error)
}

// Violation codes
const (
	CodeAutomationDisabled = "automation_disabled"
	CodeProtectedEntity    = "protected_entity"
	CodeBidOutOfBounds     = "bid_out_of_bounds"
)

type Violation struct {
	Code   string
	Reason string
}

func (v *Violation) Error() string {
	return v.Code + ": " + v.Reason
}

// Check validates an action against the settings as they are now. It does not
// look at the kill switch; callers decide whether a disabled profile means
// skip, defer or prevent.
func Check(g *models.GuardrailSettings, t models.ActionType, p models.ActionPayload) *Violation {
	if pe, ok := g.ProtectionFor(p); ok {
		reason := fmt.Sprintf("%s %s is protected", pe.EntityType, pe.EntityID)
		if pe.Reason != "" {
			reason += " (" + pe.Reason + ")"
		}
		return &Violation{Code: CodeProtectedEntity, Reason: reason}
	}
	if t.ChangesBid() && p.BidMicros != nil && !g.BidWithinBounds(*p.BidMicros) {
		return &Violation{
			Code:   CodeBidOutOfBounds,
			Reason: fmt.Sprintf("bid %d outside [%d, %d]", *p.BidMicros, g.BidMinMicros, g.BidMaxMicros),
		}
	}
	return nil
}

// CheckAutomation is Check plus the kill switch.
func CheckAutomation(g *models.GuardrailSettings, t models.ActionType, p models.ActionPayload) *Violation {
	if !g.AutomationEnabled {
		return &Violation{Code: CodeAutomationDisabled, Reason: "automation is disabled for profile " + g.ProfileID}
	}
	return Check(g, t, p)
}

// RequiresApproval reports whether an auto-mode change is large enough to need a human.
func RequiresApproval(g *models.GuardrailSettings, t models.ActionType, p models.ActionPayload) bool {
	if g.ApprovalThresholdPct <= 0 {
		return false
	}
	switch {
	case t.ChangesBid() && p.BidMicros != nil && p.PreviousBidMicros != nil:
		return relativeChangePct(*p.PreviousBidMicros, *p.BidMicros) > g.ApprovalThresholdPct
	case t == models.ActionUpdateBudget && p.BudgetMicros != nil && p.PreviousBudgetMicros != nil:
		return relativeChangePct(*p.PreviousBudgetMicros, *p.BudgetMicros) > g.ApprovalThresholdPct
	}
	return false
}

func relativeChangePct(from, to int64) float64 {
	if from == 0 {
		return math.Inf(1)
	}
	return math.Abs(float64(to-from)) * 100 / float64(from)
}
