package guardrail

import (
	"testing"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
)

func i64(v int64) *int64 { return &v }

func TestCheck(t *testing.T) {
	g := &models.GuardrailSettings{
		ProfileID:         "p1",
		AutomationEnabled: true,
		BidMinMicros:      100000,
		BidMaxMicros:      5000000,
		ProtectedEntities: []models.ProtectedEntity{
			{EntityType: models.EntityKeyword, EntityID: "kw-protected", Reason: "brand"},
			{EntityType: models.EntityAdGroup, EntityID: "ag-protected"},
		},
	}

	tests := []struct {
		name     string
		t        models.ActionType
		p        models.ActionPayload
		wantCode string
	}{
		{"ok", models.ActionSetBid, models.ActionPayload{EntityType: models.EntityKeyword, EntityID: "kw-1", BidMicros: i64(500000)}, ""},
		{"protected keyword", models.ActionSetBid, models.ActionPayload{EntityType: models.EntityKeyword, EntityID: "kw-protected", BidMicros: i64(500000)}, CodeProtectedEntity},
		{"protected ad group parent", models.ActionPauseKeyword, models.ActionPayload{EntityType: models.EntityKeyword, EntityID: "kw-2", AdGroupID: "ag-protected"}, CodeProtectedEntity},
		{"below floor", models.ActionSetBid, models.ActionPayload{EntityType: models.EntityKeyword, EntityID: "kw-1", BidMicros: i64(50000)}, CodeBidOutOfBounds},
		{"above ceiling", models.ActionSetTargetBid, models.ActionPayload{EntityType: models.EntityTarget, EntityID: "t-1", BidMicros: i64(9000000)}, CodeBidOutOfBounds},
		{"pause ignores bounds", models.ActionPauseKeyword, models.ActionPayload{EntityType: models.EntityKeyword, EntityID: "kw-1"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Check(g, tt.t, tt.p)
			got := ""
			if v != nil {
				got = v.Code
			}
			if got != tt.wantCode {
				t.Errorf("Check() code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestCheckAutomationDisabled(t *testing.T) {
	g := models.DefaultGuardrails("p1")
	g.AutomationEnabled = false
	v := CheckAutomation(g, models.ActionPauseCampaign, models.ActionPayload{EntityType: models.EntityCampaign, EntityID: "c"})
	if v == nil || v.Code != CodeAutomationDisabled {
		t.Fatalf("expected automation_disabled, got %v", v)
	}
}

func TestRequiresApproval(t *testing.T) {
	g := models.DefaultGuardrails("p1")
	g.ApprovalThresholdPct = 25
	small := models.ActionPayload{BidMicros: i64(800000), PreviousBidMicros: i64(1000000)}
	large := models.ActionPayload{BidMicros: i64(500000), PreviousBidMicros: i64(1000000)}
	if RequiresApproval(g, models.ActionSetBid, small) {
		t.Error("20% change should not need approval at 25% threshold")
	}
	if !RequiresApproval(g, models.ActionSetBid, large) {
		t.Error("50% change should need approval at 25% threshold")
	}
	g.ApprovalThresholdPct = 0
	if RequiresApproval(g, models.ActionSetBid, large) {
		t.Error("zero threshold disables approval")
	}
}
