package models

import "time"

type ProtectedEntity struct {
	EntityType EntityType `json:"entity_type" validate:"required"`
	EntityID   string     `json:"entity_id" validate:"required"`
	Reason     string     `json:"reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// GuardrailSettings are per-profile safety limits enforced independently of rule logic.
type GuardrailSettings struct {
	ProfileID            string            `json:"profile_id"`
	AutomationEnabled    bool              `json:"automation_enabled"`
	BidMinMicros         int64             `json:"bid_min_micros"` // 0 = unbounded
	BidMaxMicros         int64             `json:"bid_max_micros"` // 0 = unbounded
	ApprovalThresholdPct float64           `json:"approval_threshold_pct"`
	ProtectedEntities    []ProtectedEntity `json:"protected_entities"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// DefaultGuardrails is what a profile gets before anyone configured it.
func DefaultGuardrails(profileID string) *GuardrailSettings {
	return &GuardrailSettings{
		ProfileID:         profileID,
		AutomationEnabled: true,
	}
}

// ProtectionFor returns the protected entity covering the payload target, if any.
// A protected campaign or ad group also covers everything beneath it.
func (g *GuardrailSettings) ProtectionFor(p ActionPayload) (*ProtectedEntity, bool) {
	for i := range g.ProtectedEntities {
		pe := &g.ProtectedEntities[i]
		switch {
		case pe.EntityType == p.EntityType && pe.EntityID == p.EntityID:
			return pe, true
		case pe.EntityType == EntityCampaign && p.CampaignID != "" && pe.EntityID == p.CampaignID:
			return pe, true
		case pe.EntityType == EntityAdGroup && p.AdGroupID != "" && pe.EntityID == p.AdGroupID:
			return pe, true
		}
	}
	return nil, false
}

// BidWithinBounds reports whether bid lies in [min,max], treating zero bounds as open.
func (g *GuardrailSettings) BidWithinBounds(bid int64) bool {
	if g.BidMinMicros > 0 && bid < g.BidMinMicros {
		return false
	}
	if g.BidMaxMicros > 0 && bid > g.BidMaxMicros {
		return false
	}
	return true
}

// ClampBid forces bid into [min,max].
func (g *GuardrailSettings) ClampBid(bid int64) int64 {
	if g.BidMinMicros > 0 && bid < g.BidMinMicros {
		bid = g.BidMinMicros
	}
	if g.BidMaxMicros > 0 && bid > g.BidMaxMicros {
		bid = g.BidMaxMicros
	}
	return bid
}
