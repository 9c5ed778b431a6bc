package models

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ActionStatus string

// Action queue statuses
const (
	ActionStatusPendingApproval ActionStatus = "pending_approval"
	ActionStatusQueued          ActionStatus = "queued"
	ActionStatusApplied         ActionStatus = "applied"
	ActionStatusFailed          ActionStatus = "failed"
	ActionStatusSkipped         ActionStatus = "skipped"
	ActionStatusPrevented       ActionStatus = "prevented"
	ActionStatusRejected        ActionStatus = "rejected"
)

// Valid state transitions: from -> []to
var ValidActionTransitions = map[ActionStatus][]ActionStatus{
	ActionStatusPendingApproval: {ActionStatusQueued, ActionStatusRejected, ActionStatusPrevented},
	ActionStatusQueued:          {ActionStatusApplied, ActionStatusFailed, ActionStatusSkipped, ActionStatusRejected},
	ActionStatusApplied:         {},
	ActionStatusFailed:          {},
	ActionStatusSkipped:         {},
	ActionStatusPrevented:       {},
	ActionStatusRejected:        {},
}

func IsValidActionTransition(from, to ActionStatus) bool {
	allowed, ok := ValidActionTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func (s ActionStatus) IsTerminal() bool {
	allowed, ok := ValidActionTransitions[s]
	return ok && len(allowed) == 0
}

// HoldsIdempotencyKey reports whether an item in this status blocks another
// item with the same idempotency key from being inserted.
func (s ActionStatus) HoldsIdempotencyKey() bool {
	return s == ActionStatusPendingApproval || s == ActionStatusQueued || s == ActionStatusApplied
}

// IdempotencyStatuses mirrors the predicate of the partial unique index on action_queue.
var IdempotencyStatuses = []ActionStatus{ActionStatusPendingApproval, ActionStatusQueued, ActionStatusApplied}

type ActionType string

const (
	ActionPauseCampaign          ActionType = "pause_campaign"
	ActionEnableCampaign         ActionType = "enable_campaign"
	ActionPauseAdGroup           ActionType = "pause_ad_group"
	ActionEnableAdGroup          ActionType = "enable_ad_group"
	ActionPauseKeyword           ActionType = "pause_keyword"
	ActionEnableKeyword          ActionType = "enable_keyword"
	ActionPauseTarget            ActionType = "pause_target"
	ActionEnableTarget           ActionType = "enable_target"
	ActionSetBid                 ActionType = "set_bid"
	ActionSetTargetBid           ActionType = "set_target_bid"
	ActionCreateKeyword          ActionType = "create_keyword"
	ActionCreateTarget           ActionType = "create_target"
	ActionAddCampaignNegative    ActionType = "add_campaign_negative"
	ActionAddAdGroupNegative     ActionType = "add_adgroup_negative"
	ActionSetPlacementAdjustment ActionType = "set_placement_adjustment"
	ActionUpdateBudget           ActionType = "update_budget"
)

var AllActionTypes = []ActionType{
	ActionPauseCampaign, ActionEnableCampaign,
	ActionPauseAdGroup, ActionEnableAdGroup,
	ActionPauseKeyword, ActionEnableKeyword,
	ActionPauseTarget, ActionEnableTarget,
	ActionSetBid, ActionSetTargetBid,
	ActionCreateKeyword, ActionCreateTarget,
	ActionAddCampaignNegative, ActionAddAdGroupNegative,
	ActionSetPlacementAdjustment, ActionUpdateBudget,
}

func IsValidActionType(t ActionType) bool {
	for _, a := range AllActionTypes {
		if a == t {
			return true
		}
	}
	return false
}

// ChangesBid is true for actions whose payload carries a bid subject to guardrail bounds.
func (t ActionType) ChangesBid() bool {
	return t == ActionSetBid || t == ActionSetTargetBid || t == ActionCreateKeyword || t == ActionCreateTarget
}

// TargetEntityType is the entity type an action of this kind operates on.
func (t ActionType) TargetEntityType() EntityType {
	switch t {
	case ActionPauseCampaign, ActionEnableCampaign, ActionAddCampaignNegative,
		ActionSetPlacementAdjustment, ActionUpdateBudget:
		return EntityCampaign
	case ActionPauseAdGroup, ActionEnableAdGroup, ActionAddAdGroupNegative,
		ActionCreateKeyword, ActionCreateTarget:
		return EntityAdGroup
	case ActionPauseKeyword, ActionEnableKeyword, ActionSetBid:
		return EntityKeyword
	case ActionPauseTarget, ActionEnableTarget, ActionSetTargetBid:
		return EntityTarget
	default:
		return ""
	}
}

// Match types
const (
	MatchExact          = "exact"
	MatchPhrase         = "phrase"
	MatchBroad          = "broad"
	MatchNegativeExact  = "negativeExact"
	MatchNegativePhrase = "negativePhrase"
)

// ActionPayload holds action-specific parameters. Monetary values are in micros.
type ActionPayload struct {
	EntityType           EntityType `json:"entityType"`
	EntityID             string     `json:"entityId,omitempty"`
	CampaignID           string     `json:"campaignId,omitempty"`
	AdGroupID            string     `json:"adGroupId,omitempty"`
	BidMicros            *int64     `json:"bidMicros,omitempty"`
	PreviousBidMicros    *int64     `json:"previousBidMicros,omitempty"`
	BudgetMicros         *int64     `json:"budgetMicros,omitempty"`
	PreviousBudgetMicros *int64     `json:"previousBudgetMicros,omitempty"`
	KeywordText          string     `json:"keywordText,omitempty"`
	MatchType            string     `json:"matchType,omitempty"`
	Expression           string     `json:"expression,omitempty"`
	Placement            string     `json:"placement,omitempty"`
	Percentage           *int       `json:"percentage,omitempty"`
}

// EntityKey identifies the logical target of an action for cooldowns and idempotency.
// Creation-style actions include the keyword/expression so that different terms in the
// same ad group are distinct targets.
func (p ActionPayload) EntityKey() string {
	key := fmt.Sprintf("%s:%s", p.EntityType, p.EntityID)
	switch {
	case p.KeywordText != "":
		key += ":" + strings.ToLower(strings.TrimSpace(p.KeywordText)) + "|" + p.MatchType
	case p.Expression != "":
		key += ":" + p.Expression
	case p.Placement != "":
		key += ":" + p.Placement
	}
	return key
}

// Validate checks that the payload carries what the action type needs.
func (p ActionPayload) Validate(t ActionType) error {
	if !IsValidActionType(t) {
		return fmt.Errorf("unknown action type %q", t)
	}
	if p.EntityID == "" {
		return fmt.Errorf("%s: entityId is required", t)
	}
	if want := t.TargetEntityType(); p.EntityType != want {
		return fmt.Errorf("%s: entityType must be %q, got %q", t, want, p.EntityType)
	}
	switch t {
	case ActionSetBid, ActionSetTargetBid:
		if p.BidMicros == nil || *p.BidMicros <= 0 {
			return fmt.Errorf("%s: bidMicros must be positive", t)
		}
	case ActionUpdateBudget:
		if p.BudgetMicros == nil || *p.BudgetMicros <= 0 {
			return fmt.Errorf("%s: budgetMicros must be positive", t)
		}
	case ActionCreateKeyword, ActionAddAdGroupNegative, ActionAddCampaignNegative:
		if strings.TrimSpace(p.KeywordText) == "" || p.MatchType == "" {
			return fmt.Errorf("%s: keywordText and matchType are required", t)
		}
		if t == ActionCreateKeyword && p.CampaignID == "" {
			return fmt.Errorf("%s: campaignId is required", t)
		}
	case ActionCreateTarget:
		if p.Expression == "" || p.CampaignID == "" {
			return fmt.Errorf("%s: expression and campaignId are required", t)
		}
	case ActionSetPlacementAdjustment:
		if p.Placement == "" || p.Percentage == nil || *p.Percentage < 0 || *p.Percentage > 900 {
			return fmt.Errorf("%s: placement and percentage in [0,900] are required", t)
		}
	}
	return nil
}

// Action sources
const (
	SourceRule     = "rule"
	SourcePlaybook = "playbook"
	SourceManual   = "manual"
)

type ActionQueueItem struct {
	ID                uuid.UUID       `json:"id"`
	ProfileID         string          `json:"profile_id"`
	ActionType        ActionType      `json:"action_type"`
	Payload           ActionPayload   `json:"payload"`
	EntityKey         string          `json:"entity_key"`
	IdempotencyKey    string          `json:"idempotency_key"`
	Status            ActionStatus    `json:"status"`
	Source            string          `json:"source"`
	RuleID            *uuid.UUID      `json:"rule_id,omitempty"`
	PlaybookRunID     *uuid.UUID      `json:"playbook_run_id,omitempty"`
	Reason            string          `json:"reason,omitempty"`
	StatusReason      *string         `json:"status_reason,omitempty"`
	Error             *string         `json:"error,omitempty"`
	AmazonRequestID   *string         `json:"amazon_request_id,omitempty"`
	AmazonAPIResponse json.RawMessage `json:"amazon_api_response,omitempty"`
	Attempts          int             `json:"attempts"`
	ClaimedBy         *string         `json:"claimed_by,omitempty"`
	ClaimExpiresAt    *time.Time      `json:"claim_expires_at,omitempty"`
	NotBefore         *time.Time      `json:"not_before,omitempty"`
	DecidedBy         *uuid.UUID      `json:"decided_by,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	QueuedAt          *time.Time      `json:"queued_at,omitempty"` // when the item first became queued
	AppliedAt         *time.Time      `json:"applied_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

// BucketStart truncates now to the start of its idempotency bucket (UTC).
func BucketStart(now time.Time, bucket time.Duration) time.Time {
	if bucket <= 0 {
		bucket = 24 * time.Hour
	}
	return now.UTC().Truncate(bucket)
}

// IdempotencyKey derives the deterministic key for one logical intent within a time bucket.
func IdempotencyKey(profileID string, t ActionType, p ActionPayload, bucketStart time.Time) string {
	raw := strings.Join([]string{profileID, string(t), p.EntityKey(), bucketStart.UTC().Format(time.RFC3339)}, "\x1f")
	return fmt.Sprintf("%x", sha256.Sum256([]byte(raw)))
}
