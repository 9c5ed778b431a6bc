package worker

import (
	"context"
	"fmt"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/adsapi"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
)

// Handler applies one kind of action through the advertising API.
type Handler func(ctx context.Context, api adsapi.API, item *models.ActionQueueItem) (*adsapi.Result, error)

var handlers = map[models.ActionType]Handler{
	models.ActionPauseCampaign:          setCampaignState(adsapi.StatePaused),
	models.ActionEnableCampaign:         setCampaignState(adsapi.StateEnabled),
	models.ActionPauseAdGroup:           setAdGroupState(adsapi.StatePaused),
	models.ActionEnableAdGroup:          setAdGroupState(adsapi.StateEnabled),
	models.ActionPauseKeyword:           setKeywordState(adsapi.StatePaused),
	models.ActionEnableKeyword:          setKeywordState(adsapi.StateEnabled),
	models.ActionPauseTarget:            setTargetState(adsapi.StatePaused),
	models.ActionEnableTarget:           setTargetState(adsapi.StateEnabled),
	models.ActionSetBid:                 setKeywordBid,
	models.ActionSetTargetBid:           setTargetBid,
	models.ActionCreateKeyword:          createKeyword,
	models.ActionCreateTarget:           createTarget,
	models.ActionAddCampaignNegative:    addCampaignNegative,
	models.ActionAddAdGroupNegative:     addAdGroupNegative,
	models.ActionSetPlacementAdjustment: setPlacementAdjustment,
	models.ActionUpdateBudget:           updateBudget,
}

// HandlerFor returns the handler registered for t.
func HandlerFor(t models.ActionType) (Handler, bool) {
	h, ok := handlers[t]
	return h, ok
}

func setCampaignState(state string) Handler {
	return func(ctx context.Context, api adsapi.API, item *models.ActionQueueItem) (*adsapi.Result, error) {
		return api.UpdateCampaigns(ctx, item.ProfileID, []adsapi.CampaignUpdate{{CampaignID: item.Payload.EntityID, State: state}})
	}
}

func setAdGroupState(state string) Handler {
	return func(ctx context.Context, api adsapi.API, item *models.ActionQueueItem) (*adsapi.Result, error) {
		return api.UpdateAdGroups(ctx, item.ProfileID, []adsapi.AdGroupUpdate{{AdGroupID: item.Payload.EntityID, State: state}})
	}
}

func setKeywordState(state string) Handler {
	return func(ctx context.Context, api adsapi.API, item *models.ActionQueueItem) (*adsapi.Result, error) {
		return api.UpdateKeywords(ctx, item.ProfileID, []adsapi.KeywordUpdate{{KeywordID: item.Payload.EntityID, State: state}})
	}
}

func setTargetState(state string) Handler {
	return func(ctx context.Context, api adsapi.API, item *models.ActionQueueItem) (*adsapi.Result, error) {
		return api.UpdateTargets(ctx, item.ProfileID, []adsapi.TargetUpdate{{TargetID: item.Payload.EntityID, State: state}})
	}
}

func bidAmount(p models.ActionPayload) (*float64, error) {
	if p.BidMicros == nil || *p.BidMicros <= 0 {
		return nil, fmt.Errorf("%w: bidMicros must be positive", adsapi.ErrInvalidPayload)
	}
	v := adsapi.MicrosToAmount(*p.BidMicros)
	return &v, nil
}

func optionalBid(p models.ActionPayload) *float64 {
	if p.BidMicros == nil || *p.BidMicros <= 0 {
		return nil
	}
	v := adsapi.MicrosToAmount(*p.BidMicros)
	return &v
}

func setKeywordBid(ctx context.Context, api adsapi.API, item *models.ActionQueueItem) (*adsapi.Result, error) {
	bid, err := bidAmount(item.Payload)
	if err != nil {
		return nil, err
	}
	return api.UpdateKeywords(ctx, item.ProfileID, []adsapi.KeywordUpdate{{KeywordID: item.Payload.EntityID, Bid: bid}})
}

func setTargetBid(ctx context.Context, api adsapi.API, item *models.ActionQueueItem) (*adsapi.Result, error) {
	bid, err := bidAmount(item.Payload)
	if err != nil {
		return nil, err
	}
	return api.UpdateTargets(ctx, item.ProfileID, []adsapi.TargetUpdate{{TargetID: item.Payload.EntityID, Bid: bid}})
}

func createKeyword(ctx context.Context, api adsapi.API, item *models.ActionQueueItem) (*adsapi.Result, error) {
	p := item.Payload
	return api.CreateKeywords(ctx, item.ProfileID, []adsapi.KeywordCreate{{
		CampaignID:  p.CampaignID,
		AdGroupID:   p.EntityID,
		KeywordText: p.KeywordText,
		MatchType:   adsapi.MatchType(p.MatchType),
		State:       adsapi.StateEnabled,
		Bid:         optionalBid(p),
	}})
}

func createTarget(ctx context.Context, api adsapi.API, item *models.ActionQueueItem) (*adsapi.Result, error) {
	p := item.Payload
	expr, err := adsapi.ParseExpression(p.Expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", adsapi.ErrInvalidPayload, err)
	}
	return api.CreateTargets(ctx, item.ProfileID, []adsapi.TargetCreate{{
		CampaignID:     p.CampaignID,
		AdGroupID:      p.EntityID,
		Expression:     expr,
		ExpressionType: "MANUAL",
		State:          adsapi.StateEnabled,
		Bid:            optionalBid(p),
	}})
}

func addAdGroupNegative(ctx context.Context, api adsapi.API, item *models.ActionQueueItem) (*adsapi.Result, error) {
	p := item.Payload
	return api.CreateNegativeKeywords(ctx, item.ProfileID, []adsapi.NegativeKeywordCreate{{
		CampaignID:  p.CampaignID,
		AdGroupID:   p.EntityID,
		KeywordText: p.KeywordText,
		MatchType:   adsapi.MatchType(p.MatchType),
		State:       adsapi.StateEnabled,
	}})
}

func addCampaignNegative(ctx context.Context, api adsapi.API, item *models.ActionQueueItem) (*adsapi.Result, error) {
	p := item.Payload
	return api.CreateCampaignNegativeKeywords(ctx, item.ProfileID, []adsapi.CampaignNegativeKeywordCreate{{
		CampaignID:  p.EntityID,
		KeywordText: p.KeywordText,
		MatchType:   adsapi.MatchType(p.MatchType),
		State:       adsapi.StateEnabled,
	}})
}

func setPlacementAdjustment(ctx context.Context, api adsapi.API, item *models.ActionQueueItem) (*adsapi.Result, error) {
	p := item.Payload
	if p.Placement == "" || p.Percentage == nil {
		return nil, fmt.Errorf("%w: placement and percentage are required", adsapi.ErrInvalidPayload)
	}
	return api.UpdateCampaigns(ctx, item.ProfileID, []adsapi.CampaignUpdate{{
		CampaignID: p.EntityID,
		DynamicBidding: &adsapi.DynamicBidding{
			PlacementBidding: []adsapi.PlacementBidding{{Placement: p.Placement, Percentage: *p.Percentage}},
		},
	}})
}

func updateBudget(ctx context.Context, api adsapi.API, item *models.ActionQueueItem) (*adsapi.Result, error) {
	p := item.Payload
	if p.BudgetMicros == nil || *p.BudgetMicros <= 0 {
		return nil, fmt.Errorf("%w: budgetMicros must be positive", adsapi.ErrInvalidPayload)
	}
	return api.UpdateCampaigns(ctx, item.ProfileID, []adsapi.CampaignUpdate{{
		CampaignID: p.EntityID,
		Budget:     &adsapi.Budget{Budget: adsapi.MicrosToAmount(*p.BudgetMicros), BudgetType: "DAILY"},
	}})
}
