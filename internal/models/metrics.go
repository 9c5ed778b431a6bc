package models

import "time"

type EntityType string

const (
	EntityCampaign   EntityType = "campaign"
	EntityAdGroup    EntityType = "ad_group"
	EntityKeyword    EntityType = "keyword"
	EntityTarget     EntityType = "target"
	EntitySearchTerm EntityType = "search_term"
)

func IsValidEntityType(t EntityType) bool {
	switch t {
	case EntityCampaign, EntityAdGroup, EntityKeyword, EntityTarget, EntitySearchTerm:
		return true
	}
	return false
}

type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// LookbackRange returns the inclusive range of days ending the day before now.
// Today's numbers are incomplete, so they are never part of a window.
func LookbackRange(now time.Time, days int) DateRange {
	if days <= 0 {
		days = 1
	}
	end := now.UTC().Truncate(24*time.Hour).AddDate(0, 0, -1)
	return DateRange{From: end.AddDate(0, 0, -(days - 1)), To: end}
}

// AggregateMetrics are summed performance numbers. Spend and sales are in account currency.
type AggregateMetrics struct {
	Spend             float64 `json:"spend"`
	Sales             float64 `json:"sales"`
	Clicks            int64   `json:"clicks"`
	Impressions       int64   `json:"impressions"`
	Conversions       int64   `json:"conversions"`
	BudgetUtilization float64 `json:"budget_utilization"` // percent of daily budget, max over range
}

// ACOS returns spend/sales in percent. ok is false when sales are zero.
func (m AggregateMetrics) ACOS() (acos float64, ok bool) {
	if m.Sales <= 0 {
		return 0, false
	}
	return m.Spend * 100 / m.Sales, true
}

// ROAS returns sales/spend. ok is false when spend is zero.
func (m AggregateMetrics) ROAS() (roas float64, ok bool) {
	if m.Spend <= 0 {
		return 0, false
	}
	return m.Sales / m.Spend, true
}

// CPC returns spend per click. ok is false without clicks.
func (m AggregateMetrics) CPC() (cpc float64, ok bool) {
	if m.Clicks <= 0 {
		return 0, false
	}
	return m.Spend / float64(m.Clicks), true
}

// EntityMetrics is one entity's aggregate over a window plus its latest day.
type EntityMetrics struct {
	EntityType          EntityType       `json:"entity_type"`
	EntityID            string           `json:"entity_id"`
	CampaignID          string           `json:"campaign_id,omitempty"`
	AdGroupID           string           `json:"ad_group_id,omitempty"`
	Name                string           `json:"name,omitempty"`
	State               string           `json:"state,omitempty"`
	KeywordText         string           `json:"keyword_text,omitempty"`
	MatchType           string           `json:"match_type,omitempty"`
	CurrentBidMicros    *int64           `json:"current_bid_micros,omitempty"`
	CurrentBudgetMicros *int64           `json:"current_budget_micros,omitempty"`
	Days                int              `json:"days"`
	Metrics             AggregateMetrics `json:"metrics"`
	Recent              AggregateMetrics `json:"recent"`
}

func (e EntityMetrics) HasData() bool {
	return e.Days > 0
}
