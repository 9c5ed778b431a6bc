package adsapi

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Entity states
const (
	StateEnabled = "ENABLED"
	StatePaused  = "PAUSED"
)

// Result is what a successful call returns to be recorded on the action.
type Result struct {
	RequestID  string
	StatusCode int
	Body       json.RawMessage
}

type Budget struct {
	Budget     float64 `json:"budget"`
	BudgetType string  `json:"budgetType"`
}

type PlacementBidding struct {
	Placement  string `json:"placement"`
	Percentage int    `json:"percentage"`
}

type DynamicBidding struct {
	PlacementBidding []PlacementBidding `json:"placementBidding"`
}

type CampaignUpdate struct {
	CampaignID     string          `json:"campaignId"`
	State          string          `json:"state,omitempty"`
	Budget         *Budget         `json:"budget,omitempty"`
	DynamicBidding *DynamicBidding `json:"dynamicBidding,omitempty"`
}

type AdGroupUpdate struct {
	AdGroupID string `json:"adGroupId"`
	State     string `json:"state,omitempty"`
}

type KeywordUpdate struct {
	KeywordID string   `json:"keywordId"`
	State     string   `json:"state,omitempty"`
	Bid       *float64 `json:"bid,omitempty"`
}

type TargetUpdate struct {
	TargetID string   `json:"targetId"`
	State    string   `json:"state,omitempty"`
	Bid      *float64 `json:"bid,omitempty"`
}

type KeywordCreate struct {
	CampaignID  string   `json:"campaignId"`
	AdGroupID   string   `json:"adGroupId"`
	KeywordText string   `json:"keywordText"`
	MatchType   string   `json:"matchType"`
	State       string   `json:"state"`
	Bid         *float64 `json:"bid,omitempty"`
}

type TargetExpression struct {
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
}

type TargetCreate struct {
	CampaignID     string             `json:"campaignId"`
	AdGroupID      string             `json:"adGroupId"`
	Expression     []TargetExpression `json:"expression"`
	ExpressionType string             `json:"expressionType"`
	State          string             `json:"state"`
	Bid            *float64           `json:"bid,omitempty"`
}

type NegativeKeywordCreate struct {
	CampaignID  string `json:"campaignId"`
	AdGroupID   string `json:"adGroupId"`
	KeywordText string `json:"keywordText"`
	MatchType   string `json:"matchType"`
	State       string `json:"state"`
}

type CampaignNegativeKeywordCreate struct {
	CampaignID  string `json:"campaignId"`
	KeywordText string `json:"keywordText"`
	MatchType   string `json:"matchType"`
	State       string `json:"state"`
}

// MicrosToAmount converts micros to the currency amount the API expects.
func MicrosToAmount(micros int64) float64 {
	return float64(micros) / 1e6
}

// MatchType maps stored match types to the API's enum.
func MatchType(m string) string {
	switch m {
	case "exact":
		return "EXACT"
	case "phrase":
		return "PHRASE"
	case "broad":
		return "BROAD"
	case "negativeExact":
		return "NEGATIVE_EXACT"
	case "negativePhrase":
		return "NEGATIVE_PHRASE"
	}
	return strings.ToUpper(m)
}

var expressionTypes = map[string]string{
	"asin":            "ASIN_SAME_AS",
	"category":        "ASIN_CATEGORY_SAME_AS",
	"brand":           "ASIN_BRAND_SAME_AS",
	"close-match":     "QUERY_HIGH_REL_MATCHES",
	"loose-match":     "QUERY_BROAD_REL_MATCHES",
	"substitutes":     "ASIN_SUBSTITUTE_RELATED",
	"complements":     "ASIN_ACCESSORY_RELATED",
	"asin-expanded":   "ASIN_EXPANDED_FROM",
	"price-less-than": "ASIN_PRICE_LESS_THAN",
}

// ParseExpression turns `asin="B000123"` or `close-match` into an API expression.
func ParseExpression(s string) ([]TargetExpression, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty targeting expression")
	}
	key, value, hasValue := strings.Cut(s, "=")
	key = strings.ToLower(strings.TrimSpace(key))
	t, ok := expressionTypes[key]
	if !ok {
		return nil, fmt.Errorf("unsupported targeting expression %q", s)
	}
	expr := TargetExpression{Type: t}
	if hasValue {
		expr.Value = strings.Trim(strings.TrimSpace(value), `"`)
		if expr.Value == "" {
			return nil, fmt.Errorf("targeting expression %q has an empty value", s)
		}
	}
	return []TargetExpression{expr}, nil
}
