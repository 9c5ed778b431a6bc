package adsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/ratelimit"
	"go.uber.org/zap"
)

// API is one call per kind of change. Every call is scoped to a profile.
type API interface {
	UpdateCampaigns(ctx context.Context, profileID string, updates []CampaignUpdate) (*Result, error)
	UpdateAdGroups(ctx context.Context, profileID string, updates []AdGroupUpdate) (*Result, error)
	UpdateKeywords(ctx context.Context, profileID string, updates []KeywordUpdate) (*Result, error)
	UpdateTargets(ctx context.Context, profileID string, updates []TargetUpdate) (*Result, error)
	CreateKeywords(ctx context.Context, profileID string, keywords []KeywordCreate) (*Result, error)
	CreateTargets(ctx context.Context, profileID string, targets []TargetCreate) (*Result, error)
	CreateNegativeKeywords(ctx context.Context, profileID string, negatives []NegativeKeywordCreate) (*Result, error)
	CreateCampaignNegativeKeywords(ctx context.Context, profileID string, negatives []CampaignNegativeKeywordCreate) (*Result, error)
}

// TokenSource supplies the bearer token for a profile. Token refresh lives
// outside this service.
type TokenSource interface {
	Token(ctx context.Context, profileID string) (string, error)
}

type StaticToken string

func (t StaticToken) Token(context.Context, string) (string, error) { return string(t), nil }

type Client struct {
	baseURL    string
	clientID   string
	tokens     TokenSource
	limiter    ratelimit.Limiter
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(baseURL, clientID string, tokens TokenSource, limiter ratelimit.Limiter, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		tokens:   tokens,
		limiter:  limiter,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type resource struct {
	path      string
	mediaType string
	key       string // envelope key in request and response bodies
}

var (
	resCampaigns         = resource{"/sp/campaigns", "application/vnd.spCampaign.v3+json", "campaigns"}
	resAdGroups          = resource{"/sp/adGroups", "application/vnd.spAdGroup.v3+json", "adGroups"}
	resKeywords          = resource{"/sp/keywords", "application/vnd.spKeyword.v3+json", "keywords"}
	resTargets           = resource{"/sp/targets", "application/vnd.spTargetingClause.v3+json", "targetingClauses"}
	resNegativeKeywords  = resource{"/sp/negativeKeywords", "application/vnd.spNegativeKeyword.v3+json", "negativeKeywords"}
	resCampaignNegatives = resource{"/sp/campaignNegativeKeywords", "application/vnd.spCampaignNegativeKeyword.v3+json", "campaignNegativeKeywords"}
)

func (c *Client) UpdateCampaigns(ctx context.Context, profileID string, updates []CampaignUpdate) (*Result, error) {
	return c.do(ctx, http.MethodPut, profileID, resCampaigns, updates)
}

func (c *Client) UpdateAdGroups(ctx context.Context, profileID string, updates []AdGroupUpdate) (*Result, error) {
	return c.do(ctx, http.MethodPut, profileID, resAdGroups, updates)
}

func (c *Client) UpdateKeywords(ctx context.Context, profileID string, updates []KeywordUpdate) (*Result, error) {
	return c.do(ctx, http.MethodPut, profileID, resKeywords, updates)
}

func (c *Client) UpdateTargets(ctx context.Context, profileID string, updates []TargetUpdate) (*Result, error) {
	return c.do(ctx, http.MethodPut, profileID, resTargets, updates)
}

func (c *Client) CreateKeywords(ctx context.Context, profileID string, keywords []KeywordCreate) (*Result, error) {
	return c.do(ctx, http.MethodPost, profileID, resKeywords, keywords)
}

func (c *Client) CreateTargets(ctx context.Context, profileID string, targets []TargetCreate) (*Result, error) {
	return c.do(ctx, http.MethodPost, profileID, resTargets, targets)
}

func (c *Client) CreateNegativeKeywords(ctx context.Context, profileID string, negatives []NegativeKeywordCreate) (*Result, error) {
	return c.do(ctx, http.MethodPost, profileID, resNegativeKeywords, negatives)
}

func (c *Client) CreateCampaignNegativeKeywords(ctx context.Context, profileID string, negatives []CampaignNegativeKeywordCreate) (*Result, error) {
	return c.do(ctx, http.MethodPost, profileID, resCampaignNegatives, negatives)
}

func (c *Client) do(ctx context.Context, method, profileID string, res resource, items any) (*Result, error) {
	if profileID == "" {
		return nil, fmt.Errorf("%w: profile id is required", ErrInvalidPayload)
	}

	if c.limiter != nil {
		ok, wait, err := c.limiter.Allow(ctx, "ads:"+profileID)
		if err != nil {
			c.log.Warn("ads api limiter unavailable", zap.Error(err))
		} else if !ok {
			return nil, &APIError{
				StatusCode: http.StatusTooManyRequests,
				Code:       "CLIENT_RATE_LIMIT",
				Message:    "local rate limit for profile reached",
				RetryAfter: wait,
			}
		}
	}

	body, err := json.Marshal(map[string]any{res.key: items})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	token, err := c.tokens.Token(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("load access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+res.path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", res.mediaType)
	req.Header.Set("Accept", res.mediaType)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Amazon-Advertising-API-ClientId", c.clientID)
	req.Header.Set("Amazon-Advertising-API-Scope", profileID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ads api unavailable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read ads api response: %w", err)
	}
	requestID := resp.Header.Get("x-amzn-RequestId")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.errorFromResponse(resp, raw, requestID)
	}

	if itemErr := itemError(raw, res.key); itemErr != nil {
		itemErr.StatusCode = resp.StatusCode
		itemErr.RequestID = requestID
		itemErr.Body = raw
		return nil, itemErr
	}

	result := &Result{RequestID: requestID, StatusCode: resp.StatusCode}
	if json.Valid(raw) {
		result.Body = json.RawMessage(raw)
	} else if len(raw) > 0 {
		quoted, _ := json.Marshal(string(raw))
		result.Body = quoted
	}
	return result, nil
}

type errorBody struct {
	Code    string `json:"code"`
	Details string `json:"details"`
	Message string `json:"message"`
}

func (c *Client) errorFromResponse(resp *http.Response, raw []byte, requestID string) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  requestID,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		Body:       raw,
	}

	ct := resp.Header.Get("Content-Type")
	var eb errorBody
	switch {
	case strings.Contains(ct, "html"):
		apiErr.Message = summarizeHTML(raw)
	case json.Unmarshal(raw, &eb) == nil:
		apiErr.Code = eb.Code
		apiErr.Message = eb.Details
		if apiErr.Message == "" {
			apiErr.Message = eb.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = truncate(collapseSpace(string(raw)), 300)
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

type multiStatus struct {
	Error []struct {
		Index  int `json:"index"`
		Errors []struct {
			ErrorType  string                     `json:"errorType"`
			ErrorValue map[string]json.RawMessage `json:"errorValue"`
		} `json:"errors"`
	} `json:"error"`
}

// itemError finds per-item rejections in a 2xx multi-status body. We send one
// item per call, so any rejection fails the action.
func itemError(raw []byte, key string) *APIError {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil
	}
	section, ok := envelope[key]
	if !ok {
		return nil
	}
	var ms multiStatus
	if err := json.Unmarshal(section, &ms); err != nil || len(ms.Error) == 0 {
		return nil
	}
	first := ms.Error[0]
	apiErr := &APIError{Code: "ITEM_REJECTED", Message: "item rejected"}
	if len(first.Errors) > 0 {
		e := first.Errors[0]
		apiErr.Code = e.ErrorType
		for _, v := range e.ErrorValue {
			var detail struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(v, &detail) == nil && detail.Message != "" {
				apiErr.Message = detail.Message
				break
			}
		}
	}
	return apiErr
}
