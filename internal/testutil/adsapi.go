package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/adsapi"
)

// APICall is one recorded call on AdsAPI.
type APICall struct {
	Method    string
	ProfileID string
	Body      any
}

// AdsAPI is a scripted adsapi.API. Errors queued with FailNext are returned
// in order before calls start succeeding.
type AdsAPI struct {
	mu       sync.Mutex
	calls    []APICall
	failures []error
	seq      atomic.Int64

	// Delay, when set, is slept inside every call.
	Delay time.Duration
}

func NewAdsAPI() *AdsAPI { return &AdsAPI{} }

func (a *AdsAPI) FailNext(errs ...error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures = append(a.failures, errs...)
}

func (a *AdsAPI) Calls() []APICall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]APICall(nil), a.calls...)
}

func (a *AdsAPI) CallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *AdsAPI) record(ctx context.Context, method, profileID string, body any) (*adsapi.Result, error) {
	if a.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.Delay):
		}
	}
	a.mu.Lock()
	a.calls = append(a.calls, APICall{Method: method, ProfileID: profileID, Body: body})
	var err error
	if len(a.failures) > 0 {
		err = a.failures[0]
		a.failures = a.failures[1:]
	}
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	n := a.seq.Add(1)
	return &adsapi.Result{
		RequestID:  fmt.Sprintf("req-%d", n),
		StatusCode: 207,
		Body:       []byte(`{"success":[{"index":0}]}`),
	}, nil
}

func (a *AdsAPI) UpdateCampaigns(ctx context.Context, profileID string, updates []adsapi.CampaignUpdate) (*adsapi.Result, error) {
	return a.record(ctx, "UpdateCampaigns", profileID, updates)
}

func (a *AdsAPI) UpdateAdGroups(ctx context.Context, profileID string, updates []adsapi.AdGroupUpdate) (*adsapi.Result, error) {
	return a.record(ctx, "UpdateAdGroups", profileID, updates)
}

func (a *AdsAPI) UpdateKeywords(ctx context.Context, profileID string, updates []adsapi.KeywordUpdate) (*adsapi.Result, error) {
	return a.record(ctx, "UpdateKeywords", profileID, updates)
}

func (a *AdsAPI) UpdateTargets(ctx context.Context, profileID string, updates []adsapi.TargetUpdate) (*adsapi.Result, error) {
	return a.record(ctx, "UpdateTargets", profileID, updates)
}

func (a *AdsAPI) CreateKeywords(ctx context.Context, profileID string, keywords []adsapi.KeywordCreate) (*adsapi.Result, error) {
	return a.record(ctx, "CreateKeywords", profileID, keywords)
}

func (a *AdsAPI) CreateTargets(ctx context.Context, profileID string, targets []adsapi.TargetCreate) (*adsapi.Result, error) {
	return a.record(ctx, "CreateTargets", profileID, targets)
}

func (a *AdsAPI) CreateNegativeKeywords(ctx context.Context, profileID string, negatives []adsapi.NegativeKeywordCreate) (*adsapi.Result, error) {
	return a.record(ctx, "CreateNegativeKeywords", profileID, negatives)
}

func (a *AdsAPI) CreateCampaignNegativeKeywords(ctx context.Context, profileID string, negatives []adsapi.CampaignNegativeKeywordCreate) (*adsapi.Result, error) {
	return a.record(ctx, "CreateCampaignNegativeKeywords", profileID, negatives)
}
