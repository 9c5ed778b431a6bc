package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/events"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/repositories"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/services"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/testutil"
	"github.com/google/uuid"
)

func TestGuardrailServiceUpdate(t *testing.T) {
	ptr := func(v int64) *int64 { return &v }
	tests := []struct {
		name    string
		update  services.GuardrailUpdate
		wantErr bool
	}{
		{"bounds", services.GuardrailUpdate{BidMinMicros: ptr(200000), BidMaxMicros: ptr(3000000)}, false},
		{"min above max", services.GuardrailUpdate{BidMinMicros: ptr(3000000), BidMaxMicros: ptr(200000)}, true},
		{"negative min", services.GuardrailUpdate{BidMinMicros: ptr(-1)}, true},
		{"open max", services.GuardrailUpdate{BidMinMicros: ptr(200000), BidMaxMicros: ptr(0)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guards := testutil.NewGuardrails()
			svc := services.NewGuardrailService(guards, &testutil.Auditor{}, nil, testutil.Logger())

			_, err := svc.Update(context.Background(), nil, "p1", tt.update)
			if tt.wantErr {
				if !errors.Is(err, services.ErrInvalidInput) {
					t.Errorf("err = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Update: %v", err)
			}
			g, _ := guards.GetGuardrails(context.Background(), "p1")
			if g.BidMinMicros != *tt.update.BidMinMicros {
				t.Errorf("min = %d, want %d", g.BidMinMicros, *tt.update.BidMinMicros)
			}
			if !g.AutomationEnabled {
				t.Error("updating bounds turned automation off")
			}
		})
	}
}

func TestGuardrailServiceKillSwitch(t *testing.T) {
	guards := testutil.NewGuardrails()
	audit := &testutil.Auditor{}
	pub := &testutil.Publisher{}
	svc := services.NewGuardrailService(guards, audit, pub, testutil.Logger())
	actor := uuid.New()

	if err := svc.SetAutomationEnabled(context.Background(), &actor, "p1", false); err != nil {
		t.Fatalf("SetAutomationEnabled: %v", err)
	}
	g, _ := svc.Get(context.Background(), "p1")
	if g.AutomationEnabled {
		t.Error("automation still enabled")
	}

	entries := audit.Entries()
	if len(entries) != 1 || entries[0].Action != "automation_disabled" || entries[0].ActorType != models.ActorUser {
		t.Errorf("audit = %+v", entries)
	}
	if n := len(pub.Events(events.EventGuardrailsChanged)); n != 1 {
		t.Errorf("guardrails_changed events = %d, want 1", n)
	}
	if err := svc.SetAutomationEnabled(context.Background(), nil, "", true); !errors.Is(err, services.ErrProfileRequired) {
		t.Errorf("empty profile: err = %v", err)
	}
}

func TestGuardrailServiceProtectedEntities(t *testing.T) {
	guards := testutil.NewGuardrails()
	svc := services.NewGuardrailService(guards, &testutil.Auditor{}, nil, testutil.Logger())
	ctx := context.Background()

	if err := svc.AddProtected(ctx, nil, "p1", &models.ProtectedEntity{EntityType: "galaxy", EntityID: "x"}); !errors.Is(err, services.ErrInvalidInput) {
		t.Errorf("unknown type: err = %v, want ErrInvalidInput", err)
	}
	if err := svc.AddProtected(ctx, nil, "p1", &models.ProtectedEntity{EntityType: models.EntityCampaign, EntityID: "  "}); !errors.Is(err, services.ErrInvalidInput) {
		t.Errorf("blank id: err = %v, want ErrInvalidInput", err)
	}
	if err := svc.AddProtected(ctx, nil, "p1", &models.ProtectedEntity{EntityType: models.EntityCampaign, EntityID: "c-1", Reason: "brand"}); err != nil {
		t.Fatalf("AddProtected: %v", err)
	}

	g, _ := svc.Get(ctx, "p1")
	if _, ok := g.ProtectionFor(models.ActionPayload{EntityType: models.EntityKeyword, EntityID: "kw-1", CampaignID: "c-1"}); !ok {
		t.Error("keyword under a protected campaign is not protected")
	}

	removed, err := svc.RemoveProtected(ctx, nil, "p1", models.EntityCampaign, "c-1")
	if err != nil || !removed {
		t.Fatalf("RemoveProtected = %v, %v", removed, err)
	}
	removed, _ = svc.RemoveProtected(ctx, nil, "p1", models.EntityCampaign, "c-1")
	if removed {
		t.Error("second removal reported success")
	}
}

func TestAlertServiceAcknowledge(t *testing.T) {
	alerts := &testutil.Alerts{}
	audit := &testutil.Auditor{}
	svc := services.NewAlertService(alerts, audit, testutil.Logger())
	ctx := context.Background()

	a := &models.Alert{ProfileID: "p1", EntityType: models.EntityCampaign, EntityID: "c-1", Severity: models.SeverityWarn, Title: "t"}
	if err := alerts.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	actor := uuid.New()
	got, err := svc.Acknowledge(ctx, a.ID, &actor)
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if got.State != models.AlertStateAcknowledged || got.AcknowledgedBy == nil || *got.AcknowledgedBy != actor {
		t.Errorf("alert = %+v", got)
	}

	if _, err := svc.Acknowledge(ctx, a.ID, &actor); !errors.Is(err, repositories.ErrAlreadyAcknowledged) {
		t.Errorf("second ack: err = %v, want ErrAlreadyAcknowledged", err)
	}
	if _, err := svc.Acknowledge(ctx, uuid.New(), &actor); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("unknown alert: err = %v, want ErrNotFound", err)
	}
	if n := len(audit.Entries()); n != 1 {
		t.Errorf("audit entries = %d, want 1", n)
	}

	if _, err := svc.List(ctx, repositories.AlertFilter{}); !errors.Is(err, services.ErrProfileRequired) {
		t.Errorf("List without profile: err = %v", err)
	}
	open, _ := svc.List(ctx, repositories.AlertFilter{ProfileID: "p1", State: models.AlertStateNew})
	if len(open) != 0 {
		t.Errorf("open alerts = %d, want 0", len(open))
	}
}
