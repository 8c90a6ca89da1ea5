package engine

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"loyalty-rules-go/internal/database"
	"loyalty-rules-go/internal/models"
	"loyalty-rules-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
)

func setupProcessor(t *testing.T, clock time.Time) (*Processor, *database.Service, *models.Program, func()) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	service := database.NewServiceWithDB(db)
	if err := service.InitSchema(); err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}

	program, err := service.CreateProgram(context.Background(), "Test Program", "UTC")
	if err != nil {
		t.Fatalf("CreateProgram failed: %v", err)
	}

	processor, err := NewProcessor(service, models.EngineConfig{Timezone: "UTC", ApplyRetries: 3})
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	processor.WithClock(func() time.Time { return clock })

	cleanup := func() {
		db.Close()
	}
	return processor, service, program, cleanup
}

func createRule(t *testing.T, service *database.Service, rule models.Rule) *models.Rule {
	created, err := service.CreateRule(context.Background(), rule)
	if err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}
	return created
}

func TestProcessEvent_CheckinDailyLimit(t *testing.T) {
	clock := time.Date(2026, 9, 2, 16, 30, 0, 0, time.UTC)
	processor, service, program, cleanup := setupProcessor(t, clock)
	defer cleanup()

	ctx := context.Background()
	rule := createRule(t, service, models.Rule{
		ProgramId:    program.Id,
		Name:         "Daily Visit",
		RuleType:     models.KindEarn,
		TriggerEvent: models.EventCheckin,
		BasePoints:   10,
		Conditions:   `{"type": "frequency_based", "frequency_type": "daily", "limit": 1}`,
		Active:       true,
	})

	event := models.Event{
		CustomerId: "cust1",
		ProgramId:  program.Id,
		EventType:  models.EventCheckin,
	}
	summary, err := processor.ProcessEvent(ctx, event)
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}
	if len(summary.RulesApplied) != 1 || summary.RulesApplied[0].RuleId != rule.Id {
		t.Fatalf("Expected one applied rule, got %+v", summary.RulesApplied)
	}
	if summary.TotalPointsGranted != 10 {
		t.Errorf("Expected 10 points granted, got %d", summary.TotalPointsGranted)
	}

	account, err := service.GetAccount(ctx, summary.AccountId)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if account.PointsBalance != 10 {
		t.Errorf("Expected balance 10, got %d", account.PointsBalance)
	}

	// Second check-in the same day hits the window cap.
	summary, err = processor.ProcessEvent(ctx, event)
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}
	if len(summary.RulesApplied) != 0 {
		t.Errorf("Expected no applied rules on second check-in, got %+v", summary.RulesApplied)
	}
	if len(summary.RulesSkipped) != 1 {
		t.Errorf("Expected one skipped rule, got %+v", summary.RulesSkipped)
	}

	// Next day the window resets.
	processor.WithClock(func() time.Time { return clock.AddDate(0, 0, 1) })
	summary, err = processor.ProcessEvent(ctx, event)
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}
	if summary.TotalPointsGranted != 10 {
		t.Errorf("Expected 10 points on next day, got %d", summary.TotalPointsGranted)
	}
}

func TestProcessEvent_UnknownEventType(t *testing.T) {
	clock := time.Date(2026, 9, 2, 12, 0, 0, 0, time.UTC)
	processor, _, program, cleanup := setupProcessor(t, clock)
	defer cleanup()

	_, err := processor.ProcessEvent(context.Background(), models.Event{
		CustomerId: "cust1",
		ProgramId:  program.Id,
		EventType:  "refund",
	})
	if err == nil {
		t.Fatal("Expected error for unknown event type")
	}
}

func TestProcessEvent_DeactivatedAccount(t *testing.T) {
	clock := time.Date(2026, 9, 2, 12, 0, 0, 0, time.UTC)
	processor, service, program, cleanup := setupProcessor(t, clock)
	defer cleanup()

	ctx := context.Background()
	account, err := service.GetOrCreateAccount(ctx, "cust1", program.Id)
	if err != nil {
		t.Fatalf("GetOrCreateAccount failed: %v", err)
	}
	if err := service.DeactivateAccount(ctx, account.Id); err != nil {
		t.Fatalf("DeactivateAccount failed: %v", err)
	}

	_, err = processor.ProcessEvent(ctx, models.Event{
		CustomerId: "cust1",
		ProgramId:  program.Id,
		EventType:  models.EventCheckin,
	})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState for deactivated account, got %v", err)
	}
}

func TestProcessEvent_ManualAdjust(t *testing.T) {
	clock := time.Date(2026, 9, 2, 12, 0, 0, 0, time.UTC)
	processor, service, program, cleanup := setupProcessor(t, clock)
	defer cleanup()

	ctx := context.Background()
	summary, err := processor.ProcessEvent(ctx, models.Event{
		CustomerId: "cust1",
		ProgramId:  program.Id,
		EventType:  models.EventManualAdjust,
		Payload:    map[string]any{"points": 50, "reason": "Goodwill credit"},
	})
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}
	if summary.TotalPointsGranted != 50 {
		t.Errorf("Expected 50 points granted, got %d", summary.TotalPointsGranted)
	}

	// Debits past the balance are rejected; the balance never goes negative.
	_, err = processor.ProcessEvent(ctx, models.Event{
		CustomerId: "cust1",
		ProgramId:  program.Id,
		EventType:  models.EventManualAdjust,
		Payload:    map[string]any{"points": -80},
	})
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("Expected ErrInsufficientBalance, got %v", err)
	}

	summary, err = processor.ProcessEvent(ctx, models.Event{
		CustomerId: "cust1",
		ProgramId:  program.Id,
		EventType:  models.EventManualAdjust,
		Payload:    map[string]any{"points": -30},
	})
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}

	account, err := service.GetAccount(ctx, summary.AccountId)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if account.PointsBalance != 20 {
		t.Errorf("Expected balance 20, got %d", account.PointsBalance)
	}

	// Missing or zero points payload is a caller error.
	_, err = processor.ProcessEvent(ctx, models.Event{
		CustomerId: "cust1",
		ProgramId:  program.Id,
		EventType:  models.EventManualAdjust,
		Payload:    map[string]any{"reason": "no amount"},
	})
	if err == nil {
		t.Error("Expected error for adjustment without points")
	}
}

func TestProcessEvent_ShortBalanceSkipsRule(t *testing.T) {
	clock := time.Date(2026, 9, 2, 12, 0, 0, 0, time.UTC)
	processor, service, program, cleanup := setupProcessor(t, clock)
	defer cleanup()

	ctx := context.Background()
	redeem := createRule(t, service, models.Rule{
		ProgramId:    program.Id,
		Name:         "Welcome Redemption",
		RuleType:     models.KindRedeem,
		TriggerEvent: models.EventCheckin,
		BasePoints:   -50,
		Priority:     100,
		Conditions:   `{"type": "frequency_based", "frequency_type": "daily", "limit": 1}`,
		Active:       true,
	})
	earn := createRule(t, service, models.Rule{
		ProgramId:    program.Id,
		Name:         "Base Visit",
		RuleType:     models.KindEarn,
		TriggerEvent: models.EventCheckin,
		BasePoints:   10,
		Priority:     50,
		Conditions:   `{"type": "frequency_based", "frequency_type": "daily", "limit": 1}`,
		Active:       true,
	})

	// The redemption runs first and the balance cannot cover it. The batch
	// must survive: the earn rule still pays.
	summary, err := processor.ProcessEvent(ctx, models.Event{
		CustomerId: "cust1",
		ProgramId:  program.Id,
		EventType:  models.EventCheckin,
	})
	if summary == nil {
		t.Fatal("Expected a summary despite the failed redemption")
	}
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Errorf("Expected ErrInsufficientBalance in the aggregate error, got %v", err)
	}
	if len(summary.RulesApplied) != 1 || summary.RulesApplied[0].RuleId != earn.Id {
		t.Fatalf("Expected only the earn rule applied, got %+v", summary.RulesApplied)
	}
	if len(summary.RulesSkipped) != 1 || summary.RulesSkipped[0].RuleId != redeem.Id {
		t.Errorf("Expected the redemption skipped, got %+v", summary.RulesSkipped)
	}

	account, err := service.GetAccount(ctx, summary.AccountId)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if account.PointsBalance != 10 {
		t.Errorf("Expected balance 10, got %d", account.PointsBalance)
	}
}

func TestProcessEvent_ZeroPointResultWritesNothing(t *testing.T) {
	clock := time.Date(2026, 9, 2, 12, 0, 0, 0, time.UTC)
	processor, service, program, cleanup := setupProcessor(t, clock)
	defer cleanup()

	ctx := context.Background()
	rule := createRule(t, service, models.Rule{
		ProgramId:    program.Id,
		Name:         "Morning Combo",
		RuleType:     models.KindBonus,
		TriggerEvent: models.EventCheckin,
		BasePoints:   0,
		Conditions:   `{"type": "combo_based", "required_actions": [{"type": "check-in", "min_count": 1}, {"type": "purchase", "min_count": 1}], "timeframe_hours": 4, "combo_bonus": 25}`,
		Active:       true,
	})

	// Partial combo on a zero-base rule resolves to zero points; no ledger
	// entry may be written, or it would count toward frequency caps.
	summary, err := processor.ProcessEvent(ctx, models.Event{
		CustomerId: "cust1",
		ProgramId:  program.Id,
		EventType:  models.EventCheckin,
	})
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}
	if len(summary.RulesApplied) != 0 {
		t.Errorf("Expected no applied rules, got %+v", summary.RulesApplied)
	}
	if len(summary.RulesSkipped) != 1 {
		t.Errorf("Expected the combo rule skipped, got %+v", summary.RulesSkipped)
	}

	count, err := service.CountRuleEntries(ctx, summary.AccountId, rule.Id, clock.AddDate(0, 0, -1))
	if err != nil {
		t.Fatalf("CountRuleEntries failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no ledger entries for the rule, got %d", count)
	}
}

func TestProcessEvent_UntieredAccountGetsLowestTier(t *testing.T) {
	clock := time.Date(2026, 9, 2, 12, 0, 0, 0, time.UTC)
	processor, service, program, cleanup := setupProcessor(t, clock)
	defer cleanup()

	ctx := context.Background()
	if _, err := service.CreateTier(ctx, program.Id, "Bronze", 0); err != nil {
		t.Fatalf("CreateTier failed: %v", err)
	}
	if _, err := service.CreateTier(ctx, program.Id, "Silver", 500); err != nil {
		t.Fatalf("CreateTier failed: %v", err)
	}

	createRule(t, service, models.Rule{
		ProgramId:    program.Id,
		Name:         "Tier Boost",
		RuleType:     models.KindEarn,
		TriggerEvent: models.EventPurchase,
		BasePoints:   10,
		Conditions:   `{"type": "tier_based", "tier_multipliers": {"Bronze": "1.5", "Silver": "2"}}`,
		Active:       true,
	})

	// A brand-new account has no assigned tier yet; it still scores as the
	// program's lowest tier rather than falling outside the ladder.
	summary, err := processor.ProcessEvent(ctx, models.Event{
		CustomerId: "cust1",
		ProgramId:  program.Id,
		EventType:  models.EventPurchase,
	})
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}
	if summary.TotalPointsGranted != 15 {
		t.Errorf("Expected 15 points at the Bronze multiplier, got %d", summary.TotalPointsGranted)
	}
}

func TestProcessEvent_MilestonePaysOnce(t *testing.T) {
	clock := time.Date(2026, 9, 2, 12, 0, 0, 0, time.UTC)
	processor, service, program, cleanup := setupProcessor(t, clock)
	defer cleanup()

	ctx := context.Background()
	createRule(t, service, models.Rule{
		ProgramId:    program.Id,
		Name:         "Points Milestones",
		RuleType:     models.KindBonus,
		TriggerEvent: models.EventCheckin,
		Conditions:   `{"type": "milestone_based", "milestone_type": "lifetime_points", "milestones": [{"threshold": 50, "bonus_points": 100}]}`,
		Active:       true,
	})

	account, err := service.GetOrCreateAccount(ctx, "cust1", program.Id)
	if err != nil {
		t.Fatalf("GetOrCreateAccount failed: %v", err)
	}
	if _, err := service.Append(ctx, store.AppendParams{
		AccountId:   account.Id,
		Points:      60,
		Kind:        models.KindEarn,
		Description: "Purchase reward: base",
	}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	event := models.Event{
		CustomerId: "cust1",
		ProgramId:  program.Id,
		EventType:  models.EventCheckin,
	}
	summary, err := processor.ProcessEvent(ctx, event)
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}
	if summary.TotalPointsGranted != 100 {
		t.Fatalf("Expected 100 milestone points, got %d", summary.TotalPointsGranted)
	}

	// The milestone marker survives in the ledger: a later event must not
	// pay the same threshold again.
	summary, err = processor.ProcessEvent(ctx, event)
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}
	if summary.TotalPointsGranted != 0 {
		t.Errorf("Expected no points on repeat event, got %d", summary.TotalPointsGranted)
	}
	if len(summary.RulesSkipped) != 1 {
		t.Errorf("Expected milestone rule skipped, got %+v", summary.RulesSkipped)
	}

	account, err = service.GetAccount(ctx, account.Id)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if account.PointsBalance != 160 {
		t.Errorf("Expected balance 160, got %d", account.PointsBalance)
	}
}

func TestProcessEvent_TierProgression(t *testing.T) {
	clock := time.Date(2026, 9, 2, 12, 0, 0, 0, time.UTC)
	processor, service, program, cleanup := setupProcessor(t, clock)
	defer cleanup()

	ctx := context.Background()
	if _, err := service.CreateTier(ctx, program.Id, "Bronze", 0); err != nil {
		t.Fatalf("CreateTier failed: %v", err)
	}
	silver, err := service.CreateTier(ctx, program.Id, "Silver", 100)
	if err != nil {
		t.Fatalf("CreateTier failed: %v", err)
	}

	createRule(t, service, models.Rule{
		ProgramId:    program.Id,
		Name:         "Big Welcome",
		RuleType:     models.KindEarn,
		TriggerEvent: models.EventCheckin,
		BasePoints:   120,
		Conditions:   `{"type": "frequency_based", "frequency_type": "daily", "limit": 1}`,
		Active:       true,
	})

	summary, err := processor.ProcessEvent(ctx, models.Event{
		CustomerId: "cust1",
		ProgramId:  program.Id,
		EventType:  models.EventCheckin,
	})
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}
	if summary.TierId != silver.Id {
		t.Errorf("Expected promotion to Silver, got tier %q", summary.TierId)
	}
}
