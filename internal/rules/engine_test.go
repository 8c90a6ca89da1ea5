package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"loyalty-rules-go/internal/models"
	"loyalty-rules-go/internal/store"
)

// fakeHistory serves canned ledger answers so evaluator logic is tested
// without a database.
type fakeHistory struct {
	ruleEntries  int
	ruleDays     map[string]bool
	actionCounts map[string]int
	distinctLocs int
	visitedLocs  map[string]bool
	awarded      map[string]bool
	visits       int
}

func (f *fakeHistory) CountRuleEntries(ctx context.Context, accountId, ruleId string, since time.Time) (int, error) {
	return f.ruleEntries, nil
}

func (f *fakeHistory) RuleEntryOnDay(ctx context.Context, accountId, ruleId string, dayStart, dayEnd time.Time) (bool, error) {
	return f.ruleDays[dayStart.Format("2006-01-02")], nil
}

func (f *fakeHistory) CountActionEntries(ctx context.Context, accountId, keyword string, since time.Time) (int, error) {
	return f.actionCounts[keyword], nil
}

func (f *fakeHistory) CountDistinctLocations(ctx context.Context, accountId string, since time.Time) (int, error) {
	return f.distinctLocs, nil
}

func (f *fakeHistory) LocationVisited(ctx context.Context, accountId, locationId string, since time.Time) (bool, error) {
	return f.visitedLocs[locationId], nil
}

func (f *fakeHistory) MilestoneAwarded(ctx context.Context, accountId, ruleId, marker string) (bool, error) {
	return f.awarded[marker], nil
}

func (f *fakeHistory) CountVisits(ctx context.Context, accountId string) (int, error) {
	return f.visits, nil
}

func testRule(conditions string, basePoints int64) models.Rule {
	return models.Rule{
		Id:         "rule1",
		Name:       "test rule",
		RuleType:   models.KindEarn,
		Conditions: conditions,
		BasePoints: basePoints,
	}
}

// 2026-09-02 is a Wednesday.
func wednesdayAt(hour, minute int) time.Time {
	return time.Date(2026, 9, 2, hour, minute, 0, 0, time.UTC)
}

func TestParseConditions_Malformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{{`},
		{"missing type", `{"multiplier": "2"}`},
		{"unknown type", `{"type": "astrological"}`},
		{"bad window time", `{"type": "time_based", "time_windows": [{"start": "25:99", "end": "18:00", "days": [0]}], "multiplier": "2"}`},
		{"day out of range", `{"type": "time_based", "time_windows": [{"start": "15:00", "end": "18:00", "days": [7]}], "multiplier": "2"}`},
		{"zero multiplier", `{"type": "time_based", "time_windows": [{"start": "15:00", "end": "18:00", "days": [0]}], "multiplier": "0"}`},
		{"bad frequency type", `{"type": "frequency_based", "frequency_type": "hourly", "limit": 1}`},
		{"unordered milestones", `{"type": "milestone_based", "milestone_type": "lifetime_points", "milestones": [{"threshold": 500, "bonus_points": 100}, {"threshold": 200, "bonus_points": 50}]}`},
		{"combo without actions", `{"type": "combo_based", "required_actions": [], "timeframe_hours": 4, "combo_bonus": 25}`},
	}
	for _, tc := range cases {
		if _, err := ParseConditions([]byte(tc.raw)); err == nil {
			t.Errorf("%s: expected parse error, got none", tc.name)
		}
	}
}

func TestEvaluate_MalformedConditions(t *testing.T) {
	engine := NewEngine(&fakeHistory{})
	rule := testRule(`{"type": "astrological"}`, 10)

	_, err := engine.Evaluate(context.Background(), rule, EvalContext{
		Now:     wednesdayAt(12, 0),
		Account: &models.Account{Id: "acct1"},
	})
	if !errors.Is(err, store.ErrMalformedConditions) {
		t.Fatalf("Expected ErrMalformedConditions, got %v", err)
	}
}

func TestTimeBased(t *testing.T) {
	engine := NewEngine(&fakeHistory{})
	rule := testRule(`{"type": "time_based", "time_windows": [{"start": "15:00", "end": "18:00", "days": [0, 1, 2, 3, 4]}], "multiplier": "2"}`, 10)
	account := &models.Account{Id: "acct1"}

	result, err := engine.Evaluate(context.Background(), rule, EvalContext{
		Now: wednesdayAt(16, 30), Account: account,
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Applicable || result.Points != 20 {
		t.Errorf("Expected 20 points inside window, got applicable=%v points=%d", result.Applicable, result.Points)
	}

	result, err = engine.Evaluate(context.Background(), rule, EvalContext{
		Now: wednesdayAt(20, 0), Account: account,
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Applicable {
		t.Errorf("Expected not applicable at 20:00, got points=%d", result.Points)
	}

	// Saturday is day 5, not in the window list.
	saturday := time.Date(2026, 9, 5, 16, 30, 0, 0, time.UTC)
	result, _ = engine.Evaluate(context.Background(), rule, EvalContext{Now: saturday, Account: account})
	if result.Applicable {
		t.Error("Expected not applicable on Saturday")
	}
}

func TestTimeBased_OvernightWindow(t *testing.T) {
	engine := NewEngine(&fakeHistory{})
	rule := testRule(`{"type": "time_based", "time_windows": [{"start": "22:00", "end": "02:00", "days": [0, 1, 2, 3, 4]}], "multiplier": "3"}`, 10)

	result, err := engine.Evaluate(context.Background(), rule, EvalContext{
		Now: wednesdayAt(23, 15), Account: &models.Account{Id: "acct1"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Applicable || result.Points != 30 {
		t.Errorf("Expected 30 points in overnight window, got applicable=%v points=%d", result.Applicable, result.Points)
	}
}

func TestTimeBased_NoDaysMeansEveryDay(t *testing.T) {
	engine := NewEngine(&fakeHistory{})
	rule := testRule(`{"type": "time_based", "time_windows": [{"start": "15:00", "end": "18:00"}], "multiplier": "2"}`, 10)
	account := &models.Account{Id: "acct1"}

	// A window without a days list recurs on every day of the week.
	for offset := 0; offset < 7; offset++ {
		now := time.Date(2026, 9, 2+offset, 16, 0, 0, 0, time.UTC)
		result, err := engine.Evaluate(context.Background(), rule, EvalContext{Now: now, Account: account})
		if err != nil {
			t.Fatalf("Evaluate failed on %s: %v", now.Weekday(), err)
		}
		if !result.Applicable || result.Points != 20 {
			t.Errorf("%s: expected 20 points, got applicable=%v points=%d", now.Weekday(), result.Applicable, result.Points)
		}
	}

	result, _ := engine.Evaluate(context.Background(), rule, EvalContext{
		Now: wednesdayAt(20, 0), Account: account,
	})
	if result.Applicable {
		t.Error("Expected not applicable outside window hours")
	}
}

func TestFrequencyBased_DailyLimit(t *testing.T) {
	history := &fakeHistory{}
	engine := NewEngine(history)
	rule := testRule(`{"type": "frequency_based", "frequency_type": "daily", "limit": 1}`, 10)
	evalCtx := EvalContext{Now: wednesdayAt(9, 0), Account: &models.Account{Id: "acct1"}}

	result, err := engine.Evaluate(context.Background(), rule, evalCtx)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Applicable || result.Points != 10 {
		t.Errorf("Expected first visit to earn 10, got applicable=%v points=%d", result.Applicable, result.Points)
	}

	history.ruleEntries = 1
	result, err = engine.Evaluate(context.Background(), rule, evalCtx)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Applicable {
		t.Errorf("Expected second visit blocked by daily limit, got points=%d", result.Points)
	}
}

func TestFrequencyBased_StreakBonus(t *testing.T) {
	history := &fakeHistory{ruleDays: map[string]bool{
		"2026-09-01": true,
		"2026-08-31": true,
		"2026-08-30": true,
		"2026-08-29": true,
	}}
	engine := NewEngine(history)
	rule := testRule(`{"type": "frequency_based", "frequency_type": "daily", "limit": 1, "streak_bonus": 10}`, 10)

	result, err := engine.Evaluate(context.Background(), rule, EvalContext{
		Now: wednesdayAt(9, 0), Account: &models.Account{Id: "acct1"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	// Four prior days plus today is a 5-day streak: 10 base + 5*10 bonus.
	if result.Points != 60 || result.BonusPoints != 50 {
		t.Errorf("Expected 60 points with 50 bonus, got points=%d bonus=%d", result.Points, result.BonusPoints)
	}

	// The bonus grows with the streak, one scalar per day.
	history.ruleDays["2026-08-28"] = true
	result, _ = engine.Evaluate(context.Background(), rule, EvalContext{
		Now: wednesdayAt(9, 0), Account: &models.Account{Id: "acct1"},
	})
	if result.Points != 70 || result.BonusPoints != 60 {
		t.Errorf("Expected 70 points with 60 bonus on day 6, got points=%d bonus=%d", result.Points, result.BonusPoints)
	}

	// A gap resets the streak to the days after it.
	history.ruleDays["2026-08-31"] = false
	result, _ = engine.Evaluate(context.Background(), rule, EvalContext{
		Now: wednesdayAt(9, 0), Account: &models.Account{Id: "acct1"},
	})
	if result.Points != 30 || result.BonusPoints != 20 {
		t.Errorf("Expected 30 points with 20 bonus after gap, got points=%d bonus=%d", result.Points, result.BonusPoints)
	}
}

func TestTierBased(t *testing.T) {
	engine := NewEngine(&fakeHistory{})
	rule := testRule(`{"type": "tier_based", "tier_multipliers": {"gold": "2", "silver": "1.5"}}`, 10)
	account := &models.Account{Id: "acct1"}

	result, err := engine.Evaluate(context.Background(), rule, EvalContext{
		Now: wednesdayAt(12, 0), Account: account, TierName: "Gold",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Points != 20 {
		t.Errorf("Expected 20 for gold tier, got %d", result.Points)
	}

	// Truncation, never rounding: 10 * 1.5 = 15.
	result, _ = engine.Evaluate(context.Background(), rule, EvalContext{
		Now: wednesdayAt(12, 0), Account: account, TierName: "Silver",
	})
	if result.Points != 15 {
		t.Errorf("Expected 15 for silver tier, got %d", result.Points)
	}

	// Unlisted tier falls back to base points.
	result, _ = engine.Evaluate(context.Background(), rule, EvalContext{
		Now: wednesdayAt(12, 0), Account: account, TierName: "Bronze",
	})
	if !result.Applicable || result.Points != 10 {
		t.Errorf("Expected base 10 for unlisted tier, got applicable=%v points=%d", result.Applicable, result.Points)
	}
}

func TestComboBased(t *testing.T) {
	history := &fakeHistory{actionCounts: map[string]int{}}
	engine := NewEngine(history)
	rule := testRule(`{"type": "combo_based", "required_actions": [{"type": "check-in", "min_count": 1}, {"type": "purchase", "min_count": 1}], "timeframe_hours": 4, "combo_bonus": 25}`, 5)
	evalCtx := EvalContext{
		Now:       wednesdayAt(9, 0),
		Account:   &models.Account{Id: "acct1"},
		EventType: models.EventCheckin,
	}

	// Only the current check-in so far: partial combo earns base points.
	result, err := engine.Evaluate(context.Background(), rule, evalCtx)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Applicable || result.Points != 5 || result.BonusPoints != 0 {
		t.Errorf("Expected partial combo base 5, got applicable=%v points=%d bonus=%d",
			result.Applicable, result.Points, result.BonusPoints)
	}

	// A purchase already in the window completes the combo.
	history.actionCounts["purchase"] = 1
	result, err = engine.Evaluate(context.Background(), rule, evalCtx)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Points != 30 || result.BonusPoints != 25 {
		t.Errorf("Expected complete combo 30 with 25 bonus, got points=%d bonus=%d", result.Points, result.BonusPoints)
	}
}

func TestMilestoneBased(t *testing.T) {
	history := &fakeHistory{awarded: map[string]bool{}}
	engine := NewEngine(history)
	rule := testRule(`{"type": "milestone_based", "milestone_type": "lifetime_points", "milestones": [{"threshold": 500, "bonus_points": 100}, {"threshold": 2000, "bonus_points": 500}]}`, 0)

	// Below every threshold: nothing to pay.
	result, err := engine.Evaluate(context.Background(), rule, EvalContext{
		Now: wednesdayAt(9, 0), Account: &models.Account{Id: "acct1", LifetimePoints: 400},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Applicable {
		t.Errorf("Expected not applicable below threshold, got points=%d", result.Points)
	}

	// Crossed 500: pays once with the marker set.
	result, err = engine.Evaluate(context.Background(), rule, EvalContext{
		Now: wednesdayAt(9, 0), Account: &models.Account{Id: "acct1", LifetimePoints: 600},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Applicable || result.Points != 100 || result.Marker != "milestone_500" {
		t.Errorf("Expected 100 points with marker milestone_500, got applicable=%v points=%d marker=%q",
			result.Applicable, result.Points, result.Marker)
	}

	history.awarded["milestone_500"] = true
	result, _ = engine.Evaluate(context.Background(), rule, EvalContext{
		Now: wednesdayAt(9, 0), Account: &models.Account{Id: "acct1", LifetimePoints: 600},
	})
	if result.Applicable {
		t.Error("Expected milestone not to pay twice")
	}

	// Crossing the higher threshold pays the higher milestone only.
	result, _ = engine.Evaluate(context.Background(), rule, EvalContext{
		Now: wednesdayAt(9, 0), Account: &models.Account{Id: "acct1", LifetimePoints: 2500},
	})
	if !result.Applicable || result.Points != 500 || result.Marker != "milestone_2000" {
		t.Errorf("Expected 500 points with marker milestone_2000, got applicable=%v points=%d marker=%q",
			result.Applicable, result.Points, result.Marker)
	}
}

func TestSeasonal(t *testing.T) {
	engine := NewEngine(&fakeHistory{})
	rule := testRule(`{"type": "seasonal", "seasons": [{"name": "winter", "start": "12-01", "end": "01-15"}], "multiplier": "1.5"}`, 10)
	account := &models.Account{Id: "acct1"}

	// Both sides of the year-end wrap are inside the season.
	december := time.Date(2026, 12, 15, 12, 0, 0, 0, time.UTC)
	result, err := engine.Evaluate(context.Background(), rule, EvalContext{Now: december, Account: account})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Applicable || result.Points != 15 {
		t.Errorf("Expected 15 points in December, got applicable=%v points=%d", result.Applicable, result.Points)
	}

	january := time.Date(2027, 1, 10, 12, 0, 0, 0, time.UTC)
	result, _ = engine.Evaluate(context.Background(), rule, EvalContext{Now: january, Account: account})
	if !result.Applicable {
		t.Error("Expected January 10 inside wrapped season")
	}

	june := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	result, _ = engine.Evaluate(context.Background(), rule, EvalContext{Now: june, Account: account})
	if result.Applicable {
		t.Error("Expected June outside season")
	}
}

func TestLocationChain(t *testing.T) {
	history := &fakeHistory{visitedLocs: map[string]bool{}}
	engine := NewEngine(history)
	rule := testRule(`{"type": "location_chain", "required_locations": ["loc-a", "loc-b", "loc-c"], "min_locations": 3, "timeframe_days": 14, "chain_bonus": 200}`, 5)
	account := &models.Account{Id: "acct1"}

	// First location of the chain: progress, base points only.
	result, err := engine.Evaluate(context.Background(), rule, EvalContext{
		Now: wednesdayAt(9, 0), Account: account, LocationId: "loc-a",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Applicable || result.Points != 5 {
		t.Errorf("Expected chain progress base 5, got applicable=%v points=%d", result.Applicable, result.Points)
	}

	// Off-chain location does not advance or pay.
	result, _ = engine.Evaluate(context.Background(), rule, EvalContext{
		Now: wednesdayAt(9, 0), Account: account, LocationId: "loc-x",
	})
	if result.Applicable {
		t.Error("Expected off-chain location not applicable")
	}

	// Third distinct location completes the chain.
	history.visitedLocs["loc-a"] = true
	history.visitedLocs["loc-b"] = true
	result, err = engine.Evaluate(context.Background(), rule, EvalContext{
		Now: wednesdayAt(9, 0), Account: account, LocationId: "loc-c",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Points != 205 || result.BonusPoints != 200 {
		t.Errorf("Expected chain completion 205 with 200 bonus, got points=%d bonus=%d", result.Points, result.BonusPoints)
	}
}

func TestTemplates(t *testing.T) {
	rule, err := DailyVisitRule("daily", 10, 5)
	if err != nil {
		t.Fatalf("DailyVisitRule failed: %v", err)
	}
	if rule.TriggerEvent != models.EventCheckin {
		t.Errorf("Expected checkin trigger, got %q", rule.TriggerEvent)
	}
	if _, err := ParseConditions([]byte(rule.Conditions)); err != nil {
		t.Errorf("Template produced unparseable conditions: %v", err)
	}

	if _, err := LocationChainRule("tour", 5, []string{"a", "b"}, 14, 100); err != nil {
		t.Fatalf("LocationChainRule failed: %v", err)
	}
}
