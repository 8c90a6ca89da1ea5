package rules

import (
	"context"
	"fmt"
	"time"

	"loyalty-rules-go/internal/models"
	"loyalty-rules-go/internal/store"

	"go.uber.org/zap"
)

// History is the read-only ledger view the evaluators need. Implemented by
// the database service; evaluators never take locks or write.
type History interface {
	CountRuleEntries(ctx context.Context, accountId, ruleId string, since time.Time) (int, error)
	RuleEntryOnDay(ctx context.Context, accountId, ruleId string, dayStart, dayEnd time.Time) (bool, error)
	CountActionEntries(ctx context.Context, accountId, keyword string, since time.Time) (int, error)
	CountDistinctLocations(ctx context.Context, accountId string, since time.Time) (int, error)
	LocationVisited(ctx context.Context, accountId, locationId string, since time.Time) (bool, error)
	MilestoneAwarded(ctx context.Context, accountId, ruleId, marker string) (bool, error)
	CountVisits(ctx context.Context, accountId string) (int, error)
}

// EvalContext is everything known about the event being scored. Now is
// injected so evaluation is deterministic under test; TierName is the
// resolved name of the account's current tier, empty when untiered.
type EvalContext struct {
	Now        time.Time
	Account    *models.Account
	EventType  string
	TierName   string
	LocationId string
	Payload    map[string]any
}

// Action returns the keyword describing what the customer did, used to match
// combo legs and visit probes. Check-ins normalize to the "check-in" keyword
// the ledger descriptions carry.
func (c EvalContext) Action() string {
	if action, ok := c.Payload["action"].(string); ok && action != "" {
		return action
	}
	if c.EventType == models.EventCheckin {
		return "check-in"
	}
	return c.EventType
}

// Result is one rule's verdict on one event. Points is the full grant
// including BonusPoints. A non-applicable result carries the reason so
// callers can report skipped rules instead of silently dropping them.
type Result struct {
	Applicable  bool
	Points      int64
	BonusPoints int64
	Reason      string
	// Marker is set for milestone grants; the orchestrator records it as the
	// ledger reference so the milestone pays exactly once.
	Marker string
}

func notApplicable(reason string) *Result {
	return &Result{Reason: reason}
}

// Engine evaluates rule conditions against ledger history. It is stateless
// and safe for concurrent use.
type Engine struct {
	history History
}

func NewEngine(history History) *Engine {
	return &Engine{history: history}
}

// Evaluate scores one rule against one event. Condition semantics that rule
// the event out come back as a non-applicable Result with a reason; only
// storage failures and malformed documents surface as errors.
func (e *Engine) Evaluate(ctx context.Context, rule models.Rule, evalCtx EvalContext) (*Result, error) {
	conditions, err := ParseConditions([]byte(rule.Conditions))
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w: %v", rule.Id, store.ErrMalformedConditions, err)
	}

	var result *Result
	switch conditions.Type {
	case TypeTimeBased:
		result = e.evaluateTimeBased(rule, conditions.TimeBased, evalCtx)
	case TypeFrequencyBased:
		result, err = e.evaluateFrequencyBased(ctx, rule, conditions.Frequency, evalCtx)
	case TypeTierBased:
		result = e.evaluateTierBased(rule, conditions.Tier, evalCtx)
	case TypeComboBased:
		result, err = e.evaluateComboBased(ctx, rule, conditions.Combo, evalCtx)
	case TypeMilestoneBased:
		result, err = e.evaluateMilestoneBased(ctx, rule, conditions.Milestone, evalCtx)
	case TypeSeasonal:
		result = e.evaluateSeasonal(rule, conditions.Seasonal, evalCtx)
	case TypeLocationChain:
		result, err = e.evaluateLocationChain(ctx, rule, conditions.LocationChain, evalCtx)
	default:
		return nil, fmt.Errorf("rule %s: %w: unhandled type %q", rule.Id, store.ErrMalformedConditions, conditions.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("rule %s evaluation failed: %w", rule.Id, err)
	}

	zap.L().Debug("Rule evaluated",
		zap.String("rule_id", rule.Id),
		zap.String("rule_name", rule.Name),
		zap.String("conditions_type", conditions.Type),
		zap.Bool("applicable", result.Applicable),
		zap.Int64("points", result.Points),
		zap.String("reason", result.Reason))
	return result, nil
}

// mondayIndexedWeekday converts Go's Sunday-first weekday to the Monday-first
// numbering the condition documents use.
func mondayIndexedWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// dayBounds returns the half-open [midnight, next midnight) interval
// containing t, in t's location.
func dayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
