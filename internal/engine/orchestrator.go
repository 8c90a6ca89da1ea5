package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loyalty-rules-go/internal/models"
	"loyalty-rules-go/internal/progress"
	"loyalty-rules-go/internal/rules"
	"loyalty-rules-go/internal/store"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Processor drives one event through the full pipeline: account resolution,
// rule selection, evaluation, ledger application and progress tracking. It
// never partially applies a single rule; each grant is one atomic append.
type Processor struct {
	store   store.LedgerStore
	engine  *rules.Engine
	tracker *progress.Tracker
	retries int
	loc     *time.Location
	now     func() time.Time
}

func NewProcessor(st store.LedgerStore, cfg models.EngineConfig) (*Processor, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid program timezone %q: %w", cfg.Timezone, err)
	}
	retries := cfg.ApplyRetries
	if retries <= 0 {
		retries = 3
	}
	return &Processor{
		store:   st,
		engine:  rules.NewEngine(st),
		tracker: progress.NewTracker(st),
		retries: retries,
		loc:     loc,
		now:     time.Now,
	}, nil
}

// WithClock overrides the time source for deterministic evaluation windows
// under test.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Tracker exposes the progress tracker for enrollment and expiry sweeps.
func (p *Processor) Tracker() *progress.Tracker {
	return p.tracker
}

// ProcessEvent runs one event to a terminal summary. Per-rule failures are
// reported in the summary's skipped list and aggregated into the returned
// error; the summary is usable even when the error is non-nil. Only account
// resolution and raw storage failures abort with a nil summary.
func (p *Processor) ProcessEvent(ctx context.Context, event models.Event) (*models.EventSummary, error) {
	now := p.now().In(p.loc)

	switch event.EventType {
	case models.EventCheckin, models.EventPurchase, models.EventManualAdjust:
	default:
		return nil, fmt.Errorf("unknown event type %q", event.EventType)
	}

	account, err := p.store.GetOrCreateAccount(ctx, event.CustomerId, event.ProgramId)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve account: %w", err)
	}
	if !account.Active {
		return nil, fmt.Errorf("%w: account %s is deactivated", store.ErrInvalidState, account.Id)
	}

	zap.L().Info("Processing event",
		zap.String("event_type", event.EventType),
		zap.String("customer_id", event.CustomerId),
		zap.String("program_id", event.ProgramId),
		zap.String("account_id", account.Id))

	if event.EventType == models.EventManualAdjust {
		return p.processManualAdjust(ctx, account, event, now)
	}

	summary := &models.EventSummary{AccountId: account.Id}
	var errs error

	activeRules, err := p.store.GetActiveRules(ctx, event.ProgramId, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	tierName, err := p.tierName(ctx, account)
	if err != nil {
		return nil, err
	}

	for _, rule := range activeRules {
		if rule.TriggerEvent != "" && rule.TriggerEvent != event.EventType {
			continue
		}
		if rule.LocationBased && event.LocationId == "" {
			summary.RulesSkipped = append(summary.RulesSkipped, models.SkippedRule{
				RuleId: rule.Id,
				Reason: "location-based rule, event carries no location",
			})
			continue
		}

		result, err := p.engine.Evaluate(ctx, rule, rules.EvalContext{
			Now:        now,
			Account:    account,
			EventType:  event.EventType,
			TierName:   tierName,
			LocationId: event.LocationId,
			Payload:    event.Payload,
		})
		if err != nil {
			zap.L().Warn("Rule evaluation failed",
				zap.String("rule_id", rule.Id),
				zap.Error(err))
			summary.RulesSkipped = append(summary.RulesSkipped, models.SkippedRule{
				RuleId: rule.Id,
				Reason: err.Error(),
			})
			errs = multierr.Append(errs, err)
			continue
		}
		if !result.Applicable {
			summary.RulesSkipped = append(summary.RulesSkipped, models.SkippedRule{
				RuleId: rule.Id,
				Reason: result.Reason,
			})
			continue
		}
		if result.Points == 0 {
			summary.RulesSkipped = append(summary.RulesSkipped, models.SkippedRule{
				RuleId: rule.Id,
				Reason: "rule resolved to zero points",
			})
			continue
		}

		entry, err := p.applyRule(ctx, account.Id, rule, result, event, now)
		if errors.Is(err, store.ErrDuplicateEntry) {
			summary.RulesSkipped = append(summary.RulesSkipped, models.SkippedRule{
				RuleId: rule.Id,
				Reason: "already granted",
			})
			continue
		} else if errors.Is(err, store.ErrInsufficientBalance) || errors.Is(err, store.ErrConcurrentModification) {
			// One rule failing to post must not sink the batch: redemptions
			// against a short balance and lost version races skip this rule
			// and let the remaining rules run.
			zap.L().Warn("Rule grant not applied",
				zap.String("rule_id", rule.Id),
				zap.Error(err))
			summary.RulesSkipped = append(summary.RulesSkipped, models.SkippedRule{
				RuleId: rule.Id,
				Reason: err.Error(),
			})
			errs = multierr.Append(errs, fmt.Errorf("rule %s: %w", rule.Id, err))
			continue
		} else if err != nil {
			return nil, fmt.Errorf("failed to apply rule %s: %w", rule.Id, err)
		}

		summary.RulesApplied = append(summary.RulesApplied, models.RuleApplication{
			RuleId:      rule.Id,
			RuleName:    rule.Name,
			Points:      result.Points,
			BonusPoints: result.BonusPoints,
			Reason:      result.Reason,
			EntryId:     entry.Id,
		})
		summary.TotalPointsGranted += result.Points

		// Later rules see the grant: refresh the account snapshot and tier.
		account, err = p.store.GetAccount(ctx, account.Id)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh account: %w", err)
		}
		tierName, err = p.tierName(ctx, account)
		if err != nil {
			return nil, err
		}
	}

	trackerSummary, trackerErr := p.tracker.Check(ctx, account, now)
	if trackerErr != nil {
		zap.L().Warn("Progress tracking reported errors",
			zap.String("account_id", account.Id),
			zap.Error(trackerErr))
		errs = multierr.Append(errs, trackerErr)
	}
	if trackerSummary != nil {
		summary.BadgesAwarded = trackerSummary.BadgesAwarded
		summary.AchievementsAwarded = trackerSummary.AchievementsAwarded
		summary.ChallengeProgress = trackerSummary.ChallengeProgress
	}

	// Awards may have moved the balance and tier again.
	account, err = p.store.GetAccount(ctx, account.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh account: %w", err)
	}
	summary.TierId = account.TierId

	zap.L().Info("Event processed",
		zap.String("account_id", account.Id),
		zap.Int("rules_applied", len(summary.RulesApplied)),
		zap.Int("rules_skipped", len(summary.RulesSkipped)),
		zap.Int64("points_granted", summary.TotalPointsGranted),
		zap.Int64("balance", account.PointsBalance))
	return summary, errs
}

// applyRule writes one grant, retrying when a concurrent writer bumps the
// account version. Each attempt re-reads account state inside its own
// transaction, so a retry is a clean replay.
func (p *Processor) applyRule(ctx context.Context, accountId string, rule models.Rule, result *rules.Result, event models.Event, now time.Time) (*models.LedgerEntry, error) {
	params := store.AppendParams{
		AccountId:   accountId,
		Points:      result.Points,
		Kind:        rule.RuleType,
		Description: eventDescription(event, rule.Name),
		Reference:   result.Marker,
		RuleId:      rule.Id,
		LocationId:  event.LocationId,
		Now:         now,
	}

	var entry *models.LedgerEntry
	var err error
	for attempt := 1; attempt <= p.retries; attempt++ {
		entry, err = p.store.Append(ctx, params)
		if !errors.Is(err, store.ErrConcurrentModification) {
			return entry, err
		}
		zap.L().Warn("Concurrent account update, retrying",
			zap.String("account_id", accountId),
			zap.String("rule_id", rule.Id),
			zap.Int("attempt", attempt))
	}
	return nil, err
}

// processManualAdjust bypasses rule evaluation: operators adjust points
// directly, positive or negative. The ledger append still enforces the
// non-negative balance.
func (p *Processor) processManualAdjust(ctx context.Context, account *models.Account, event models.Event, now time.Time) (*models.EventSummary, error) {
	points, ok := payloadInt64(event.Payload, "points")
	if !ok || points == 0 {
		return nil, fmt.Errorf("manual adjustment requires a non-zero points payload")
	}
	reason, _ := event.Payload["reason"].(string)
	if reason == "" {
		reason = "Manual adjustment"
	}

	entry, err := p.store.Append(ctx, store.AppendParams{
		AccountId:   account.Id,
		Points:      points,
		Kind:        models.KindAdjust,
		Description: reason,
		LocationId:  event.LocationId,
		Now:         now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply manual adjustment: %w", err)
	}

	refreshed, err := p.store.GetAccount(ctx, account.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh account: %w", err)
	}
	return &models.EventSummary{
		AccountId: account.Id,
		RulesApplied: []models.RuleApplication{{
			RuleName: "manual adjustment",
			Points:   points,
			Reason:   reason,
			EntryId:  entry.Id,
		}},
		TotalPointsGranted: points,
		TierId:             refreshed.TierId,
	}, nil
}

// tierName resolves the name tier-based rules match on. An account that has
// not been assigned a tier yet is treated as sitting in the program's lowest
// tier rather than outside the tier ladder entirely.
func (p *Processor) tierName(ctx context.Context, account *models.Account) (string, error) {
	if account.TierId == "" {
		return p.lowestTierName(ctx, account.ProgramId)
	}
	tier, err := p.store.GetTier(ctx, account.TierId)
	if errors.Is(err, store.ErrReferenceDataMissing) {
		return p.lowestTierName(ctx, account.ProgramId)
	} else if err != nil {
		return "", fmt.Errorf("failed to resolve tier: %w", err)
	}
	return tier.Name, nil
}

func (p *Processor) lowestTierName(ctx context.Context, programId string) (string, error) {
	tiers, err := p.store.GetTiers(ctx, programId)
	if err != nil {
		return "", fmt.Errorf("failed to list tiers: %w", err)
	}
	if len(tiers) == 0 {
		return "", nil
	}
	return tiers[0].Name, nil
}

// eventDescription builds the ledger description. The action keyword in it
// is load-bearing: combo and visit history queries match on it.
func eventDescription(event models.Event, ruleName string) string {
	if action, ok := event.Payload["action"].(string); ok && action != "" {
		return fmt.Sprintf("%s reward: %s", action, ruleName)
	}
	switch event.EventType {
	case models.EventCheckin:
		return fmt.Sprintf("Check-in reward: %s", ruleName)
	case models.EventPurchase:
		return fmt.Sprintf("Purchase reward: %s", ruleName)
	default:
		return fmt.Sprintf("Reward: %s", ruleName)
	}
}

func payloadInt64(payload map[string]any, key string) (int64, bool) {
	switch v := payload[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
