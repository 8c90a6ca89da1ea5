package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"loyalty-rules-go/internal/models"

	"github.com/shopspring/decimal"
)

// Streak scans never look further back than this; a lapsed streak is a dead
// streak.
const maxStreakDays = 30

// applyMultiplier scales base points and truncates toward zero. Fractional
// points are never granted.
func applyMultiplier(basePoints int64, multiplier decimal.Decimal) int64 {
	return decimal.NewFromInt(basePoints).Mul(multiplier).IntPart()
}

// evaluateTimeBased grants multiplied points inside the first matching
// window. Windows are checked in document order; later windows never
// override an earlier match.
func (e *Engine) evaluateTimeBased(rule models.Rule, c *TimeBased, evalCtx EvalContext) *Result {
	day := mondayIndexedWeekday(evalCtx.Now)
	clock := evalCtx.Now.Format("15:04")

	for _, window := range c.TimeWindows {
		if !containsDay(window.Days, day) {
			continue
		}
		// Zero-padded HH:MM compares correctly as a string. End before
		// start means the window wraps past midnight.
		var inWindow bool
		if window.Start <= window.End {
			inWindow = clock >= window.Start && clock <= window.End
		} else {
			inWindow = clock >= window.Start || clock <= window.End
		}
		if inWindow {
			points := applyMultiplier(rule.BasePoints, c.Multiplier)
			return &Result{
				Applicable: true,
				Points:     points,
				Reason:     fmt.Sprintf("within window %s-%s, multiplier %s", window.Start, window.End, c.Multiplier),
			}
		}
	}
	return notApplicable("outside configured time windows")
}

// evaluateFrequencyBased enforces the per-window cap and pays StreakBonus
// points per consecutive day this rule has fired, today included.
func (e *Engine) evaluateFrequencyBased(ctx context.Context, rule models.Rule, c *FrequencyBased, evalCtx EvalContext) (*Result, error) {
	since := frequencyWindowStart(c.FrequencyType, evalCtx.Now)
	count, err := e.history.CountRuleEntries(ctx, evalCtx.Account.Id, rule.Id, since)
	if err != nil {
		return nil, err
	}
	if count >= c.Limit {
		return notApplicable(fmt.Sprintf("%s limit of %d reached", c.FrequencyType, c.Limit)), nil
	}

	result := &Result{
		Applicable: true,
		Points:     rule.BasePoints,
		Reason:     fmt.Sprintf("%d of %d this %s window", count+1, c.Limit, c.FrequencyType),
	}

	if c.StreakBonus > 0 {
		streak, err := e.ruleStreak(ctx, evalCtx.Account.Id, rule.Id, evalCtx.Now)
		if err != nil {
			return nil, err
		}
		bonus := int64(streak) * c.StreakBonus
		result.Points += bonus
		result.BonusPoints = bonus
		result.Reason = fmt.Sprintf("%d-day streak, bonus %d", streak, bonus)
	}
	return result, nil
}

// ruleStreak counts consecutive days this rule granted points, ending today.
// Today is counted for the in-flight event; prior days are probed backwards
// until the first gap.
func (e *Engine) ruleStreak(ctx context.Context, accountId, ruleId string, now time.Time) (int, error) {
	streak := 1
	for i := 1; i <= maxStreakDays; i++ {
		dayStart, dayEnd := dayBounds(now.AddDate(0, 0, -i))
		granted, err := e.history.RuleEntryOnDay(ctx, accountId, ruleId, dayStart, dayEnd)
		if err != nil {
			return 0, err
		}
		if !granted {
			break
		}
		streak++
	}
	return streak, nil
}

func frequencyWindowStart(frequencyType string, now time.Time) time.Time {
	dayStart, _ := dayBounds(now)
	switch frequencyType {
	case FrequencyWeekly:
		return dayStart.AddDate(0, 0, -mondayIndexedWeekday(now))
	case FrequencyMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	default:
		return dayStart
	}
}

// evaluateTierBased scales base points by the account's tier. An untiered
// account or a tier missing from the map earns base points unmodified.
func (e *Engine) evaluateTierBased(rule models.Rule, c *TierBased, evalCtx EvalContext) *Result {
	multiplier := decimal.NewFromInt(1)
	matched := "none"
	for tier, m := range c.TierMultipliers {
		if strings.EqualFold(tier, evalCtx.TierName) {
			multiplier = m
			matched = tier
			break
		}
	}
	return &Result{
		Applicable: true,
		Points:     applyMultiplier(rule.BasePoints, multiplier),
		Reason:     fmt.Sprintf("tier %s, multiplier %s", matched, multiplier),
	}
}

// evaluateComboBased checks every required action against the timeframe. The
// in-flight event counts toward its own action type. A complete combo pays
// the bonus; an incomplete one still earns base points so partial progress is
// never lost.
func (e *Engine) evaluateComboBased(ctx context.Context, rule models.Rule, c *ComboBased, evalCtx EvalContext) (*Result, error) {
	since := evalCtx.Now.Add(-time.Duration(c.TimeframeHours) * time.Hour)
	currentAction := evalCtx.Action()

	complete := 0
	for _, action := range c.RequiredActions {
		count, err := e.history.CountActionEntries(ctx, evalCtx.Account.Id, strings.ToLower(action.ActionType), since)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(action.ActionType, currentAction) {
			count++
		}
		if count >= action.MinCount {
			complete++
		}
	}

	if complete == len(c.RequiredActions) {
		return &Result{
			Applicable:  true,
			Points:      rule.BasePoints + c.ComboBonus,
			BonusPoints: c.ComboBonus,
			Reason:      "combo complete",
		}, nil
	}
	return &Result{
		Applicable: true,
		Points:     rule.BasePoints,
		Reason:     fmt.Sprintf("combo progress %d/%d actions", complete, len(c.RequiredActions)),
	}, nil
}

// evaluateMilestoneBased pays the highest threshold the counter has crossed,
// exactly once per account. The marker becomes the ledger reference, so the
// duplicate check survives restarts and concurrent processors.
func (e *Engine) evaluateMilestoneBased(ctx context.Context, rule models.Rule, c *MilestoneBased, evalCtx EvalContext) (*Result, error) {
	var value int64
	switch c.MilestoneType {
	case MilestoneVisits:
		visits, err := e.history.CountVisits(ctx, evalCtx.Account.Id)
		if err != nil {
			return nil, err
		}
		value = int64(visits)
		if evalCtx.EventType == models.EventCheckin {
			value++
		}
	default:
		value = evalCtx.Account.LifetimePoints
	}

	for i := len(c.Milestones) - 1; i >= 0; i-- {
		milestone := c.Milestones[i]
		if value < milestone.Threshold {
			continue
		}
		marker := fmt.Sprintf("milestone_%d", milestone.Threshold)
		awarded, err := e.history.MilestoneAwarded(ctx, evalCtx.Account.Id, rule.Id, marker)
		if err != nil {
			return nil, err
		}
		if awarded {
			return notApplicable(fmt.Sprintf("milestone %d already awarded", milestone.Threshold)), nil
		}
		return &Result{
			Applicable:  true,
			Points:      rule.BasePoints + milestone.BonusPoints,
			BonusPoints: milestone.BonusPoints,
			Reason:      fmt.Sprintf("%s milestone %d reached", c.MilestoneType, milestone.Threshold),
			Marker:      marker,
		}, nil
	}
	return notApplicable("no milestone reached"), nil
}

// evaluateSeasonal applies the multiplier when the event lands inside a
// recurring season or a one-off event window. Seasons are checked first, in
// document order.
func (e *Engine) evaluateSeasonal(rule models.Rule, c *Seasonal, evalCtx EvalContext) *Result {
	monthDay := evalCtx.Now.Format("01-02")
	for _, season := range c.Seasons {
		// End before start wraps over the new year.
		var inSeason bool
		if season.Start <= season.End {
			inSeason = monthDay >= season.Start && monthDay <= season.End
		} else {
			inSeason = monthDay >= season.Start || monthDay <= season.End
		}
		if inSeason {
			return &Result{
				Applicable: true,
				Points:     applyMultiplier(rule.BasePoints, c.Multiplier),
				Reason:     fmt.Sprintf("season %s, multiplier %s", season.Name, c.Multiplier),
			}
		}
	}

	date := evalCtx.Now.Format("2006-01-02")
	for _, event := range c.Events {
		if date >= event.Start && date <= event.End {
			return &Result{
				Applicable: true,
				Points:     applyMultiplier(rule.BasePoints, c.Multiplier),
				Reason:     fmt.Sprintf("event %s, multiplier %s", event.Name, c.Multiplier),
			}
		}
	}
	return notApplicable("outside seasonal windows")
}

// evaluateLocationChain counts distinct qualifying locations visited inside
// the timeframe, including the in-flight visit. Completing the chain pays
// the bonus; progress still earns base points.
func (e *Engine) evaluateLocationChain(ctx context.Context, rule models.Rule, c *LocationChain, evalCtx EvalContext) (*Result, error) {
	if evalCtx.LocationId == "" {
		return notApplicable("event carries no location"), nil
	}
	if len(c.RequiredLocations) > 0 && !containsString(c.RequiredLocations, evalCtx.LocationId) {
		return notApplicable("location not part of chain"), nil
	}

	since := evalCtx.Now.AddDate(0, 0, -c.TimeframeDays)
	var visited int
	if len(c.RequiredLocations) > 0 {
		for _, locationId := range c.RequiredLocations {
			if locationId == evalCtx.LocationId {
				visited++
				continue
			}
			seen, err := e.history.LocationVisited(ctx, evalCtx.Account.Id, locationId, since)
			if err != nil {
				return nil, err
			}
			if seen {
				visited++
			}
		}
	} else {
		count, err := e.history.CountDistinctLocations(ctx, evalCtx.Account.Id, since)
		if err != nil {
			return nil, err
		}
		visited = count
		seen, err := e.history.LocationVisited(ctx, evalCtx.Account.Id, evalCtx.LocationId, since)
		if err != nil {
			return nil, err
		}
		if !seen {
			visited++
		}
	}

	if visited >= c.MinLocations {
		return &Result{
			Applicable:  true,
			Points:      rule.BasePoints + c.ChainBonus,
			BonusPoints: c.ChainBonus,
			Reason:      fmt.Sprintf("location chain complete, %d locations", visited),
		}, nil
	}
	return &Result{
		Applicable: true,
		Points:     rule.BasePoints,
		Reason:     fmt.Sprintf("chain progress %d/%d locations", visited, c.MinLocations),
	}, nil
}

func containsDay(days []int, day int) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
