package rules

import (
	"encoding/json"
	"fmt"

	"loyalty-rules-go/internal/models"

	"github.com/shopspring/decimal"
)

// Templates for the rule shapes operators create most often. Each returns an
// unsaved rule; the caller sets program, dates and priority before storing.

// HappyHourRule multiplies base points inside one weekly window.
func HappyHourRule(name string, basePoints int64, start, end string, days []int, multiplier decimal.Decimal) (models.Rule, error) {
	return buildRule(name, basePoints, TimeBased{
		Type:        TypeTimeBased,
		TimeWindows: []TimeWindow{{Start: start, End: end, Days: days}},
		Multiplier:  multiplier,
	})
}

// DailyVisitRule grants points for the first visit of each day, paying
// streakBonus extra points per consecutive day.
func DailyVisitRule(name string, basePoints int64, streakBonus int64) (models.Rule, error) {
	rule, err := buildRule(name, basePoints, FrequencyBased{
		Type:          TypeFrequencyBased,
		FrequencyType: FrequencyDaily,
		Limit:         1,
		StreakBonus:   streakBonus,
	})
	if err != nil {
		return models.Rule{}, err
	}
	rule.TriggerEvent = models.EventCheckin
	return rule, nil
}

// TierMultiplierRule scales base points by the account's tier.
func TierMultiplierRule(name string, basePoints int64, multipliers map[string]decimal.Decimal) (models.Rule, error) {
	return buildRule(name, basePoints, TierBased{
		Type:            TypeTierBased,
		TierMultipliers: multipliers,
	})
}

// LocationChainRule pays a bonus for visiting the listed locations inside
// the timeframe.
func LocationChainRule(name string, basePoints int64, locationIds []string, timeframeDays int, bonus int64) (models.Rule, error) {
	rule, err := buildRule(name, basePoints, LocationChain{
		Type:              TypeLocationChain,
		RequiredLocations: locationIds,
		MinLocations:      len(locationIds),
		TimeframeDays:     timeframeDays,
		ChainBonus:        bonus,
	})
	if err != nil {
		return models.Rule{}, err
	}
	rule.LocationBased = true
	return rule, nil
}

// SeasonalRule multiplies base points during a yearly-recurring season.
func SeasonalRule(name string, basePoints int64, seasonName, start, end string, multiplier decimal.Decimal) (models.Rule, error) {
	return buildRule(name, basePoints, Seasonal{
		Type:       TypeSeasonal,
		Seasons:    []Season{{Name: seasonName, Start: start, End: end}},
		Multiplier: multiplier,
	})
}

func buildRule(name string, basePoints int64, conditions any) (models.Rule, error) {
	raw, err := json.Marshal(conditions)
	if err != nil {
		return models.Rule{}, fmt.Errorf("failed to marshal conditions: %w", err)
	}
	// Round-trip through the parser so a template can never produce a rule
	// the store would reject.
	if _, err := ParseConditions(raw); err != nil {
		return models.Rule{}, err
	}
	return models.Rule{
		Name:       name,
		RuleType:   models.KindEarn,
		Conditions: string(raw),
		BasePoints: basePoints,
	}, nil
}
