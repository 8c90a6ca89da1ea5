package rules

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Condition document types. Every rule carries exactly one conditions
// document; the type field selects the variant.
const (
	TypeTimeBased      = "time_based"
	TypeFrequencyBased = "frequency_based"
	TypeTierBased      = "tier_based"
	TypeComboBased     = "combo_based"
	TypeMilestoneBased = "milestone_based"
	TypeSeasonal       = "seasonal"
	TypeLocationChain  = "location_chain"
)

// Frequency window granularities.
const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// Milestone counters.
const (
	MilestoneLifetimePoints = "lifetime_points"
	MilestoneVisits         = "visits"
)

// TimeWindow is a recurring weekly window. Start and End are wall-clock
// times in "15:04" form; Days uses 0=Monday through 6=Sunday, and an empty
// list means every day. A window with End before Start wraps past midnight.
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Days  []int  `json:"days"`
}

// TimeBased applies a multiplier inside configured windows (happy hours).
type TimeBased struct {
	Type        string          `json:"type"`
	TimeWindows []TimeWindow    `json:"time_windows"`
	Multiplier  decimal.Decimal `json:"multiplier"`
}

// FrequencyBased caps how often the rule fires per calendar window and can
// pay a streak bonus: StreakBonus points per consecutive day the rule has
// fired, multiplied by the current streak length.
type FrequencyBased struct {
	Type          string `json:"type"`
	FrequencyType string `json:"frequency_type"`
	Limit         int    `json:"limit"`
	StreakBonus   int64  `json:"streak_bonus,omitempty"`
}

// TierBased scales base points by the account's current tier. Tiers missing
// from the map get a multiplier of 1.
type TierBased struct {
	Type            string                     `json:"type"`
	TierMultipliers map[string]decimal.Decimal `json:"tier_multipliers"`
}

// RequiredAction is one leg of a combo: at least MinCount completed entries
// whose description mentions the action type.
type RequiredAction struct {
	ActionType string `json:"type"`
	MinCount   int    `json:"min_count"`
}

// ComboBased pays a bonus once every required action is seen inside the
// timeframe. Partial combos still earn base points.
type ComboBased struct {
	Type            string           `json:"type"`
	RequiredActions []RequiredAction `json:"required_actions"`
	TimeframeHours  int              `json:"timeframe_hours"`
	ComboBonus      int64            `json:"combo_bonus"`
}

// Milestone is one payable threshold.
type Milestone struct {
	Threshold   int64 `json:"threshold"`
	BonusPoints int64 `json:"bonus_points"`
}

// MilestoneBased pays the highest newly-crossed threshold exactly once per
// account. MilestoneType selects the counter the thresholds apply to.
type MilestoneBased struct {
	Type          string      `json:"type"`
	MilestoneType string      `json:"milestone_type"`
	Milestones    []Milestone `json:"milestones"`
}

// Season is a yearly-recurring date range in "MM-DD" form, inclusive on both
// ends. A season with End before Start wraps over the new year.
type Season struct {
	Name  string `json:"name"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// SeasonalEvent is an absolute one-off date range in "2006-01-02" form.
type SeasonalEvent struct {
	Name  string `json:"name"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// Seasonal applies a multiplier during recurring seasons or one-off events.
type Seasonal struct {
	Type       string          `json:"type"`
	Seasons    []Season        `json:"seasons,omitempty"`
	Events     []SeasonalEvent `json:"events,omitempty"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

// LocationChain pays a bonus once the account has visited enough distinct
// locations inside the timeframe. Visits outside RequiredLocations (when the
// list is non-empty) do not advance the chain.
type LocationChain struct {
	Type              string   `json:"type"`
	RequiredLocations []string `json:"required_locations,omitempty"`
	MinLocations      int      `json:"min_locations"`
	TimeframeDays     int      `json:"timeframe_days"`
	ChainBonus        int64    `json:"chain_bonus"`
}

// Conditions is the parsed union. Exactly one variant pointer is non-nil and
// matches Type.
type Conditions struct {
	Type          string
	TimeBased     *TimeBased
	Frequency     *FrequencyBased
	Tier          *TierBased
	Combo         *ComboBased
	Milestone     *MilestoneBased
	Seasonal      *Seasonal
	LocationChain *LocationChain
}

// ParseConditions decodes and validates a conditions document. Rules are
// validated at creation time so the evaluation hot path never sees a
// malformed document.
func ParseConditions(raw []byte) (*Conditions, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("invalid conditions document: %w", err)
	}

	parsed := &Conditions{Type: envelope.Type}
	switch envelope.Type {
	case TypeTimeBased:
		var c TimeBased
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("invalid time_based conditions: %w", err)
		}
		if err := c.validate(); err != nil {
			return nil, err
		}
		parsed.TimeBased = &c
	case TypeFrequencyBased:
		var c FrequencyBased
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("invalid frequency_based conditions: %w", err)
		}
		if err := c.validate(); err != nil {
			return nil, err
		}
		parsed.Frequency = &c
	case TypeTierBased:
		var c TierBased
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("invalid tier_based conditions: %w", err)
		}
		if err := c.validate(); err != nil {
			return nil, err
		}
		parsed.Tier = &c
	case TypeComboBased:
		var c ComboBased
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("invalid combo_based conditions: %w", err)
		}
		if err := c.validate(); err != nil {
			return nil, err
		}
		parsed.Combo = &c
	case TypeMilestoneBased:
		var c MilestoneBased
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("invalid milestone_based conditions: %w", err)
		}
		if err := c.validate(); err != nil {
			return nil, err
		}
		parsed.Milestone = &c
	case TypeSeasonal:
		var c Seasonal
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("invalid seasonal conditions: %w", err)
		}
		if err := c.validate(); err != nil {
			return nil, err
		}
		parsed.Seasonal = &c
	case TypeLocationChain:
		var c LocationChain
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("invalid location_chain conditions: %w", err)
		}
		if err := c.validate(); err != nil {
			return nil, err
		}
		parsed.LocationChain = &c
	case "":
		return nil, fmt.Errorf("conditions document missing type")
	default:
		return nil, fmt.Errorf("unknown conditions type %q", envelope.Type)
	}

	return parsed, nil
}

func (c *TimeBased) validate() error {
	if len(c.TimeWindows) == 0 {
		return fmt.Errorf("time_based conditions require at least one time window")
	}
	for i := range c.TimeWindows {
		window := &c.TimeWindows[i]
		if _, err := time.Parse("15:04", window.Start); err != nil {
			return fmt.Errorf("time window %d: invalid start %q", i, window.Start)
		}
		if _, err := time.Parse("15:04", window.End); err != nil {
			return fmt.Errorf("time window %d: invalid end %q", i, window.End)
		}
		// An omitted days list means the window recurs every day.
		if len(window.Days) == 0 {
			window.Days = []int{0, 1, 2, 3, 4, 5, 6}
		}
		for _, day := range window.Days {
			if day < 0 || day > 6 {
				return fmt.Errorf("time window %d: day %d out of range 0-6", i, day)
			}
		}
	}
	if !c.Multiplier.IsPositive() {
		return fmt.Errorf("time_based multiplier must be positive, got %s", c.Multiplier)
	}
	return nil
}

func (c *FrequencyBased) validate() error {
	switch c.FrequencyType {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
	default:
		return fmt.Errorf("unknown frequency type %q", c.FrequencyType)
	}
	if c.Limit <= 0 {
		return fmt.Errorf("frequency limit must be positive, got %d", c.Limit)
	}
	if c.StreakBonus < 0 {
		return fmt.Errorf("streak bonus must not be negative, got %d", c.StreakBonus)
	}
	return nil
}

func (c *TierBased) validate() error {
	if len(c.TierMultipliers) == 0 {
		return fmt.Errorf("tier_based conditions require at least one tier multiplier")
	}
	for tier, multiplier := range c.TierMultipliers {
		if !multiplier.IsPositive() {
			return fmt.Errorf("tier %q multiplier must be positive, got %s", tier, multiplier)
		}
	}
	return nil
}

func (c *ComboBased) validate() error {
	if len(c.RequiredActions) == 0 {
		return fmt.Errorf("combo_based conditions require at least one action")
	}
	for i, action := range c.RequiredActions {
		if action.ActionType == "" {
			return fmt.Errorf("combo action %d: missing type", i)
		}
		if action.MinCount <= 0 {
			return fmt.Errorf("combo action %d: min_count must be positive, got %d", i, action.MinCount)
		}
	}
	if c.TimeframeHours <= 0 {
		return fmt.Errorf("combo timeframe must be positive, got %d hours", c.TimeframeHours)
	}
	if c.ComboBonus <= 0 {
		return fmt.Errorf("combo bonus must be positive, got %d", c.ComboBonus)
	}
	return nil
}

func (c *MilestoneBased) validate() error {
	switch c.MilestoneType {
	case MilestoneLifetimePoints, MilestoneVisits:
	default:
		return fmt.Errorf("unknown milestone type %q", c.MilestoneType)
	}
	if len(c.Milestones) == 0 {
		return fmt.Errorf("milestone_based conditions require at least one milestone")
	}
	var previous int64
	for i, milestone := range c.Milestones {
		if milestone.Threshold <= previous {
			return fmt.Errorf("milestone %d: thresholds must be strictly increasing", i)
		}
		if milestone.BonusPoints <= 0 {
			return fmt.Errorf("milestone %d: bonus must be positive, got %d", i, milestone.BonusPoints)
		}
		previous = milestone.Threshold
	}
	return nil
}

func (c *Seasonal) validate() error {
	if len(c.Seasons) == 0 && len(c.Events) == 0 {
		return fmt.Errorf("seasonal conditions require at least one season or event")
	}
	for i, season := range c.Seasons {
		if _, err := time.Parse("01-02", season.Start); err != nil {
			return fmt.Errorf("season %d: invalid start %q", i, season.Start)
		}
		if _, err := time.Parse("01-02", season.End); err != nil {
			return fmt.Errorf("season %d: invalid end %q", i, season.End)
		}
	}
	for i, event := range c.Events {
		start, err := time.Parse("2006-01-02", event.Start)
		if err != nil {
			return fmt.Errorf("event %d: invalid start %q", i, event.Start)
		}
		end, err := time.Parse("2006-01-02", event.End)
		if err != nil {
			return fmt.Errorf("event %d: invalid end %q", i, event.End)
		}
		if end.Before(start) {
			return fmt.Errorf("event %d: end before start", i)
		}
	}
	if !c.Multiplier.IsPositive() {
		return fmt.Errorf("seasonal multiplier must be positive, got %s", c.Multiplier)
	}
	return nil
}

func (c *LocationChain) validate() error {
	if c.MinLocations <= 0 {
		c.MinLocations = len(c.RequiredLocations)
	}
	if c.MinLocations <= 0 {
		return fmt.Errorf("location_chain conditions require min_locations or required_locations")
	}
	if len(c.RequiredLocations) > 0 && c.MinLocations > len(c.RequiredLocations) {
		return fmt.Errorf("min_locations %d exceeds required locations %d", c.MinLocations, len(c.RequiredLocations))
	}
	if c.TimeframeDays <= 0 {
		return fmt.Errorf("chain timeframe must be positive, got %d days", c.TimeframeDays)
	}
	if c.ChainBonus <= 0 {
		return fmt.Errorf("chain bonus must be positive, got %d", c.ChainBonus)
	}
	return nil
}
