package common

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"loyalty-rules-go/internal/rules"
)

// SeedConfig describes one program and its reference data, loaded from a
// YAML file at setup time. Rule conditions and badge/achievement criteria
// are embedded JSON documents, validated before anything is stored.
type SeedConfig struct {
	Program      ProgramSeed       `yaml:"program"`
	Rules        []RuleSeed        `yaml:"rules"`
	Badges       []BadgeSeed       `yaml:"badges"`
	Challenges   []ChallengeSeed   `yaml:"challenges"`
	Achievements []AchievementSeed `yaml:"achievements"`
}

type ProgramSeed struct {
	Name      string         `yaml:"name"`
	Timezone  string         `yaml:"timezone"`
	Tiers     []TierSeed     `yaml:"tiers"`
	Locations []LocationSeed `yaml:"locations"`
}

type TierSeed struct {
	Name      string `yaml:"name"`
	Threshold int64  `yaml:"threshold"`
}

type LocationSeed struct {
	Name string `yaml:"name"`
}

type RuleSeed struct {
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	TriggerEvent  string `yaml:"trigger_event"`
	BasePoints    int64  `yaml:"base_points"`
	Priority      int64  `yaml:"priority"`
	LocationBased bool   `yaml:"location_based"`
	Conditions    string `yaml:"conditions"`
	StartDate     string `yaml:"start_date"`
	EndDate       string `yaml:"end_date"`
}

type BadgeSeed struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	BadgeType    string `yaml:"badge_type"`
	Rarity       string `yaml:"rarity"`
	PointsReward int64  `yaml:"points_reward"`
	Criteria     string `yaml:"criteria"`
}

type ChallengeSeed struct {
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	ChallengeType string `yaml:"challenge_type"`
	Difficulty    string `yaml:"difficulty"`
	Target        int64  `yaml:"target"`
	PointsReward  int64  `yaml:"points_reward"`
	BadgeReward   string `yaml:"badge_reward"`
	StartDate     string `yaml:"start_date"`
	EndDate       string `yaml:"end_date"`
}

type AchievementSeed struct {
	Name            string `yaml:"name"`
	Description     string `yaml:"description"`
	AchievementType string `yaml:"achievement_type"`
	PointsReward    int64  `yaml:"points_reward"`
	BadgeReward     string `yaml:"badge_reward"`
	Criteria        string `yaml:"criteria"`
}

func LoadSeedConfig(seedFile string) (*SeedConfig, error) {
	var seedPath string
	if filepath.IsAbs(seedFile) {
		seedPath = seedFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		seedPath = filepath.Join(wd, seedFile)
	}

	data, err := os.ReadFile(seedPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", seedFile, err)
	}

	var config SeedConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", seedFile, err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *SeedConfig) validate() error {
	if c.Program.Name == "" {
		return fmt.Errorf("seed program missing name")
	}
	if c.Program.Timezone != "" {
		if _, err := time.LoadLocation(c.Program.Timezone); err != nil {
			return fmt.Errorf("seed program has invalid timezone %q", c.Program.Timezone)
		}
	}
	for i, tier := range c.Program.Tiers {
		if tier.Name == "" {
			return fmt.Errorf("tier at index %d missing name", i)
		}
	}
	for i, location := range c.Program.Locations {
		if location.Name == "" {
			return fmt.Errorf("location at index %d missing name", i)
		}
	}

	badgeNames := make(map[string]bool, len(c.Badges))
	for i, badge := range c.Badges {
		if badge.Name == "" {
			return fmt.Errorf("badge at index %d missing name", i)
		}
		badgeNames[badge.Name] = true
	}

	for i, rule := range c.Rules {
		if rule.Name == "" {
			return fmt.Errorf("rule at index %d missing name", i)
		}
		if _, err := rules.ParseConditions([]byte(rule.Conditions)); err != nil {
			return fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		if err := validateSeedDates(rule.StartDate, rule.EndDate); err != nil {
			return fmt.Errorf("rule %q: %w", rule.Name, err)
		}
	}

	for i, challenge := range c.Challenges {
		if challenge.Name == "" {
			return fmt.Errorf("challenge at index %d missing name", i)
		}
		if challenge.StartDate == "" || challenge.EndDate == "" {
			return fmt.Errorf("challenge %q missing start or end date", challenge.Name)
		}
		if err := validateSeedDates(challenge.StartDate, challenge.EndDate); err != nil {
			return fmt.Errorf("challenge %q: %w", challenge.Name, err)
		}
		if challenge.BadgeReward != "" && !badgeNames[challenge.BadgeReward] {
			return fmt.Errorf("challenge %q references unknown badge %q", challenge.Name, challenge.BadgeReward)
		}
	}

	for i, achievement := range c.Achievements {
		if achievement.Name == "" {
			return fmt.Errorf("achievement at index %d missing name", i)
		}
		if achievement.BadgeReward != "" && !badgeNames[achievement.BadgeReward] {
			return fmt.Errorf("achievement %q references unknown badge %q", achievement.Name, achievement.BadgeReward)
		}
	}
	return nil
}

func validateSeedDates(start, end string) error {
	if start != "" {
		if _, err := time.Parse("2006-01-02", start); err != nil {
			return fmt.Errorf("invalid start date %q", start)
		}
	}
	if end != "" {
		if _, err := time.Parse("2006-01-02", end); err != nil {
			return fmt.Errorf("invalid end date %q", end)
		}
	}
	return nil
}

// ParseSeedDate resolves an optional "2006-01-02" seed date; the zero time
// means unset.
func ParseSeedDate(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, _ := time.Parse("2006-01-02", value)
	return t
}
