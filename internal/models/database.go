package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger entry kinds. Positive points are earn/bonus style mutations,
// negative points are redeem/expire style mutations.
const (
	KindEarn   = "earn"
	KindRedeem = "redeem"
	KindExpire = "expire"
	KindAdjust = "adjust"
	KindBonus  = "bonus"
)

// Ledger entry statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Progress record statuses. Badges and achievements only ever use
// StatusCompleted; challenges walk active -> completed/failed/expired.
const (
	ProgressActive    = "active"
	ProgressCompleted = "completed"
	ProgressFailed    = "failed"
	ProgressExpired   = "expired"
)

// Progress definition kinds.
const (
	DefinitionBadge       = "badge"
	DefinitionChallenge   = "challenge"
	DefinitionAchievement = "achievement"
)

// Program is a tenant's loyalty program. Rules, tiers and gamification
// definitions all hang off a program.
type Program struct {
	Id        string    `db:"id"`
	Name      string    `db:"name"`
	Timezone  string    `db:"timezone"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Tier is a threshold-based status level within a program.
type Tier struct {
	Id              string    `db:"id"`
	ProgramId       string    `db:"program_id"`
	Name            string    `db:"name"`
	PointsThreshold int64     `db:"points_threshold"`
	CreatedAt       time.Time `db:"created_at"`
}

// Location is reference data for location-based rules and check-ins.
type Location struct {
	Id        string    `db:"id"`
	ProgramId string    `db:"program_id"`
	Name      string    `db:"name"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

// Account is a customer's points state within one program (hot data).
// It is derived from the ledger and mutated only through ledger appends.
type Account struct {
	Id             string    `db:"id"`
	CustomerId     string    `db:"customer_id"`
	ProgramId      string    `db:"program_id"`
	PointsBalance  int64     `db:"points_balance"`
	LifetimePoints int64     `db:"lifetime_points"`
	TierId         string    `db:"tier_id"`
	LastActivity   time.Time `db:"last_activity"`
	Version        int64     `db:"version"`
	Active         bool      `db:"active"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// LedgerEntry is one immutable balance mutation (cold data). Only the
// status column ever changes after insert; a cancellation is recorded as a
// compensating entry, never as an edit.
type LedgerEntry struct {
	Id            string    `db:"id"`
	AccountId     string    `db:"account_id"`
	Points        int64     `db:"points"`
	Kind          string    `db:"kind"`
	Description   string    `db:"description"`
	Reference     string    `db:"reference"`
	RuleId        string    `db:"rule_id"`
	LocationId    string    `db:"location_id"`
	BalanceBefore int64     `db:"balance_before"`
	BalanceAfter  int64     `db:"balance_after"`
	Status        string    `db:"status"`
	CreatedAt     time.Time `db:"created_at"`
	ProcessedAt   time.Time `db:"processed_at"`
}

// Rule is a versioned, prioritized point policy. Conditions holds the raw
// tagged-union document; it is validated when the rule is stored and parsed
// again when rules are selected for an event.
type Rule struct {
	Id            string    `db:"id"`
	ProgramId     string    `db:"program_id"`
	Name          string    `db:"name"`
	Description   string    `db:"description"`
	RuleType      string    `db:"rule_type"`
	TriggerEvent  string    `db:"trigger_event"`
	Conditions    string    `db:"conditions"`
	BasePoints    int64     `db:"base_points"`
	Priority      int64     `db:"priority"`
	LocationBased bool      `db:"location_based"`
	StartDate     time.Time `db:"start_date"`
	EndDate       time.Time `db:"end_date"` // zero means open-ended
	Active        bool      `db:"active"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Badge is a one-time award definition.
type Badge struct {
	Id           string    `db:"id"`
	ProgramId    string    `db:"program_id"`
	Name         string    `db:"name"`
	Description  string    `db:"description"`
	BadgeType    string    `db:"badge_type"`
	Rarity       string    `db:"rarity"`
	PointsReward int64     `db:"points_reward"`
	Criteria     string    `db:"criteria"`
	Active       bool      `db:"active"`
	CreatedAt    time.Time `db:"created_at"`
}

// Challenge is a time-boxed target with a points and optional badge reward.
type Challenge struct {
	Id            string    `db:"id"`
	ProgramId     string    `db:"program_id"`
	Name          string    `db:"name"`
	Description   string    `db:"description"`
	ChallengeType string    `db:"challenge_type"`
	Difficulty    string    `db:"difficulty"`
	TargetValue   int64     `db:"target_value"`
	PointsReward  int64     `db:"points_reward"`
	BadgeRewardId string    `db:"badge_reward_id"`
	StartDate     time.Time `db:"start_date"`
	EndDate       time.Time `db:"end_date"`
	Active        bool      `db:"active"`
	CreatedAt     time.Time `db:"created_at"`
}

// Achievement is a one-time milestone definition.
type Achievement struct {
	Id              string    `db:"id"`
	ProgramId       string    `db:"program_id"`
	Name            string    `db:"name"`
	Description     string    `db:"description"`
	AchievementType string    `db:"achievement_type"`
	PointsReward    int64     `db:"points_reward"`
	BadgeRewardId   string    `db:"badge_reward_id"`
	Criteria        string    `db:"criteria"`
	Active          bool      `db:"active"`
	CreatedAt       time.Time `db:"created_at"`
}

// ProgressRecord tracks a customer's state against one badge, challenge or
// achievement definition. At most one record exists per
// (customer, definition); that uniqueness is enforced by the store.
type ProgressRecord struct {
	Id              string          `db:"id"`
	CustomerId      string          `db:"customer_id"`
	DefinitionKind  string          `db:"definition_kind"`
	DefinitionId    string          `db:"definition_id"`
	Status          string          `db:"status"`
	CurrentProgress int64           `db:"current_progress"`
	Target          int64           `db:"target"`
	ProgressPercent decimal.Decimal `db:"progress_percent"`
	JoinedAt        time.Time       `db:"joined_at"`
	EarnedAt        time.Time       `db:"earned_at"`
	CompletedAt     time.Time       `db:"completed_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

// LeaderboardEntry is one row of a period leaderboard (snapshot read).
type LeaderboardEntry struct {
	Rank       int    `db:"rank"`
	CustomerId string `db:"customer_id"`
	Score      int64  `db:"score"`
	ScoreType  string `db:"score_type"`
}
