package store

import (
	"context"
	"errors"
	"time"

	"loyalty-rules-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations. Callers test
// with errors.Is; the orchestrator recovers from all of these locally and
// only lets raw storage failures propagate.
var (
	ErrInsufficientBalance    = errors.New("insufficient points balance")
	ErrInvalidState           = errors.New("invalid state transition")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrMalformedConditions    = errors.New("malformed rule conditions")
	ErrReferenceDataMissing   = errors.New("reference data missing")
	ErrAccountNotFound        = errors.New("loyalty account not found")
	ErrDuplicateAward         = errors.New("progress record already exists")
	ErrDuplicateEntry         = errors.New("duplicate ledger reference")
)

// AppendParams contains the parameters for appending a ledger entry.
type AppendParams struct {
	AccountId   string
	Points      int64
	Kind        string
	Description string
	// Reference is an optional idempotency/audit marker. Appends with a
	// reference already present on the account are rejected with
	// ErrDuplicateEntry.
	Reference  string
	RuleId     string
	LocationId string
	// Now stamps the entry. The orchestrator passes the event's clock so
	// evaluation windows and ledger timestamps agree; zero means wall clock.
	Now time.Time
}

// AwardParams describes an atomic progress award: the progress record, the
// bonus ledger entry and the account update commit together or not at all.
type AwardParams struct {
	CustomerId     string
	AccountId      string
	DefinitionKind string
	DefinitionId   string
	Target         int64
	PointsReward   int64
	Description    string
	Reference      string
	// Now stamps the record and its bonus entry; zero means wall clock.
	Now time.Time
}

// CompleteChallengeParams transitions an active challenge record to
// completed, appending the reward entry in the same transaction.
type CompleteChallengeParams struct {
	RecordId     string
	AccountId    string
	Progress     int64
	PointsReward int64
	Description  string
	Reference    string
	// Now stamps the completion and its reward entry; zero means wall clock.
	Now time.Time
}

// LedgerStore defines the contract the loyalty core requires from a backend.
type LedgerStore interface {
	// --- Programs and reference data ---
	CreateProgram(ctx context.Context, name, timezone string) (*models.Program, error)
	GetProgram(ctx context.Context, programId string) (*models.Program, error)
	CreateTier(ctx context.Context, programId, name string, threshold int64) (*models.Tier, error)
	GetTiers(ctx context.Context, programId string) ([]models.Tier, error)
	GetTier(ctx context.Context, tierId string) (*models.Tier, error)
	CreateLocation(ctx context.Context, programId, name string) (*models.Location, error)
	GetLocation(ctx context.Context, locationId string) (*models.Location, error)

	// --- Accounts ---
	GetAccount(ctx context.Context, accountId string) (*models.Account, error)
	FindAccount(ctx context.Context, customerId, programId string) (*models.Account, error)
	GetOrCreateAccount(ctx context.Context, customerId, programId string) (*models.Account, error)
	DeactivateAccount(ctx context.Context, accountId string) error

	// --- Ledger ---
	Append(ctx context.Context, params AppendParams) (*models.LedgerEntry, error)
	AppendPending(ctx context.Context, params AppendParams) (*models.LedgerEntry, error)
	CompleteEntry(ctx context.Context, entryId string) (*models.LedgerEntry, error)
	CancelEntry(ctx context.Context, entryId string) (*models.LedgerEntry, error)
	GetLedgerHistory(ctx context.Context, accountId string, limit, offset int) ([]models.LedgerEntry, error)
	Reconcile(ctx context.Context, accountId string) error

	// --- Rules ---
	CreateRule(ctx context.Context, rule models.Rule) (*models.Rule, error)
	GetActiveRules(ctx context.Context, programId string, at time.Time) ([]models.Rule, error)
	DeactivateRule(ctx context.Context, ruleId string) error

	// --- History reads for rule evaluators (read snapshot, no locks) ---
	CountRuleEntries(ctx context.Context, accountId, ruleId string, since time.Time) (int, error)
	RuleEntryOnDay(ctx context.Context, accountId, ruleId string, dayStart, dayEnd time.Time) (bool, error)
	CountActionEntries(ctx context.Context, accountId, keyword string, since time.Time) (int, error)
	CountDistinctLocations(ctx context.Context, accountId string, since time.Time) (int, error)
	LocationVisited(ctx context.Context, accountId, locationId string, since time.Time) (bool, error)
	MilestoneAwarded(ctx context.Context, accountId, ruleId, marker string) (bool, error)
	CountVisits(ctx context.Context, accountId string) (int, error)

	// --- History reads for progress engines ---
	CountEntries(ctx context.Context, accountId string, since time.Time) (int, error)
	CountEntriesByKind(ctx context.Context, accountId, kind string) (int, error)
	SumEarnedBetween(ctx context.Context, accountId string, from, to time.Time) (int64, error)
	CountVisitsBetween(ctx context.Context, accountId string, from, to time.Time) (int, error)
	CountDistinctVisitDays(ctx context.Context, accountId string, from, to time.Time) (int, error)
	VisitOnDay(ctx context.Context, accountId string, dayStart, dayEnd time.Time) (bool, error)
	FirstEntryTime(ctx context.Context, accountId string) (time.Time, error)

	// --- Gamification definitions ---
	CreateBadge(ctx context.Context, badge models.Badge) (*models.Badge, error)
	GetBadge(ctx context.Context, badgeId string) (*models.Badge, error)
	GetActiveBadges(ctx context.Context, programId string) ([]models.Badge, error)
	CreateChallenge(ctx context.Context, challenge models.Challenge) (*models.Challenge, error)
	GetOngoingChallenges(ctx context.Context, programId string, at time.Time) ([]models.Challenge, error)
	CreateAchievement(ctx context.Context, achievement models.Achievement) (*models.Achievement, error)
	GetActiveAchievements(ctx context.Context, programId string) ([]models.Achievement, error)

	// --- Progress records ---
	GetProgressRecord(ctx context.Context, customerId, definitionId string) (*models.ProgressRecord, error)
	GetProgressRecords(ctx context.Context, customerId string) ([]models.ProgressRecord, error)
	EnrollInChallenge(ctx context.Context, customerId string, challenge models.Challenge) (*models.ProgressRecord, error)
	Award(ctx context.Context, params AwardParams) (*models.ProgressRecord, error)
	UpdateChallengeProgress(ctx context.Context, recordId string, progress int64, percent decimal.Decimal) error
	CompleteChallenge(ctx context.Context, params CompleteChallengeParams) (*models.ProgressRecord, error)
	ExpireOverdueChallenges(ctx context.Context, at time.Time) (int, error)

	// --- Leaderboards (snapshot reads, weaker consistency is acceptable) ---
	PointsLeaderboard(ctx context.Context, programId string, from, to time.Time, limit int) ([]models.LeaderboardEntry, error)
	VisitsLeaderboard(ctx context.Context, programId string, from, to time.Time, limit int) ([]models.LeaderboardEntry, error)

	// --- Lifecycle ---
	Close()
}
