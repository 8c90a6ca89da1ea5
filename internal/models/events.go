package models

// Event types accepted by the orchestrator.
const (
	EventCheckin      = "checkin"
	EventPurchase     = "purchase"
	EventManualAdjust = "manual_adjust"
)

// Event is an external occurrence that triggers rule evaluation.
type Event struct {
	CustomerId string
	ProgramId  string
	EventType  string
	LocationId string
	Payload    map[string]any
}

// RuleApplication records one rule that fired during an event.
type RuleApplication struct {
	RuleId      string `json:"rule_id"`
	RuleName    string `json:"rule_name"`
	Points      int64  `json:"points"`
	BonusPoints int64  `json:"bonus_points"`
	Reason      string `json:"reason"`
	EntryId     string `json:"entry_id,omitempty"`
}

// SkippedRule records a rule that was selected but could not be applied.
type SkippedRule struct {
	RuleId string `json:"rule_id"`
	Reason string `json:"reason"`
}

// ChallengeProgressUpdate reports movement on one active challenge.
type ChallengeProgressUpdate struct {
	ChallengeId     string `json:"challenge_id"`
	ChallengeName   string `json:"challenge_name"`
	CurrentProgress int64  `json:"current_progress"`
	Target          int64  `json:"target"`
	Completed       bool   `json:"completed"`
}

// EventSummary is the terminal outcome of one processed event, returned to
// the caller for notification/API layers.
type EventSummary struct {
	AccountId           string                    `json:"account_id"`
	RulesApplied        []RuleApplication         `json:"rules_applied"`
	RulesSkipped        []SkippedRule             `json:"rules_skipped,omitempty"`
	TotalPointsGranted  int64                     `json:"total_points_granted"`
	BadgesAwarded       []string                  `json:"badges_awarded"`
	AchievementsAwarded []string                  `json:"achievements_awarded"`
	ChallengeProgress   []ChallengeProgressUpdate `json:"challenge_progress_updates"`
	TierId              string                    `json:"tier_id,omitempty"`
}
