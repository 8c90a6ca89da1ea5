package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"loyalty-rules-go/internal/models"
	"loyalty-rules-go/internal/store"

	"github.com/shopspring/decimal"
)

func TestAward_AtomicWithBonus(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	program, account := setupTestAccount(t, service)

	badge, err := service.CreateBadge(ctx, models.Badge{
		ProgramId:    program.Id,
		Name:         "Regular",
		BadgeType:    "frequency",
		PointsReward: 25,
		Criteria:     `{"type": "frequency", "threshold": 10}`,
	})
	if err != nil {
		t.Fatalf("CreateBadge failed: %v", err)
	}

	record, err := service.Award(ctx, store.AwardParams{
		CustomerId:     account.CustomerId,
		AccountId:      account.Id,
		DefinitionKind: models.DefinitionBadge,
		DefinitionId:   badge.Id,
		Target:         10,
		PointsReward:   badge.PointsReward,
		Description:    "Badge earned: Regular",
		Reference:      "badge_" + badge.Id,
	})
	if err != nil {
		t.Fatalf("Award failed: %v", err)
	}
	if record.Status != models.ProgressCompleted {
		t.Errorf("Expected completed record, got %s", record.Status)
	}

	refreshed, _ := service.GetAccount(ctx, account.Id)
	if refreshed.PointsBalance != 25 {
		t.Errorf("Expected bonus balance 25, got %d", refreshed.PointsBalance)
	}

	// Awarding the same badge again must fail without touching the balance.
	_, err = service.Award(ctx, store.AwardParams{
		CustomerId:     account.CustomerId,
		AccountId:      account.Id,
		DefinitionKind: models.DefinitionBadge,
		DefinitionId:   badge.Id,
		Target:         10,
		PointsReward:   badge.PointsReward,
	})
	if !errors.Is(err, store.ErrDuplicateAward) {
		t.Fatalf("Expected ErrDuplicateAward, got %v", err)
	}
	refreshed, _ = service.GetAccount(ctx, account.Id)
	if refreshed.PointsBalance != 25 {
		t.Errorf("Expected balance unchanged at 25, got %d", refreshed.PointsBalance)
	}
}

func TestChallengeRecordLifecycle(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	program, account := setupTestAccount(t, service)

	now := time.Now()
	challenge, err := service.CreateChallenge(ctx, models.Challenge{
		ProgramId:     program.Id,
		Name:          "Ten Visits",
		ChallengeType: "visits",
		TargetValue:   10,
		PointsReward:  100,
		StartDate:     now.AddDate(0, 0, -1),
		EndDate:       now.AddDate(0, 0, 30),
	})
	if err != nil {
		t.Fatalf("CreateChallenge failed: %v", err)
	}

	record, err := service.EnrollInChallenge(ctx, account.CustomerId, *challenge)
	if err != nil {
		t.Fatalf("EnrollInChallenge failed: %v", err)
	}
	if record.Status != models.ProgressActive || record.Target != 10 {
		t.Errorf("Unexpected enrollment record: status=%s target=%d", record.Status, record.Target)
	}

	// Double enrollment is rejected by the unique index.
	if _, err := service.EnrollInChallenge(ctx, account.CustomerId, *challenge); !errors.Is(err, store.ErrDuplicateAward) {
		t.Fatalf("Expected ErrDuplicateAward on re-enroll, got %v", err)
	}

	percent := decimal.NewFromInt(40)
	if err := service.UpdateChallengeProgress(ctx, record.Id, 4, percent); err != nil {
		t.Fatalf("UpdateChallengeProgress failed: %v", err)
	}
	fetched, err := service.GetProgressRecord(ctx, account.CustomerId, challenge.Id)
	if err != nil {
		t.Fatalf("GetProgressRecord failed: %v", err)
	}
	if fetched.CurrentProgress != 4 {
		t.Errorf("Expected progress 4, got %d", fetched.CurrentProgress)
	}

	completed, err := service.CompleteChallenge(ctx, store.CompleteChallengeParams{
		RecordId:     record.Id,
		AccountId:    account.Id,
		Progress:     10,
		PointsReward: challenge.PointsReward,
		Description:  "Challenge completed: Ten Visits",
		Reference:    "challenge_" + challenge.Id,
	})
	if err != nil {
		t.Fatalf("CompleteChallenge failed: %v", err)
	}
	if completed.Status != models.ProgressCompleted {
		t.Errorf("Expected completed status, got %s", completed.Status)
	}
	if completed.CompletedAt.IsZero() {
		t.Error("Expected completed_at to be set")
	}

	refreshed, _ := service.GetAccount(ctx, account.Id)
	if refreshed.PointsBalance != 100 {
		t.Errorf("Expected reward balance 100, got %d", refreshed.PointsBalance)
	}

	// The guarded status update makes the reward exactly-once.
	_, err = service.CompleteChallenge(ctx, store.CompleteChallengeParams{
		RecordId:     record.Id,
		AccountId:    account.Id,
		Progress:     10,
		PointsReward: challenge.PointsReward,
	})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("Expected ErrInvalidState on double complete, got %v", err)
	}
	refreshed, _ = service.GetAccount(ctx, account.Id)
	if refreshed.PointsBalance != 100 {
		t.Errorf("Expected balance unchanged at 100, got %d", refreshed.PointsBalance)
	}
}

func TestExpireOverdueChallenges(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	program, account := setupTestAccount(t, service)

	now := time.Now()
	expired, err := service.CreateChallenge(ctx, models.Challenge{
		ProgramId:     program.Id,
		Name:          "Old Sprint",
		ChallengeType: "points",
		TargetValue:   100,
		StartDate:     now.AddDate(0, 0, -30),
		EndDate:       now.AddDate(0, 0, -1),
	})
	if err != nil {
		t.Fatalf("CreateChallenge failed: %v", err)
	}
	ongoing, err := service.CreateChallenge(ctx, models.Challenge{
		ProgramId:     program.Id,
		Name:          "New Sprint",
		ChallengeType: "points",
		TargetValue:   100,
		StartDate:     now.AddDate(0, 0, -1),
		EndDate:       now.AddDate(0, 0, 30),
	})
	if err != nil {
		t.Fatalf("CreateChallenge failed: %v", err)
	}

	if _, err := service.EnrollInChallenge(ctx, account.CustomerId, *expired); err != nil {
		t.Fatalf("EnrollInChallenge failed: %v", err)
	}
	if _, err := service.EnrollInChallenge(ctx, account.CustomerId, *ongoing); err != nil {
		t.Fatalf("EnrollInChallenge failed: %v", err)
	}

	count, err := service.ExpireOverdueChallenges(ctx, now)
	if err != nil {
		t.Fatalf("ExpireOverdueChallenges failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 expired record, got %d", count)
	}

	record, _ := service.GetProgressRecord(ctx, account.CustomerId, expired.Id)
	if record.Status != models.ProgressExpired {
		t.Errorf("Expected expired status, got %s", record.Status)
	}
	record, _ = service.GetProgressRecord(ctx, account.CustomerId, ongoing.Id)
	if record.Status != models.ProgressActive {
		t.Errorf("Expected ongoing record still active, got %s", record.Status)
	}
}
