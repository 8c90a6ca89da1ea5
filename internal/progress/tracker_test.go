package progress

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"loyalty-rules-go/internal/database"
	"loyalty-rules-go/internal/models"
	"loyalty-rules-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
)

func setupTracker(t *testing.T) (*Tracker, *database.Service, func()) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	service := database.NewServiceWithDB(db)
	if err := service.InitSchema(); err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}
	cleanup := func() {
		db.Close()
	}
	return NewTracker(service), service, cleanup
}

func setupAccount(t *testing.T, service *database.Service) (*models.Program, *models.Account) {
	ctx := context.Background()
	program, err := service.CreateProgram(ctx, "Test Program", "UTC")
	if err != nil {
		t.Fatalf("CreateProgram failed: %v", err)
	}
	account, err := service.GetOrCreateAccount(ctx, "cust1", program.Id)
	if err != nil {
		t.Fatalf("GetOrCreateAccount failed: %v", err)
	}
	return program, account
}

func recordVisit(t *testing.T, service *database.Service, accountId string, points int64, now time.Time) {
	if _, err := service.Append(context.Background(), store.AppendParams{
		AccountId:   accountId,
		Points:      points,
		Kind:        models.KindEarn,
		Description: "Check-in reward: base",
		Now:         now,
	}); err != nil {
		t.Fatalf("Append visit failed: %v", err)
	}
}

func refresh(t *testing.T, service *database.Service, accountId string) *models.Account {
	account, err := service.GetAccount(context.Background(), accountId)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	return account
}

func TestBadgeAward_Idempotent(t *testing.T) {
	tracker, service, cleanup := setupTracker(t)
	defer cleanup()

	ctx := context.Background()
	program, account := setupAccount(t, service)

	badge, err := service.CreateBadge(ctx, models.Badge{
		ProgramId:    program.Id,
		Name:         "Regular",
		BadgeType:    "frequency",
		PointsReward: 25,
		Criteria:     `{"type": "frequency", "threshold": 2}`,
	})
	if err != nil {
		t.Fatalf("CreateBadge failed: %v", err)
	}

	now := time.Now()

	// One visit: criteria not met yet.
	recordVisit(t, service, account.Id, 10, now)
	summary, err := tracker.Check(ctx, refresh(t, service, account.Id), now)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if len(summary.BadgesAwarded) != 0 {
		t.Errorf("Expected no badge at 1 visit, got %v", summary.BadgesAwarded)
	}

	recordVisit(t, service, account.Id, 10, now)
	summary, err = tracker.Check(ctx, refresh(t, service, account.Id), now)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if len(summary.BadgesAwarded) != 1 || summary.BadgesAwarded[0] != "Regular" {
		t.Fatalf("Expected Regular badge awarded, got %v", summary.BadgesAwarded)
	}

	after := refresh(t, service, account.Id)
	if after.PointsBalance != 45 {
		t.Errorf("Expected balance 45 (20 visits + 25 bonus), got %d", after.PointsBalance)
	}

	// Re-running the sweep must not award or pay again.
	summary, err = tracker.Check(ctx, after, now)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if len(summary.BadgesAwarded) != 0 {
		t.Errorf("Expected no badge on recheck, got %v", summary.BadgesAwarded)
	}
	if final := refresh(t, service, account.Id); final.PointsBalance != 45 {
		t.Errorf("Expected balance unchanged at 45, got %d", final.PointsBalance)
	}

	record, err := service.GetProgressRecord(ctx, account.CustomerId, badge.Id)
	if err != nil {
		t.Fatalf("GetProgressRecord failed: %v", err)
	}
	if record == nil || record.Status != models.ProgressCompleted {
		t.Errorf("Expected completed badge record, got %+v", record)
	}
}

func TestAchievement_FirstTime(t *testing.T) {
	tracker, service, cleanup := setupTracker(t)
	defer cleanup()

	ctx := context.Background()
	program, account := setupAccount(t, service)

	if _, err := service.CreateAchievement(ctx, models.Achievement{
		ProgramId:       program.Id,
		Name:            "First Steps",
		AchievementType: "first_time",
		PointsReward:    10,
		Criteria:        `{"type": "first_time"}`,
	}); err != nil {
		t.Fatalf("CreateAchievement failed: %v", err)
	}

	now := time.Now()

	// No history yet: nothing to award.
	summary, err := tracker.Check(ctx, account, now)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if len(summary.AchievementsAwarded) != 0 {
		t.Errorf("Expected no achievement before first entry, got %v", summary.AchievementsAwarded)
	}

	recordVisit(t, service, account.Id, 10, now)
	summary, err = tracker.Check(ctx, refresh(t, service, account.Id), now)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if len(summary.AchievementsAwarded) != 1 || summary.AchievementsAwarded[0] != "First Steps" {
		t.Fatalf("Expected First Steps awarded, got %v", summary.AchievementsAwarded)
	}
}

func TestChallenge_AutoEnrollAndComplete(t *testing.T) {
	tracker, service, cleanup := setupTracker(t)
	defer cleanup()

	ctx := context.Background()
	program, account := setupAccount(t, service)

	now := time.Now()
	challenge, err := service.CreateChallenge(ctx, models.Challenge{
		ProgramId:     program.Id,
		Name:          "Two Visits",
		ChallengeType: "visits",
		TargetValue:   2,
		PointsReward:  100,
		StartDate:     now.AddDate(0, 0, -1),
		EndDate:       now.AddDate(0, 0, 30),
	})
	if err != nil {
		t.Fatalf("CreateChallenge failed: %v", err)
	}

	// First visit auto-enrolls and reports progress 1/2.
	recordVisit(t, service, account.Id, 10, now)
	summary, err := tracker.Check(ctx, refresh(t, service, account.Id), now)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if len(summary.ChallengeProgress) != 1 {
		t.Fatalf("Expected 1 challenge update, got %d", len(summary.ChallengeProgress))
	}
	update := summary.ChallengeProgress[0]
	if update.CurrentProgress != 1 || update.Completed {
		t.Errorf("Expected progress 1/2 not completed, got %+v", update)
	}

	// Second visit completes the challenge and pays the reward.
	recordVisit(t, service, account.Id, 10, now)
	summary, err = tracker.Check(ctx, refresh(t, service, account.Id), now)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if len(summary.ChallengeProgress) != 1 || !summary.ChallengeProgress[0].Completed {
		t.Fatalf("Expected challenge completion, got %+v", summary.ChallengeProgress)
	}

	after := refresh(t, service, account.Id)
	if after.PointsBalance != 120 {
		t.Errorf("Expected balance 120 (20 visits + 100 reward), got %d", after.PointsBalance)
	}

	// Completed records are settled; further sweeps leave them alone.
	summary, err = tracker.Check(ctx, after, now)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if len(summary.ChallengeProgress) != 0 {
		t.Errorf("Expected no updates after completion, got %+v", summary.ChallengeProgress)
	}
	if final := refresh(t, service, account.Id); final.PointsBalance != 120 {
		t.Errorf("Expected balance unchanged at 120, got %d", final.PointsBalance)
	}

	record, _ := service.GetProgressRecord(ctx, account.CustomerId, challenge.Id)
	if record.Status != models.ProgressCompleted {
		t.Errorf("Expected completed record, got %s", record.Status)
	}
}
