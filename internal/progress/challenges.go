package progress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"loyalty-rules-go/internal/models"
	"loyalty-rules-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Challenge types: what the target value counts.
const (
	challengePoints   = "points"
	challengeVisits   = "visits"
	challengeStreak   = "streak"
	challengeSpending = "spending"
)

// Enroll opens a progress record against one ongoing challenge. Enrolling
// twice returns the existing record.
func (t *Tracker) Enroll(ctx context.Context, customerId string, challenge models.Challenge) (*models.ProgressRecord, error) {
	record, err := t.store.EnrollInChallenge(ctx, customerId, challenge)
	if errors.Is(err, store.ErrDuplicateAward) {
		return t.store.GetProgressRecord(ctx, customerId, challenge.Id)
	}
	return record, err
}

// checkChallenges replays each ongoing challenge's progress from the ledger
// and advances or completes the customer's records. Customers are enrolled
// on their first qualifying activity inside the challenge window.
func (t *Tracker) checkChallenges(ctx context.Context, account *models.Account, now time.Time) ([]models.ChallengeProgressUpdate, error) {
	challenges, err := t.store.GetOngoingChallenges(ctx, account.ProgramId, now)
	if err != nil {
		return nil, err
	}

	var updates []models.ChallengeProgressUpdate
	for _, challenge := range challenges {
		update, err := t.checkChallenge(ctx, account, challenge, now)
		if err != nil {
			return updates, err
		}
		if update != nil {
			updates = append(updates, *update)
		}
	}
	return updates, nil
}

func (t *Tracker) checkChallenge(ctx context.Context, account *models.Account, challenge models.Challenge, now time.Time) (*models.ChallengeProgressUpdate, error) {
	record, err := t.store.GetProgressRecord(ctx, account.CustomerId, challenge.Id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record, err = t.Enroll(ctx, account.CustomerId, challenge)
		if err != nil {
			return nil, err
		}
	}
	if record.Status != models.ProgressActive {
		return nil, nil
	}

	current, err := t.measureProgress(ctx, account, challenge, now)
	if err != nil {
		return nil, err
	}
	if current > challenge.TargetValue {
		current = challenge.TargetValue
	}

	update := &models.ChallengeProgressUpdate{
		ChallengeId:     challenge.Id,
		ChallengeName:   challenge.Name,
		CurrentProgress: current,
		Target:          challenge.TargetValue,
	}

	if current >= challenge.TargetValue {
		_, err = t.store.CompleteChallenge(ctx, store.CompleteChallengeParams{
			RecordId:     record.Id,
			AccountId:    account.Id,
			Progress:     current,
			PointsReward: challenge.PointsReward,
			Description:  fmt.Sprintf("Challenge completed: %s", challenge.Name),
			Reference:    "challenge_" + challenge.Id,
			Now:          now,
		})
		if errors.Is(err, store.ErrInvalidState) || errors.Is(err, store.ErrDuplicateEntry) {
			// Lost a completion race; the reward was paid elsewhere.
			return nil, nil
		} else if err != nil {
			return nil, err
		}
		update.Completed = true

		zap.L().Info("Challenge completed",
			zap.String("customer_id", account.CustomerId),
			zap.String("challenge_id", challenge.Id),
			zap.String("challenge_name", challenge.Name))

		if challenge.BadgeRewardId != "" {
			if err := t.awardLinkedBadge(ctx, account, challenge.BadgeRewardId, now); err != nil {
				return update, err
			}
		}
		return update, nil
	}

	if current != record.CurrentProgress {
		percent := decimal.NewFromInt(current).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(challenge.TargetValue))
		if err := t.store.UpdateChallengeProgress(ctx, record.Id, current, percent); err != nil {
			if errors.Is(err, store.ErrInvalidState) {
				return nil, nil
			}
			return nil, err
		}
		return update, nil
	}
	return nil, nil
}

// measureProgress derives the challenge counter from the ledger inside the
// challenge window. Replaying from the ledger instead of incrementing keeps
// the counter correct across retries and missed events.
func (t *Tracker) measureProgress(ctx context.Context, account *models.Account, challenge models.Challenge, now time.Time) (int64, error) {
	to := now
	if challenge.EndDate.Before(to) {
		to = challenge.EndDate
	}

	switch strings.ToLower(challenge.ChallengeType) {
	case challengePoints:
		return t.store.SumEarnedBetween(ctx, account.Id, challenge.StartDate, to)

	case challengeVisits:
		visits, err := t.store.CountVisitsBetween(ctx, account.Id, challenge.StartDate, to)
		return int64(visits), err

	case challengeStreak:
		streak, err := t.visitStreak(ctx, account.Id, now)
		return int64(streak), err

	case challengeSpending:
		count, err := t.store.CountActionEntries(ctx, account.Id, "purchase", challenge.StartDate)
		return int64(count), err

	default:
		zap.L().Warn("Unknown challenge type",
			zap.String("challenge_id", challenge.Id),
			zap.String("challenge_type", challenge.ChallengeType))
		return 0, nil
	}
}
