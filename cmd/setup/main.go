package main

import (
	"context"
	"flag"
	"fmt"

	"loyalty-rules-go/internal/common"
	"loyalty-rules-go/internal/config"
	"loyalty-rules-go/internal/models"

	"go.uber.org/zap"
)

// seedProgram creates the program with its tiers and locations, returning
// the program and the created location ids in seed order.
func seedProgram(ctx context.Context, services *common.Services, seed *common.SeedConfig) (*models.Program, []string, error) {
	timezone := seed.Program.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	program, err := services.DbService.CreateProgram(ctx, seed.Program.Name, timezone)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create program: %w", err)
	}
	zap.L().Info("Program created",
		zap.String("program_id", program.Id),
		zap.String("name", program.Name),
		zap.String("timezone", program.Timezone))

	for _, tier := range seed.Program.Tiers {
		created, err := services.DbService.CreateTier(ctx, program.Id, tier.Name, tier.Threshold)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create tier %q: %w", tier.Name, err)
		}
		zap.L().Info("Tier created",
			zap.String("tier_id", created.Id),
			zap.String("name", created.Name),
			zap.Int64("threshold", created.PointsThreshold))
	}

	var locationIds []string
	for _, location := range seed.Program.Locations {
		created, err := services.DbService.CreateLocation(ctx, program.Id, location.Name)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create location %q: %w", location.Name, err)
		}
		locationIds = append(locationIds, created.Id)
		zap.L().Info("Location created",
			zap.String("location_id", created.Id),
			zap.String("name", created.Name))
	}
	return program, locationIds, nil
}

func seedRules(ctx context.Context, services *common.Services, programId string, seeds []common.RuleSeed) error {
	for _, seed := range seeds {
		rule, err := services.DbService.CreateRule(ctx, models.Rule{
			ProgramId:     programId,
			Name:          seed.Name,
			Description:   seed.Description,
			TriggerEvent:  seed.TriggerEvent,
			Conditions:    seed.Conditions,
			BasePoints:    seed.BasePoints,
			Priority:      seed.Priority,
			LocationBased: seed.LocationBased,
			StartDate:     common.ParseSeedDate(seed.StartDate),
			EndDate:       common.ParseSeedDate(seed.EndDate),
		})
		if err != nil {
			return fmt.Errorf("failed to create rule %q: %w", seed.Name, err)
		}
		zap.L().Info("Rule created",
			zap.String("rule_id", rule.Id),
			zap.String("name", rule.Name),
			zap.Int64("base_points", rule.BasePoints),
			zap.Int64("priority", rule.Priority))
	}
	return nil
}

// seedGamification creates badges first so challenges and achievements can
// reference them by name.
func seedGamification(ctx context.Context, services *common.Services, programId string, seed *common.SeedConfig) error {
	badgeIds := make(map[string]string, len(seed.Badges))
	for _, badge := range seed.Badges {
		created, err := services.DbService.CreateBadge(ctx, models.Badge{
			ProgramId:    programId,
			Name:         badge.Name,
			Description:  badge.Description,
			BadgeType:    badge.BadgeType,
			Rarity:       badge.Rarity,
			PointsReward: badge.PointsReward,
			Criteria:     badge.Criteria,
		})
		if err != nil {
			return fmt.Errorf("failed to create badge %q: %w", badge.Name, err)
		}
		badgeIds[badge.Name] = created.Id
		zap.L().Info("Badge created",
			zap.String("badge_id", created.Id),
			zap.String("name", created.Name))
	}

	for _, challenge := range seed.Challenges {
		created, err := services.DbService.CreateChallenge(ctx, models.Challenge{
			ProgramId:     programId,
			Name:          challenge.Name,
			Description:   challenge.Description,
			ChallengeType: challenge.ChallengeType,
			Difficulty:    challenge.Difficulty,
			TargetValue:   challenge.Target,
			PointsReward:  challenge.PointsReward,
			BadgeRewardId: badgeIds[challenge.BadgeReward],
			StartDate:     common.ParseSeedDate(challenge.StartDate),
			EndDate:       common.ParseSeedDate(challenge.EndDate),
		})
		if err != nil {
			return fmt.Errorf("failed to create challenge %q: %w", challenge.Name, err)
		}
		zap.L().Info("Challenge created",
			zap.String("challenge_id", created.Id),
			zap.String("name", created.Name),
			zap.Int64("target", created.TargetValue))
	}

	for _, achievement := range seed.Achievements {
		created, err := services.DbService.CreateAchievement(ctx, models.Achievement{
			ProgramId:       programId,
			Name:            achievement.Name,
			Description:     achievement.Description,
			AchievementType: achievement.AchievementType,
			PointsReward:    achievement.PointsReward,
			BadgeRewardId:   badgeIds[achievement.BadgeReward],
			Criteria:        achievement.Criteria,
		})
		if err != nil {
			return fmt.Errorf("failed to create achievement %q: %w", achievement.Name, err)
		}
		zap.L().Info("Achievement created",
			zap.String("achievement_id", created.Id),
			zap.String("name", created.Name))
	}
	return nil
}

// seedDemoEvents pushes a few events through the processor so a fresh
// install has visible history.
func seedDemoEvents(ctx context.Context, services *common.Services, programId string, locationIds []string) {
	locationId := ""
	if len(locationIds) > 0 {
		locationId = locationIds[0]
	}

	events := []models.Event{
		{CustomerId: "demo-alex", ProgramId: programId, EventType: models.EventCheckin, LocationId: locationId},
		{CustomerId: "demo-alex", ProgramId: programId, EventType: models.EventPurchase, LocationId: locationId,
			Payload: map[string]any{"action": "purchase"}},
		{CustomerId: "demo-sam", ProgramId: programId, EventType: models.EventCheckin, LocationId: locationId},
	}

	for _, event := range events {
		summary, err := services.Processor.ProcessEvent(ctx, event)
		if err != nil {
			zap.L().Warn("Demo event reported errors",
				zap.String("customer_id", event.CustomerId),
				zap.String("event_type", event.EventType),
				zap.Error(err))
		}
		if summary != nil {
			zap.L().Info("Demo event processed",
				zap.String("customer_id", event.CustomerId),
				zap.String("event_type", event.EventType),
				zap.Int64("points_granted", summary.TotalPointsGranted))
		}
	}
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	seedFlag := flag.String("seed", "", "Program seed file (overrides PROGRAM_SEED_FILE)")
	flag.Parse()

	logger.Info("Starting program setup")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	seedFile := cfg.Engine.SeedFile
	if *seedFlag != "" {
		seedFile = *seedFlag
	}

	seed, err := common.LoadSeedConfig(seedFile)
	if err != nil {
		logger.Fatal("Failed to load seed file", zap.Error(err))
	}
	logger.Info("Seed file loaded",
		zap.String("file", seedFile),
		zap.Int("rules", len(seed.Rules)),
		zap.Int("badges", len(seed.Badges)),
		zap.Int("challenges", len(seed.Challenges)),
		zap.Int("achievements", len(seed.Achievements)))

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	program, locationIds, err := seedProgram(ctx, services, seed)
	if err != nil {
		logger.Fatal("Failed to seed program", zap.Error(err))
	}
	if err := seedRules(ctx, services, program.Id, seed.Rules); err != nil {
		logger.Fatal("Failed to seed rules", zap.Error(err))
	}
	if err := seedGamification(ctx, services, program.Id, seed); err != nil {
		logger.Fatal("Failed to seed gamification definitions", zap.Error(err))
	}

	if cfg.Database.SeedDemoData {
		logger.Info("Seeding demo events")
		seedDemoEvents(ctx, services, program.Id, locationIds)
	}

	fmt.Printf("\nProgram ready: %s (%s)\n", program.Name, program.Id)
	logger.Info("Setup complete", zap.String("program_id", program.Id))
}
