package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"loyalty-rules-go/internal/common"
	"loyalty-rules-go/internal/config"
	"loyalty-rules-go/internal/models"

	"go.uber.org/zap"
)

func buildEvent(programId, customerId, eventType, locationId, action, reason string, points int64) models.Event {
	payload := map[string]any{}
	if action != "" {
		payload["action"] = action
	}
	if eventType == models.EventManualAdjust {
		payload["points"] = points
		if reason != "" {
			payload["reason"] = reason
		}
	}
	return models.Event{
		CustomerId: customerId,
		ProgramId:  programId,
		EventType:  eventType,
		LocationId: locationId,
		Payload:    payload,
	}
}

func printSummary(summary *models.EventSummary) {
	output, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		zap.L().Error("Failed to marshal summary", zap.Error(err))
		return
	}
	fmt.Println(string(output))
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	programFlag := flag.String("program", "", "Program id (required)")
	customerFlag := flag.String("customer", "", "Customer id (required)")
	eventFlag := flag.String("event", models.EventCheckin, "Event type: checkin, purchase or manual_adjust")
	locationFlag := flag.String("location", "", "Location id (optional)")
	actionFlag := flag.String("action", "", "Action keyword for combo rules (optional)")
	pointsFlag := flag.Int64("points", 0, "Points delta for manual_adjust")
	reasonFlag := flag.String("reason", "", "Reason for manual_adjust")
	expireFlag := flag.Bool("expire", false, "Expire overdue challenge records and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if *expireFlag {
		expired, err := services.Processor.Tracker().ExpireOverdue(ctx, time.Now())
		if err != nil {
			logger.Fatal("Failed to expire challenges", zap.Error(err))
		}
		fmt.Printf("Expired %d overdue challenge records\n", expired)
		return
	}

	if *programFlag == "" || *customerFlag == "" {
		logger.Fatal("Both -program and -customer are required")
	}

	event := buildEvent(*programFlag, *customerFlag, *eventFlag, *locationFlag,
		*actionFlag, *reasonFlag, *pointsFlag)

	summary, err := services.Processor.ProcessEvent(ctx, event)
	if summary == nil {
		logger.Fatal("Event processing failed", zap.Error(err))
	}
	if err != nil {
		// Partial outcome: some rules or sweeps failed, the rest applied.
		logger.Warn("Event processed with errors", zap.Error(err))
	}
	printSummary(summary)

	logger.Info("Event processed",
		zap.String("account_id", summary.AccountId),
		zap.Int64("points_granted", summary.TotalPointsGranted),
		zap.Int("rules_applied", len(summary.RulesApplied)))
}
