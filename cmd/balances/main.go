/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"loyalty-rules-go/internal/common"
	"loyalty-rules-go/internal/config"
	"loyalty-rules-go/internal/database"
	"loyalty-rules-go/internal/models"

	"go.uber.org/zap"
)

type reportStats struct {
	totalAccounts      int
	reconcileFailures  int
	totalPointsBalance int64
}

func tierLabel(ctx context.Context, dbService *database.Service, tierId string) string {
	if tierId == "" {
		return "none"
	}
	tier, err := dbService.GetTier(ctx, tierId)
	if err != nil {
		return tierId
	}
	return tier.Name
}

func printAccount(ctx context.Context, dbService *database.Service, account models.Account, isLast bool) {
	symbol := common.BoxPrefix(isLast)
	lastActivity := "never"
	if !account.LastActivity.IsZero() {
		lastActivity = account.LastActivity.Format("2006-01-02 15:04:05")
	}
	fmt.Printf("%s %-20s: %8d pts (lifetime %8d, tier: %s, v%d, last: %s)\n",
		symbol,
		account.CustomerId,
		account.PointsBalance,
		account.LifetimePoints,
		tierLabel(ctx, dbService, account.TierId),
		account.Version,
		lastActivity)
}

func printHistory(ctx context.Context, dbService *database.Service, accountId string, limit int) error {
	entries, err := dbService.GetLedgerHistory(ctx, accountId, limit, 0)
	if err != nil {
		return err
	}
	for i, entry := range entries {
		symbol := common.BoxPrefix(i == len(entries)-1)
		fmt.Printf("%s %+6d %-8s %-9s %s  %s\n",
			symbol, entry.Points, entry.Kind, entry.Status,
			entry.CreatedAt.Format("2006-01-02 15:04"), entry.Description)
	}
	return nil
}

func printLeaderboard(entries []models.LeaderboardEntry, title string) {
	common.PrintHeader(title, common.DefaultWidth)
	if len(entries) == 0 {
		fmt.Println("no activity in period")
		return
	}
	for _, entry := range entries {
		fmt.Printf("%3d. %-20s %8d\n", entry.Rank, entry.CustomerId, entry.Score)
	}
}

func reportAccounts(ctx context.Context, dbService *database.Service, programId string, customerFilter string, historyLimit int, reconcile bool, logger *zap.Logger) reportStats {
	stats := reportStats{}

	accounts, err := dbService.GetProgramAccounts(ctx, programId)
	if err != nil {
		logger.Fatal("Failed to list accounts", zap.Error(err))
	}

	for _, account := range accounts {
		if customerFilter != "" && account.CustomerId != customerFilter {
			continue
		}
		stats.totalAccounts++
		stats.totalPointsBalance += account.PointsBalance

		printAccount(ctx, dbService, account, false)

		if reconcile {
			if err := dbService.Reconcile(ctx, account.Id); err != nil {
				stats.reconcileFailures++
				logger.Error("Reconciliation failed",
					zap.String("account_id", account.Id),
					zap.String("customer_id", account.CustomerId),
					zap.Error(err))
			}
		}
		if historyLimit > 0 {
			common.PrintBoxSeparator(common.DefaultWidth - 2)
			if err := printHistory(ctx, dbService, account.Id, historyLimit); err != nil {
				logger.Error("Failed to read history",
					zap.String("account_id", account.Id),
					zap.Error(err))
			}
		}
	}
	return stats
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	programFlag := flag.String("program", "", "Program id (required)")
	customerFlag := flag.String("customer", "", "Filter by customer id (optional)")
	historyFlag := flag.Int("history", 0, "Show the last N ledger entries per account")
	reconcileFlag := flag.Bool("reconcile", false, "Verify balances against the ledger")
	leaderboardFlag := flag.String("leaderboard", "", "Show a leaderboard: points or visits")
	daysFlag := flag.Int("days", 30, "Leaderboard period in days")
	topFlag := flag.Int("top", 10, "Leaderboard size")
	flag.Parse()

	if *programFlag == "" {
		logger.Fatal("-program is required")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Connecting to database", zap.String("path", cfg.Database.Path))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	program, err := dbService.GetProgram(ctx, *programFlag)
	if err != nil {
		logger.Fatal("Failed to load program", zap.Error(err))
	}

	switch *leaderboardFlag {
	case "points", "visits":
		to := time.Now()
		from := to.AddDate(0, 0, -*daysFlag)
		var entries []models.LeaderboardEntry
		if *leaderboardFlag == "points" {
			entries, err = dbService.PointsLeaderboard(ctx, program.Id, from, to, *topFlag)
		} else {
			entries, err = dbService.VisitsLeaderboard(ctx, program.Id, from, to, *topFlag)
		}
		if err != nil {
			logger.Fatal("Failed to build leaderboard", zap.Error(err))
		}
		printLeaderboard(entries, fmt.Sprintf("%s LEADERBOARD: %s (last %d days)",
			*leaderboardFlag, program.Name, *daysFlag))
		return
	case "":
	default:
		logger.Fatal("Unknown leaderboard type", zap.String("type", *leaderboardFlag))
	}

	common.PrintHeader(fmt.Sprintf("ACCOUNT REPORT: %s", program.Name), common.DefaultWidth)
	stats := reportAccounts(ctx, dbService, program.Id, *customerFlag, *historyFlag, *reconcileFlag, logger)

	summary := fmt.Sprintf("SUMMARY: %d accounts, %d points outstanding",
		stats.totalAccounts, stats.totalPointsBalance)
	if *reconcileFlag {
		summary += fmt.Sprintf(", %d reconciliation failures", stats.reconcileFailures)
	}
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Report complete",
		zap.Int("accounts", stats.totalAccounts),
		zap.Int("reconcile_failures", stats.reconcileFailures))
}
