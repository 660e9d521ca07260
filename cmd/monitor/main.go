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
	"os"
	"os/signal"
	"syscall"
	"time"

	"remit-settlement-go/internal/common"
	"remit-settlement-go/internal/config"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting settlement monitor",
		zap.String("network", cfg.Chain.Network),
		zap.Duration("poll_interval", cfg.Monitor.PollInterval),
		zap.Int("max_check_attempts", cfg.Monitor.MaxCheckAttempts))

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if err := services.Monitor.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start settlement monitor", zap.Error(err))
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Monitor.SweepSchedule, func() {
		reportPending(ctx, services)
		checkLateConfirmations(ctx, services)
	}); err != nil {
		zap.L().Fatal("Invalid sweep schedule",
			zap.String("schedule", cfg.Monitor.SweepSchedule),
			zap.Error(err))
	}
	scheduler.Start()

	zap.L().Info("Settlement monitor running, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutting down settlement monitor")
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	services.Monitor.Stop()
	cancel()
	zap.L().Info("Settlement monitor stopped")
}

// reportPending logs a summary of the pending backlog so stuck transfers
// show up in operations dashboards well before they time out.
func reportPending(ctx context.Context, services *common.Services) {
	transfers, err := services.Transfers.PendingTransfers(ctx, services.Network.Name)
	if err != nil {
		zap.L().Error("Pending sweep failed", zap.Error(err))
		return
	}

	if len(transfers) == 0 {
		zap.L().Info("Pending sweep: no transfers in flight")
		return
	}

	var oldest time.Time
	var unbroadcast int
	for _, t := range transfers {
		if oldest.IsZero() || t.CreatedAt.Before(oldest) {
			oldest = t.CreatedAt
		}
		if t.TxHash == "" {
			unbroadcast++
		}
	}

	zap.L().Info("Pending sweep",
		zap.Int("pending", len(transfers)),
		zap.Int("without_tx_hash", unbroadcast),
		zap.Time("oldest_created_at", oldest),
		zap.Duration("oldest_age", time.Since(oldest)))
}

// checkLateConfirmations re-checks timed-out transfers against the chain so
// a transaction that confirmed after its reversal is alerted on, not lost.
func checkLateConfirmations(ctx context.Context, services *common.Services) {
	alerted, err := services.Monitor.CheckLateConfirmations(ctx)
	if err != nil {
		zap.L().Error("Late-confirmation sweep failed", zap.Error(err))
		return
	}
	if alerted > 0 {
		zap.L().Error("Late-confirmation sweep found divergent transfers",
			zap.Int("alerts", alerted))
	}
}
