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
	"strings"

	"remit-settlement-go/internal/common"
	"remit-settlement-go/internal/config"

	"go.uber.org/zap"
)

func main() {
	walletFlag := flag.String("wallet", "", "Wallet id to query (required)")
	currenciesFlag := flag.String("currencies", "USDC,ETH", "Comma-separated currencies to show")
	flag.Parse()

	if *walletFlag == "" {
		fmt.Println("Error: --wallet is required")
		flag.Usage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	currencies := strings.Split(*currenciesFlag, ",")

	common.PrintHeader(fmt.Sprintf("Wallet %s", *walletFlag), common.DefaultWidth)
	for i, currency := range currencies {
		currency = strings.TrimSpace(strings.ToUpper(currency))
		if currency == "" {
			continue
		}

		balance, err := dbService.GetWalletBalance(ctx, *walletFlag, currency)
		if err != nil {
			zap.L().Error("Failed to read balance",
				zap.String("wallet_id", *walletFlag),
				zap.String("currency", currency),
				zap.Error(err))
			continue
		}

		symbol := common.BoxPrefix(i == len(currencies)-1)
		fmt.Printf("%s %-8s: %20s\n", symbol, currency, balance.String())
	}
}
