package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"remit-settlement-go/internal/common"
	"remit-settlement-go/internal/config"
	"remit-settlement-go/internal/models"
	"remit-settlement-go/internal/provider"

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

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	printProviders(services)
}

func printProviders(services *common.Services) {
	providers := services.Registry.List()
	common.PrintHeader(fmt.Sprintf("Registered Payment Providers (%d)", len(providers)), common.DefaultWidth)

	for _, p := range providers {
		printProvider(p, services)
	}

	printHealthSummary(services)
}

func printProvider(p provider.Provider, services *common.Services) {
	caps := p.Capabilities()
	stats := services.Recorder.Stats(p.Name())

	state := "active"
	if !caps.Active {
		state = "inactive"
	}

	fmt.Printf("\n┌─ %s (priority %d, %s, health: %s)\n", p.Name(), caps.Priority, state, stats.Health)
	fmt.Printf("│  Currencies: %s\n", strings.Join(caps.Currencies, ", "))
	fmt.Printf("│  Operations: %s\n", joinOperations(caps.Operations))
	if len(caps.Countries) > 0 {
		fmt.Printf("│  Countries:  %s\n", strings.Join(caps.Countries, ", "))
	}

	currencies := limitCurrencies(caps)
	for i, currency := range currencies {
		limits := caps.Limits[currency]
		symbol := common.BoxPrefix(i == len(currencies)-1)
		fmt.Printf("%s %-6s min %s, max %s\n", symbol, currency, limits.Min.String(), limits.Max.String())
	}
}

func joinOperations(ops []models.OperationType) string {
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = string(op)
	}
	return strings.Join(names, ", ")
}

func limitCurrencies(caps models.ProviderCapabilities) []string {
	currencies := make([]string, 0, len(caps.Limits))
	for currency := range caps.Limits {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)
	return currencies
}

func printHealthSummary(services *common.Services) {
	snapshot := services.Recorder.Snapshot()
	if len(snapshot) == 0 {
		fmt.Println("\nNo recorded attempts in the trailing window")
		return
	}

	common.PrintHeader("Provider Health (trailing hour)", common.DefaultWidth)

	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		stats := snapshot[name]
		fmt.Printf("%-20s %-9s %3d samples, %5.1f%% success, avg latency %s\n",
			name, stats.Health, stats.Samples, stats.SuccessRate*100,
			stats.AvgLatency.Round(time.Millisecond))
	}
}
