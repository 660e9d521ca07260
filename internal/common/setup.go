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

package common

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"remit-settlement-go/internal/chain"
	"remit-settlement-go/internal/database"
	"remit-settlement-go/internal/events"
	"remit-settlement-go/internal/formance"
	"remit-settlement-go/internal/metrics"
	"remit-settlement-go/internal/models"
	"remit-settlement-go/internal/monitor"
	"remit-settlement-go/internal/provider"
	"remit-settlement-go/internal/rails"
	"remit-settlement-go/internal/retry"
	"remit-settlement-go/internal/store"

	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
	} else {
		log.Println("Loaded environment variables from .env file")
	}
}

// Services bundles everything a command binary needs after startup wiring.
type Services struct {
	DbService *database.Service
	Ledger    store.LedgerStore
	Transfers store.TransferStore
	Node      *chain.RPCClient
	Executor  *chain.Executor
	Monitor   *monitor.Monitor
	Registry  *provider.Registry
	Selector  *provider.Selector
	Recorder  *metrics.Recorder
	Retry     *retry.Executor
	Publisher events.Publisher
	Network   models.NetworkConfig
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	ledger, err := selectLedgerBackend(ctx, cfg, dbService)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	network, err := selectNetwork(cfg.Chain)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	node, err := chain.NewRPCClient(cfg.Chain.RPCURL, network)
	if err != nil {
		dbService.Close()
		return nil, fmt.Errorf("unable to create chain client: %w", err)
	}

	executor := chain.NewExecutor(chain.ExecutorConfig{
		Node:         node,
		Transfers:    dbService,
		Network:      network,
		FromAddress:  cfg.Chain.FromAddress,
		MaxRetries:   cfg.Chain.MaxRetries,
		RetryEnabled: cfg.Chain.RetryEnabled,
	})

	publisher, err := initializePublisher(cfg.Events)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	settlementMonitor := monitor.NewMonitor(monitor.Config{
		Node:             node,
		Transfers:        dbService,
		Ledger:           ledger,
		Publisher:        publisher,
		Network:          network,
		PollInterval:     cfg.Monitor.PollInterval,
		MaxCheckAttempts: cfg.Monitor.MaxCheckAttempts,
	})

	recorder := metrics.NewRecorder()
	registry := provider.NewRegistry()
	if err := registerProviders(registry, executor, dbService, network); err != nil {
		publisher.Close()
		dbService.Close()
		return nil, err
	}

	return &Services{
		DbService: dbService,
		Ledger:    ledger,
		Transfers: dbService,
		Node:      node,
		Executor:  executor,
		Monitor:   settlementMonitor,
		Registry:  registry,
		Selector:  provider.NewSelector(registry, recorder),
		Recorder:  recorder,
		Retry:     retry.NewExecutor(registry, recorder),
		Publisher: publisher,
		Network:   network,
	}, nil
}

// InitializeDatabaseOnly initializes just the database service.
// Useful for read-only operations like querying balances.
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	return database.NewService(ctx, cfg.Database)
}

func (cs *Services) Close() {
	if cs.Publisher != nil {
		cs.Publisher.Close()
	}
	// The SQLite service can double as the ledger backend; close it once.
	if cs.Ledger != nil && cs.Ledger != store.LedgerStore(cs.DbService) {
		cs.Ledger.Close()
	}
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

// selectLedgerBackend returns the configured wallet ledger. Blockchain
// transfer rows always live in SQLite regardless of the ledger choice.
func selectLedgerBackend(ctx context.Context, cfg *models.Config, dbService *database.Service) (store.LedgerStore, error) {
	switch cfg.Ledger.Backend {
	case "", "sqlite":
		return dbService, nil
	case "formance":
		zap.L().Info("Using Formance ledger backend",
			zap.String("ledger", cfg.Formance.LedgerName))
		return formance.NewService(ctx, cfg.Formance)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q (want sqlite or formance)", cfg.Ledger.Backend)
	}
}

func selectNetwork(cfg models.ChainConfig) (models.NetworkConfig, error) {
	networks, err := LoadNetworkConfigs(cfg.NetworksFile)
	if err != nil {
		return models.NetworkConfig{}, err
	}
	network, err := FindNetworkConfig(networks, cfg.Network)
	if err != nil {
		return models.NetworkConfig{}, err
	}
	return *network, nil
}

func initializePublisher(cfg models.EventsConfig) (events.Publisher, error) {
	if cfg.AMQPURL == "" {
		zap.L().Info("Event publishing disabled, no AMQP URL configured")
		return events.NopPublisher{}, nil
	}
	publisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("unable to connect event publisher: %w", err)
	}
	return publisher, nil
}

// registerProviders wires every rail that has enough configuration to run.
// The on-chain rail is always available; partner rails join when their
// environment is present.
func registerProviders(registry *provider.Registry, executor *chain.Executor, transfers store.TransferStore, network models.NetworkConfig) error {
	registry.Register("onchain", rails.NewOnChainProvider(executor, transfers, network, 10))

	if baseURL := os.Getenv("MOBILE_MONEY_BASE_URL"); baseURL != "" {
		momo, err := rails.NewMobileMoneyProvider(rails.MobileMoneyConfig{
			Name:      getEnvDefault("MOBILE_MONEY_NAME", "mobile-money"),
			BaseURL:   baseURL,
			APIKey:    os.Getenv("MOBILE_MONEY_API_KEY"),
			Priority:  30,
			Countries: splitList(os.Getenv("MOBILE_MONEY_COUNTRIES")),
		})
		if err != nil {
			return err
		}
		registry.Register(momo.Name(), momo)
	}

	if baseURL := os.Getenv("BANK_BASE_URL"); baseURL != "" {
		bank, err := rails.NewBankProvider(rails.BankConfig{
			Name:     getEnvDefault("BANK_NAME", "bank"),
			BaseURL:  baseURL,
			APIKey:   os.Getenv("BANK_API_KEY"),
			Priority: 20,
		})
		if err != nil {
			return err
		}
		registry.Register(bank.Name(), bank)
	}

	if creds, ok := loadCustodyCredentials(); ok {
		custody, err := rails.NewCustodyProvider(rails.CustodyConfig{
			Credentials: creds,
			PortfolioId: os.Getenv("PRIME_PORTFOLIO_ID"),
			WalletIds:   parseWalletIds(os.Getenv("CUSTODY_WALLET_IDS")),
			Priority:    40,
		})
		if err != nil {
			return err
		}
		registry.Register("custody", custody)
	}

	return nil
}

// loadCustodyCredentials reads the custody API credentials from the
// environment. The custody rail is optional, so missing credentials just
// disable it.
func loadCustodyCredentials() (*credentials.Credentials, bool) {
	accessKey := os.Getenv("PRIME_ACCESS_KEY")
	passphrase := os.Getenv("PRIME_PASSPHRASE")
	signingKey := os.Getenv("PRIME_SIGNING_KEY")

	if accessKey == "" || passphrase == "" || signingKey == "" {
		return nil, false
	}

	return &credentials.Credentials{
		AccessKey:  accessKey,
		Passphrase: passphrase,
		SigningKey: signingKey,
	}, true
}

// parseWalletIds parses "USDC:wallet-a,ETH:wallet-b" into a currency map.
func parseWalletIds(raw string) map[string]string {
	wallets := make(map[string]string)
	for _, pair := range splitList(raw) {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			wallets[strings.ToUpper(parts[0])] = parts[1]
		}
	}
	return wallets
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
