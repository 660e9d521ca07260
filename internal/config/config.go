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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"remit-settlement-go/internal/models"
)

func Load() (*models.Config, error) {
	pollInterval, err := getEnvDuration("MONITOR_POLL_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, err
	}

	baseDelay, err := getEnvDuration("RETRY_BASE_DELAY", 1*time.Second)
	if err != nil {
		return nil, err
	}

	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "settlement.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Ledger: models.LedgerConfig{
			Backend: getEnvString("LEDGER_BACKEND", "sqlite"),
		},
		Formance: models.FormanceConfig{
			StackURL:     getEnvString("FORMANCE_STACK_URL", ""),
			ClientID:     getEnvString("FORMANCE_CLIENT_ID", ""),
			ClientSecret: getEnvString("FORMANCE_CLIENT_SECRET", ""),
			LedgerName:   getEnvString("FORMANCE_LEDGER_NAME", "remit-settlement"),
		},
		Chain: models.ChainConfig{
			RPCURL:       getEnvString("CHAIN_RPC_URL", "http://localhost:8545"),
			Network:      getEnvString("CHAIN_NETWORK", "ethereum-mainnet"),
			FromAddress:  getEnvString("CHAIN_FROM_ADDRESS", ""),
			NetworksFile: getEnvString("NETWORKS_FILE", "networks.yaml"),
			MaxRetries:   getEnvInt("CHAIN_MAX_RETRIES", 3),
			RetryEnabled: getEnvBool("CHAIN_RETRY_ENABLED", true),
		},
		Monitor: models.MonitorConfig{
			PollInterval:     pollInterval,
			MaxCheckAttempts: getEnvInt("MONITOR_MAX_CHECK_ATTEMPTS", 20),
			SweepSchedule:    getEnvString("MONITOR_SWEEP_SCHEDULE", "@every 5m"),
		},
		Retry: models.RetryConfig{
			MaxRetries:         getEnvInt("RETRY_MAX_RETRIES", 2),
			BaseDelay:          baseDelay,
			ExponentialBackoff: getEnvBool("RETRY_EXPONENTIAL_BACKOFF", true),
		},
		Events: models.EventsConfig{
			AMQPURL:  getEnvString("EVENTS_AMQP_URL", ""),
			Exchange: getEnvString("EVENTS_EXCHANGE", "settlement.events"),
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
