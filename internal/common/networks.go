package common

import (
	"fmt"
	"os"
	"path/filepath"

	"remit-settlement-go/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

type networkYAML struct {
	Name                  string            `yaml:"name"`
	NativeCurrency        string            `yaml:"native_currency"`
	RequiredConfirmations int64             `yaml:"required_confirmations"`
	MinTransferUnit       string            `yaml:"min_transfer_unit"`
	AssetDecimals         map[string]int32  `yaml:"asset_decimals"`
	TokenContracts        map[string]string `yaml:"token_contracts"`
	GasFeeFallback        string            `yaml:"gas_fee_fallback"`
	GasBufferPercent      int64             `yaml:"gas_buffer_percent"`
}

type networksYAML struct {
	Networks []networkYAML `yaml:"networks"`
}

// LoadNetworkConfigs reads the networks file and returns one NetworkConfig
// per entry, keyed validation included.
func LoadNetworkConfigs(networksFile string) ([]models.NetworkConfig, error) {
	var networksPath string
	if filepath.IsAbs(networksFile) {
		networksPath = networksFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		networksPath = filepath.Join(wd, networksFile)
	}

	data, err := os.ReadFile(networksPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", networksFile, err)
	}

	var parsed networksYAML
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", networksFile, err)
	}

	configs := make([]models.NetworkConfig, 0, len(parsed.Networks))
	for i, n := range parsed.Networks {
		if n.Name == "" {
			return nil, fmt.Errorf("network at index %d missing name", i)
		}
		if n.NativeCurrency == "" {
			return nil, fmt.Errorf("network %s missing native_currency", n.Name)
		}
		if n.RequiredConfirmations <= 0 {
			return nil, fmt.Errorf("network %s requires a positive required_confirmations", n.Name)
		}

		minUnit := decimal.Zero
		if n.MinTransferUnit != "" {
			minUnit, err = decimal.NewFromString(n.MinTransferUnit)
			if err != nil {
				return nil, fmt.Errorf("network %s has invalid min_transfer_unit %q: %w", n.Name, n.MinTransferUnit, err)
			}
		}

		fallback := decimal.Zero
		if n.GasFeeFallback != "" {
			fallback, err = decimal.NewFromString(n.GasFeeFallback)
			if err != nil {
				return nil, fmt.Errorf("network %s has invalid gas_fee_fallback %q: %w", n.Name, n.GasFeeFallback, err)
			}
		}

		buffer := n.GasBufferPercent
		if buffer == 0 {
			buffer = 15
		}

		configs = append(configs, models.NetworkConfig{
			Name:                  n.Name,
			NativeCurrency:        n.NativeCurrency,
			RequiredConfirmations: n.RequiredConfirmations,
			MinTransferUnit:       minUnit,
			AssetDecimals:         n.AssetDecimals,
			TokenContracts:        n.TokenContracts,
			GasFeeFallback:        fallback,
			GasBufferPercent:      buffer,
		})
	}

	return configs, nil
}

// FindNetworkConfig returns the config for the named network.
func FindNetworkConfig(configs []models.NetworkConfig, name string) (*models.NetworkConfig, error) {
	for i := range configs {
		if configs[i].Name == name {
			return &configs[i], nil
		}
	}
	return nil, fmt.Errorf("network %s not found in networks file", name)
}
