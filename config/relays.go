package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RelayReserve names one side of a static pool.
type RelayReserve struct {
	Contract  string `yaml:"contract"`
	Symbol    string `yaml:"symbol"`
	Precision int    `yaml:"precision"`
}

// StaticRelay is a pool known ahead of time; balances are read from chain.
type StaticRelay struct {
	Contract   string         `yaml:"contract"`
	SmartToken RelayReserve   `yaml:"smart_token"`
	Reserves   []RelayReserve `yaml:"reserves"`
	FeePPM     int64          `yaml:"fee_ppm"`
	Owner      string         `yaml:"owner"`
}

// NetworkRelays groups the static relays of one network.
type NetworkRelays struct {
	Network string        `yaml:"network"`
	Relays  []StaticRelay `yaml:"relays"`
}

// Relays represents the full relay file.
type Relays struct {
	Networks []NetworkRelays `yaml:"networks"`
}

// For returns the static relays declared for network.
func (r *Relays) For(network string) []StaticRelay {
	if r == nil {
		return nil
	}
	for _, n := range r.Networks {
		if strings.EqualFold(n.Network, network) {
			return n.Relays
		}
	}
	return nil
}

// LoadRelays loads the static relay file from the given path.
func LoadRelays(path string) (*Relays, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read relays file: %w", err)
	}
	var cfg Relays
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse relays file: %w", err)
	}
	for i := range cfg.Networks {
		n := &cfg.Networks[i]
		n.Network = strings.ToLower(strings.TrimSpace(n.Network))
		for j, relay := range n.Relays {
			if relay.Contract == "" {
				return nil, fmt.Errorf("networks[%d].relays[%d].contract is required", i, j)
			}
			if len(relay.Reserves) != 2 {
				return nil, fmt.Errorf("relay %s must declare exactly 2 reserves, got %d", relay.Contract, len(relay.Reserves))
			}
		}
	}
	return &cfg, nil
}
