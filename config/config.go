// Package config supports configuring the Flow network indexer.
package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/onflow/flowdex/access"
	"github.com/onflow/flowdex/log"
)

// Addresses of the accounts that exist on every Flow network from genesis,
// keyed by the addressing scheme in use. Networks started with monotonic
// address generation (e.g. the emulator under certain flags) use the first
// form, all other networks use the second.
var wellKnown = map[string][]string{
	"monotonic": {
		"0x0000000000000001",
		"0x0000000000000002",
		"0x0000000000000003",
		"0x0000000000000004",
	},
	"default": {
		"0xf8d6e0586b0a20c7",
		"0xee82856bf20e2aa6",
		"0x0ae53cb6e3f42a79",
		"0xe5a8b7f23e8b548f",
	},
}

var serviceAddress = map[string]string{
	"monotonic": "0x0000000000000001",
	"default":   "0xf8d6e0586b0a20c7",
}

var flowTokenAddress = map[string]string{
	"monotonic": "0000000000000003",
	"default":   "0ae53cb6e3f42a79",
}

// Chain represents the definition of a Flow network to index.
type Chain struct {
	AccessNodes      []access.NodeConfig `json:"access_nodes"`
	AddressScheme    string              `json:"address_scheme"`
	Cache            bool                `json:"cache"`
	DataDir          string              `json:"data_dir"`
	FlowTokenAddress string              `json:"flow_token_address"`
	Network          string              `json:"network"`
	ProcessingMS     int                 `json:"processing_interval_ms"`
	PurgeOnStart     bool                `json:"purge_on_start"`
	StartHeight      uint64              `json:"start_height"`
	Workers          int                 `json:"workers"`
}

// AddressSchemes returns the addressing schemes that should be probed for
// well-known accounts, narrowed to a single scheme when one is configured.
func (c *Chain) AddressSchemes() []string {
	if c.AddressScheme != "" {
		return []string{c.AddressScheme}
	}
	return []string{"monotonic", "default"}
}

// FlowTokenAddresses returns the candidate unprefixed addresses of the
// FlowToken contract for event type matching.
func (c *Chain) FlowTokenAddresses() []string {
	if c.FlowTokenAddress != "" {
		return []string{c.FlowTokenAddress}
	}
	addrs := []string{}
	for _, scheme := range c.AddressSchemes() {
		addrs = append(addrs, flowTokenAddress[scheme])
	}
	return addrs
}

// IsServiceAddress returns whether the given prefixed address is a candidate
// service account address.
func (c *Chain) IsServiceAddress(addr string) bool {
	for _, scheme := range c.AddressSchemes() {
		if serviceAddress[scheme] == addr {
			return true
		}
	}
	return false
}

// IsWellKnownAddress returns whether the given prefixed address belongs to one
// of the accounts that exist from genesis.
func (c *Chain) IsWellKnownAddress(addr string) bool {
	for _, scheme := range c.AddressSchemes() {
		for _, known := range wellKnown[scheme] {
			if known == addr {
				return true
			}
		}
	}
	return false
}

// PathFor joins the given subpath with the chain's data directory, creating
// the data directory if it doesn't already exist.
func (c *Chain) PathFor(subpath string) string {
	if err := os.MkdirAll(c.DataDir, 0o744); err != nil {
		log.Fatalf("Failed to create the %s directory: %s", c.DataDir, err)
	}
	return filepath.Join(c.DataDir, subpath)
}

// ProcessingInterval returns the delay between pipeline ticks.
func (c *Chain) ProcessingInterval() time.Duration {
	return time.Duration(c.ProcessingMS) * time.Millisecond
}

// ServiceAddresses returns the candidate service account addresses for the
// active addressing schemes.
func (c *Chain) ServiceAddresses() []string {
	addrs := []string{}
	for _, scheme := range c.AddressSchemes() {
		addrs = append(addrs, serviceAddress[scheme])
	}
	return addrs
}

// WellKnownAddresses returns the deduplicated candidate addresses of all
// accounts that exist from genesis, for the active addressing schemes.
func (c *Chain) WellKnownAddresses() []string {
	seen := map[string]bool{}
	addrs := []string{}
	for _, scheme := range c.AddressSchemes() {
		for _, addr := range wellKnown[scheme] {
			if seen[addr] {
				continue
			}
			seen[addr] = true
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

// Init reads the config file at the given path and returns the validated
// Chain config.
func Init(ctx context.Context, filename string) *Chain {
	data, err := os.ReadFile(filename)
	if err != nil {
		log.Fatalf("Unable to read the config file at %s: %s", filename, err)
	}
	cfg := &Chain{
		Cache:        true,
		ProcessingMS: 1000,
		Workers:      8,
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Fatalf("Unable to decode the config file at %s: %s", filename, err)
	}
	switch cfg.Network {
	case "emulator", "testnet", "mainnet":
	default:
		log.Fatalf("Invalid network value in %s: %q", filename, cfg.Network)
	}
	switch cfg.AddressScheme {
	case "", "monotonic", "default":
	default:
		log.Fatalf("Invalid address_scheme value in %s: %q", filename, cfg.AddressScheme)
	}
	if len(cfg.AccessNodes) == 0 {
		log.Fatalf("Missing access_nodes value in %s", filename)
	}
	for _, node := range cfg.AccessNodes {
		if node.Address == "" {
			log.Fatalf("Missing address value for access node in %s", filename)
		}
	}
	if cfg.DataDir == "" {
		log.Fatalf("Missing data_dir value in %s", filename)
	}
	// Event types embed the unprefixed lowercase contract address, so the
	// override has to match that form.
	cfg.FlowTokenAddress = strings.ToLower(strings.TrimPrefix(cfg.FlowTokenAddress, "0x"))
	if cfg.ProcessingMS <= 0 {
		log.Fatalf("Invalid processing_interval_ms value in %s: %d", filename, cfg.ProcessingMS)
	}
	if cfg.Workers <= 0 {
		log.Fatalf("Invalid workers value in %s: %d", filename, cfg.Workers)
	}
	if start := os.Getenv("START_HEIGHT"); start != "" {
		height, err := strconv.ParseUint(start, 10, 64)
		if err != nil {
			log.Fatalf("Invalid START_HEIGHT value %q: %s", start, err)
		}
		cfg.StartHeight = height
	}
	if os.Getenv("PURGE_ON_START") == "true" {
		cfg.PurgeOnStart = true
	}
	return cfg
}
