// Package config loads the indexer's runtime configuration from
// environment variables (with an optional YAML override file for local
// development), following the same viper-based load shape used across
// the rest of this service's sibling deployments.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every externally tunable knob named by the external
// interfaces surface: RPC endpoints, per-indexer scan limits, reorg
// safety margin, L2 mode, and ambient service settings.
type Config struct {
	Environment string `mapstructure:"environment"`

	EthereumNodeURL        []string `mapstructure:"ethereum_node_url"`
	EthereumTracingNodeURL []string `mapstructure:"ethereum_tracing_node_url"`

	InternalTxBlockProcessLimit uint64 `mapstructure:"internal_tx_block_process_limit"`
	EventsBlockProcessLimit     uint64 `mapstructure:"events_block_process_limit"`
	ProxyFactoryBlockProcessLimit uint64 `mapstructure:"proxy_factory_block_process_limit"`

	EthReorgBlocks uint64 `mapstructure:"eth_reorg_blocks"`
	EthL2Network   bool   `mapstructure:"eth_l2_network"`

	// ProxyFactoryAddresses lists the GnosisSafeProxyFactory contract(s)
	// whose ProxyCreation logs seed new Safes. Required on every network:
	// Load fails when it is empty, and no per-chain defaults are built in.
	ProxyFactoryAddresses []string `mapstructure:"proxy_factory_addresses"`

	ChainID int64 `mapstructure:"chain_id"`

	RPCBatchSize int `mapstructure:"rpc_batch_size"`

	AlwaysMarkUnknownProcessed bool `mapstructure:"always_mark_unknown_processed"`

	DatabaseURL string `mapstructure:"database_url"`

	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`

	MetricsAddr string `mapstructure:"metrics_addr"`

	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Load builds a Config from environment variables, optionally overridden
// by a YAML file at path (pass "" to skip the file). Environment
// variables are upper-snake-case versions of the mapstructure tags, e.g.
// ETHEREUM_NODE_URL, ETH_REORG_BLOCKS, RPC_BATCH_SIZE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("environment", "development")
	v.SetDefault("internal_tx_block_process_limit", uint64(10000))
	v.SetDefault("events_block_process_limit", uint64(10000))
	v.SetDefault("proxy_factory_block_process_limit", uint64(10000))
	v.SetDefault("eth_reorg_blocks", uint64(200))
	v.SetDefault("eth_l2_network", false)
	v.SetDefault("rpc_batch_size", 500)
	v.SetDefault("always_mark_unknown_processed", true)
	v.SetDefault("kafka_topic", "safe-ledger-events")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("poll_interval", 15*time.Second)
	v.SetDefault("chain_id", int64(1))
	v.SetDefault("database_url", "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if len(cfg.EthereumNodeURL) == 0 {
		if u := v.GetString("ethereum_node_url"); u != "" {
			cfg.EthereumNodeURL = splitCSV(u)
		}
	}
	if len(cfg.EthereumTracingNodeURL) == 0 {
		if u := v.GetString("ethereum_tracing_node_url"); u != "" {
			cfg.EthereumTracingNodeURL = splitCSV(u)
		} else {
			cfg.EthereumTracingNodeURL = cfg.EthereumNodeURL
		}
	}
	if len(cfg.KafkaBrokers) == 0 {
		if b := v.GetString("kafka_brokers"); b != "" {
			cfg.KafkaBrokers = splitCSV(b)
		}
	}
	if len(cfg.ProxyFactoryAddresses) == 0 {
		if a := v.GetString("proxy_factory_addresses"); a != "" {
			cfg.ProxyFactoryAddresses = splitCSV(a)
		}
	}

	if len(cfg.EthereumNodeURL) == 0 {
		return nil, fmt.Errorf("ETHEREUM_NODE_URL is required")
	}
	if len(cfg.ProxyFactoryAddresses) == 0 {
		return nil, fmt.Errorf("PROXY_FACTORY_ADDRESSES is required")
	}

	return &cfg, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
