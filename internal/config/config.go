package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the arbitrage scanner.
type Config struct {
	RPC        RPCConfig
	Connection ConnectionConfig
	Scanner    ScannerConfig
	Profit     ProfitConfig
	Catalog    CatalogConfig
	Store      StoreConfig
	Redis      RedisConfig
	Server     ServerConfig
	Logging    LoggingConfig
}

// RPCConfig holds Ethereum RPC endpoints and call behaviour.
type RPCConfig struct {
	WSUrl          string // streaming transport
	HTTPUrl        string // polling fallback transport
	RetryAttempts  int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
}

// ConnectionConfig tunes the connection manager state machine.
type ConnectionConfig struct {
	ProbeInterval    time.Duration
	ReconnectDelay   time.Duration // base delay, multiplied by attempt count
	MaxReconnectWait time.Duration
	ReconnectCeiling int // attempts before falling back to polling
}

// ScannerConfig tunes the opportunity scanner.
type ScannerConfig struct {
	Interval       time.Duration // scheduler tick
	Parallelism    int           // bounded concurrent catalogue entries
	EntryTimeout   time.Duration // deadline for one pair/path evaluation
	InputAmountWei string        // probe size, decimal string in input-token base units
	CrossProtocol  bool          // merge CP and tiered quote sets per pair
	FixedFeeTier   uint32        // tier used for tiered triangular hops
	AlertThreshold float64       // high-profit log alert, native units
}

// ProfitConfig holds the profitability model parameters.
type ProfitConfig struct {
	SafetyMargin       float64 // e.g. 0.001 = 0.1%
	GasUnitsSimple     uint64
	GasUnitsTriangular uint64
	ReferencePrice     float64 // static fallback quote-currency price
	ReferencePair      string  // catalogue pair refreshing the reference, e.g. "WETH-USDC"
	ReferenceVenue     string  // CP venue whose pool prices the reference pair
}

// CatalogConfig points at the token/pair/path catalogue file.
type CatalogConfig struct {
	Path         string
	ResolvePools bool // look up missing CP pools via factory getPair at startup
}

// StoreConfig holds the sqlite opportunity store location.
type StoreConfig struct {
	Path string
}

// RedisConfig holds the optional latest-scan cache. Disabled when Addr is empty.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Channel  string // pub/sub channel for live opportunity fanout
}

// ServerConfig holds the HTTP API listener.
type ServerConfig struct {
	Addr    string
	Enabled bool
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string
	Format string // "json" or "console"
}

// Load reads configuration from environment and config file.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("rpc.ws_url", "wss://eth-mainnet.g.alchemy.com/v2/YOUR_API_KEY")
	v.SetDefault("rpc.http_url", "https://eth-mainnet.g.alchemy.com/v2/YOUR_API_KEY")
	v.SetDefault("rpc.retry_attempts", 3)
	v.SetDefault("rpc.retry_delay", "1s")
	v.SetDefault("rpc.request_timeout", "15s")

	v.SetDefault("connection.probe_interval", "30s")
	v.SetDefault("connection.reconnect_delay", "5s")
	v.SetDefault("connection.max_reconnect_wait", "60s")
	v.SetDefault("connection.reconnect_ceiling", 5)

	v.SetDefault("scanner.interval", "30s")
	v.SetDefault("scanner.parallelism", 4)
	v.SetDefault("scanner.entry_timeout", "10s")
	v.SetDefault("scanner.input_amount_wei", "10000000000000000") // 0.01 ETH
	v.SetDefault("scanner.cross_protocol", true)
	v.SetDefault("scanner.fixed_fee_tier", 3000)
	v.SetDefault("scanner.alert_threshold", 0.01)

	v.SetDefault("profit.safety_margin", 0.001)
	v.SetDefault("profit.gas_units_simple", 200000)
	v.SetDefault("profit.gas_units_triangular", 300000)
	v.SetDefault("profit.reference_price", 2500.0)
	v.SetDefault("profit.reference_pair", "")
	v.SetDefault("profit.reference_venue", "")

	v.SetDefault("catalog.path", "catalog.yaml")
	v.SetDefault("catalog.resolve_pools", false)

	v.SetDefault("store.path", "opportunities.db")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "5m")
	v.SetDefault("redis.channel", "dexarb:opportunities")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.enabled", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetEnvPrefix("DEXARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.dexarb")

	// Config file is optional; defaults and env cover everything.
	_ = v.ReadInConfig()

	cfg := &Config{
		RPC: RPCConfig{
			WSUrl:          v.GetString("rpc.ws_url"),
			HTTPUrl:        v.GetString("rpc.http_url"),
			RetryAttempts:  v.GetInt("rpc.retry_attempts"),
			RetryDelay:     v.GetDuration("rpc.retry_delay"),
			RequestTimeout: v.GetDuration("rpc.request_timeout"),
		},
		Connection: ConnectionConfig{
			ProbeInterval:    v.GetDuration("connection.probe_interval"),
			ReconnectDelay:   v.GetDuration("connection.reconnect_delay"),
			MaxReconnectWait: v.GetDuration("connection.max_reconnect_wait"),
			ReconnectCeiling: v.GetInt("connection.reconnect_ceiling"),
		},
		Scanner: ScannerConfig{
			Interval:       v.GetDuration("scanner.interval"),
			Parallelism:    v.GetInt("scanner.parallelism"),
			EntryTimeout:   v.GetDuration("scanner.entry_timeout"),
			InputAmountWei: v.GetString("scanner.input_amount_wei"),
			CrossProtocol:  v.GetBool("scanner.cross_protocol"),
			FixedFeeTier:   v.GetUint32("scanner.fixed_fee_tier"),
			AlertThreshold: v.GetFloat64("scanner.alert_threshold"),
		},
		Profit: ProfitConfig{
			SafetyMargin:       v.GetFloat64("profit.safety_margin"),
			GasUnitsSimple:     v.GetUint64("profit.gas_units_simple"),
			GasUnitsTriangular: v.GetUint64("profit.gas_units_triangular"),
			ReferencePrice:     v.GetFloat64("profit.reference_price"),
			ReferencePair:      v.GetString("profit.reference_pair"),
			ReferenceVenue:     v.GetString("profit.reference_venue"),
		},
		Catalog: CatalogConfig{
			Path:         v.GetString("catalog.path"),
			ResolvePools: v.GetBool("catalog.resolve_pools"),
		},
		Store: StoreConfig{
			Path: v.GetString("store.path"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			TTL:      v.GetDuration("redis.ttl"),
			Channel:  v.GetString("redis.channel"),
		},
		Server: ServerConfig{
			Addr:    v.GetString("server.addr"),
			Enabled: v.GetBool("server.enabled"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.RPC.WSUrl == "" && c.RPC.HTTPUrl == "" {
		return fmt.Errorf("config: at least one of rpc.ws_url, rpc.http_url is required")
	}
	if c.Scanner.Parallelism < 1 {
		return fmt.Errorf("config: scanner.parallelism must be >= 1, got %d", c.Scanner.Parallelism)
	}
	if c.Connection.ReconnectCeiling < 1 {
		return fmt.Errorf("config: connection.reconnect_ceiling must be >= 1, got %d", c.Connection.ReconnectCeiling)
	}
	if c.Profit.SafetyMargin < 0 || c.Profit.SafetyMargin >= 1 {
		return fmt.Errorf("config: profit.safety_margin must be in [0,1), got %f", c.Profit.SafetyMargin)
	}
	return nil
}
