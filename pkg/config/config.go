// Package config loads and validates the swap engine configuration
package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	apperrors "github.com/chainswap/swap-engine/pkg/app/errors"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Secrets     SecretsConfig     `mapstructure:"secrets"`
	EVM         EVMConfig         `mapstructure:"evm"`
	Bitcoin     BitcoinConfig     `mapstructure:"bitcoin"`
	Venues      VenuesConfig      `mapstructure:"venues"`
	Swapnet     SwapnetConfig     `mapstructure:"swapnet"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	TokenList   string            `mapstructure:"token_list"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SecretsConfig holds the process-wide derivation secrets. Both values are
// configuration, never derived from user input.
type SecretsConfig struct {
	// MasterMnemonic is the BIP-39 phrase behind every derived wallet
	MasterMnemonic string `mapstructure:"master_mnemonic" validate:"required"`
	// SeedPassphrase is the optional BIP-39 passphrase
	SeedPassphrase string `mapstructure:"seed_passphrase"`
	// ServerSecret is a hex-encoded secret of at least 32 bytes, keyed into
	// the per-user HMAC segment
	ServerSecret string `mapstructure:"server_secret" validate:"required"`
}

// DecodeServerSecret returns the raw server secret bytes
func (s *SecretsConfig) DecodeServerSecret() ([]byte, error) {
	raw, err := hex.DecodeString(s.ServerSecret)
	if err != nil {
		return nil, apperrors.Configuration(err, "server secret is not valid hex")
	}
	return raw, nil
}

// EVMConfig contains settings for the account-based chain client
type EVMConfig struct {
	RPCURL          string        `mapstructure:"rpc_url" validate:"required"`
	ChainID         int64         `mapstructure:"chain_id" validate:"gt=0"`
	GasLimit        uint64        `mapstructure:"gas_limit"`
	MaxGasPrice     string        `mapstructure:"max_gas_price"`
	ReceiptInterval time.Duration `mapstructure:"receipt_interval"`
	ReceiptTimeout  time.Duration `mapstructure:"receipt_timeout"`
	WrappedNative   string        `mapstructure:"wrapped_native" validate:"required"`
	HTLCContract    string        `mapstructure:"htlc_contract"`
}

// BitcoinConfig contains settings for the UTXO chain family
type BitcoinConfig struct {
	// Network selects address encoding: mainnet, testnet3 or regtest
	Network string `mapstructure:"network"`
}

// VenuesConfig contains trading venue settings
type VenuesConfig struct {
	// QuoteTimeout bounds each adapter during the quote fan-out
	QuoteTimeout time.Duration `mapstructure:"quote_timeout"`
	AMM          AMMConfig     `mapstructure:"amm"`
	Auction      AuctionConfig `mapstructure:"auction"`
}

// AMMConfig contains pool-venue contract addresses
type AMMConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Factory  string        `mapstructure:"factory"`
	Quoter   string        `mapstructure:"quoter"`
	Router   string        `mapstructure:"router"`
	FeeTiers []uint32      `mapstructure:"fee_tiers"`
	QuoteTTL time.Duration `mapstructure:"quote_ttl"`
}

// AuctionConfig contains batch-auction venue settings
type AuctionConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	BaseURL            string        `mapstructure:"base_url"`
	APIToken           string        `mapstructure:"api_token"`
	SettlementContract string        `mapstructure:"settlement_contract"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
}

// SwapnetConfig contains the cross-chain liquidity network settings
type SwapnetConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"required"`
	APIToken       string        `mapstructure:"api_token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CoordinatorConfig contains cross-chain swap settings
type CoordinatorConfig struct {
	// Timelock is the refund window granted to the source leg
	Timelock time.Duration `mapstructure:"timelock"`
	// SettleInterval is the background settlement loop period
	SettleInterval time.Duration `mapstructure:"settle_interval"`
}

// MonitorConfig contains order monitor defaults
type MonitorConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig contains the optional swap journal connection settings.
// An empty host disables persistence.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// GetConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.shutdown_timeout", "30s")

	// EVM defaults
	viper.SetDefault("evm.gas_limit", 300000)
	viper.SetDefault("evm.receipt_interval", "2s")
	viper.SetDefault("evm.receipt_timeout", "3m")

	// Bitcoin defaults
	viper.SetDefault("bitcoin.network", "mainnet")

	// Venue defaults
	viper.SetDefault("venues.quote_timeout", "5s")
	viper.SetDefault("venues.amm.enabled", true)
	viper.SetDefault("venues.amm.fee_tiers", []uint32{100, 500, 3000, 10000})
	viper.SetDefault("venues.amm.quote_ttl", "30s")
	viper.SetDefault("venues.auction.enabled", true)
	viper.SetDefault("venues.auction.request_timeout", "10s")

	// Swapnet defaults
	viper.SetDefault("swapnet.request_timeout", "15s")

	// Coordinator defaults
	viper.SetDefault("coordinator.timelock", "2h")
	viper.SetDefault("coordinator.settle_interval", "30s")

	// Monitor defaults
	viper.SetDefault("monitor.poll_interval", "3s")
	viper.SetDefault("monitor.timeout", "2m")

	// Database defaults
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.database", "swap_engine")

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "stdout")
}

func validate(config *Config) error {
	if err := validator.New().Struct(config); err != nil {
		return apperrors.Configuration(err, "config validation failed")
	}
	if _, err := config.Secrets.DecodeServerSecret(); err != nil {
		return err
	}
	if config.Venues.AMM.Enabled && config.Venues.AMM.Factory == "" {
		return apperrors.Configuration(nil, "venues.amm.factory is required when the AMM venue is enabled")
	}
	if config.Venues.Auction.Enabled && config.Venues.Auction.BaseURL == "" {
		return apperrors.Configuration(nil, "venues.auction.base_url is required when the auction venue is enabled")
	}
	return nil
}
