package config

import (
	"fmt"
	"strings"
	"time"

	"creditsystem/internal/wealth"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	MySQL       MySQLConfig       `mapstructure:"mysql"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Business    BusinessConfig    `mapstructure:"business"`
	Economy     EconomyConfig     `mapstructure:"economy"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Trade       TradeConfig       `mapstructure:"trade"`
	Wealth      WealthConfig      `mapstructure:"wealth"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int     `mapstructure:"port"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

type MySQLConfig struct {
	Driver       string `mapstructure:"driver"`
	SQLitePath   string `mapstructure:"sqlite_path"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	Ledger      string `mapstructure:"ledger"`
	Transfer    string `mapstructure:"transfer"`
	Marketplace string `mapstructure:"marketplace"`
	Trade       string `mapstructure:"trade"`
}

// BusinessConfig holds background job settings.
type BusinessConfig struct {
	SweepSchedule     string        `mapstructure:"sweep_schedule"`
	ReconcileSchedule string        `mapstructure:"reconcile_schedule"`
	SweepBatchSize    int           `mapstructure:"sweep_batch_size"`
	OutboxInterval    time.Duration `mapstructure:"outbox_interval"`
	MaxRetryCount     int           `mapstructure:"max_retry_count"`
	ReplayCacheTTL    time.Duration `mapstructure:"replay_cache_ttl"`
}

type EconomyConfig struct {
	StartingGrant  int64            `mapstructure:"starting_grant"`
	TreasuryUserID int64            `mapstructure:"treasury_user_id"`
	TransferFeeBps map[string]int64 `mapstructure:"transfer_fee_bps"`
	MaxLoan        int64            `mapstructure:"max_loan"`
}

type MarketplaceConfig struct {
	DefaultListingDuration time.Duration `mapstructure:"default_listing_duration"`
	MaxListingDuration     time.Duration `mapstructure:"max_listing_duration"`
	OfferDuration          time.Duration `mapstructure:"offer_duration"`
	MinBidIncrement        int64         `mapstructure:"min_bid_increment"`
}

type TradeConfig struct {
	Duration              time.Duration `mapstructure:"duration"`
	ImbalanceWarningRatio float64       `mapstructure:"imbalance_warning_ratio"`
}

type WealthConfig struct {
	Tiers []wealth.Tier `mapstructure:"tiers"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// FeeBps returns the transfer fee for category in basis points.
func (c EconomyConfig) FeeBps(category string) int64 {
	return c.TransferFeeBps[category]
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_rps", 20)
	v.SetDefault("server.rate_limit_burst", 40)

	v.SetDefault("mysql.driver", "mysql")
	v.SetDefault("mysql.sqlite_path", "economy.db")
	v.SetDefault("mysql.host", "127.0.0.1")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.user", "root")
	v.SetDefault("mysql.database", "economy")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.ledger", "economy.ledger")
	v.SetDefault("kafka.topic.transfer", "economy.transfer")
	v.SetDefault("kafka.topic.marketplace", "economy.marketplace")
	v.SetDefault("kafka.topic.trade", "economy.trade")

	v.SetDefault("business.sweep_schedule", "@every 30s")
	v.SetDefault("business.reconcile_schedule", "@every 1h")
	v.SetDefault("business.sweep_batch_size", 100)
	v.SetDefault("business.outbox_interval", 200*time.Millisecond)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.replay_cache_ttl", 24*time.Hour)

	v.SetDefault("economy.starting_grant", 100)
	v.SetDefault("economy.treasury_user_id", 0)
	v.SetDefault("economy.transfer_fee_bps", map[string]interface{}{"tip": 0, "gift": 500, "boost": 500})
	v.SetDefault("economy.max_loan", 500)

	v.SetDefault("marketplace.default_listing_duration", 72*time.Hour)
	v.SetDefault("marketplace.max_listing_duration", 14*24*time.Hour)
	v.SetDefault("marketplace.offer_duration", 48*time.Hour)
	v.SetDefault("marketplace.min_bid_increment", 1)

	v.SetDefault("trade.duration", 72*time.Hour)
	v.SetDefault("trade.imbalance_warning_ratio", 0.5)

	v.SetDefault("auth.issuer", "economy")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig reads configPath (YAML) on top of the defaults. Any key can be
// overridden with an ECONOMY_ prefixed variable, e.g. ECONOMY_MYSQL_HOST.
// An empty path loads defaults and environment only.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ECONOMY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.Wealth.Tiers) == 0 {
		cfg.Wealth.Tiers = wealth.DefaultTiers
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// maxFeeBps is 100%; a larger fee would turn the credit leg into a debit.
const maxFeeBps = 10000

func (c *Config) validate() error {
	// user ids from tokens are always positive, so the fee pool cannot be
	// reached through the user API
	if c.Economy.TreasuryUserID > 0 {
		return fmt.Errorf("economy.treasury_user_id must be 0 or negative, got %d", c.Economy.TreasuryUserID)
	}
	for category, bps := range c.Economy.TransferFeeBps {
		if bps < 0 || bps > maxFeeBps {
			return fmt.Errorf("economy.transfer_fee_bps.%s must be within 0..%d, got %d", category, maxFeeBps, bps)
		}
	}
	for _, tier := range c.Wealth.Tiers {
		if tier.MarketplaceFeeBps < 0 || tier.MarketplaceFeeBps > maxFeeBps {
			return fmt.Errorf("wealth tier %d marketplace_fee_bps must be within 0..%d, got %d", tier.Level, maxFeeBps, tier.MarketplaceFeeBps)
		}
	}
	return nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	cfg, err := LoadConfig("")
	if err != nil {
		panic(err)
	}
	return cfg
}
