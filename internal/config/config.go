package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config carries everything the adapters and the engine need at construction
// time. Nothing in this module reads globals or environment variables past
// Load.
type Config struct {
	ServiceName string
	Env         string
	ListenAddr  string

	// Storage selects the stock ledger backend: "memory" or "redis".
	Storage   string
	RedisAddr string

	Pricing Pricing
	Gateway Gateway
	Wallet  Wallet
	Stock   Stock

	// AbandonAfter is the window past which a non-terminal payment is
	// reported as abandoned. Nothing is released; no reservation was taken.
	AbandonAfter time.Duration

	SeedStock   []StockSeed
	SeedWallets []WalletSeed
}

type Pricing struct {
	Currency              string
	TaxRate               decimal.Decimal
	ShippingFlatRate      decimal.Decimal
	FreeShippingThreshold decimal.Decimal
}

type Gateway struct {
	Secret         string
	BaseURL        string
	RequestTimeout time.Duration
	// VerifyRetries bounds retries of idempotent status reads. Fund-moving
	// calls are never retried.
	VerifyRetries uint64
}

type Wallet struct {
	OTPTTL time.Duration
}

type Stock struct {
	// MaxDecrementRetries bounds the compare-and-set retry loop before a
	// conflict is surfaced.
	MaxDecrementRetries int
}

type StockSeed struct {
	ProductID string `yaml:"product_id"`
	VariantID string `yaml:"variant_id"`
	Quantity  int    `yaml:"quantity"`
}

type WalletSeed struct {
	Mobile  string `yaml:"mobile"`
	Balance string `yaml:"balance"`
}

type fileConfig struct {
	ServiceName           string       `yaml:"service_name"`
	Env                   string       `yaml:"env"`
	ListenAddr            string       `yaml:"listen_addr"`
	Storage               string       `yaml:"storage"`
	RedisAddr             string       `yaml:"redis_addr"`
	Currency              string       `yaml:"currency"`
	TaxRate               string       `yaml:"tax_rate"`
	ShippingFlatRate      string       `yaml:"shipping_flat_rate"`
	FreeShippingThreshold string       `yaml:"free_shipping_threshold"`
	GatewaySecret         string       `yaml:"gateway_secret"`
	GatewayBaseURL        string       `yaml:"gateway_base_url"`
	GatewayTimeout        string       `yaml:"gateway_timeout"`
	GatewayVerifyRetries  *uint64      `yaml:"gateway_verify_retries"`
	OTPTTL                string       `yaml:"otp_ttl"`
	AbandonAfter          string       `yaml:"abandon_after"`
	StockMaxRetries       *int         `yaml:"stock_max_retries"`
	SeedStock             []StockSeed  `yaml:"seed_stock"`
	SeedWallets           []WalletSeed `yaml:"seed_wallets"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ServiceName: "checkout",
		Env:         "dev",
		ListenAddr:  ":8080",
		Storage:     "memory",
		RedisAddr:   "localhost:6379",
		Pricing: Pricing{
			Currency:              "INR",
			TaxRate:               decimal.RequireFromString("0.18"),
			ShippingFlatRate:      decimal.RequireFromString("50.00"),
			FreeShippingThreshold: decimal.RequireFromString("1000.00"),
		},
		Gateway: Gateway{
			Secret:         "dev-secret",
			RequestTimeout: 5 * time.Second,
			VerifyRetries:  3,
		},
		Wallet: Wallet{
			OTPTTL: 10 * time.Minute,
		},
		Stock: Stock{
			MaxDecrementRetries: 3,
		},
		AbandonAfter: 24 * time.Hour,
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if err := cfg.applyFile(&fc); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyFile(fc *fileConfig) error {
	setString(&c.ServiceName, fc.ServiceName)
	setString(&c.Env, fc.Env)
	setString(&c.ListenAddr, fc.ListenAddr)
	setString(&c.Storage, fc.Storage)
	setString(&c.RedisAddr, fc.RedisAddr)
	setString(&c.Pricing.Currency, fc.Currency)
	setString(&c.Gateway.Secret, fc.GatewaySecret)
	setString(&c.Gateway.BaseURL, fc.GatewayBaseURL)

	if err := setDecimal(&c.Pricing.TaxRate, fc.TaxRate, "tax_rate"); err != nil {
		return err
	}
	if err := setDecimal(&c.Pricing.ShippingFlatRate, fc.ShippingFlatRate, "shipping_flat_rate"); err != nil {
		return err
	}
	if err := setDecimal(&c.Pricing.FreeShippingThreshold, fc.FreeShippingThreshold, "free_shipping_threshold"); err != nil {
		return err
	}
	if err := setDuration(&c.Gateway.RequestTimeout, fc.GatewayTimeout, "gateway_timeout"); err != nil {
		return err
	}
	if err := setDuration(&c.Wallet.OTPTTL, fc.OTPTTL, "otp_ttl"); err != nil {
		return err
	}
	if err := setDuration(&c.AbandonAfter, fc.AbandonAfter, "abandon_after"); err != nil {
		return err
	}
	if fc.GatewayVerifyRetries != nil {
		c.Gateway.VerifyRetries = *fc.GatewayVerifyRetries
	}
	if fc.StockMaxRetries != nil {
		c.Stock.MaxDecrementRetries = *fc.StockMaxRetries
	}
	if len(fc.SeedStock) > 0 {
		c.SeedStock = fc.SeedStock
	}
	if len(fc.SeedWallets) > 0 {
		c.SeedWallets = fc.SeedWallets
	}
	return nil
}

func (c *Config) applyEnv() {
	setString(&c.ServiceName, os.Getenv("SERVICE_NAME"))
	setString(&c.Env, os.Getenv("ENV"))
	setString(&c.ListenAddr, os.Getenv("LISTEN_ADDR"))
	setString(&c.Storage, os.Getenv("STORAGE"))
	setString(&c.RedisAddr, os.Getenv("REDIS_ADDR"))
	setString(&c.Gateway.Secret, os.Getenv("GATEWAY_SECRET"))
	setString(&c.Gateway.BaseURL, os.Getenv("GATEWAY_BASE_URL"))
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDecimal(dst *decimal.Decimal, v, key string) error {
	if v == "" {
		return nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}

func setDuration(dst *time.Duration, v, key string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}
