// Package config reads the gate's settings once at startup from .env files and
// the process environment. Nothing else in the module reads the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/meterline/x402-gate"
	"github.com/meterline/x402-gate/facilitator"
	"github.com/meterline/x402-gate/validation"
)

// Environment variable names.
const (
	EnvFacilitatorURL    = "X402_FACILITATOR_URL"
	EnvEVMPayTo          = "X402_EVM_PAY_TO"
	EnvSolanaPayTo       = "X402_SOLANA_PAY_TO"
	EnvSolanaFeePayer    = "X402_SOLANA_FEE_PAYER"
	EnvNetworks          = "X402_NETWORKS"
	EnvMaxTimeoutSeconds = "X402_MAX_TIMEOUT_SECONDS"
	EnvTestMode          = "X402_TEST_MODE"
	EnvAppEnv            = "APP_ENV"
	EnvVerifyTimeout     = "X402_VERIFY_TIMEOUT"
	EnvSettleTimeout     = "X402_SETTLE_TIMEOUT"
	EnvCDPKeyName        = "CDP_API_KEY_NAME"
	EnvCDPKeySecret      = "CDP_API_KEY_SECRET"
)

// ProductionEnv is the APP_ENV value under which test mode is refused.
const ProductionEnv = "production"

// DefaultNetworks are offered when X402_NETWORKS is unset.
var DefaultNetworks = []string{"base-sepolia", "solana-devnet"}

// ErrTestModeInProduction is returned by Validate when test mode is enabled
// with APP_ENV=production.
var ErrTestModeInProduction = errors.New("config: test mode cannot be enabled in production")

// Config is the gate configuration.
type Config struct {
	FacilitatorURL    string
	EVMPayTo          string
	SolanaPayTo       string
	SolanaFeePayer    string
	Networks          []string
	MaxTimeoutSeconds int

	// TestMode replaces the facilitator with facilitator.Local, which accepts
	// any structurally complete payment without moving funds.
	TestMode bool
	AppEnv   string

	Timeouts x402.TimeoutConfig

	CDPKeyName   string
	CDPKeySecret string
}

// Load reads the given .env files (default ".env"; a missing default file is
// ignored), then lets the process environment override them.
func Load(files ...string) (Config, error) {
	explicit := len(files) > 0
	if !explicit {
		files = []string{".env"}
	}

	fileEnv := make(map[string]string)
	for _, file := range files {
		values, err := godotenv.Read(file)
		if err != nil {
			if !explicit && errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("failed to read %s: %w", file, err)
		}
		for k, v := range values {
			fileEnv[k] = v
		}
	}

	return FromLookup(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	})
}

// FromLookup builds a Config from a lookup function shaped like os.LookupEnv.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := Config{
		FacilitatorURL:    get(EnvFacilitatorURL),
		EVMPayTo:          get(EnvEVMPayTo),
		SolanaPayTo:       get(EnvSolanaPayTo),
		SolanaFeePayer:    get(EnvSolanaFeePayer),
		Networks:          splitList(get(EnvNetworks)),
		MaxTimeoutSeconds: x402.DefaultMaxTimeoutSeconds,
		AppEnv:            get(EnvAppEnv),
		Timeouts:          x402.DefaultTimeouts,
		CDPKeyName:        get(EnvCDPKeyName),
		CDPKeySecret:      get(EnvCDPKeySecret),
	}
	if cfg.FacilitatorURL == "" {
		cfg.FacilitatorURL = facilitator.DefaultURL
	}
	if len(cfg.Networks) == 0 {
		cfg.Networks = append([]string(nil), DefaultNetworks...)
	}

	var err error
	if v := get(EnvMaxTimeoutSeconds); v != "" {
		if cfg.MaxTimeoutSeconds, err = strconv.Atoi(v); err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvMaxTimeoutSeconds, err)
		}
	}
	if v := get(EnvTestMode); v != "" {
		if cfg.TestMode, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvTestMode, err)
		}
	}
	if v := get(EnvVerifyTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvVerifyTimeout, err)
		}
		cfg.Timeouts = cfg.Timeouts.WithVerifyTimeout(d)
	}
	if v := get(EnvSettleTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvSettleTimeout, err)
		}
		cfg.Timeouts = cfg.Timeouts.WithSettleTimeout(d)
	}

	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration before the gate is built.
func (c Config) Validate() error {
	if c.TestMode && strings.EqualFold(c.AppEnv, ProductionEnv) {
		return ErrTestModeInProduction
	}
	if c.EVMPayTo == "" && c.SolanaPayTo == "" {
		return fmt.Errorf("config: at least one of %s or %s must be set", EnvEVMPayTo, EnvSolanaPayTo)
	}
	if c.EVMPayTo != "" {
		if err := validation.ValidateFamilyAddress(c.EVMPayTo, x402.NetworkFamilyEVM); err != nil {
			return fmt.Errorf("config: %s: %w", EnvEVMPayTo, err)
		}
	}
	if c.SolanaPayTo != "" {
		if err := validation.ValidateFamilyAddress(c.SolanaPayTo, x402.NetworkFamilySVM); err != nil {
			return fmt.Errorf("config: %s: %w", EnvSolanaPayTo, err)
		}
	}
	if c.SolanaFeePayer != "" {
		if err := validation.ValidateFamilyAddress(c.SolanaFeePayer, x402.NetworkFamilySVM); err != nil {
			return fmt.Errorf("config: %s: %w", EnvSolanaFeePayer, err)
		}
	}
	if err := validation.ValidateNetworks(c.Networks); err != nil {
		return fmt.Errorf("config: %s: %w", EnvNetworks, err)
	}
	if c.MaxTimeoutSeconds <= 0 {
		return fmt.Errorf("config: %s must be positive, got %d", EnvMaxTimeoutSeconds, c.MaxTimeoutSeconds)
	}
	if (c.CDPKeyName == "") != (c.CDPKeySecret == "") {
		return fmt.Errorf("config: %s and %s must be set together", EnvCDPKeyName, EnvCDPKeySecret)
	}
	if err := c.Timeouts.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Catalog returns the requirement catalog described by the configuration.
// The configured fee payer is attached to every listed Solana network.
func (c Config) Catalog() *x402.Catalog {
	catalog := &x402.Catalog{
		EVMPayTo:          c.EVMPayTo,
		SolanaPayTo:       c.SolanaPayTo,
		MaxTimeoutSeconds: c.MaxTimeoutSeconds,
	}
	if c.SolanaFeePayer != "" {
		catalog.FeePayers = make(map[string]string)
		for _, network := range c.Networks {
			if x402.FamilyOf(network) == x402.NetworkFamilySVM {
				catalog.FeePayers[network] = c.SolanaFeePayer
			}
		}
	}
	return catalog
}

// Facilitator returns the facilitator the configuration selects: the local
// stand-in in test mode, otherwise an HTTP client, authenticated with CDP
// credentials when they are set.
func (c Config) Facilitator(logger *slog.Logger) (facilitator.Interface, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if c.TestMode {
		return facilitator.NewLocal(
			facilitator.WithLocalFeePayers(c.Catalog().FeePayers),
			facilitator.WithLocalLogger(logger),
		), nil
	}

	opts := []facilitator.ClientOption{
		facilitator.WithTimeouts(c.Timeouts),
		facilitator.WithLogger(logger),
	}
	if c.CDPKeyName != "" {
		auth, err := facilitator.NewCDPAuth(c.CDPKeyName, c.CDPKeySecret)
		if err != nil {
			return nil, fmt.Errorf("config: invalid CDP credentials: %w", err)
		}
		opts = append(opts, facilitator.WithAuthorization(auth))
	}
	return facilitator.NewClient(c.FacilitatorURL, opts...)
}
