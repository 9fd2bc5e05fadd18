package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/meterline/x402-gate"
	"github.com/meterline/x402-gate/facilitator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEVMPayTo    = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
	testSolanaPayTo = "2wKupLR9q6wXYppw8Gr2NvWxKBUqm4PPJKkQfoxHDBg4"
	testFeePayer    = "EwWqGE4ZFKLofuestmU4LDdK7XM1N4ALgdZccwYugwGd"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestFromLookupDefaults(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{EnvEVMPayTo: testEVMPayTo}))
	require.NoError(t, err)

	assert.Equal(t, facilitator.DefaultURL, cfg.FacilitatorURL)
	assert.Equal(t, DefaultNetworks, cfg.Networks)
	assert.Equal(t, x402.DefaultMaxTimeoutSeconds, cfg.MaxTimeoutSeconds)
	assert.Equal(t, x402.DefaultTimeouts, cfg.Timeouts)
	assert.False(t, cfg.TestMode)
	assert.NoError(t, cfg.Validate())
}

func TestFromLookupParsesValues(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		EnvFacilitatorURL:    "https://facilitator.example.com",
		EnvEVMPayTo:          testEVMPayTo,
		EnvSolanaPayTo:       testSolanaPayTo,
		EnvSolanaFeePayer:    testFeePayer,
		EnvNetworks:          " base , solana ,,",
		EnvMaxTimeoutSeconds: "120",
		EnvTestMode:          "true",
		EnvVerifyTimeout:     "3s",
		EnvSettleTimeout:     "90s",
	}))
	require.NoError(t, err)

	assert.Equal(t, "https://facilitator.example.com", cfg.FacilitatorURL)
	assert.Equal(t, []string{"base", "solana"}, cfg.Networks)
	assert.Equal(t, 120, cfg.MaxTimeoutSeconds)
	assert.True(t, cfg.TestMode)
	assert.Equal(t, 3*time.Second, cfg.Timeouts.VerifyTimeout)
	assert.Equal(t, 90*time.Second, cfg.Timeouts.SettleTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestFromLookupRejectsMalformedValues(t *testing.T) {
	for _, key := range []string{EnvMaxTimeoutSeconds, EnvTestMode, EnvVerifyTimeout, EnvSettleTimeout} {
		t.Run(key, func(t *testing.T) {
			_, err := FromLookup(lookupFrom(map[string]string{key: "not-a-value"}))
			assert.ErrorContains(t, err, key)
		})
	}
}

func validConfig() Config {
	return Config{
		FacilitatorURL:    facilitator.DefaultURL,
		EVMPayTo:          testEVMPayTo,
		SolanaPayTo:       testSolanaPayTo,
		SolanaFeePayer:    testFeePayer,
		Networks:          []string{"base-sepolia", "solana-devnet"},
		MaxTimeoutSeconds: 60,
		Timeouts:          x402.DefaultTimeouts,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		ok      bool
		wantErr error
	}{
		{name: "valid", mutate: func(*Config) {}, ok: true},
		{name: "test mode in development", mutate: func(c *Config) { c.TestMode = true; c.AppEnv = "development" }, ok: true},
		{name: "test mode in production", mutate: func(c *Config) { c.TestMode = true; c.AppEnv = "Production" }, wantErr: ErrTestModeInProduction},
		{name: "no pay-to", mutate: func(c *Config) { c.EVMPayTo = ""; c.SolanaPayTo = "" }},
		{name: "bad evm pay-to", mutate: func(c *Config) { c.EVMPayTo = "0x1234" }},
		{name: "solana address as evm pay-to", mutate: func(c *Config) { c.EVMPayTo = testSolanaPayTo }},
		{name: "bad solana pay-to", mutate: func(c *Config) { c.SolanaPayTo = testEVMPayTo }},
		{name: "bad fee payer", mutate: func(c *Config) { c.SolanaFeePayer = "nope" }},
		{name: "unknown network", mutate: func(c *Config) { c.Networks = []string{"base", "ethereum"} }, wantErr: x402.ErrUnsupportedNetwork},
		{name: "zero timeout", mutate: func(c *Config) { c.MaxTimeoutSeconds = 0 }},
		{name: "half of CDP credentials", mutate: func(c *Config) { c.CDPKeyName = "organizations/x/apiKeys/y" }},
		{name: "settle shorter than verify", mutate: func(c *Config) { c.Timeouts.SettleTimeout = time.Second; c.Timeouts.VerifyTimeout = 2 * time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()

			switch {
			case tt.ok:
				assert.NoError(t, err)
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			default:
				assert.Error(t, err)
			}
		})
	}
}

func TestCatalog(t *testing.T) {
	cfg := validConfig()
	cfg.Networks = []string{"base-sepolia", "solana-devnet", "solana"}
	catalog := cfg.Catalog()

	assert.Equal(t, testEVMPayTo, catalog.EVMPayTo)
	assert.Equal(t, testSolanaPayTo, catalog.SolanaPayTo)
	assert.Equal(t, map[string]string{"solana-devnet": testFeePayer, "solana": testFeePayer}, catalog.FeePayers)

	reqs, err := catalog.BuildRequirements("/api/quote", "quote", "$0.0005", cfg.Networks)
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	assert.Equal(t, "500", reqs[0].MaxAmountRequired)
	assert.Equal(t, testFeePayer, reqs[1].Extra["feePayer"])

	cfg.SolanaFeePayer = ""
	assert.Nil(t, cfg.Catalog().FeePayers)
}

func TestFacilitatorSelection(t *testing.T) {
	cfg := validConfig()

	live, err := cfg.Facilitator(nil)
	require.NoError(t, err)
	assert.IsType(t, &facilitator.Client{}, live)

	cfg.TestMode = true
	local, err := cfg.Facilitator(nil)
	require.NoError(t, err)
	assert.IsType(t, &facilitator.Local{}, local)

	cfg.TestMode = false
	cfg.CDPKeyName = "organizations/x/apiKeys/y"
	cfg.CDPKeySecret = "not a pem"
	_, err = cfg.Facilitator(nil)
	assert.ErrorContains(t, err, "CDP")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "gate.env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"X402_EVM_PAY_TO="+testEVMPayTo+"\n"+
			"X402_NETWORKS=base\n"+
			"X402_MAX_TIMEOUT_SECONDS=30\n"), 0o600))

	t.Setenv(EnvMaxTimeoutSeconds, "45")

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, testEVMPayTo, cfg.EVMPayTo)
	assert.Equal(t, []string{"base"}, cfg.Networks)
	assert.Equal(t, 45, cfg.MaxTimeoutSeconds, "environment overrides the file")

	_, err = Load(filepath.Join(dir, "missing.env"))
	assert.Error(t, err, "an explicitly named file must exist")
}
