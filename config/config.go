package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	nativecommon "rigchain/native/common"
	"rigchain/native/mining"
	"rigchain/native/sale"
)

// Config is the full node configuration, decoded from TOML.
type Config struct {
	Node     Node     `toml:"node"`
	Chain    Chain    `toml:"chain"`
	Sale     Sale     `toml:"sale"`
	Quota    Quota    `toml:"quota"`
	Timelock Timelock `toml:"timelock"`
}

// Node holds the operational settings of the process.
type Node struct {
	RPCAddress string `toml:"RPCAddress"`
	DataDir    string `toml:"DataDir"`
	// Backend selects the storage engine: "leveldb", "bolt" or "memory".
	Backend     string `toml:"Backend"`
	Environment string `toml:"Environment"`
	LogFile     string `toml:"LogFile"`
}

// Chain holds the economic constants. All are fixed at genesis; runtime
// updates flow through the params timelock, not this file.
type Chain struct {
	// CapTokens is the supply cap in whole tokens.
	CapTokens int64 `toml:"CapTokens"`
	// TokenDecimals scales whole tokens into base units.
	TokenDecimals uint32 `toml:"TokenDecimals"`
	// OriginTimestamp anchors epoch zero, unix seconds.
	OriginTimestamp int64 `toml:"OriginTimestamp"`
	// EpochLengthSeconds is the halving interval.
	EpochLengthSeconds int64 `toml:"EpochLengthSeconds"`
	// BaseRatePerSecond is the epoch-zero reward per hash power unit per
	// second, in base units, as a decimal string (e.g. "0.5").
	BaseRatePerSecond string `toml:"BaseRatePerSecond"`
	// HalvingDivisor divides the rate at each epoch boundary.
	HalvingDivisor uint64 `toml:"HalvingDivisor"`
}

// Sale holds the purchase parameters.
type Sale struct {
	BurnBps          uint32   `toml:"BurnBps"`
	ReferralLevelBps []uint32 `toml:"ReferralLevelBps"`
	MaxReferralDepth uint32   `toml:"MaxReferralDepth"`
	UnpaidToTreasury bool     `toml:"UnpaidToTreasury"`
	Treasury         string   `toml:"Treasury"`
}

// Quota throttles claims per rolling window. Zeroed fields disable the
// corresponding limit.
type Quota struct {
	MaxClaimsPerWindow uint32 `toml:"MaxClaimsPerWindow"`
	MaxTokensPerWindow uint64 `toml:"MaxTokensPerWindow"`
	WindowSeconds      uint32 `toml:"WindowSeconds"`
}

// Timelock configures the parameter-change queue.
type Timelock struct {
	Authority    string `toml:"Authority"`
	DelaySeconds int64  `toml:"DelaySeconds"`
}

// Load reads the configuration from path, creating a default file when none
// exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Node.RPCAddress) == "" {
		c.Node.RPCAddress = ":8080"
	}
	if strings.TrimSpace(c.Node.DataDir) == "" {
		c.Node.DataDir = "./rigchain-data"
	}
	if strings.TrimSpace(c.Node.Backend) == "" {
		c.Node.Backend = "leveldb"
	}
	if strings.TrimSpace(c.Node.Environment) == "" {
		c.Node.Environment = "local"
	}
	if c.Chain.CapTokens == 0 {
		c.Chain.CapTokens = 27_000_000
	}
	if c.Chain.TokenDecimals == 0 {
		c.Chain.TokenDecimals = 9
	}
	if c.Chain.EpochLengthSeconds == 0 {
		c.Chain.EpochLengthSeconds = 2_592_000 // 30 days
	}
	if strings.TrimSpace(c.Chain.BaseRatePerSecond) == "" {
		c.Chain.BaseRatePerSecond = "1"
	}
	if c.Chain.HalvingDivisor == 0 {
		c.Chain.HalvingDivisor = 2
	}
	if c.Timelock.DelaySeconds == 0 {
		c.Timelock.DelaySeconds = 86_400
	}
}

// Validate checks cross-field consistency beyond what the engine constructors
// enforce themselves.
func (c *Config) Validate() error {
	switch c.Node.Backend {
	case "leveldb", "bolt", "memory":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Node.Backend)
	}
	if c.Chain.CapTokens <= 0 {
		return errors.New("config: CapTokens must be positive")
	}
	if c.Chain.EpochLengthSeconds <= 0 {
		return errors.New("config: EpochLengthSeconds must be positive")
	}
	if c.Chain.HalvingDivisor < 2 {
		return errors.New("config: HalvingDivisor must be at least 2")
	}
	if _, err := parseDecimalRay(c.Chain.BaseRatePerSecond); err != nil {
		return err
	}
	if _, err := c.SaleConfig(); err != nil {
		return err
	}
	if c.Timelock.Authority != "" && !common.IsHexAddress(c.Timelock.Authority) {
		return fmt.Errorf("config: invalid timelock authority %q", c.Timelock.Authority)
	}
	return nil
}

// Cap returns the supply cap in base units.
func (c *Config) Cap() *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(c.Chain.TokenDecimals)), nil)
	return new(big.Int).Mul(big.NewInt(c.Chain.CapTokens), scale)
}

// Schedule converts the chain section into an emission schedule.
func (c *Config) Schedule() (mining.Schedule, error) {
	rate, err := parseDecimalRay(c.Chain.BaseRatePerSecond)
	if err != nil {
		return mining.Schedule{}, err
	}
	s := mining.Schedule{
		Origin:         c.Chain.OriginTimestamp,
		EpochLength:    uint64(c.Chain.EpochLengthSeconds),
		BaseRateRay:    rate,
		HalvingDivisor: c.Chain.HalvingDivisor,
	}
	return s, s.Validate()
}

// SaleConfig converts the sale section into the engine configuration.
func (c *Config) SaleConfig() (sale.Config, error) {
	cfg := sale.Config{
		BurnBps:          c.Sale.BurnBps,
		ReferralLevelBps: append([]uint32(nil), c.Sale.ReferralLevelBps...),
		MaxReferralDepth: c.Sale.MaxReferralDepth,
		UnpaidToTreasury: c.Sale.UnpaidToTreasury,
	}
	if c.Sale.Treasury != "" {
		if !common.IsHexAddress(c.Sale.Treasury) {
			return sale.Config{}, fmt.Errorf("config: invalid treasury address %q", c.Sale.Treasury)
		}
		cfg.Treasury = common.HexToAddress(c.Sale.Treasury)
	}
	return cfg, cfg.Validate()
}

// ClaimQuota converts the quota section into the engine quota.
func (c *Config) ClaimQuota() nativecommon.Quota {
	return nativecommon.Quota{
		MaxClaimsPerWindow: c.Quota.MaxClaimsPerWindow,
		MaxTokensPerWindow: c.Quota.MaxTokensPerWindow,
		WindowSeconds:      c.Quota.WindowSeconds,
	}
}

// TimelockAuthority returns the configured authority address, zero when
// unset.
func (c *Config) TimelockAuthority() common.Address {
	if c.Timelock.Authority == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.Timelock.Authority)
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDecimalRay converts a non-negative decimal string into a ray-scaled
// integer rate. "1.5" becomes 1.5e27; fractional digits beyond the ray
// precision are rejected rather than silently truncated.
func parseDecimalRay(value string) (*big.Int, error) {
	const rayDigits = 27
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || strings.HasPrefix(trimmed, "-") {
		return nil, fmt.Errorf("config: invalid rate %q", value)
	}
	intPart := trimmed
	fracPart := ""
	if idx := strings.IndexByte(trimmed, '.'); idx >= 0 {
		intPart, fracPart = trimmed[:idx], trimmed[idx+1:]
	}
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > rayDigits {
		return nil, fmt.Errorf("config: rate %q exceeds %d fractional digits", value, rayDigits)
	}
	digits := intPart + fracPart + strings.Repeat("0", rayDigits-len(fracPart))
	rate, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("config: invalid rate %q", value)
	}
	return rate, nil
}
