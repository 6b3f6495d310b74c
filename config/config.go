package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"swarmchain/core"
	"swarmchain/crypto"
	"swarmchain/native/oracle"
	"swarmchain/native/postage"
	"swarmchain/native/redistribution"
	"swarmchain/native/stake"
)

type Config struct {
	RPCAddress      string `toml:"RPCAddress"`
	DataDir         string `toml:"DataDir"`
	NetworkName     string `toml:"NetworkName"`
	BlockIntervalMS uint64 `toml:"BlockIntervalMS"`
	// ChainSalt is 32 bytes of hex mixed into per-round entropy. Every node
	// on a network must share it.
	ChainSalt string `toml:"ChainSalt"`

	RPCAuthToken         string  `toml:"RPCAuthToken"`
	RPCRequestsPerMinute float64 `toml:"RPCRequestsPerMinute"`
	RPCBurst             int     `toml:"RPCBurst"`

	Admin          string   `toml:"Admin"`
	OracleUpdaters []string `toml:"OracleUpdaters"`
	Pausers        []string `toml:"Pausers"`

	Staking StakingConfig      `toml:"staking"`
	Postage PostageConfig      `toml:"postage"`
	Oracle  OracleConfig       `toml:"oracle"`
	Game    GameConfig         `toml:"game"`
	Genesis []AllocationConfig `toml:"genesis"`
}

type StakingConfig struct {
	NetworkID        uint64 `toml:"NetworkID"`
	BaseMinimumStake string `toml:"BaseMinimumStake"`
}

type PostageConfig struct {
	MinimumBucketDepth    uint8  `toml:"MinimumBucketDepth"`
	MinimumValidityBlocks uint64 `toml:"MinimumValidityBlocks"`
}

type OracleConfig struct {
	RoundLength                  uint64 `toml:"RoundLength"`
	MinimumPrice                 string `toml:"MinimumPrice"`
	TargetRedundancy             uint64 `toml:"TargetRedundancy"`
	MaxConsideredExtraRedundancy uint64 `toml:"MaxConsideredExtraRedundancy"`
}

type GameConfig struct {
	RoundLength         uint64 `toml:"RoundLength"`
	StakeAgeRounds      uint64 `toml:"StakeAgeRounds"`
	PenaltyRounds       uint64 `toml:"PenaltyRounds"`
	InitialMinimumDepth uint8  `toml:"InitialMinimumDepth"`
}

type AllocationConfig struct {
	Address string `toml:"Address"`
	Amount  string `toml:"Amount"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "swarm-local"
	}
	if cfg.RPCAddress == "" {
		cfg.RPCAddress = ":8547"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./swarm-data"
	}
	if cfg.BlockIntervalMS == 0 {
		cfg.BlockIntervalMS = 5000
	}
	if cfg.Staking.NetworkID == 0 {
		cfg.Staking.NetworkID = stake.DefaultParams().NetworkID
	}
	if cfg.Staking.BaseMinimumStake == "" {
		cfg.Staking.BaseMinimumStake = stake.DefaultParams().BaseMinimumStake.String()
	}
	if cfg.Postage.MinimumBucketDepth == 0 {
		cfg.Postage.MinimumBucketDepth = postage.DefaultParams().MinimumBucketDepth
	}
	if cfg.Postage.MinimumValidityBlocks == 0 {
		cfg.Postage.MinimumValidityBlocks = postage.DefaultParams().MinimumValidityBlocks
	}
	if cfg.Oracle.RoundLength == 0 {
		cfg.Oracle.RoundLength = oracle.DefaultParams().RoundLength
	}
	if cfg.Oracle.MinimumPrice == "" {
		cfg.Oracle.MinimumPrice = oracle.DefaultParams().MinimumPrice.String()
	}
	if cfg.Oracle.TargetRedundancy == 0 {
		cfg.Oracle.TargetRedundancy = oracle.DefaultParams().TargetRedundancy
	}
	if cfg.Oracle.MaxConsideredExtraRedundancy == 0 {
		cfg.Oracle.MaxConsideredExtraRedundancy = oracle.DefaultParams().MaxConsideredExtraRedundancy
	}
	if cfg.Game.RoundLength == 0 {
		cfg.Game.RoundLength = redistribution.DefaultParams().RoundLength
	}
	if cfg.Game.StakeAgeRounds == 0 {
		cfg.Game.StakeAgeRounds = redistribution.DefaultParams().StakeAgeRounds
	}
	if cfg.Game.PenaltyRounds == 0 {
		cfg.Game.PenaltyRounds = redistribution.DefaultParams().PenaltyRounds
	}
}

// Validate checks everything that can fail before the node starts.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("RPCAddress must be set")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir must be set")
	}
	if c.BlockIntervalMS == 0 {
		return fmt.Errorf("BlockIntervalMS must be positive")
	}
	if _, err := c.chainSalt(); err != nil {
		return err
	}
	if c.Admin != "" {
		if _, err := crypto.DecodeAddress(c.Admin); err != nil {
			return fmt.Errorf("invalid Admin address: %w", err)
		}
	}
	for i, updater := range c.OracleUpdaters {
		if _, err := crypto.DecodeAddress(updater); err != nil {
			return fmt.Errorf("invalid OracleUpdaters[%d]: %w", i, err)
		}
	}
	for i, pauser := range c.Pausers {
		if _, err := crypto.DecodeAddress(pauser); err != nil {
			return fmt.Errorf("invalid Pausers[%d]: %w", i, err)
		}
	}
	for i, alloc := range c.Genesis {
		if _, err := crypto.DecodeAddress(alloc.Address); err != nil {
			return fmt.Errorf("invalid genesis[%d].Address: %w", i, err)
		}
		if _, err := parsePositiveAmount(alloc.Amount); err != nil {
			return fmt.Errorf("invalid genesis[%d].Amount: %w", i, err)
		}
	}
	if _, err := parsePositiveAmount(c.Staking.BaseMinimumStake); err != nil {
		return fmt.Errorf("invalid staking.BaseMinimumStake: %w", err)
	}
	if _, err := parsePositiveAmount(c.Oracle.MinimumPrice); err != nil {
		return fmt.Errorf("invalid oracle.MinimumPrice: %w", err)
	}
	if c.Game.RoundLength%4 != 0 {
		return fmt.Errorf("game.RoundLength must be a multiple of four")
	}
	return nil
}

// NodeConfig converts the file representation into the wiring the node
// consumes. Validate must have passed first; conversion re-checks anyway.
func (c *Config) NodeConfig() (core.Config, error) {
	salt, err := c.chainSalt()
	if err != nil {
		return core.Config{}, err
	}
	baseStake, err := parsePositiveAmount(c.Staking.BaseMinimumStake)
	if err != nil {
		return core.Config{}, fmt.Errorf("invalid staking.BaseMinimumStake: %w", err)
	}
	minPrice, err := parsePositiveAmount(c.Oracle.MinimumPrice)
	if err != nil {
		return core.Config{}, fmt.Errorf("invalid oracle.MinimumPrice: %w", err)
	}

	out := core.Config{
		ChainSalt: salt,
		StakeParams: stake.Params{
			BaseMinimumStake: baseStake,
			NetworkID:        c.Staking.NetworkID,
		},
		PostageParams: postage.Params{
			MinimumBucketDepth:    c.Postage.MinimumBucketDepth,
			MinimumValidityBlocks: c.Postage.MinimumValidityBlocks,
		},
		OracleParams: oracle.Params{
			RoundLength:                  c.Oracle.RoundLength,
			MinimumPrice:                 minPrice,
			TargetRedundancy:             c.Oracle.TargetRedundancy,
			MaxConsideredExtraRedundancy: c.Oracle.MaxConsideredExtraRedundancy,
		},
		GameParams: redistribution.Params{
			RoundLength:         c.Game.RoundLength,
			StakeAgeRounds:      c.Game.StakeAgeRounds,
			PenaltyRounds:       c.Game.PenaltyRounds,
			InitialMinimumDepth: c.Game.InitialMinimumDepth,
		},
	}

	if c.Admin != "" {
		admin, err := crypto.DecodeAddress(c.Admin)
		if err != nil {
			return core.Config{}, fmt.Errorf("invalid Admin address: %w", err)
		}
		out.Admin = admin.Array()
	}
	for i, updater := range c.OracleUpdaters {
		addr, err := crypto.DecodeAddress(updater)
		if err != nil {
			return core.Config{}, fmt.Errorf("invalid OracleUpdaters[%d]: %w", i, err)
		}
		out.OracleUpdaters = append(out.OracleUpdaters, addr.Array())
	}
	for i, pauser := range c.Pausers {
		addr, err := crypto.DecodeAddress(pauser)
		if err != nil {
			return core.Config{}, fmt.Errorf("invalid Pausers[%d]: %w", i, err)
		}
		out.Pausers = append(out.Pausers, addr.Array())
	}
	for i, alloc := range c.Genesis {
		addr, err := crypto.DecodeAddress(alloc.Address)
		if err != nil {
			return core.Config{}, fmt.Errorf("invalid genesis[%d].Address: %w", i, err)
		}
		amount, err := parsePositiveAmount(alloc.Amount)
		if err != nil {
			return core.Config{}, fmt.Errorf("invalid genesis[%d].Amount: %w", i, err)
		}
		out.Allocations = append(out.Allocations, core.Allocation{Address: addr.Array(), Amount: amount})
	}
	return out, nil
}

func (c *Config) chainSalt() ([32]byte, error) {
	var salt [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(c.ChainSalt), "0x")
	if trimmed == "" {
		return salt, nil
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return salt, fmt.Errorf("invalid ChainSalt: %w", err)
	}
	if len(decoded) != 32 {
		return salt, fmt.Errorf("invalid ChainSalt: want 32 bytes, got %d", len(decoded))
	}
	copy(salt[:], decoded)
	return salt, nil
}

func parsePositiveAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("not a decimal integer: %q", s)
	}
	if v.Sign() <= 0 {
		return nil, fmt.Errorf("must be positive: %q", s)
	}
	return v, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:      ":8547",
		DataDir:         "./swarm-data",
		NetworkName:     "swarm-local",
		BlockIntervalMS: 5000,
		OracleUpdaters:  []string{},
		Pausers:         []string{},
	}
	applyDefaults(cfg)

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
