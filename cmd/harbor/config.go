// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"bytes"
	"fmt"
	"math/big"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/harborlabs/harbor/harbor"
	"github.com/harborlabs/harbor/pool"
)

// Amount wraps big.Int to support YAML unmarshalling of decimal strings.
type Amount struct {
	big.Int
}

// UnmarshalYAML parses a decimal amount.
func (a *Amount) UnmarshalYAML(value *yaml.Node) error {
	if value == nil || value.Value == "" {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("amount must be a scalar")
	}
	if _, ok := a.SetString(value.Value, 10); !ok {
		return fmt.Errorf("parse amount %q", value.Value)
	}
	return nil
}

// ValidatorConfig names one validator to operate at startup.
type ValidatorConfig struct {
	Identity      string `yaml:"identity"`
	CommissionBps uint32 `yaml:"commission_bps"`
}

// Config captures the pool parameters and the simulated validator set.
type Config struct {
	TargetLiquidityPct    Amount `yaml:"target_liquidity_pct"`
	SensitivityBandPct    Amount `yaml:"sensitivity_band_pct"`
	CurveIntercept        Amount `yaml:"curve_intercept"`
	CurveSlope            Amount `yaml:"curve_slope"`
	StakingCommissionBps  uint32 `yaml:"staking_commission_bps"`
	BoostCommissionBps    uint32 `yaml:"boost_commission_bps"`
	IncentiveAlignmentPct Amount `yaml:"incentive_alignment_pct"`
	DustThreshold         Amount `yaml:"dust_threshold"`
	MinViableStake        Amount `yaml:"min_viable_stake"`
	BootstrapDeposit      Amount `yaml:"bootstrap_deposit"`

	Validators []ValidatorConfig `yaml:"validators"`
}

// defaultConfig parameterizes a small demo pool: 10% atomic pool, a
// 0.1% + 5%·u exit fee curve and a pair of simulated validators.
func defaultConfig() *Config {
	cfg := &Config{
		StakingCommissionBps: 1000,
		BoostCommissionBps:   500,
		Validators: []ValidatorConfig{
			{Identity: "validator-one"},
			{Identity: "validator-two"},
		},
	}
	cfg.TargetLiquidityPct.SetInt64(1e17)
	cfg.SensitivityBandPct.SetInt64(1e16)
	cfg.CurveIntercept.SetInt64(1e15)
	cfg.CurveSlope.SetInt64(5e16)
	cfg.IncentiveAlignmentPct.SetInt64(0)
	cfg.DustThreshold.SetInt64(1e9)
	cfg.MinViableStake.SetInt64(1e12)
	cfg.BootstrapDeposit.SetInt64(1e18)
	return cfg
}

// loadConfig reads the yaml parameter file, or returns defaults when
// path is empty.
func loadConfig(path string) (*Config, error) {
	if path == "" {
		return defaultConfig(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := defaultConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Params converts the file form into pool parameters; the span comes
// from the epoch-span flag so blocks and epochs stay consistent.
func (c *Config) Params(epochSpanBlocks uint64) pool.Params {
	return pool.Params{
		TargetLiquidityPct:    new(big.Int).Set(&c.TargetLiquidityPct.Int),
		SensitivityBandPct:    new(big.Int).Set(&c.SensitivityBandPct.Int),
		CurveIntercept:        new(big.Int).Set(&c.CurveIntercept.Int),
		CurveSlope:            new(big.Int).Set(&c.CurveSlope.Int),
		StakingCommissionBps:  c.StakingCommissionBps,
		BoostCommissionBps:    c.BoostCommissionBps,
		IncentiveAlignmentPct: new(big.Int).Set(&c.IncentiveAlignmentPct.Int),
		EpochSpanBlocks:       epochSpanBlocks,
		DustThreshold:         new(big.Int).Set(&c.DustThreshold.Int),
		MinViableStake:        new(big.Int).Set(&c.MinViableStake.Int),
	}
}

// identityOf derives the 32-byte staking identity from the configured
// name.
func identityOf(name string) harbor.Bytes32 {
	return harbor.Blake2b([]byte(name))
}
