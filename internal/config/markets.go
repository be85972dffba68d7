package config

import (
	"fmt"
	"os"

	"PerpFunding/internal/state"

	"gopkg.in/yaml.v3"
)

// MarketsFile is the bootstrap file listing the markets the core serves.
// Fixed-point fields are raw scaled integers, e.g. a peg of 1.000 is 1000.
//
//	guard_rails:
//	  validity:
//	    slots_before_stale: 1000
//	markets:
//	  - market_index: 0
//	    symbol: SOL-PERP
//	    amm:
//	      oracle: ${SOL_PYTH_ACCOUNT}
//	      oracle_source: pyth
//	      ...
type MarketsFile struct {
	GuardRails *state.GuardRails `yaml:"guard_rails"`
	Markets    []*state.Market   `yaml:"markets"`
}

// LoadMarkets reads a markets file and expands ${VAR} references.
func LoadMarkets(path string) (*MarketsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read markets file: %w", err)
	}
	return ParseMarkets(data)
}

// ParseMarkets decodes a markets file, applies defaults and validates it.
func ParseMarkets(data []byte) (*MarketsFile, error) {
	expanded := os.ExpandEnv(string(data))

	var f MarketsFile
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("parse markets yaml: %w", err)
	}
	f.applyDefaults()
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("validate markets: %w", err)
	}
	return &f, nil
}

// applyDefaults fills missing guard rail fields from state.DefaultGuardRails
// and marks markets initialized.
func (f *MarketsFile) applyDefaults() {
	g := state.DefaultGuardRails
	if f.GuardRails != nil {
		pd, v := f.GuardRails.PriceDivergence, f.GuardRails.Validity
		if !pd.MarkOracleDivergenceNumerator.IsZero() {
			g.PriceDivergence.MarkOracleDivergenceNumerator = pd.MarkOracleDivergenceNumerator
		}
		if !pd.MarkOracleDivergenceDenominator.IsZero() {
			g.PriceDivergence.MarkOracleDivergenceDenominator = pd.MarkOracleDivergenceDenominator
		}
		if v.SlotsBeforeStale != 0 {
			g.Validity.SlotsBeforeStale = v.SlotsBeforeStale
		}
		if !v.ConfidenceIntervalMaxSize.IsZero() {
			g.Validity.ConfidenceIntervalMaxSize = v.ConfidenceIntervalMaxSize
		}
		if !v.TooVolatileRatio.IsZero() {
			g.Validity.TooVolatileRatio = v.TooVolatileRatio
		}
	}
	f.GuardRails = &g

	for _, m := range f.Markets {
		if m == nil {
			continue
		}
		m.Initialized = true
		if m.Symbol == "" {
			m.Symbol = fmt.Sprintf("MARKET-%d", m.MarketIndex)
		}
	}
}

func (f *MarketsFile) Validate() error {
	if err := state.ValidateGuardRails(*f.GuardRails); err != nil {
		return err
	}
	if len(f.Markets) == 0 {
		return fmt.Errorf("no markets configured")
	}
	seen := make(map[uint64]bool, len(f.Markets))
	for i, m := range f.Markets {
		if m == nil {
			return fmt.Errorf("markets[%d] is empty", i)
		}
		if seen[m.MarketIndex] {
			return fmt.Errorf("duplicate market_index %d", m.MarketIndex)
		}
		seen[m.MarketIndex] = true
		if err := state.ValidateMarket(m); err != nil {
			return err
		}
	}
	return nil
}
