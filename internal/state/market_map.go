package state

import (
	"errors"
	"fmt"
	"sort"
)

var ErrMarketNotFound = errors.New("market not found")

// MarketMap is the registry that owns every Market, keyed by index.
type MarketMap struct {
	markets map[uint64]*Market
}

func NewMarketMap() *MarketMap {
	return &MarketMap{markets: make(map[uint64]*Market)}
}

// Insert registers a new market. Indexes are unique.
func (mm *MarketMap) Insert(m *Market) error {
	if _, exists := mm.markets[m.MarketIndex]; exists {
		return fmt.Errorf("market %d already registered", m.MarketIndex)
	}
	m.Initialized = true
	mm.markets[m.MarketIndex] = m
	return nil
}

func (mm *MarketMap) Get(marketIndex uint64) (*Market, error) {
	m, ok := mm.markets[marketIndex]
	if !ok {
		return nil, fmt.Errorf("market %d: %w", marketIndex, ErrMarketNotFound)
	}
	return m, nil
}

// Set replaces an existing market, e.g. when committing a mutated copy.
func (mm *MarketMap) Set(m *Market) error {
	if _, ok := mm.markets[m.MarketIndex]; !ok {
		return fmt.Errorf("market %d: %w", m.MarketIndex, ErrMarketNotFound)
	}
	mm.markets[m.MarketIndex] = m
	return nil
}

// Indexes returns market indexes in ascending order.
func (mm *MarketMap) Indexes() []uint64 {
	idx := make([]uint64, 0, len(mm.markets))
	for k := range mm.markets {
		idx = append(idx, k)
	}
	sort.Slice(idx, func(i, j int) bool { return idx[i] < idx[j] })
	return idx
}

// RestoreMarket sets a market directly (used for snapshot restore)
func (mm *MarketMap) RestoreMarket(m *Market) {
	mm.markets[m.MarketIndex] = m
}
