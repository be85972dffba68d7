package ledger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// AccountScope is the top-level account namespace.
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeMarket
)

// AccountSubType is the account purpose.
type AccountSubType uint8

const (
	// Funding a user has settled on one market, positive when received
	SubTypeFundingSettled AccountSubType = iota

	// Market sub-types
	SubTypeFundingPool // funding owed to or by positions not yet settled
	SubTypeFeePool     // the AMM's side of funding, mirrors total_fee_minus_distributions
)

// AccountKey is the in-memory key for balance tracking. All balances are in
// quote precision (1e6).
type AccountKey struct {
	Scope       AccountScope
	EntityID    [16]byte // user key; zero for market accounts
	MarketIndex uint64
	SubType     AccountSubType
}

func NewUserAccountKey(user uuid.UUID, marketIndex uint64) AccountKey {
	return AccountKey{
		Scope:       AccountScopeUser,
		EntityID:    user,
		MarketIndex: marketIndex,
		SubType:     SubTypeFundingSettled,
	}
}

func NewMarketAccountKey(marketIndex uint64, subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:       AccountScopeMarket,
		MarketIndex: marketIndex,
		SubType:     subType,
	}
}

// AccountPath returns the string form used in storage and logs.
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%d:%s", uuid.UUID(k.EntityID), k.MarketIndex, k.subTypeName())
	case AccountScopeMarket:
		return fmt.Sprintf("market:%d:%s", k.MarketIndex, k.subTypeName())
	}
	return "unknown"
}

func (k AccountKey) String() string { return k.AccountPath() }

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeFundingSettled:
		return "funding"
	case SubTypeFundingPool:
		return "funding_pool"
	case SubTypeFeePool:
		return "fee_pool"
	default:
		return "unknown"
	}
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	var key AccountKey
	var sub string
	switch {
	case len(parts) == 4 && parts[0] == "user":
		user, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("account %q: %w", path, err)
		}
		key.Scope = AccountScopeUser
		key.EntityID = user
		parts = parts[1:]
		sub = parts[2]
	case len(parts) == 3 && parts[0] == "market":
		key.Scope = AccountScopeMarket
		sub = parts[2]
	default:
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}

	market, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return AccountKey{}, fmt.Errorf("account %q: %w", path, err)
	}
	key.MarketIndex = market

	switch sub {
	case "funding":
		key.SubType = SubTypeFundingSettled
	case "funding_pool":
		key.SubType = SubTypeFundingPool
	case "fee_pool":
		key.SubType = SubTypeFeePool
	default:
		return AccountKey{}, fmt.Errorf("account %q: unknown sub type %q", path, sub)
	}
	if (key.Scope == AccountScopeUser) != (key.SubType == SubTypeFundingSettled) {
		return AccountKey{}, fmt.Errorf("account %q: sub type %q not valid for scope", path, sub)
	}
	if key.AccountPath() != path {
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}
	return key, nil
}
