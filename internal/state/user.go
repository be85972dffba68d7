package state

import (
	fpmath "PerpFunding/internal/math"

	"github.com/google/uuid"
)

// Position is a user's exposure in one market. The sign of BaseAssetAmount
// is the side; zero means flat.
type Position struct {
	MarketIndex               uint64      `json:"market_index"`
	BaseAssetAmount           fpmath.I128 `json:"base_asset_amount"`            // 1e13
	LastCumulativeFundingRate fpmath.I128 `json:"last_cumulative_funding_rate"` // 1e14
	LastFundingRateTs         int64       `json:"last_funding_rate_ts"`
	UnsettledPnl              fpmath.I128 `json:"unsettled_pnl"` // 1e6
}

func (p *Position) IsFlat() bool {
	return p.BaseAssetAmount.IsZero()
}

// User is a trading account. Key identifies the account record itself,
// Authority the owner allowed to act on it.
type User struct {
	Key       uuid.UUID  `json:"key"`
	Authority uuid.UUID  `json:"authority"`
	Positions []Position `json:"positions"`
}

func NewUser(key, authority uuid.UUID) *User {
	return &User{Key: key, Authority: authority}
}

// Clone deep-copies the user including its positions.
func (u *User) Clone() *User {
	c := *u
	c.Positions = make([]Position, len(u.Positions))
	copy(c.Positions, u.Positions)
	return &c
}

// Position returns the user's position in marketIndex, or nil.
func (u *User) Position(marketIndex uint64) *Position {
	for i := range u.Positions {
		if u.Positions[i].MarketIndex == marketIndex {
			return &u.Positions[i]
		}
	}
	return nil
}

// GetOrCreatePosition returns the position in marketIndex, appending a flat
// one if the user has none.
func (u *User) GetOrCreatePosition(marketIndex uint64) *Position {
	if p := u.Position(marketIndex); p != nil {
		return p
	}
	u.Positions = append(u.Positions, Position{MarketIndex: marketIndex})
	return &u.Positions[len(u.Positions)-1]
}

// UserStore holds every known user by key.
type UserStore struct {
	users map[uuid.UUID]*User
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[uuid.UUID]*User)}
}

func (s *UserStore) Get(key uuid.UUID) (*User, bool) {
	u, ok := s.users[key]
	return u, ok
}

// Set stores u under u.Key, replacing any previous record.
func (s *UserStore) Set(u *User) {
	s.users[u.Key] = u
}

func (s *UserStore) Len() int {
	return len(s.users)
}

// GetAllUsers returns all users (for snapshot creation)
func (s *UserStore) GetAllUsers() map[uuid.UUID]*User {
	result := make(map[uuid.UUID]*User, len(s.users))
	for k, v := range s.users {
		result[k] = v
	}
	return result
}
