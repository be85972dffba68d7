package core

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"

	fpmath "PerpFunding/internal/math"
	"PerpFunding/internal/state"
)

const GenesisHashSeed = "PerpFunding:genesis:v1"

// StateHasher chains state hashes:
// state_hash[N] = SHA-256(state_hash[N-1] || N (8 bytes LE) || digest[N]).
type StateHasher struct {
	prevHash [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: sha256.Sum256([]byte(GenesisHashSeed))}
}

// ComputeHash appends one link to the chain and returns it.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var out [32]byte
	copy(out[:], hasher.Sum(nil))
	h.prevHash = out
	return out
}

func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash resets the chain tip, used when restoring from a snapshot.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}

// digestWriter serialises the state a command touched into a fixed binary
// layout so the same mutations always hash the same way.
type digestWriter struct {
	h   hash.Hash
	buf [16]byte
}

func newDigestWriter() *digestWriter {
	return &digestWriter{h: sha256.New()}
}

func (d *digestWriter) u64(v uint64) {
	binary.LittleEndian.PutUint64(d.buf[:8], v)
	d.h.Write(d.buf[:8])
}

func (d *digestWriter) i64(v int64) { d.u64(uint64(v)) }

func (d *digestWriter) i128(v fpmath.I128) {
	v.PutLE(d.buf[:])
	d.h.Write(d.buf[:])
}

func (d *digestWriter) u128(v fpmath.U128) {
	s := v.String()
	d.u64(uint64(len(s)))
	d.h.Write([]byte(s))
}

func (d *digestWriter) bytes(b []byte) {
	d.u64(uint64(len(b)))
	d.h.Write(b)
}

func (d *digestWriter) market(m *state.Market) {
	d.u64(m.MarketIndex)
	d.i128(m.BaseAssetAmountLong)
	d.i128(m.BaseAssetAmountShort)
	d.i128(m.BaseAssetAmount)
	d.u64(m.NextFundingRateRecordID)

	a := &m.AMM
	d.u128(a.BaseAssetReserve)
	d.u128(a.QuoteAssetReserve)
	d.u128(a.PegMultiplier)
	d.i128(a.CumulativeFundingRateLong)
	d.i128(a.CumulativeFundingRateShort)
	d.i128(a.LastFundingRate)
	d.i64(a.LastFundingRateTs)
	d.i64(a.FundingPeriod)
	d.i128(a.LastOraclePrice)
	d.i128(a.LastOraclePriceTwap)
	d.i64(a.LastOraclePriceTwapTs)
	d.u128(a.LastMarkPriceTwap)
	d.i64(a.LastMarkPriceTwapTs)
	d.u128(a.TotalFee)
	d.u128(a.TotalFeeMinusDistributions)
}

func (d *digestWriter) user(u *state.User) {
	d.h.Write(u.Key[:])
	d.h.Write(u.Authority[:])
	d.u64(uint64(len(u.Positions)))
	for i := range u.Positions {
		p := &u.Positions[i]
		d.u64(p.MarketIndex)
		d.i128(p.BaseAssetAmount)
		d.i128(p.LastCumulativeFundingRate)
		d.i64(p.LastFundingRateTs)
		d.i128(p.UnsettledPnl)
	}
}

func (d *digestWriter) sum() []byte {
	return d.h.Sum(nil)
}
