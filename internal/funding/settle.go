package funding

import (
	"fmt"

	"PerpFunding/internal/event"
	fpmath "PerpFunding/internal/math"
	"PerpFunding/internal/state"

	"github.com/google/uuid"
)

// MarketLookup resolves markets by index. *state.MarketMap implements it.
type MarketLookup interface {
	Get(marketIndex uint64) (*state.Market, error)
}

var ammToQuotePrecisionRatio = fpmath.NewI128(fpmath.AMMToQuotePrecisionRatio)

// SettleFundingPayment applies to every open position of user whatever the
// market's cumulative funding counter has moved since the position last
// settled, emitting one FundingPaymentRecord per settled position. Positions
// already in sync are left alone, so settling twice is the same as once.
func SettleFundingPayment(user *state.User, userKey uuid.UUID, markets MarketLookup, now int64, emitter event.Emitter) error {
	for i := range user.Positions {
		position := &user.Positions[i]
		if position.IsFlat() {
			continue
		}

		market, err := markets.Get(position.MarketIndex)
		if err != nil {
			return err
		}
		amm := &market.AMM

		cumulative := amm.CumulativeFundingRateShort
		if position.BaseAssetAmount.IsPositive() {
			cumulative = amm.CumulativeFundingRateLong
		}
		if cumulative.Cmp(position.LastCumulativeFundingRate) == 0 {
			continue
		}

		payment, err := fpmath.CalculateFundingPayment(cumulative, position.LastCumulativeFundingRate, position.BaseAssetAmount)
		if err != nil {
			return fmt.Errorf("market %d funding payment: %w", position.MarketIndex, err)
		}
		if payment, err = payment.Div(ammToQuotePrecisionRatio); err != nil {
			return err
		}
		unsettledPnl, err := position.UnsettledPnl.Add(payment)
		if err != nil {
			return fmt.Errorf("market %d unsettled pnl: %w", position.MarketIndex, err)
		}

		emitter.Emit(&event.FundingPaymentRecord{
			Ts:                        now,
			UserAuthority:             user.Authority,
			User:                      userKey,
			MarketIndex:               position.MarketIndex,
			FundingPayment:            payment,
			UserLastCumulativeFunding: position.LastCumulativeFundingRate,
			UserLastFundingRateTs:     position.LastFundingRateTs,
			AmmCumulativeFundingLong:  amm.CumulativeFundingRateLong,
			AmmCumulativeFundingShort: amm.CumulativeFundingRateShort,
			BaseAssetAmount:           position.BaseAssetAmount,
		})

		position.LastCumulativeFundingRate = cumulative
		position.LastFundingRateTs = amm.LastFundingRateTs
		position.UnsettledPnl = unsettledPnl
	}
	return nil
}
