// candles.go builds the per-match rollup values: the pool volume increment
// and the single-trade bucket candidates merged into each interval's candle.
package handler

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"clobfeed/internal/store"
	"clobfeed/pkg/types"
)

// poolMatch computes the cumulative rollup increment for one match. Base
// volume accumulates in raw base units; quote volume is qty*price brought
// back down by the base token's decimals.
func poolMatch(pool *types.Pool, price, qty *big.Int, ts int64) store.PoolMatch {
	notional := new(big.Int).Mul(qty, price)
	return store.PoolMatch{
		LastPrice:   price,
		BaseVolume:  decimal.NewFromBigInt(qty, 0),
		QuoteVolume: store.ScaleBig(notional, pool.BaseDecimals),
		Timestamp:   ts,
	}
}

// applyCandles folds one trade into the bucket at every interval and returns
// the merged buckets in Intervals order. The candidate carries the trade as a
// one-trade candle; the store's upsert does the OHLC merge.
func (p *Processor) applyCandles(ctx context.Context, st store.Store, pool *types.Pool, price, qty *big.Int, takerSide types.Side, ts int64) ([]*types.Bucket, error) {
	notional := new(big.Int).Mul(qty, price)
	baseVol := store.ScaleBig(qty, pool.BaseDecimals)
	quoteVol := store.ScaleBig(notional, pool.BaseDecimals+pool.QuoteDecimals)

	takerBuyBase, takerBuyQuote := decimal.Zero, decimal.Zero
	if takerSide == types.Buy {
		takerBuyBase, takerBuyQuote = baseVol, quoteVol
	}

	out := make([]*types.Bucket, 0, len(types.Intervals))
	for _, iv := range types.Intervals {
		openTime := iv.OpenTime(ts)
		candidate := &types.Bucket{
			ID:                  types.BucketID(pool.ChainID, pool.Address, iv, openTime),
			ChainID:             pool.ChainID,
			PoolAddress:         pool.Address,
			Interval:            iv,
			OpenTime:            openTime,
			CloseTime:           iv.CloseTime(openTime),
			Open:                price,
			High:                price,
			Low:                 price,
			Close:               price,
			Average:             decimal.NewFromBigInt(price, 0),
			Count:               1,
			Volume:              baseVol,
			QuoteVolume:         quoteVol,
			TakerBuyBaseVolume:  takerBuyBase,
			TakerBuyQuoteVolume: takerBuyQuote,
		}
		merged, err := st.ApplyBucketTrade(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("bucket %s: %w", iv.Name(), err)
		}
		out = append(out, merged)
	}
	return out, nil
}
