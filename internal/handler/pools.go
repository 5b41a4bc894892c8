// pools.go handles pool and currency registration events.
package handler

import (
	"context"
	"fmt"

	"clobfeed/pkg/types"
)

// HandlePoolCreated registers the pool and both of its currencies. Pools are
// never deleted; a replayed event is a no-op.
func (p *Processor) HandlePoolCreated(ctx context.Context, evt *types.Event) error {
	args := evt.PoolCreated
	if args == nil {
		return malformed("PoolCreated: missing args")
	}
	if args.PoolAddress == "" || args.BaseCurrency == "" || args.QuoteCurrency == "" {
		return malformed("PoolCreated: missing pool or currency address")
	}
	if args.BaseSymbol == "" || args.QuoteSymbol == "" {
		return malformed("PoolCreated: missing currency symbols")
	}

	chainID := evt.Network.ChainID
	addr := types.NormalizeAddress(args.PoolAddress)

	pool := &types.Pool{
		ID:            types.PoolID(chainID, addr),
		ChainID:       chainID,
		Address:       addr,
		OrderBook:     types.NormalizeAddress(args.OrderBook),
		BaseCurrency:  types.NormalizeAddress(args.BaseCurrency),
		QuoteCurrency: types.NormalizeAddress(args.QuoteCurrency),
		BaseSymbol:    args.BaseSymbol,
		QuoteSymbol:   args.QuoteSymbol,
		BaseDecimals:  args.BaseDecimals,
		QuoteDecimals: args.QuoteDecimals,
		LastUpdateTs:  evt.Block.Timestamp,
	}
	if err := p.store.InsertPool(ctx, pool); err != nil {
		return fmt.Errorf("pool created: %w", err)
	}

	for _, c := range []*types.Currency{
		{
			ID:       types.CurrencyID(chainID, args.BaseCurrency),
			ChainID:  chainID,
			Address:  types.NormalizeAddress(args.BaseCurrency),
			Symbol:   args.BaseSymbol,
			Name:     args.BaseName,
			Decimals: args.BaseDecimals,
			IsActive: true,
		},
		{
			ID:       types.CurrencyID(chainID, args.QuoteCurrency),
			ChainID:  chainID,
			Address:  types.NormalizeAddress(args.QuoteCurrency),
			Symbol:   args.QuoteSymbol,
			Name:     args.QuoteName,
			Decimals: args.QuoteDecimals,
			IsActive: true,
		},
	} {
		if err := p.store.UpsertCurrency(ctx, c); err != nil {
			return fmt.Errorf("pool created: %w", err)
		}
	}

	p.logger.Info("pool registered",
		"chain", chainID,
		"pool", addr,
		"symbol", pool.Symbol(),
	)
	return nil
}
