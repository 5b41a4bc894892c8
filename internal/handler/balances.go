// balances.go handles the family of balance-affecting events. Every kind
// reduces to a pair of signed deltas against the (user, currency) row.
package handler

import (
	"context"
	"fmt"
	"math/big"

	"clobfeed/pkg/types"
)

// HandleBalanceEvent applies one balance movement and publishes the updated
// row. Lock and Unlock move value between the available and locked buckets;
// the transfer kinds record only this user's outflow (the counterparty's
// inflow arrives as its own event).
func (p *Processor) HandleBalanceEvent(ctx context.Context, evt *types.Event) error {
	args := evt.Balance
	if args == nil {
		return malformed("%s: missing args", evt.Kind)
	}
	if args.User == "" || args.Currency == "" {
		return malformed("%s: missing user or currency", evt.Kind)
	}
	if args.Amount == nil || args.Amount.Sign() < 0 {
		return malformed("%s: missing or negative amount", evt.Kind)
	}

	amt := args.Amount
	neg := new(big.Int).Neg(amt)
	zero := new(big.Int)

	var availDelta, lockedDelta *big.Int
	switch evt.Kind {
	case types.EvDeposit, types.EvFaucet:
		availDelta, lockedDelta = amt, zero
	case types.EvWithdrawal, types.EvTransferFrom:
		availDelta, lockedDelta = neg, zero
	case types.EvLock:
		availDelta, lockedDelta = neg, amt
	case types.EvUnlock:
		availDelta, lockedDelta = amt, neg
	case types.EvTransferLocked:
		availDelta, lockedDelta = zero, neg
	default:
		return malformed("%s: not a balance event", evt.Kind)
	}

	chainID := evt.Network.ChainID
	ts := evt.Block.Timestamp
	user := types.NormalizeAddress(args.User)
	currency := types.NormalizeAddress(args.Currency)

	bal, err := p.store.ApplyBalanceDelta(ctx, chainID, user, currency, availDelta, lockedDelta, ts)
	if err != nil {
		return fmt.Errorf("%s balance: %w", evt.Kind, err)
	}

	if !p.inSync(ctx, evt) {
		return nil
	}
	return p.emitBalance(ctx, chainID, bal, ts)
}
