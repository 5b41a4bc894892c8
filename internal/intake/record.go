// record.go defines the flat record layout of the events stream: event
// metadata plus the kind-specific argument fields, all string-encoded.
package intake

import (
	"fmt"

	"clobfeed/internal/codec"
	"clobfeed/pkg/types"
)

// EncodeEvent flattens a typed event into a stream record. The indexer side
// of the contract; tests and backfill tools use it too.
func EncodeEvent(evt *types.Event) (codec.FieldMap, error) {
	values := map[string]any{
		"kind":           string(evt.Kind),
		"chainId":        evt.Network.ChainID,
		"blockNumber":    evt.Block.Number,
		"blockTimestamp": evt.Block.Timestamp,
		"txHash":         evt.Transaction.Hash,
		"txFrom":         evt.Transaction.From,
		"logAddress":     evt.Log.Address,
		"logIndex":       uint64(evt.Log.Index),
	}

	switch {
	case evt.PoolCreated != nil:
		a := evt.PoolCreated
		values["pool"] = a.PoolAddress
		values["orderBook"] = a.OrderBook
		values["baseCurrency"] = a.BaseCurrency
		values["quoteCurrency"] = a.QuoteCurrency
		values["baseSymbol"] = a.BaseSymbol
		values["quoteSymbol"] = a.QuoteSymbol
		values["baseName"] = a.BaseName
		values["quoteName"] = a.QuoteName
		values["baseDecimals"] = a.BaseDecimals
		values["quoteDecimals"] = a.QuoteDecimals
	case evt.OrderPlaced != nil:
		a := evt.OrderPlaced
		values["pool"] = a.PoolAddress
		values["orderId"] = a.OrderID
		values["user"] = a.User
		values["side"] = string(a.Side)
		values["orderType"] = string(a.Type)
		values["price"] = a.Price
		values["quantity"] = a.Quantity
		values["expiry"] = a.Expiry
	case evt.OrderMatched != nil:
		a := evt.OrderMatched
		values["pool"] = a.PoolAddress
		values["buyOrderId"] = a.BuyOrderID
		values["sellOrderId"] = a.SellOrderID
		values["buyUser"] = a.BuyUser
		values["sellUser"] = a.SellUser
		values["takerSide"] = string(a.TakerSide)
		values["executionPrice"] = a.ExecutionPrice
		values["quantity"] = a.Quantity
	case evt.OrderCancelled != nil:
		a := evt.OrderCancelled
		values["pool"] = a.PoolAddress
		values["orderId"] = a.OrderID
		values["user"] = a.User
	case evt.UpdateOrder != nil:
		a := evt.UpdateOrder
		values["pool"] = a.PoolAddress
		values["orderId"] = a.OrderID
		values["status"] = string(a.Status)
		if a.Filled != nil {
			values["filled"] = a.Filled
		}
	case evt.Balance != nil:
		a := evt.Balance
		values["user"] = a.User
		values["currency"] = a.Currency
		values["amount"] = a.Amount
	default:
		return nil, fmt.Errorf("event %s carries no args", evt.Kind)
	}

	return codec.Encode(values)
}

// DecodeEvent rebuilds the typed event from a stream record.
func DecodeEvent(f codec.FieldMap) (*types.Event, error) {
	kind := types.EventKind(f.String("kind"))
	evt := &types.Event{
		Kind: kind,
		Block: types.Block{
			Number:    f.Uint64("blockNumber"),
			Timestamp: f.Int64("blockTimestamp"),
		},
		Transaction: types.Transaction{
			Hash: f.String("txHash"),
			From: f.String("txFrom"),
		},
		Log: types.Log{
			Address: f.String("logAddress"),
			Index:   uint(f.Uint64("logIndex")),
		},
		Network: types.Network{ChainID: f.Uint64("chainId")},
	}

	switch kind {
	case types.EvPoolCreated:
		evt.PoolCreated = &types.PoolCreatedArgs{
			PoolAddress:   f.String("pool"),
			OrderBook:     f.String("orderBook"),
			BaseCurrency:  f.String("baseCurrency"),
			QuoteCurrency: f.String("quoteCurrency"),
			BaseSymbol:    f.String("baseSymbol"),
			QuoteSymbol:   f.String("quoteSymbol"),
			BaseName:      f.String("baseName"),
			QuoteName:     f.String("quoteName"),
			BaseDecimals:  int(f.Int64("baseDecimals")),
			QuoteDecimals: int(f.Int64("quoteDecimals")),
		}
	case types.EvOrderPlaced:
		evt.OrderPlaced = &types.OrderPlacedArgs{
			PoolAddress: f.String("pool"),
			OrderID:     f.Uint64("orderId"),
			User:        f.String("user"),
			Side:        types.Side(f.String("side")),
			Type:        types.OrderType(f.String("orderType")),
			Price:       f.Big("price"),
			Quantity:    f.Big("quantity"),
			Expiry:      f.Int64("expiry"),
		}
	case types.EvOrderMatched:
		evt.OrderMatched = &types.OrderMatchedArgs{
			PoolAddress:    f.String("pool"),
			BuyOrderID:     f.Uint64("buyOrderId"),
			SellOrderID:    f.Uint64("sellOrderId"),
			BuyUser:        f.String("buyUser"),
			SellUser:       f.String("sellUser"),
			TakerSide:      types.Side(f.String("takerSide")),
			ExecutionPrice: f.Big("executionPrice"),
			Quantity:       f.Big("quantity"),
		}
	case types.EvOrderCancelled:
		evt.OrderCancelled = &types.OrderCancelledArgs{
			PoolAddress: f.String("pool"),
			OrderID:     f.Uint64("orderId"),
			User:        f.String("user"),
		}
	case types.EvUpdateOrder:
		evt.UpdateOrder = &types.UpdateOrderArgs{
			PoolAddress: f.String("pool"),
			OrderID:     f.Uint64("orderId"),
			Status:      types.OrderStatus(f.String("status")),
			Filled:      f.Big("filled"),
		}
	case types.EvDeposit, types.EvWithdrawal, types.EvLock, types.EvUnlock,
		types.EvTransferFrom, types.EvTransferLocked, types.EvFaucet:
		evt.Balance = &types.BalanceArgs{
			User:     f.String("user"),
			Currency: f.String("currency"),
			Amount:   f.Big("amount"),
		}
	default:
		return nil, fmt.Errorf("unknown event kind %q", f.String("kind"))
	}

	return evt, nil
}
