// events.go defines the inbound event contract from the blockchain indexer.
//
// For each decoded log the indexer framework hands the pipeline an Event:
// typed arguments for the event kind plus block, transaction, log and network
// metadata. Events for a single chain arrive serialized in block/log order,
// so handlers may treat per-event state mutations as linearizable.
package types

import "math/big"

// EventKind identifies which decoded log an Event carries.
type EventKind string

const (
	EvPoolCreated    EventKind = "PoolCreated"
	EvOrderPlaced    EventKind = "OrderPlaced"
	EvOrderMatched   EventKind = "OrderMatched"
	EvOrderCancelled EventKind = "OrderCancelled"
	EvUpdateOrder    EventKind = "UpdateOrder"
	EvDeposit        EventKind = "Deposit"
	EvWithdrawal     EventKind = "Withdrawal"
	EvLock           EventKind = "Lock"
	EvUnlock         EventKind = "Unlock"
	EvTransferFrom   EventKind = "TransferFrom"
	EvTransferLocked EventKind = "TransferLockedFrom"
	EvFaucet         EventKind = "Faucet"
)

// Block is the block metadata attached to every decoded log.
type Block struct {
	Number    uint64
	Timestamp int64 // unix seconds
}

// Transaction is the originating transaction of a decoded log.
type Transaction struct {
	Hash string
	From string
}

// Log locates the decoded log within its transaction.
type Log struct {
	Address string // emitting contract
	Index   uint
}

// Network identifies the chain a log was observed on.
type Network struct {
	ChainID uint64
}

// Event is one decoded blockchain log plus its context. Exactly one of the
// *Args fields is set, matching Kind.
type Event struct {
	Kind        EventKind
	Block       Block
	Transaction Transaction
	Log         Log
	Network     Network

	PoolCreated    *PoolCreatedArgs
	OrderPlaced    *OrderPlacedArgs
	OrderMatched   *OrderMatchedArgs
	OrderCancelled *OrderCancelledArgs
	UpdateOrder    *UpdateOrderArgs
	Balance        *BalanceArgs
}

// PoolCreatedArgs announces a new trading pair.
type PoolCreatedArgs struct {
	PoolAddress   string
	OrderBook     string
	BaseCurrency  string
	QuoteCurrency string
	BaseSymbol    string
	QuoteSymbol   string
	BaseName      string
	QuoteName     string
	BaseDecimals  int
	QuoteDecimals int
}

// OrderPlacedArgs is a new resting order on the book.
type OrderPlacedArgs struct {
	PoolAddress string
	OrderID     uint64
	User        string
	Side        Side
	Type        OrderType
	Price       *big.Int
	Quantity    *big.Int
	Expiry      int64
}

// OrderMatchedArgs is one on-chain match between a buy and a sell order.
// TakerSide is the side of the incoming order that crossed the book.
type OrderMatchedArgs struct {
	PoolAddress    string
	BuyOrderID     uint64
	SellOrderID    uint64
	BuyUser        string
	SellUser       string
	TakerSide      Side
	ExecutionPrice *big.Int
	Quantity       *big.Int
}

// OrderCancelledArgs removes an order's remaining quantity from the book.
type OrderCancelledArgs struct {
	PoolAddress string
	OrderID     uint64
	User        string
}

// UpdateOrderArgs is an out-of-band status transition (expiry, rejection).
type UpdateOrderArgs struct {
	PoolAddress string
	OrderID     uint64
	Status      OrderStatus
	Filled      *big.Int // cumulative fill at this transition, may be nil
}

// BalanceArgs covers every balance-affecting event kind. Amount is always
// positive; the kind determines which bucket it moves between.
type BalanceArgs struct {
	User     string
	Currency string // token address
	Amount   *big.Int
}
