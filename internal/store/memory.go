// memory.go implements the Store in process memory with the same observable
// semantics as the Postgres implementation. It backs the hermetic test suite
// and local development without a database.
package store

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"

	"clobfeed/pkg/types"
)

// Memory is an in-process Store.
type Memory struct {
	mu         sync.RWMutex
	pools      map[string]*types.Pool           // by ID
	currencies map[string]*types.Currency       // by ID
	orders     map[string]*types.Order          // by ID
	histories  map[string]*types.OrderHistory   // by ID
	depth      map[string]*types.DepthLevel     // by pool|side|price
	trades     map[string]*types.Trade          // by ID
	obTrades   map[string]*types.OrderBookTrade // by ID
	obOrder    []string                         // insertion order of obTrades
	buckets    map[string]*types.Bucket         // by ID
	balances   map[string]*types.Balance        // by ID
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		pools:      make(map[string]*types.Pool),
		currencies: make(map[string]*types.Currency),
		orders:     make(map[string]*types.Order),
		histories:  make(map[string]*types.OrderHistory),
		depth:      make(map[string]*types.DepthLevel),
		trades:     make(map[string]*types.Trade),
		obTrades:   make(map[string]*types.OrderBookTrade),
		buckets:    make(map[string]*types.Bucket),
		balances:   make(map[string]*types.Balance),
	}
}

func depthKey(pool string, side types.Side, price *big.Int) string {
	return pool + "|" + string(side) + "|" + types.BigOrZero(price).String()
}

// WithTx applies fn's writes directly; the in-process store has no rollback.
// Each method already takes the store lock, so fn stays race-free.
func (m *Memory) WithTx(_ context.Context, fn func(Store) error) error {
	return fn(m)
}

// ————————————————————————————————————————————————————————————————————————
// Pools and currencies
// ————————————————————————————————————————————————————————————————————————

func (m *Memory) InsertPool(_ context.Context, p *types.Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[p.ID]; ok {
		return nil
	}
	cp := *p
	m.pools[p.ID] = &cp
	return nil
}

func (m *Memory) ApplyPoolMatch(_ context.Context, poolID string, pm PoolMatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[poolID]
	if !ok {
		return types.ErrUnknownPool
	}
	p.LastPrice = new(big.Int).Set(types.BigOrZero(pm.LastPrice))
	p.Volume = p.Volume.Add(pm.BaseVolume)
	p.VolumeInQuote = p.VolumeInQuote.Add(pm.QuoteVolume)
	p.LastUpdateTs = pm.Timestamp
	return nil
}

func (m *Memory) GetPool(_ context.Context, chainID uint64, address string) (*types.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[types.PoolID(chainID, address)]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) GetPoolBySymbol(_ context.Context, chainID uint64, symbol string) (*types.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	symbol = strings.ToLower(symbol)
	for _, p := range m.pools {
		if p.ChainID == chainID && p.Symbol() == symbol {
			cp := *p
			return &cp, nil
		}
	}
	return nil, types.ErrNotFound
}

func (m *Memory) ListPools(_ context.Context, chainID uint64) ([]*types.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Pool
	for _, p := range m.pools {
		if p.ChainID == chainID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol() < out[j].Symbol() })
	return out, nil
}

func (m *Memory) UpsertCurrency(_ context.Context, c *types.Currency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.currencies[c.ID] = &cp
	return nil
}

func (m *Memory) GetCurrency(_ context.Context, chainID uint64, address string) (*types.Currency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.currencies[types.CurrencyID(chainID, address)]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) ListCurrencies(_ context.Context, chainID uint64) ([]*types.Currency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Currency
	for _, c := range m.currencies {
		if c.ChainID == chainID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

func (m *Memory) InsertOrder(_ context.Context, o *types.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return nil
	}
	cp := cloneOrder(o)
	m.orders[o.ID] = cp
	return nil
}

func (m *Memory) GetOrder(_ context.Context, id string) (*types.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m *Memory) ApplyOrderFill(_ context.Context, id string, qty *big.Int, ts int64) (*types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	if o.Status.Terminal() {
		return cloneOrder(o), nil
	}
	o.Filled = new(big.Int).Add(types.BigOrZero(o.Filled), types.BigOrZero(qty))
	if o.Filled.Cmp(o.Quantity) >= 0 {
		o.Filled.Set(o.Quantity)
		o.Status = types.StatusFilled
	} else {
		o.Status = types.StatusPartiallyFilled
	}
	o.LastUpdateTs = ts
	return cloneOrder(o), nil
}

func (m *Memory) SetOrderStatus(_ context.Context, id string, status types.OrderStatus, ts int64) (*types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	if o.Status.Terminal() {
		return cloneOrder(o), nil
	}
	o.Status = status
	o.LastUpdateTs = ts
	return cloneOrder(o), nil
}

func (m *Memory) UpsertOrderHistory(_ context.Context, h *types.OrderHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *h
	m.histories[h.ID] = &cp
	return nil
}

func (m *Memory) OpenOrders(_ context.Context, chainID uint64, poolAddress, user string) ([]*types.Order, error) {
	return m.filterOrders(chainID, poolAddress, user, true, 0), nil
}

func (m *Memory) AllOrders(_ context.Context, chainID uint64, poolAddress, user string, limit int) ([]*types.Order, error) {
	return m.filterOrders(chainID, poolAddress, user, false, limit), nil
}

func (m *Memory) filterOrders(chainID uint64, poolAddress, user string, openOnly bool, limit int) []*types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	poolAddress = types.NormalizeAddress(poolAddress)
	user = types.NormalizeAddress(user)
	var out []*types.Order
	for _, o := range m.orders {
		if o.ChainID != chainID || o.User != user {
			continue
		}
		if poolAddress != "" && o.PoolAddress != poolAddress {
			continue
		}
		if openOnly && o.Status != types.StatusOpen && o.Status != types.StatusPartiallyFilled {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedTs > out[j].CreatedTs })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Depth
// ————————————————————————————————————————————————————————————————————————

func (m *Memory) ApplyDepthDelta(_ context.Context, poolAddress string, side types.Side, price, qtyDelta *big.Int, countDelta int, ts int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	poolAddress = types.NormalizeAddress(poolAddress)
	key := depthKey(poolAddress, side, price)

	lvl, ok := m.depth[key]
	if !ok {
		lvl = &types.DepthLevel{
			PoolAddress: poolAddress,
			Side:        side,
			Price:       new(big.Int).Set(types.BigOrZero(price)),
			Quantity:    new(big.Int),
		}
		m.depth[key] = lvl
	}
	lvl.Quantity = new(big.Int).Add(lvl.Quantity, types.BigOrZero(qtyDelta))
	if lvl.Quantity.Sign() < 0 {
		lvl.Quantity.SetInt64(0)
	}
	lvl.OrderCount += countDelta
	if lvl.OrderCount < 0 {
		lvl.OrderCount = 0
	}
	lvl.LastUpdated = ts
	return nil
}

func (m *Memory) DepthTopN(_ context.Context, poolAddress string, limit int) (*DepthSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	poolAddress = types.NormalizeAddress(poolAddress)

	var bids, asks []*types.DepthLevel
	for _, lvl := range m.depth {
		if lvl.PoolAddress != poolAddress || lvl.Quantity.Sign() == 0 {
			continue
		}
		cp := &types.DepthLevel{
			PoolAddress: lvl.PoolAddress,
			Side:        lvl.Side,
			Price:       new(big.Int).Set(lvl.Price),
			Quantity:    new(big.Int).Set(lvl.Quantity),
			OrderCount:  lvl.OrderCount,
			LastUpdated: lvl.LastUpdated,
		}
		if lvl.Side == types.Buy {
			bids = append(bids, cp)
		} else {
			asks = append(asks, cp)
		}
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.Cmp(bids[j].Price) > 0 })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.Cmp(asks[j].Price) < 0 })
	if limit > 0 {
		if len(bids) > limit {
			bids = bids[:limit]
		}
		if len(asks) > limit {
			asks = asks[:limit]
		}
	}
	return &DepthSnapshot{Bids: bids, Asks: asks}, nil
}

// ————————————————————————————————————————————————————————————————————————
// Trades
// ————————————————————————————————————————————————————————————————————————

func (m *Memory) InsertTrade(_ context.Context, t *types.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trades[t.ID]; ok {
		return nil
	}
	cp := *t
	m.trades[t.ID] = &cp
	return nil
}

func (m *Memory) InsertOrderBookTrade(_ context.Context, t *types.OrderBookTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.obTrades[t.ID]; ok {
		return nil
	}
	cp := *t
	m.obTrades[t.ID] = &cp
	m.obOrder = append(m.obOrder, t.ID)
	return nil
}

func (m *Memory) HasOrderBookTrade(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.obTrades[id]
	return ok, nil
}

func (m *Memory) TradesSince(_ context.Context, chainID uint64, poolAddress string, since int64) ([]*types.OrderBookTrade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	poolAddress = types.NormalizeAddress(poolAddress)
	var out []*types.OrderBookTrade
	for _, id := range m.obOrder {
		t := m.obTrades[id]
		if t.ChainID == chainID && t.PoolAddress == poolAddress && t.Timestamp >= since {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (m *Memory) RecentTrades(_ context.Context, chainID uint64, poolAddress string, limit int) ([]*types.OrderBookTrade, error) {
	all, _ := m.TradesSince(context.Background(), chainID, poolAddress, 0)
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (m *Memory) UserTrades(_ context.Context, chainID uint64, poolAddress, user string, limit int) ([]*types.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	poolAddress = types.NormalizeAddress(poolAddress)
	user = types.NormalizeAddress(user)
	var out []*types.Trade
	for _, t := range m.trades {
		if t.ChainID != chainID || t.User != user {
			continue
		}
		if poolAddress != "" && t.PoolAddress != poolAddress {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ————————————————————————————————————————————————————————————————————————
// Buckets
// ————————————————————————————————————————————————————————————————————————

func (m *Memory) ApplyBucketTrade(_ context.Context, b *types.Bucket) (*types.Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.buckets[b.ID]
	if !ok {
		cp := cloneBucket(b)
		m.buckets[b.ID] = cp
		return cloneBucket(cp), nil
	}

	price := types.BigOrZero(b.Close)
	cur.Close = new(big.Int).Set(price)
	if price.Cmp(cur.High) > 0 {
		cur.High = new(big.Int).Set(price)
	}
	if price.Cmp(cur.Low) < 0 {
		cur.Low = new(big.Int).Set(price)
	}
	// average := (average*count + price) / (count+1)
	sum := cur.Average.Mul(intToDec(cur.Count)).Add(bigToDec(price))
	cur.Count++
	cur.Average = sum.Div(intToDec(cur.Count))
	cur.Volume = cur.Volume.Add(b.Volume)
	cur.QuoteVolume = cur.QuoteVolume.Add(b.QuoteVolume)
	cur.TakerBuyBaseVolume = cur.TakerBuyBaseVolume.Add(b.TakerBuyBaseVolume)
	cur.TakerBuyQuoteVolume = cur.TakerBuyQuoteVolume.Add(b.TakerBuyQuoteVolume)
	return cloneBucket(cur), nil
}

func (m *Memory) Klines(_ context.Context, chainID uint64, poolAddress string, interval types.Interval, limit int, startTime, endTime int64) ([]*types.Bucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	poolAddress = types.NormalizeAddress(poolAddress)
	var out []*types.Bucket
	for _, b := range m.buckets {
		if b.ChainID != chainID || b.PoolAddress != poolAddress || b.Interval != interval {
			continue
		}
		if startTime > 0 && b.OpenTime < startTime {
			continue
		}
		if endTime > 0 && b.OpenTime > endTime {
			continue
		}
		out = append(out, cloneBucket(b))
	}
	// Descending, limit, then reverse to ascending.
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime > out[j].OpenTime })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ————————————————————————————————————————————————————————————————————————
// Balances
// ————————————————————————————————————————————————————————————————————————

func (m *Memory) ApplyBalanceDelta(_ context.Context, chainID uint64, user, currency string, availableDelta, lockedDelta *big.Int, ts int64) (*types.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := types.BalanceID(chainID, user, currency)
	b, ok := m.balances[id]
	if !ok {
		b = &types.Balance{
			ID:        id,
			ChainID:   chainID,
			User:      types.NormalizeAddress(user),
			Currency:  types.NormalizeAddress(currency),
			Available: new(big.Int),
			Locked:    new(big.Int),
		}
		m.balances[id] = b
	}
	b.Available = new(big.Int).Add(b.Available, types.BigOrZero(availableDelta))
	if b.Available.Sign() < 0 {
		b.Available.SetInt64(0)
	}
	b.Locked = new(big.Int).Add(b.Locked, types.BigOrZero(lockedDelta))
	if b.Locked.Sign() < 0 {
		b.Locked.SetInt64(0)
	}
	b.LastUpdated = ts
	return cloneBalance(b), nil
}

func (m *Memory) Balances(_ context.Context, chainID uint64, user string) ([]*types.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user = types.NormalizeAddress(user)
	var out []*types.Balance
	for _, b := range m.balances {
		if b.ChainID == chainID && b.User == user {
			out = append(out, cloneBalance(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// ————————————————————————————————————————————————————————————————————————
// Clone helpers
// ————————————————————————————————————————————————————————————————————————

func cloneOrder(o *types.Order) *types.Order {
	cp := *o
	cp.Price = new(big.Int).Set(types.BigOrZero(o.Price))
	cp.Quantity = new(big.Int).Set(types.BigOrZero(o.Quantity))
	cp.Filled = new(big.Int).Set(types.BigOrZero(o.Filled))
	return &cp
}

func cloneBucket(b *types.Bucket) *types.Bucket {
	cp := *b
	cp.Open = new(big.Int).Set(types.BigOrZero(b.Open))
	cp.High = new(big.Int).Set(types.BigOrZero(b.High))
	cp.Low = new(big.Int).Set(types.BigOrZero(b.Low))
	cp.Close = new(big.Int).Set(types.BigOrZero(b.Close))
	return &cp
}

func cloneBalance(b *types.Balance) *types.Balance {
	cp := *b
	cp.Available = new(big.Int).Set(b.Available)
	cp.Locked = new(big.Int).Set(b.Locked)
	return &cp
}
