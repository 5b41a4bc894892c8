// hash.go derives the content-addressable primary keys used by every entity.
//
// Each key is a SHA-256 over a ":"-joined tuple, hex encoded. This makes IDs
// stable across replays (duplicate events hash to the same row, so inserts
// can be conflict-no-op) and collision-resistant across chains.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"
)

func hashTuple(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(sum[:])
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }
func i64(v int64) string  { return strconv.FormatInt(v, 10) }

func bigStr(v *big.Int) string { return BigOrZero(v).String() }

// PoolID keys a Pool by (chainID, poolAddress).
func PoolID(chainID uint64, poolAddress string) string {
	return hashTuple(u64(chainID), NormalizeAddress(poolAddress))
}

// OrderKey keys an Order by (chainID, poolAddress, onChainOrderID).
func OrderKey(chainID uint64, poolAddress string, orderID uint64) string {
	return hashTuple(u64(chainID), NormalizeAddress(poolAddress), u64(orderID))
}

// HistoryID keys an OrderHistory row by
// (chainID, poolAddress, orderID, txHash, filledAtEvent).
func HistoryID(chainID uint64, poolAddress string, orderID uint64, txHash string, filled *big.Int) string {
	return hashTuple(u64(chainID), NormalizeAddress(poolAddress), u64(orderID),
		strings.ToLower(txHash), bigStr(filled))
}

// TradeID keys a Trade by
// (chainID, txHash, user, side, buyOrderID, sellOrderID, price, qty).
func TradeID(chainID uint64, txHash, user string, side Side, buyOrderID, sellOrderID uint64, price, qty *big.Int) string {
	return hashTuple(u64(chainID), strings.ToLower(txHash), NormalizeAddress(user),
		string(side), u64(buyOrderID), u64(sellOrderID), bigStr(price), bigStr(qty))
}

// BucketID keys a Bucket by (chainID, poolAddress, interval, openTime).
func BucketID(chainID uint64, poolAddress string, interval Interval, openTime int64) string {
	return hashTuple(u64(chainID), NormalizeAddress(poolAddress),
		i64(int64(interval)), i64(openTime))
}

// BalanceID keys a Balance by (chainID, user, currency).
func BalanceID(chainID uint64, user, currency string) string {
	return hashTuple(u64(chainID), NormalizeAddress(user), NormalizeAddress(currency))
}

// CurrencyID keys a Currency by (chainID, address).
func CurrencyID(chainID uint64, address string) string {
	return hashTuple(u64(chainID), NormalizeAddress(address))
}
