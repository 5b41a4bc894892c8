// handlers.go implements the JSON read API. Every response uses the
// {"success":...} envelope; unknown symbols and bad parameters map to 400,
// entity lookup misses to 404 and store failures to 500.
package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"clobfeed/pkg/types"
)

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

// writeServiceError maps a market-service error to its HTTP status. An
// unresolvable symbol is a client error; an entity lookup miss is a 404.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrSymbolUnknown):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func queryInt(r *http.Request, name string, def int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func queryInt64(r *http.Request, name string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return v
}

func validAddress(addr string) bool { return common.IsHexAddress(addr) }

func (s *Server) handlePairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := s.market.Pairs(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeData(w, pairs)
}

func (s *Server) handleCurrencies(w http.ResponseWriter, r *http.Request) {
	currencies, err := s.market.Currencies(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeData(w, currencies)
}

func (s *Server) handleCurrency(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if !validAddress(address) {
		writeError(w, http.StatusBadRequest, "valid address is required")
		return
	}
	currency, err := s.market.Currency(r.Context(), address)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeData(w, currency)
}

func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	depth, err := s.market.Depth(r.Context(), symbol, queryInt(r, "limit", 0))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeData(w, depth)
}

// handleTrades returns the public tape, or one user's fills when a user
// parameter is present.
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	limit := queryInt(r, "limit", 100)

	if user := r.URL.Query().Get("user"); user != "" {
		if !validAddress(user) {
			writeError(w, http.StatusBadRequest, "invalid user address")
			return
		}
		trades, err := s.market.UserTrades(r.Context(), symbol, user, limit)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeData(w, trades)
		return
	}

	trades, err := s.market.RecentTrades(r.Context(), symbol, limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeData(w, trades)
}

func (s *Server) handleKlines(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	interval, ok := types.ParseInterval(r.URL.Query().Get("interval"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid interval")
		return
	}
	klines, err := s.market.Klines(r.Context(), symbol, interval,
		queryInt(r, "limit", 500), queryInt64(r, "startTime"), queryInt64(r, "endTime"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeData(w, klines)
}

func (s *Server) handleTicker(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	ticker, err := s.market.Ticker(r.Context(), symbol)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeData(w, ticker)
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	price, err := s.market.Price(r.Context(), symbol)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeData(w, price)
}

func (s *Server) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if !validAddress(address) {
		writeError(w, http.StatusBadRequest, "valid address is required")
		return
	}
	orders, err := s.market.OpenOrders(r.Context(), r.URL.Query().Get("symbol"), address)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeData(w, orders)
}

func (s *Server) handleAllOrders(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if !validAddress(address) {
		writeError(w, http.StatusBadRequest, "valid address is required")
		return
	}
	orders, err := s.market.Orders(r.Context(), r.URL.Query().Get("symbol"), address,
		queryInt(r, "limit", 500))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeData(w, orders)
}

func (s *Server) handleMyTrades(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if !validAddress(address) {
		writeError(w, http.StatusBadRequest, "valid address is required")
		return
	}
	trades, err := s.market.UserTrades(r.Context(), r.URL.Query().Get("symbol"), address,
		queryInt(r, "limit", 500))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeData(w, trades)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if !validAddress(address) {
		writeError(w, http.StatusBadRequest, "valid address is required")
		return
	}
	balances, err := s.market.Balances(r.Context(), address)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeData(w, balances)
}
