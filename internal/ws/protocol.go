// protocol.go defines the client control-plane messages and the stream-name
// grammar.
package ws

import (
	"encoding/json"
	"strings"

	"clobfeed/pkg/types"
)

// Control methods accepted from clients.
const (
	methodSubscribe         = "SUBSCRIBE"
	methodUnsubscribe       = "UNSUBSCRIBE"
	methodListSubscriptions = "LIST_SUBSCRIPTIONS"
	methodPing              = "PING"
)

// controlRequest is one inbound control message. ID is echoed back opaquely.
type controlRequest struct {
	Method string          `json:"method"`
	Params []string        `json:"params"`
	ID     json.RawMessage `json:"id"`
}

type controlResult struct {
	Result any             `json:"result"`
	ID     json.RawMessage `json:"id,omitempty"`
}

type controlError struct {
	Error controlErrorBody `json:"error"`
	ID    json.RawMessage  `json:"id,omitempty"`
}

type controlErrorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func resultResponse(id json.RawMessage, result any) controlResult {
	return controlResult{Result: result, ID: id}
}

func errorResponse(id json.RawMessage, msg string) controlError {
	return controlError{Error: controlErrorBody{Code: 400, Msg: msg}, ID: id}
}

// ValidStreamName reports whether name matches the subscription grammar:
//
//	<symbol>@trade
//	<symbol>@depth
//	<symbol>@miniTicker
//	<symbol>@kline_<interval>
//	user@executionReport
//
// where <symbol> is a non-empty lowercase alphanumeric token and <interval>
// is one of the supported bucket widths. user@executionReport is the fixed
// name of the private order-lifecycle stream; the frames themselves route by
// the connection's address.
func ValidStreamName(name string) bool {
	if name == "user@executionReport" {
		return true
	}
	symbol, suffix, ok := strings.Cut(name, "@")
	if !ok || !validSymbol(symbol) {
		return false
	}
	switch suffix {
	case "trade", "depth", "miniTicker":
		return true
	}
	if iv, ok := strings.CutPrefix(suffix, "kline_"); ok {
		_, known := types.ParseInterval(iv)
		return known
	}
	return false
}

func validSymbol(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
