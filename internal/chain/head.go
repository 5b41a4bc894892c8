// Package chain provides the one JSON-RPC call the service needs: the chain
// head at boot, used to seed the sync watermark when no explicit
// ENABLE_WEBSOCKET_BLOCK_NUMBER override is configured.
package chain

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// HeadClient fetches the latest block number from an Ethereum JSON-RPC node.
type HeadClient struct {
	http *resty.Client
}

// NewHeadClient creates a client for the given RPC endpoint.
func NewHeadClient(rpcURL string) *HeadClient {
	return &HeadClient{
		http: resty.New().
			SetBaseURL(rpcURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(2),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// BlockNumber returns the current chain head via eth_blockNumber.
func (c *HeadClient) BlockNumber(ctx context.Context) (uint64, error) {
	var out rpcResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(rpcRequest{JSONRPC: "2.0", Method: "eth_blockNumber", Params: []any{}, ID: 1}).
		SetResult(&out).
		Post("")
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("eth_blockNumber: http %d", resp.StatusCode())
	}
	if out.Error != nil {
		return 0, fmt.Errorf("eth_blockNumber: rpc %d: %s", out.Error.Code, out.Error.Message)
	}

	hex := strings.TrimPrefix(out.Result, "0x")
	n, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse block number %q: %w", out.Result, err)
	}
	return n, nil
}
