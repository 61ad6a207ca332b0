// Package rpcclient is a thin adaptor over the upstream JSON-RPC
// eth_getBlockByNumber method. It owns no state beyond an HTTP client and
// an endpoint URL.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/address-scanner/internal/logging"
)

// FailureKind classifies why FetchBlock failed, mirroring spec §7's error
// taxonomy for the RPC boundary.
type FailureKind string

const (
	// FailureNotFound means the RPC returned a null result.
	FailureNotFound FailureKind = "not_found"
	// FailureTimeout means the per-call timeout elapsed.
	FailureTimeout FailureKind = "timeout"
	// FailureUpstream means the RPC returned a non-null error object.
	FailureUpstream FailureKind = "upstream_error"
	// FailureTransport means the HTTP call itself failed or the response
	// could not be decoded.
	FailureTransport FailureKind = "transport"
)

// BlockError carries a FailureKind plus, for FailureUpstream, the
// upstream's code and message.
type BlockError struct {
	Kind    FailureKind
	Code    int
	Message string
	Cause   error
}

func (e *BlockError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rpc %s: %s (%v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("rpc %s: %s", e.Kind, e.Message)
}

func (e *BlockError) Unwrap() error { return e.Cause }

// Block is the extracted view of a fetched block: the set of distinct,
// non-empty from/to addresses plus the metadata the batch processor and
// metrics care about.
type Block struct {
	Addresses    map[string]struct{}
	Hash         string
	Timestamp    time.Time
	TxCount      int
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type ethTransaction struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type ethBlock struct {
	Number       string           `json:"number"`
	Hash         string           `json:"hash"`
	Timestamp    string           `json:"timestamp"`
	Transactions []ethTransaction `json:"transactions"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int       `json:"id"`
	Result  *ethBlock `json:"result"`
	Error   *rpcError `json:"error"`
}

// Client posts eth_getBlockByNumber requests to a single configured
// endpoint. It is safe for concurrent use by every pre-fetch worker.
type Client struct {
	endpoint string
	timeout  time.Duration
	http     *retryablehttp.Client
}

// New builds a Client. timeout bounds a single call (spec §4.2 default
// 10s); retries are limited to HTTP-level failures — retryablehttp's
// default retry policy retries connection failures, 429 and 5xx
// responses, and never a well-formed JSON-RPC error response (those arrive
// as 200), since an upstream JSON-RPC error is a terminal classification
// the batch processor itself decides how to handle.
func New(endpoint string, timeout time.Duration) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 1 * time.Second
	rc.Logger = nil
	rc.HTTPClient.Timeout = timeout

	return &Client{
		endpoint: endpoint,
		timeout:  timeout,
		http:     rc,
	}
}

// FetchBlock fetches the block identified by blockNumber and returns its
// extracted addresses and metadata, or a classified *BlockError. The block
// number arrives as an int64 and is sent upstream as a 0x-prefixed hex
// quantity; no decimal or hex string form is parsed here.
func (c *Client) FetchBlock(ctx context.Context, blockNumber int64) (*Block, error) {
	hexHeight := "0x" + strconv.FormatInt(blockNumber, 16)

	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "eth_getBlockByNumber",
		Params:  []interface{}{hexHeight, true},
		ID:      1,
	})
	if err != nil {
		return nil, &BlockError{Kind: FailureTransport, Message: "failed to encode request", Cause: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, &BlockError{Kind: FailureTransport, Message: "failed to build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	logging.WithFields(map[string]interface{}{
		"block_number": blockNumber,
		"hex_height":   hexHeight,
	}).Debug("sending eth_getBlockByNumber")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &BlockError{Kind: FailureTimeout, Message: "rpc call timed out", Cause: err}
		}
		return nil, &BlockError{Kind: FailureTransport, Message: "rpc call failed", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BlockError{Kind: FailureTransport, Message: "failed to read response body", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &BlockError{
			Kind:    FailureTransport,
			Message: fmt.Sprintf("unexpected HTTP status %d", resp.StatusCode),
		}
	}

	var parsed rpcResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &BlockError{Kind: FailureTransport, Message: "failed to decode rpc response", Cause: err}
	}

	if parsed.Error != nil {
		return nil, &BlockError{
			Kind:    FailureUpstream,
			Code:    parsed.Error.Code,
			Message: parsed.Error.Message,
		}
	}

	if parsed.Result == nil {
		return nil, &BlockError{Kind: FailureNotFound, Message: "block not found"}
	}

	return extractBlock(parsed.Result), nil
}

// extractBlock pulls the distinct, non-empty from/to addresses out of a
// decoded block, the way the teacher's ethereum_adapter extracts
// transaction participants from a go-ethereum block — here over the raw
// JSON-RPC transaction list rather than an ethclient.Block.
func extractBlock(b *ethBlock) *Block {
	addresses := make(map[string]struct{})
	for _, tx := range b.Transactions {
		addAddress(addresses, tx.From)
		addAddress(addresses, tx.To)
	}

	return &Block{
		Addresses: addresses,
		Hash:      b.Hash,
		Timestamp: parseHexTimestamp(b.Timestamp),
		TxCount:   len(b.Transactions),
	}
}

func addAddress(set map[string]struct{}, addr string) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	if !common.IsHexAddress(addr) {
		return
	}
	set[addr] = struct{}{}
}

func parseHexTimestamp(hexSeconds string) time.Time {
	hexSeconds = strings.TrimPrefix(hexSeconds, "0x")
	seconds, err := strconv.ParseInt(hexSeconds, 16, 64)
	if err != nil {
		return time.Now().UTC()
	}
	return time.Unix(seconds, 0).UTC()
}
