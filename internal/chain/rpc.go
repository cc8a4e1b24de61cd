package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Relayer error codes. The relayer signs and submits program instructions
// with the house authority key and reports program errors with these codes.
const (
	CodeSessionNotFound   = -32004
	CodeSignatureNotFound = -32005
	CodeInvalidSecret     = -32010
	CodeInvalidClaim      = -32011
	CodeNotActive         = -32012
)

// RPCClient speaks JSON-RPC 2.0 to the settlement relayer.
type RPCClient struct {
	endpoint   string
	httpClient *http.Client
	nextID     atomic.Uint64
}

func NewRPCClient(endpoint string, timeout time.Duration) *RPCClient {
	return &RPCClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (e *RPCError) Unwrap() error {
	switch e.Code {
	case CodeSessionNotFound:
		return ErrSessionNotFound
	case CodeSignatureNotFound:
		return ErrSignatureNotFound
	case CodeInvalidSecret:
		return ErrInvalidSecret
	case CodeInvalidClaim:
		return ErrInvalidClaim
	case CodeNotActive:
		return ErrNotActive
	default:
		return nil
	}
}

func (c *RPCClient) GetSession(ctx context.Context, gameID string) (*Session, error) {
	var session Session
	if err := c.call(ctx, "getGameSession", map[string]string{"gameId": gameID}, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *RPCClient) Settle(ctx context.Context, params SettleParams) (string, error) {
	var out struct {
		Signature string `json:"signature"`
	}
	if err := c.call(ctx, "settleGame", params, &out); err != nil {
		return "", err
	}
	if out.Signature == "" {
		return "", fmt.Errorf("%w: relayer returned empty signature", ErrTransactionFailed)
	}
	return out.Signature, nil
}

func (c *RPCClient) SignatureStatus(ctx context.Context, signature string) (ConfirmationStatus, error) {
	var out struct {
		Status ConfirmationStatus `json:"status"`
	}
	if err := c.call(ctx, "getSignatureStatus", map[string]string{"signature": signature}, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *RPCClient) call(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("chain.rpc.%s: marshal: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chain.rpc.%s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chain.rpc.%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("chain.rpc.%s: http %d: %s", method, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("chain.rpc.%s: decode: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("chain.rpc.%s: %w", method, rpcResp.Error)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("chain.rpc.%s: decode result: %w", method, err)
	}

	return nil
}
