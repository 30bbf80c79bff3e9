package token

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

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

// ChainConfig holds the Neo N3 connection parameters for a deployed NEP-17
// token contract.
type ChainConfig struct {
	// RPCURL is the Neo N3 node endpoint. The node must hold the custody
	// wallet so transfer invocations can be signed and relayed.
	RPCURL string
	// TokenHash is the NEP-17 contract script hash ("0x..." form).
	TokenHash string
	// CustodyAddress is the engine's custodial account (Neo address form).
	CustodyAddress string
	Timeout        time.Duration
}

// ChainClient talks to a NEP-17 token contract over Neo N3 JSON-RPC.
type ChainClient struct {
	rpcURL     string
	httpClient *http.Client
	tokenHash  string
	custody    util.Uint160
}

// NewChainClient creates a client for the configured token contract.
func NewChainClient(cfg ChainConfig) (*ChainClient, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, fmt.Errorf("RPC URL required")
	}
	if strings.TrimSpace(cfg.TokenHash) == "" {
		return nil, fmt.Errorf("token contract hash required")
	}
	custody, err := address.StringToUint160(strings.TrimSpace(cfg.CustodyAddress))
	if err != nil {
		return nil, fmt.Errorf("parse custody address: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &ChainClient{
		rpcURL:     cfg.RPCURL,
		httpClient: &http.Client{Timeout: timeout},
		tokenHash:  strings.TrimSpace(cfg.TokenHash),
		custody:    custody,
	}, nil
}

// CustodyAddress returns the custodial account in Neo address form.
func (c *ChainClient) CustodyAddress() string {
	return address.Uint160ToString(c.custody)
}

// Transfer invokes the token's transfer method moving amount from custody to
// the recipient. Reports the on-chain boolean result.
func (c *ChainClient) Transfer(ctx context.Context, to string, amount int64) (bool, error) {
	toHash, err := address.StringToUint160(strings.TrimSpace(to))
	if err != nil {
		return false, fmt.Errorf("parse recipient: %w", err)
	}
	return c.invokeTransfer(ctx, c.custody, toHash, amount)
}

// TransferFrom invokes the token's transfer method moving amount from the
// given holder to the recipient. The holder must have authorised the custody
// signer on the token contract.
func (c *ChainClient) TransferFrom(ctx context.Context, from, to string, amount int64) (bool, error) {
	fromHash, err := address.StringToUint160(strings.TrimSpace(from))
	if err != nil {
		return false, fmt.Errorf("parse source: %w", err)
	}
	toHash, err := address.StringToUint160(strings.TrimSpace(to))
	if err != nil {
		return false, fmt.Errorf("parse recipient: %w", err)
	}
	return c.invokeTransfer(ctx, fromHash, toHash, amount)
}

// BalanceOf reads the holder's token balance.
func (c *ChainClient) BalanceOf(ctx context.Context, holder string) (int64, error) {
	holderHash, err := address.StringToUint160(strings.TrimSpace(holder))
	if err != nil {
		return 0, fmt.Errorf("parse holder: %w", err)
	}

	result, err := c.invokeFunction(ctx, "balanceOf", []contractParam{
		hash160Param(holderHash),
	}, nil)
	if err != nil {
		return 0, err
	}
	if result.State != "HALT" {
		return 0, fmt.Errorf("balanceOf faulted: %s", result.Exception)
	}
	return stackInteger(result.Stack)
}

func (c *ChainClient) invokeTransfer(ctx context.Context, from, to util.Uint160, amount int64) (bool, error) {
	params := []contractParam{
		hash160Param(from),
		hash160Param(to),
		integerParam(amount),
		{Type: "Any", Value: nil},
	}
	signers := []signer{{Account: "0x" + from.StringLE(), Scopes: "CalledByEntry"}}

	result, err := c.invokeFunction(ctx, "transfer", params, signers)
	if err != nil {
		return false, err
	}
	if result.State != "HALT" {
		return false, nil
	}
	ok, err := stackBoolean(result.Stack)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// =============================================================================
// JSON-RPC plumbing
// =============================================================================

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type contractParam struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

type signer struct {
	Account string `json:"account"`
	Scopes  string `json:"scopes"`
}

type invokeResult struct {
	State       string      `json:"state"`
	GasConsumed string      `json:"gasconsumed"`
	Exception   string      `json:"exception"`
	Stack       []stackItem `json:"stack"`
	Tx          string      `json:"tx"`
}

type stackItem struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

func hash160Param(h util.Uint160) contractParam {
	return contractParam{Type: "Hash160", Value: "0x" + h.StringLE()}
}

func integerParam(v int64) contractParam {
	return contractParam{Type: "Integer", Value: strconv.FormatInt(v, 10)}
}

func (c *ChainClient) invokeFunction(ctx context.Context, method string, params []contractParam, signers []signer) (*invokeResult, error) {
	args := []any{c.tokenHash, method, params}
	if len(signers) > 0 {
		args = append(args, signers)
	}

	raw, err := c.call(ctx, "invokefunction", args)
	if err != nil {
		return nil, err
	}

	var result invokeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode invoke result: %w", err)
	}
	return &result, nil
}

func (c *ChainClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var decoded rpcResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode rpc response: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("rpc %s: %s (code %d)", method, decoded.Error.Message, decoded.Error.Code)
	}
	return decoded.Result, nil
}

func stackInteger(stack []stackItem) (int64, error) {
	if len(stack) == 0 {
		return 0, fmt.Errorf("empty result stack")
	}
	item := stack[len(stack)-1]
	var raw string
	if err := json.Unmarshal(item.Value, &raw); err != nil {
		return 0, fmt.Errorf("decode integer item: %w", err)
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse integer item: %w", err)
	}
	return value, nil
}

func stackBoolean(stack []stackItem) (bool, error) {
	if len(stack) == 0 {
		return false, fmt.Errorf("empty result stack")
	}
	item := stack[len(stack)-1]
	switch item.Type {
	case "Boolean":
		var value bool
		if err := json.Unmarshal(item.Value, &value); err != nil {
			return false, fmt.Errorf("decode boolean item: %w", err)
		}
		return value, nil
	case "Integer":
		value, err := stackInteger(stack)
		if err != nil {
			return false, err
		}
		return value != 0, nil
	default:
		return false, fmt.Errorf("unexpected stack item type %s", item.Type)
	}
}
