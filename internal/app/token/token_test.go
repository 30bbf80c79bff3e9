package token

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/stretchr/testify/require"
)

func TestMemory_TransferAndBalance(t *testing.T) {
	ledger := NewMemory("custody")
	ledger.Mint("custody", 1000)

	ok, err := ledger.Transfer(context.Background(), "alice", 400)
	if err != nil || !ok {
		t.Fatalf("transfer: ok=%v err=%v", ok, err)
	}

	balance, _ := ledger.BalanceOf(context.Background(), "custody")
	if balance != 600 {
		t.Fatalf("custody balance = %d, want 600", balance)
	}
	balance, _ = ledger.BalanceOf(context.Background(), "alice")
	if balance != 400 {
		t.Fatalf("alice balance = %d, want 400", balance)
	}

	ok, err = ledger.Transfer(context.Background(), "alice", 700)
	if err != nil {
		t.Fatalf("overdraw should not error at transport level: %v", err)
	}
	if ok {
		t.Fatalf("overdraw must be rejected")
	}
}

func TestMemory_TransferFrom(t *testing.T) {
	ledger := NewMemory("custody")
	ledger.Mint("operator", 500)

	ok, err := ledger.TransferFrom(context.Background(), "operator", "custody", 500)
	if err != nil || !ok {
		t.Fatalf("transferFrom: ok=%v err=%v", ok, err)
	}
	balance, _ := ledger.BalanceOf(context.Background(), "custody")
	if balance != 500 {
		t.Fatalf("custody balance = %d, want 500", balance)
	}
}

func TestMemory_FailureInjection(t *testing.T) {
	ledger := NewMemory("custody")
	ledger.Mint("custody", 100)

	ledger.RejectNextTransfer()
	ok, err := ledger.Transfer(context.Background(), "a", 10)
	if err != nil || ok {
		t.Fatalf("rejected transfer: ok=%v err=%v", ok, err)
	}
	ok, err = ledger.Transfer(context.Background(), "a", 10)
	if err != nil || !ok {
		t.Fatalf("rejection must clear after one transfer: ok=%v err=%v", ok, err)
	}

	ledger.FailTransfers(true)
	if _, err := ledger.Transfer(context.Background(), "a", 10); err == nil {
		t.Fatalf("forced failure should surface an error")
	}
}

func testAddress(b byte) string {
	var h util.Uint160
	h[0] = b
	return address.Uint160ToString(h)
}

func fakeNode(t *testing.T, handler func(method string, params []any) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		result := handler(req.Method, req.Params)
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  result,
		}))
	}))
}

func TestChainClient_BalanceOf(t *testing.T) {
	node := fakeNode(t, func(method string, _ []any) any {
		require.Equal(t, "invokefunction", method)
		return map[string]any{
			"state":       "HALT",
			"gasconsumed": "203",
			"stack":       []map[string]any{{"type": "Integer", "value": "2000000"}},
		}
	})
	defer node.Close()

	client, err := NewChainClient(ChainConfig{
		RPCURL:         node.URL,
		TokenHash:      "0x1234567890abcdef1234567890abcdef12345678",
		CustodyAddress: testAddress(1),
	})
	require.NoError(t, err)

	balance, err := client.BalanceOf(context.Background(), testAddress(1))
	require.NoError(t, err)
	require.Equal(t, int64(2_000_000), balance)
}

func TestChainClient_TransferResult(t *testing.T) {
	success := true
	node := fakeNode(t, func(_ string, _ []any) any {
		return map[string]any{
			"state": "HALT",
			"stack": []map[string]any{{"type": "Boolean", "value": success}},
			"tx":    "0xabc",
		}
	})
	defer node.Close()

	client, err := NewChainClient(ChainConfig{
		RPCURL:         node.URL,
		TokenHash:      "0x1234567890abcdef1234567890abcdef12345678",
		CustodyAddress: testAddress(1),
	})
	require.NoError(t, err)

	ok, err := client.Transfer(context.Background(), testAddress(2), 100)
	require.NoError(t, err)
	require.True(t, ok)

	success = false
	ok, err = client.Transfer(context.Background(), testAddress(2), 100)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChainClient_ConfigValidation(t *testing.T) {
	_, err := NewChainClient(ChainConfig{TokenHash: "0xabc", CustodyAddress: testAddress(1)})
	require.Error(t, err)

	_, err = NewChainClient(ChainConfig{RPCURL: "http://localhost:10332", CustodyAddress: testAddress(1)})
	require.Error(t, err)

	_, err = NewChainClient(ChainConfig{RPCURL: "http://localhost:10332", TokenHash: "0xabc", CustodyAddress: "not-an-address"})
	require.Error(t, err)
}
