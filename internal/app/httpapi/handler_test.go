package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	app "github.com/R3E-Network/bridge_layer/internal/app"
	"github.com/R3E-Network/bridge_layer/internal/app/storage/memory"
	"github.com/R3E-Network/bridge_layer/internal/app/token"
	"github.com/R3E-Network/bridge_layer/pkg/logger"
)

const testSecret = "test-secret"

type testServer struct {
	srv    *httptest.Server
	ledger *token.Memory
}

func newTestServer(t *testing.T, reserve int64) *testServer {
	t.Helper()

	ledger := token.NewMemory("custody")
	if reserve > 0 {
		ledger.Mint("custody", reserve)
	}
	store := memory.New()
	broker := NewBroker(store)

	log := logger.New("httpapi-test", io.Discard, logrus.ErrorLevel)
	application, err := app.New(context.Background(), app.Options{
		Stores:    app.Stores{Events: broker, Policies: store, Roles: store},
		Token:     ledger,
		Custody:   "custody",
		Admins:    []string{"admin-1"},
		Operators: []string{"ops-1"},
		Log:       log,
	})
	if err != nil {
		t.Fatalf("build app: %v", err)
	}

	h, err := NewHandler(application, Options{
		JWTSecret:      testSecret,
		Broker:         broker,
		RateLimit:      1000,
		RateLimitBurst: 1000,
		Log:            log,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, ledger: ledger}
}

func bearerToken(t *testing.T, identity string) string {
	t.Helper()
	claims := &Claims{
		Identity: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (ts *testServer) do(t *testing.T, identity, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if identity != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken(t, identity))
	}

	resp, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthzWithoutAuth(t *testing.T) {
	ts := newTestServer(t, 2_000_000)

	resp, err := http.Get(ts.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, 2_000_000)

	resp := ts.do(t, "", http.MethodGet, "/reserve", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without token", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/reserve", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp2, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 with bad token", resp2.StatusCode)
	}
}

func TestReleaseTransferHTTP(t *testing.T) {
	ts := newTestServer(t, 2_000_000)

	resp := ts.do(t, "ops-1", http.MethodPost, "/transfers", map[string]any{
		"transfer_id": "xfer-1",
		"recipient":   "recipient-1",
		"amount":      50_000,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var receipt struct {
		FeeAmount  int64 `json:"fee_amount"`
		NetAmount  int64 `json:"net_amount"`
		NewReserve int64 `json:"new_reserve"`
	}
	decodeBody(t, resp, &receipt)
	if receipt.FeeAmount != 750 || receipt.NetAmount != 49_250 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	// Non-operator callers are rejected with 403.
	resp = ts.do(t, "admin-1", http.MethodPost, "/transfers", map[string]any{
		"transfer_id": "xfer-2",
		"recipient":   "recipient-1",
		"amount":      50_000,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for admin without operator role", resp.StatusCode)
	}
}

func TestReleaseWhileHaltedConflicts(t *testing.T) {
	ts := newTestServer(t, 2_000_000)

	if resp := ts.do(t, "admin-1", http.MethodPost, "/engine/pause", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("pause status = %d, want 204", resp.StatusCode)
	}

	resp := ts.do(t, "ops-1", http.MethodPost, "/transfers", map[string]any{
		"transfer_id": "xfer-1",
		"recipient":   "recipient-1",
		"amount":      50_000,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409 while halted", resp.StatusCode)
	}
}

func TestPolicyUpdates(t *testing.T) {
	ts := newTestServer(t, 2_000_000)

	resp := ts.do(t, "ops-1", http.MethodPut, "/policy/fees", map[string]any{
		"base_fee_bps": 200, "dynamic_fee_bps": 100,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("operator fee update status = %d, want 403", resp.StatusCode)
	}

	resp = ts.do(t, "admin-1", http.MethodPut, "/policy/fees", map[string]any{
		"base_fee_bps": 200, "dynamic_fee_bps": 100,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fee update status = %d, want 200", resp.StatusCode)
	}
	var updated struct {
		BaseFeeBps int64 `json:"base_fee_bps"`
	}
	decodeBody(t, resp, &updated)
	if updated.BaseFeeBps != 200 {
		t.Fatalf("base fee = %d, want 200", updated.BaseFeeBps)
	}

	resp = ts.do(t, "admin-1", http.MethodPut, "/policy/thresholds", map[string]any{
		"reserve_threshold": 50_000, "low_reserve_max_amount": 100_000, "emergency_threshold": 80_000,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid thresholds status = %d, want 400", resp.StatusCode)
	}
}

func TestQueries(t *testing.T) {
	ts := newTestServer(t, 2_000_000)

	resp := ts.do(t, "ops-1", http.MethodGet, "/reserve", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reserve status = %d, want 200", resp.StatusCode)
	}
	var status struct {
		CurrentReserve int64 `json:"current_reserve"`
		Active         bool  `json:"active"`
	}
	decodeBody(t, resp, &status)
	if status.CurrentReserve != 2_000_000 || !status.Active {
		t.Fatalf("unexpected status: %+v", status)
	}

	resp = ts.do(t, "ops-1", http.MethodGet, "/fees/quote?amount=50000", nil)
	var quote map[string]int64
	decodeBody(t, resp, &quote)
	if quote["fee"] != 750 || quote["net_amount"] != 49_250 {
		t.Fatalf("unexpected quote: %v", quote)
	}

	resp = ts.do(t, "ops-1", http.MethodGet, "/limits/effective-max", nil)
	var maxBody map[string]int64
	decodeBody(t, resp, &maxBody)
	if maxBody["effective_max_transfer_amount"] != 10_000_000 {
		t.Fatalf("unexpected effective max: %v", maxBody)
	}
}

func TestRolesEndpoint(t *testing.T) {
	ts := newTestServer(t, 2_000_000)

	if resp := ts.do(t, "admin-1", http.MethodPost, "/roles/newcomer/operator", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("grant status = %d, want 204", resp.StatusCode)
	}
	if resp := ts.do(t, "admin-1", http.MethodPost, "/roles/newcomer/viewer", nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown role status = %d, want 400", resp.StatusCode)
	}
	if resp := ts.do(t, "admin-1", http.MethodDelete, "/roles/newcomer/operator", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke status = %d, want 204", resp.StatusCode)
	}
}

func TestEventsListing(t *testing.T) {
	ts := newTestServer(t, 2_000_000)

	ts.do(t, "ops-1", http.MethodPost, "/transfers", map[string]any{
		"transfer_id": "xfer-1", "recipient": "recipient-1", "amount": 50_000,
	})

	resp := ts.do(t, "ops-1", http.MethodGet, "/events?type=transfer.released", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events status = %d, want 200", resp.StatusCode)
	}
	var events []map[string]any
	decodeBody(t, resp, &events)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
}

func TestAuditAdminOnly(t *testing.T) {
	ts := newTestServer(t, 2_000_000)

	ts.do(t, "ops-1", http.MethodGet, "/reserve", nil)

	if resp := ts.do(t, "ops-1", http.MethodGet, "/audit", nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("operator audit status = %d, want 403", resp.StatusCode)
	}
	resp := ts.do(t, "admin-1", http.MethodGet, "/audit", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin audit status = %d, want 200", resp.StatusCode)
	}
	var entries []auditEntry
	decodeBody(t, resp, &entries)
	if len(entries) == 0 {
		t.Fatalf("audit log must record requests")
	}
}

func TestEventsWebsocketFeed(t *testing.T) {
	ts := newTestServer(t, 2_000_000)

	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/events/ws"
	header := http.Header{"Authorization": {"Bearer " + bearerToken(t, "ops-1")}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v (resp=%v)", err, resp)
	}
	defer conn.Close()

	ts.do(t, "ops-1", http.MethodPost, "/transfers", map[string]any{
		"transfer_id": "xfer-ws", "recipient": "recipient-1", "amount": 50_000,
	})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var evt struct {
		Type       string `json:"type"`
		TransferID string `json:"transfer_id"`
	}
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Type != "transfer.released" || evt.TransferID != "xfer-ws" {
		t.Fatalf("unexpected event: %+v", evt)
	}
}

func TestRateLimit(t *testing.T) {
	// Build a handler with a tight limit to exercise 429s.
	store := memory.New()
	ledger := token.NewMemory("custody")
	ledger.Mint("custody", 2_000_000)
	application, err := app.New(context.Background(), app.Options{
		Stores:  app.Stores{Events: store, Policies: store, Roles: store},
		Token:   ledger,
		Custody: "custody",
		Admins:  []string{"admin-1"},
		Log:     logger.New("httpapi-test", io.Discard, logrus.ErrorLevel),
	})
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	h, err := NewHandler(application, Options{JWTSecret: testSecret, RateLimit: 1, RateLimitBurst: 1})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	limited := false
	for i := 0; i < 5; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/reserve", nil)
		req.Header.Set("Authorization", "Bearer "+bearerToken(t, "admin-1"))
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatalf("burst of requests never hit the rate limit")
	}
}
