// Package httpapi exposes the settlement engine over REST plus a websocket
// event feed. Authentication is JWT bearer tokens; authorization stays in
// the engine, which knows the role registry.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	app "github.com/R3E-Network/bridge_layer/internal/app"
	"github.com/R3E-Network/bridge_layer/internal/app/auth"
	"github.com/R3E-Network/bridge_layer/internal/app/domain/settlement"
	"github.com/R3E-Network/bridge_layer/internal/app/metrics"
	settlementsvc "github.com/R3E-Network/bridge_layer/internal/app/services/settlement"
	"github.com/R3E-Network/bridge_layer/pkg/logger"
)

// Options configures the HTTP surface.
type Options struct {
	// JWTSecret signs and verifies bearer tokens (HS256). Required.
	JWTSecret string

	// Broker feeds the websocket endpoint. Optional; without it the
	// endpoint reports 501.
	Broker *Broker

	// AuditLogPath enables the JSONL audit sink when set.
	AuditLogPath string

	RateLimit      int
	RateLimitBurst int

	Log *logger.Logger
}

type handler struct {
	app      *app.Application
	broker   *Broker
	audit    *auditLog
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// NewHandler returns the gateway router.
func NewHandler(application *app.Application, opts Options) (http.Handler, error) {
	if opts.JWTSecret == "" {
		return nil, fmt.Errorf("httpapi requires a JWT secret")
	}
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("httpapi")
	}

	sink, err := newFileAuditSink(opts.AuditLogPath)
	if err != nil {
		return nil, fmt.Errorf("open audit sink: %w", err)
	}

	h := &handler{
		app:    application,
		broker: opts.Broker,
		audit:  newAuditLog(0, sink),
		log:    log,
	}

	r := mux.NewRouter()

	r.Handle("/healthz", metrics.Instrument("/healthz", http.HandlerFunc(h.healthz))).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	instrument := func(path string, fn http.HandlerFunc) http.Handler {
		return metrics.Instrument(path, h.audited(path, fn))
	}

	r.Handle("/transfers", instrument("/transfers", h.releaseTransfer)).Methods(http.MethodPost)
	r.Handle("/reserve", instrument("/reserve", h.reserveStatus)).Methods(http.MethodGet)
	r.Handle("/reserve/replenish", instrument("/reserve/replenish", h.replenish)).Methods(http.MethodPost)
	r.Handle("/reserve/withdraw", instrument("/reserve/withdraw", h.withdraw)).Methods(http.MethodPost)

	r.Handle("/engine/pause", instrument("/engine/pause", h.pause)).Methods(http.MethodPost)
	r.Handle("/engine/unpause", instrument("/engine/unpause", h.unpause)).Methods(http.MethodPost)

	r.Handle("/policy", instrument("/policy", h.policy)).Methods(http.MethodGet)
	r.Handle("/policy/fees", instrument("/policy/fees", h.updateFees)).Methods(http.MethodPut)
	r.Handle("/policy/limits", instrument("/policy/limits", h.updateLimits)).Methods(http.MethodPut)
	r.Handle("/policy/thresholds", instrument("/policy/thresholds", h.updateThresholds)).Methods(http.MethodPut)

	r.Handle("/roles/{identity}/{role}", instrument("/roles/{identity}/{role}", h.grantRole)).Methods(http.MethodPost)
	r.Handle("/roles/{identity}/{role}", instrument("/roles/{identity}/{role}", h.revokeRole)).Methods(http.MethodDelete)

	r.Handle("/fees/quote", instrument("/fees/quote", h.feeQuote)).Methods(http.MethodGet)
	r.Handle("/limits/effective-max", instrument("/limits/effective-max", h.effectiveMax)).Methods(http.MethodGet)

	r.Handle("/events", instrument("/events", h.listEvents)).Methods(http.MethodGet)
	// Not instrumented: the metrics wrapper's response recorder does not
	// implement http.Hijacker, which the websocket upgrade needs.
	r.HandleFunc("/events/ws", h.eventsWS).Methods(http.MethodGet)

	r.Handle("/audit", instrument("/audit", h.auditEntries)).Methods(http.MethodGet)

	authn := newAuthMiddleware(opts.JWTSecret, log, []string{"/healthz", "/metrics"})
	limiter := newRateLimiter(opts.RateLimit, opts.RateLimitBurst)
	r.Use(mux.MiddlewareFunc(authn.handler), mux.MiddlewareFunc(limiter.handler))

	return r, nil
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- settlement --------------------------------------------------------------

func (h *handler) releaseTransfer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TransferID string `json:"transfer_id"`
		Recipient  string `json:"recipient"`
		Amount     int64  `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	receipt, err := h.app.Engine.ReleaseTransfer(r.Context(), Identity(r.Context()), payload.TransferID, payload.Recipient, payload.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (h *handler) replenish(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	evt, err := h.app.Engine.Replenish(r.Context(), Identity(r.Context()), payload.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evt)
}

func (h *handler) withdraw(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		To     string `json:"to"`
		Amount int64  `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	evt, err := h.app.Engine.Withdraw(r.Context(), Identity(r.Context()), payload.To, payload.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evt)
}

// --- breaker -----------------------------------------------------------------

func (h *handler) pause(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Engine.Pause(r.Context(), Identity(r.Context())); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) unpause(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Engine.Unpause(r.Context(), Identity(r.Context())); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- policy ------------------------------------------------------------------

func (h *handler) policy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Engine.Policy())
}

func (h *handler) updateFees(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		BaseFeeBps    int64 `json:"base_fee_bps"`
		DynamicFeeBps int64 `json:"dynamic_fee_bps"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Engine.UpdateFees(r.Context(), Identity(r.Context()), payload.BaseFeeBps, payload.DynamicFeeBps); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.app.Engine.Policy())
}

func (h *handler) updateLimits(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		MinTransferAmount int64 `json:"min_transfer_amount"`
		MaxTransferAmount int64 `json:"max_transfer_amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Engine.UpdateTransferLimits(r.Context(), Identity(r.Context()), payload.MinTransferAmount, payload.MaxTransferAmount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.app.Engine.Policy())
}

func (h *handler) updateThresholds(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ReserveThreshold    int64 `json:"reserve_threshold"`
		LowReserveMaxAmount int64 `json:"low_reserve_max_amount"`
		EmergencyThreshold  int64 `json:"emergency_threshold"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Engine.UpdateReserveThresholds(r.Context(), Identity(r.Context()), payload.ReserveThreshold, payload.LowReserveMaxAmount, payload.EmergencyThreshold); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.app.Engine.Policy())
}

// --- roles -------------------------------------------------------------------

func (h *handler) grantRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	role, err := auth.ParseRole(vars["role"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Engine.GrantRole(r.Context(), Identity(r.Context()), vars["identity"], role); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	role, err := auth.ParseRole(vars["role"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Engine.RevokeRole(r.Context(), Identity(r.Context()), vars["identity"], role); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- queries -----------------------------------------------------------------

func (h *handler) reserveStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.app.Engine.ReserveStatus(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *handler) feeQuote(w http.ResponseWriter, r *http.Request) {
	amount, err := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("amount: %w", err))
		return
	}
	fee := h.app.Engine.CalculateFee(amount)
	writeJSON(w, http.StatusOK, map[string]int64{
		"amount":     amount,
		"fee":        fee,
		"net_amount": amount - fee,
	})
}

func (h *handler) effectiveMax(w http.ResponseWriter, r *http.Request) {
	max, err := h.app.Engine.EffectiveMaxTransferAmount(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"effective_max_transfer_amount": max})
}

func (h *handler) listEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit: %w", err))
			return
		}
		limit = parsed
	}

	var (
		events []settlement.Event
		err    error
	)
	if typ := r.URL.Query().Get("type"); typ != "" {
		events, err = h.app.Events.ListEventsByType(r.Context(), settlement.EventType(typ), limit)
	} else {
		events, err = h.app.Events.ListEvents(r.Context(), limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []settlement.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *handler) eventsWS(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, http.StatusNotImplemented, errors.New("event feed not configured"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	feed, cancel := h.broker.Subscribe()
	defer cancel()

	// Drain client frames so pings and close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-feed:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	if !h.app.Engine.HasRole(Identity(r.Context()), auth.RoleAdmin) {
		writeError(w, http.StatusForbidden, auth.ErrUnauthorized)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// audited records an audit entry for every request passing through.
func (h *handler) audited(path string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		h.audit.add(auditEntry{
			Time:       timeNow(),
			Identity:   Identity(r.Context()),
			Path:       path,
			Method:     r.Method,
			Status:     recorder.status,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// writeEngineError maps the engine's failure taxonomy to HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, settlementsvc.ErrHalted),
		errors.Is(err, settlementsvc.ErrInsufficientReserve),
		errors.Is(err, settlementsvc.ErrBelowEmergencyThreshold):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, settlementsvc.ErrInvalidPolicy),
		errors.Is(err, settlementsvc.ErrInvalidAmount),
		errors.Is(err, settlementsvc.ErrInvalidRecipient),
		errors.Is(err, settlementsvc.ErrBelowMinimum),
		errors.Is(err, settlementsvc.ErrExceedsMaximum):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, settlementsvc.ErrTransferFailed):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(body io.ReadCloser, dst any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
