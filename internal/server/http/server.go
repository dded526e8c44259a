// Package httpserver exposes the signal intake and account query endpoints.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/tradeflow/errs"
	"github.com/coachpo/tradeflow/internal/config"
	"github.com/coachpo/tradeflow/internal/engine"
	"github.com/coachpo/tradeflow/internal/observability"
	"github.com/coachpo/tradeflow/internal/schema"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	healthPath = "/healthz"
)

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	orchestrator *engine.Orchestrator
}

// NewHandler builds the HTTP handler over the orchestrator using the
// configured endpoint paths.
func NewHandler(orchestrator *engine.Orchestrator, endpoints config.EndpointsConfig) http.Handler {
	server := &httpServer{orchestrator: orchestrator}
	mux := http.NewServeMux()

	mux.Handle(endpoints.Signal, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.acceptSignal,
	}))
	mux.Handle(endpoints.ReleaseQuote, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.releaseQuote,
	}))
	mux.Handle(endpoints.Balances, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getBalances,
	}))
	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getHealth,
	}))

	return withAccessLog(mux)
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

// acceptSignal validates the payload, acknowledges with 202, and hands the
// signal to the orchestrator for background processing. Order dispatch outcome
// is never part of the HTTP response.
func (s *httpServer) acceptSignal(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	signal, err := decodeSignal(r)
	if err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := signal.Validate(); err != nil {
		writeEngineError(w, err)
		return
	}
	// Processing outlives the request, so detach from the request context.
	s.orchestrator.ProcessSignalAsync(context.WithoutCancel(r.Context()), signal)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"asset":  signal.Asset,
		"side":   string(signal.Side),
	})
}

type releaseQuoteRequest struct {
	Account string          `json:"account"`
	Quote   string          `json:"quote"`
	Total   decimal.Decimal `json:"total"`
}

func (s *httpServer) releaseQuote(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	req, err := decodeReleaseQuote(r)
	if err != nil {
		writeDecodeError(w, err)
		return
	}
	plan, balance, err := s.orchestrator.ReleaseQuote(r.Context(), req.Account, req.Quote, req.Total)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plan":    plan,
		"balance": balance,
	})
}

func (s *httpServer) getBalances(w http.ResponseWriter, r *http.Request) {
	views := s.orchestrator.Balances(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"accounts": views})
}

func (s *httpServer) getHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"accounts": len(s.orchestrator.ActiveAccounts()),
	})
}

func decodeSignal(r *http.Request) (*schema.Signal, error) {
	defer func() {
		_ = r.Body.Close()
	}()
	signal := new(schema.Signal)
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(signal); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	signal.Asset = strings.ToUpper(strings.TrimSpace(signal.Asset))
	signal.Side = schema.OrderSide(strings.ToLower(strings.TrimSpace(string(signal.Side))))
	return signal, nil
}

func decodeReleaseQuote(r *http.Request) (releaseQuoteRequest, error) {
	defer func() {
		_ = r.Body.Close()
	}()
	var req releaseQuoteRequest
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&req); err != nil {
		return req, fmt.Errorf("decode payload: %w", err)
	}
	req.Account = strings.TrimSpace(req.Account)
	req.Quote = strings.ToUpper(strings.TrimSpace(req.Quote))
	if req.Account == "" {
		return req, fmt.Errorf("account required")
	}
	if req.Quote == "" {
		return req, fmt.Errorf("quote required")
	}
	if !req.Total.IsPositive() {
		return req, fmt.Errorf("total must be > 0")
	}
	return req, nil
}

func writeEngineError(w http.ResponseWriter, err error) {
	var engineErr *errs.E
	if errors.As(err, &engineErr) {
		writeError(w, statusForCode(engineErr.Code), engineErr.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func statusForCode(code errs.Code) int {
	switch code {
	case errs.CodeInvalid:
		return http.StatusBadRequest
	case errs.CodeNotFound:
		return http.StatusNotFound
	case errs.CodeAuth:
		return http.StatusUnauthorized
	case errs.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if isRequestTooLarge(err) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func isRequestTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func withAccessLog(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler.ServeHTTP(recorder, r)
		observability.Log().Info("http request",
			observability.F("method", r.Method),
			observability.F("path", r.URL.Path),
			observability.F("status", recorder.status),
			observability.F("duration", time.Since(start).String()))
	})
}
