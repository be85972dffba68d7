package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"PerpFunding/internal/observability"
	"PerpFunding/internal/query"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// Deps holds what the servers need.
type Deps struct {
	QueryService  *query.QueryService
	HealthChecker *observability.HealthChecker
	Gatherer      prometheus.Gatherer // nil uses the default registry
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

// Server runs the gRPC server (health and reflection) and the HTTP server
// (JSON query API, health probes and metrics).
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	grpcAddr   string
	httpAddr   string
	deps       *Deps
	logger     zerolog.Logger
}

func New(grpcAddr, httpAddr string, deps *Deps) *Server {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// grpcurl / grpcui
	reflection.Register(grpcServer)

	return &Server{
		grpcServer: grpcServer,
		health:     healthServer,
		grpcAddr:   grpcAddr,
		httpAddr:   httpAddr,
		deps:       deps,
		logger:     deps.Logger,
	}
}

// SetServing flips the gRPC health status and HTTP readiness together.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	if s.deps.HealthChecker != nil {
		s.deps.HealthChecker.SetReady(serving)
	}
}

// StartGRPC serves gRPC until ctx is cancelled.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP serves the HTTP API until ctx is cancelled.
func (s *Server) StartHTTP(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler builds the HTTP routing tree.
func (s *Server) Handler() http.Handler {
	gw := runtime.NewServeMux()
	h := &handlers{qs: s.deps.QueryService, mux: gw, metrics: s.deps.Metrics}

	routes := []struct {
		pattern string
		name    string
		fn      runtime.HandlerFunc
	}{
		{"/v1/markets/{index}/funding", "market_funding", h.marketFunding},
		{"/v1/markets/{index}/funding-rates", "funding_rates", h.fundingRates},
		{"/v1/markets/{index}/ledger", "market_ledger", h.marketLedger},
		{"/v1/users/{user}/funding-payments", "funding_payments", h.fundingPayments},
		{"/v1/users/{user}/ledger", "user_ledger", h.userLedger},
		{"/v1/admin/integrity", "integrity", h.integrity},
	}
	for _, r := range routes {
		if err := gw.HandlePath(http.MethodGet, r.pattern, h.instrument(r.name, r.fn)); err != nil {
			// patterns are constants; a failure here is a programming error
			panic(fmt.Sprintf("register %s: %v", r.pattern, err))
		}
	}

	gatherer := s.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	if s.deps.HealthChecker != nil {
		mux.HandleFunc("/healthz", s.deps.HealthChecker.LivenessHandler)
		mux.HandleFunc("/readyz", s.deps.HealthChecker.ReadinessHandler)
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/", gw)
	return mux
}

type handlers struct {
	qs      *query.QueryService
	mux     *runtime.ServeMux
	metrics *observability.Metrics
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *handlers) instrument(endpoint string, fn runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		fn(rec, r, params)
		if h.metrics != nil {
			h.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(rec.code)).Inc()
			h.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
			if rec.code >= http.StatusBadRequest {
				h.metrics.QueryErrors.WithLabelValues(endpoint, strconv.Itoa(rec.code)).Inc()
			}
		}
	}
}

func (h *handlers) marketFunding(w http.ResponseWriter, r *http.Request, params map[string]string) {
	idx, err := strconv.ParseUint(params["index"], 10, 64)
	if err != nil {
		h.fail(w, r, status.Errorf(codes.InvalidArgument, "invalid market index %q", params["index"]))
		return
	}
	resp, err := h.qs.GetMarketFunding(r.Context(), idx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, resp)
}

func (h *handlers) fundingRates(w http.ResponseWriter, r *http.Request, params map[string]string) {
	idx, err := strconv.ParseUint(params["index"], 10, 64)
	if err != nil {
		h.fail(w, r, status.Errorf(codes.InvalidArgument, "invalid market index %q", params["index"]))
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rates, err := h.qs.GetFundingRates(r.Context(), idx, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]interface{}{"market_index": idx, "funding_rates": rates})
}

func (h *handlers) fundingPayments(w http.ResponseWriter, r *http.Request, params map[string]string) {
	user, err := uuid.Parse(params["user"])
	if err != nil {
		h.fail(w, r, status.Errorf(codes.InvalidArgument, "invalid user %q: %v", params["user"], err))
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	payments, err := h.qs.GetFundingPayments(r.Context(), user, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]interface{}{"user": user, "funding_payments": payments})
}

func (h *handlers) marketLedger(w http.ResponseWriter, r *http.Request, params map[string]string) {
	idx, err := strconv.ParseUint(params["index"], 10, 64)
	if err != nil {
		h.fail(w, r, status.Errorf(codes.InvalidArgument, "invalid market index %q", params["index"]))
		return
	}
	resp, err := h.qs.GetMarketLedger(r.Context(), idx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, resp)
}

func (h *handlers) userLedger(w http.ResponseWriter, r *http.Request, params map[string]string) {
	user, err := uuid.Parse(params["user"])
	if err != nil {
		h.fail(w, r, status.Errorf(codes.InvalidArgument, "invalid user %q: %v", params["user"], err))
		return
	}
	resp, err := h.qs.GetUserLedger(r.Context(), user)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, resp)
}

func (h *handlers) integrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := h.qs.VerifyIntegrity(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, report)
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "invalid limit %q", raw)
	}
	return limit, nil
}

// fail renders err through the gateway's error handler so HTTP errors look
// the same as gateway-generated ones.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	if _, ok := status.FromError(err); !ok {
		err = toStatus(err)
	}
	runtime.HTTPError(r.Context(), h.mux, &runtime.JSONPb{}, w, r, err)
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, query.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, query.ErrInvalidLimit):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, query.ErrUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
