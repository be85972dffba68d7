package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"PerpFunding/internal/ledger"
	"PerpFunding/internal/observability"
	"PerpFunding/internal/projection"
	"PerpFunding/internal/query"
	"PerpFunding/internal/server"
	"PerpFunding/internal/state"
	"PerpFunding/internal/testutil"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func newTestHandler(t *testing.T) (http.Handler, *server.Server) {
	t.Helper()
	history := projection.NewFundingHistory(0)
	history.Seed([]*state.Market{testutil.Market(0)}, -1)

	reg := prometheus.NewRegistry()
	srv := server.New("127.0.0.1:0", "127.0.0.1:0", &server.Deps{
		QueryService:  query.NewQueryService(history, nil, nil).WithLedger(ledger.NewBook()),
		HealthChecker: observability.NewHealthChecker(),
		Gatherer:      reg,
		Metrics:       observability.NewMetrics(reg),
		Logger:        zerolog.Nop(),
	})
	return srv.Handler(), srv
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestMarketFundingRoute(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := get(t, h, "/v1/markets/0/funding")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}
	var body query.MarketFundingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Symbol != "TEST0-PERP" || body.FundingPeriod != 3600 {
		t.Errorf("unexpected body: %+v", body)
	}
	if body.OraclePriceTwap != "0.01" {
		t.Errorf("oracle twap: got %s", body.OraclePriceTwap)
	}
}

func TestRouteErrors(t *testing.T) {
	h, _ := newTestHandler(t)

	tests := []struct {
		path string
		want int
	}{
		{"/v1/markets/abc/funding", http.StatusBadRequest},
		{"/v1/markets/9/funding", http.StatusNotFound},
		{"/v1/markets/0/funding-rates?limit=x", http.StatusBadRequest},
		{"/v1/markets/0/funding-rates?limit=100000", http.StatusBadRequest},
		{"/v1/users/not-a-uuid/funding-payments", http.StatusBadRequest},
		{"/v1/admin/integrity", http.StatusServiceUnavailable},
		{"/v1/markets/9/ledger", http.StatusNotFound},
		{"/v1/users/nope/ledger", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := get(t, h, tt.path); rec.Code != tt.want {
			t.Errorf("%s: got %d, want %d (%s)", tt.path, rec.Code, tt.want, rec.Body.String())
		}
	}
}

func TestFundingPaymentsRoute_Empty(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := get(t, h, "/v1/users/"+uuid.NewString()+"/funding-payments?limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var body struct {
		FundingPayments []query.FundingPaymentResponse `json:"funding_payments"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.FundingPayments) != 0 {
		t.Errorf("expected no payments, got %d", len(body.FundingPayments))
	}
}

func TestMarketLedgerRoute(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := get(t, h, "/v1/markets/0/ledger")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}
	var body query.MarketLedgerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.FundingPool != "0" || body.FeePool != "0" || !body.Balanced {
		t.Errorf("unexpected body: %+v", body)
	}
	if body.AsOfSequence != -1 {
		t.Errorf("as_of_sequence: got %d, want -1", body.AsOfSequence)
	}
}

func TestReadinessFollowsSetServing(t *testing.T) {
	h, srv := newTestHandler(t)

	if rec := get(t, h, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("before ready: got %d", rec.Code)
	}
	srv.SetServing(true)
	if rec := get(t, h, "/readyz"); rec.Code != http.StatusOK {
		t.Errorf("after ready: got %d", rec.Code)
	}
	if rec := get(t, h, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("liveness: got %d", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	h, _ := newTestHandler(t)
	get(t, h, "/v1/markets/0/funding")

	rec := get(t, h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "perp_funding_query_requests_total") {
		t.Error("query metrics not exported")
	}
}
