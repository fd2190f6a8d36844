package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/accounting"
	"github.com/odyssey-erp/backoffice/internal/documents"
	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/reconcile"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/store/memory"
)

type identity struct {
	actor int64
	roles string
}

var (
	officerID = identity{actor: 3, roles: "ACCOUNTS_OFFICER"}
	managerID = identity{actor: 2, roles: "MANAGER"}
)

func testConfig() *Config {
	return &Config{
		AppEnv:              "test",
		AppRequestTimeout:   5 * time.Second,
		RateLimitPerMinute:  1000,
		CORSAllowedOrigins:  []string{"https://ops.example"},
		BalanceTolerance:    decimal.New(5, -3),
		DefaultBagsPerTonne: decimal.NewFromInt(16),
		NumberRetryLimit:    5,
		AllowPeriodReopen:   true,
		ReportCacheTTL:      time.Minute,
	}
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := testConfig()
	store := memory.New()
	store.SeedDemo(1, time.Now().UTC())

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics()
	services := NewServices(cfg, MemoryBackend(store), client, metrics, logger)
	return NewRouter(services.RouterParams(cfg, logger, metrics))
}

func send(t *testing.T, h http.Handler, id *identity, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if id != nil {
		req.Header.Set("X-Actor-ID", fmt.Sprint(id.actor))
		req.Header.Set("X-Company-ID", "1")
		req.Header.Set("X-Roles", id.roles)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthAndHeaders(t *testing.T) {
	h := newTestRouter(t)
	rr := send(t, h, nil, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestRouterRequiresIdentity(t *testing.T) {
	h := newTestRouter(t)
	rr := send(t, h, nil, http.MethodGet, "/documents", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("X-Actor-ID", "abc")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouterCORSPreflight(t *testing.T) {
	h := newTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/documents/invoice", nil)
	req.Header.Set("Origin", "https://ops.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, "https://ops.example", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterInvoiceToReconcile(t *testing.T) {
	h := newTestRouter(t)

	rr := send(t, h, &officerID, http.MethodGet, "/accounts", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var accounts []accounting.Account
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &accounts))
	var salesID int64
	for _, a := range accounts {
		if a.Code == "4000" {
			salesID = a.ID
		}
	}
	require.NotZero(t, salesID)

	rr = send(t, h, &officerID, http.MethodPost, "/documents/invoice", map[string]any{
		"doc_date": time.Now().UTC().Format(time.DateOnly),
		"party_id": 77,
		"lines": []map[string]any{
			{"account_id": salesID, "description": "cocoa", "quantity": "4", "unit_price": "250"},
		},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var doc documents.Document
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))

	rr = send(t, h, &officerID, http.MethodPost, fmt.Sprintf("/documents/%d/submit", doc.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rr = send(t, h, &managerID, http.MethodPost, fmt.Sprintf("/documents/%d/post", doc.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	require.Equal(t, shared.StatusPosted, doc.Status)

	rr = send(t, h, &managerID, http.MethodGet, "/reports/reconcile?side=AR", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var res reconcile.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.True(t, res.ControlBalance.Equal(decimal.NewFromInt(1000)), res.ControlBalance.String())
	require.True(t, res.Difference.IsZero())

	rr = send(t, h, &managerID, http.MethodGet, fmt.Sprintf("/audit/document/%d", doc.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "document.post")

	rr = send(t, h, nil, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, strings.Contains(rr.Body.String(), `backoffice_journals_posted_total{source="DOC:`), rr.Body.String())
	require.Contains(t, rr.Body.String(), "backoffice_http_requests_total")
}
