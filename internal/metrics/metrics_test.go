package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordClaim(t *testing.T) {
	beforeSuccess := testutil.ToFloat64(claimsTotal.WithLabelValues("success"))
	beforeTokens := testutil.ToFloat64(tokensClaimed)

	RecordClaim("success", 500)
	RecordClaim("INSUFFICIENT_BALANCE", 0)

	assert.Equal(t, beforeSuccess+1, testutil.ToFloat64(claimsTotal.WithLabelValues("success")))
	assert.Equal(t, beforeTokens+500, testutil.ToFloat64(tokensClaimed))
	assert.GreaterOrEqual(t, testutil.ToFloat64(claimsTotal.WithLabelValues("INSUFFICIENT_BALANCE")), float64(1))
}

func TestObserveCalls(t *testing.T) {
	ObserveLedgerCall("transfer", nil, 120*time.Millisecond)
	ObserveStoreCall("patch", errors.New("down"), 10*time.Millisecond)

	assert.Equal(t, 1, testutil.CollectAndCount(ledgerCalls, "claimer_ledger_call_duration_seconds"))
	assert.GreaterOrEqual(t, testutil.CollectAndCount(storeCalls), 1)
}

func TestInstrumentHandlerAndExposition(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/wallet/link", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(httpRequests.WithLabelValues("POST", "/api/wallet", "418")))

	out := httptest.NewRecorder()
	Handler().ServeHTTP(out, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, out.Code)
	assert.True(t, strings.Contains(out.Body.String(), "claimer_http_requests_total"))
}

func TestCanonicalPath(t *testing.T) {
	assert.Equal(t, "/", canonicalPath("/"))
	assert.Equal(t, "/api/claim", canonicalPath("/api/claim"))
	assert.Equal(t, "/api/wallet", canonicalPath("/api/wallet/link/"))
	assert.Equal(t, "/health", canonicalPath("health"))
}
