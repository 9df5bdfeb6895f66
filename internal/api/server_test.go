package api

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pegged-token/claimer/internal/errors"
	"github.com/pegged-token/claimer/internal/service"
	"github.com/pegged-token/claimer/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock service for testing
type mockClaimService struct {
	linkFunc   func(ctx context.Context, address string) (*service.LinkResult, error)
	claimFunc  func(ctx context.Context) (*service.ClaimResult, error)
	syncFunc   func(ctx context.Context) (*service.SyncResult, error)
	statsFunc  func(ctx context.Context) (*service.Stats, error)
	accrueFunc func(ctx context.Context, amount int64) (*service.AccrueResult, error)
	tokensFunc func(ctx context.Context) (*service.TokenData, error)
}

func (m *mockClaimService) LinkWallet(ctx context.Context, address string) (*service.LinkResult, error) {
	if m.linkFunc != nil {
		return m.linkFunc(ctx, address)
	}
	return &service.LinkResult{Linked: true, Wallet: address}, nil
}

func (m *mockClaimService) ClaimTokens(ctx context.Context) (*service.ClaimResult, error) {
	if m.claimFunc != nil {
		return m.claimFunc(ctx)
	}
	return &service.ClaimResult{Signature: "5sig", Amount: 500, TotalClaimed: 500}, nil
}

func (m *mockClaimService) SyncTokens(ctx context.Context) (*service.SyncResult, error) {
	if m.syncFunc != nil {
		return m.syncFunc(ctx)
	}
	return &service.SyncResult{Outcome: types.SyncNoWallet, Message: "no wallet linked"}, nil
}

func (m *mockClaimService) GetStats(ctx context.Context) (*service.Stats, error) {
	if m.statsFunc != nil {
		return m.statsFunc(ctx)
	}
	return &service.Stats{AvailableTokens: 3, OnChainBalance: decimal.RequireFromString("2.5"), CanClaim: true}, nil
}

func (m *mockClaimService) AccrueTokens(ctx context.Context, amount int64) (*service.AccrueResult, error) {
	if m.accrueFunc != nil {
		return m.accrueFunc(ctx, amount)
	}
	return &service.AccrueResult{RecordID: "rec-1", AvailableTokens: amount, TokensAdded: amount}, nil
}

func (m *mockClaimService) TokenData(ctx context.Context) (*service.TokenData, error) {
	if m.tokensFunc != nil {
		return m.tokensFunc(ctx)
	}
	return &service.TokenData{TokenValue: decimal.Zero, TotalValue: decimal.Zero, LastUpdated: time.Now()}, nil
}

func newTestServer(svc ClaimServiceInterface, checks map[string]HealthCheck) *Server {
	return NewServer(&ServerConfig{Host: "127.0.0.1", Port: "0", RequestsPerSec: 100, Burst: 100}, svc, checks)
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandleClaim(t *testing.T) {
	s := newTestServer(&mockClaimService{}, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/claim", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "5sig", body["signature"])
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestHandleClaim_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"wallet not linked", errors.NewWalletNotLinkedError(), http.StatusBadRequest, errors.CodeWalletNotLinked},
		{"insufficient", errors.NewInsufficientBalanceError(1, 0), http.StatusBadRequest, errors.CodeInsufficientBalance},
		{"not found", errors.NewNotFoundError("account record", "default"), http.StatusNotFound, errors.CodeNotFound},
		{"conflict", errors.NewConflictError("busy", nil), http.StatusConflict, errors.CodeConflict},
		{"store", errors.NewStoreUnavailableError("fetch_latest", stderrors.New("down")), http.StatusServiceUnavailable, errors.CodeStoreUnavailable},
		{"transfer", errors.NewTransferFailedError("transfer", stderrors.New("rpc")), http.StatusBadGateway, errors.CodeTransferFailed},
		{"inconsistent", errors.NewInconsistentStateError("rec-1", "sig", 5, stderrors.New("patch")), http.StatusInternalServerError, errors.CodeInconsistentState},
		{"uncategorized", stderrors.New("boom"), http.StatusInternalServerError, errors.CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&mockClaimService{
				claimFunc: func(ctx context.Context) (*service.ClaimResult, error) { return nil, tt.err },
			}, nil)

			rec := doRequest(t, s, http.MethodPost, "/api/claim", nil)
			assert.Equal(t, tt.status, rec.Code)

			body := decode(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.code, body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestHandleLinkWallet(t *testing.T) {
	t.Run("linked and claimed", func(t *testing.T) {
		var got string
		s := newTestServer(&mockClaimService{
			linkFunc: func(ctx context.Context, address string) (*service.LinkResult, error) {
				got = address
				return &service.LinkResult{
					Linked:  true,
					Wallet:  address,
					Claimed: true,
					Claim:   &service.ClaimResult{Signature: "sig-1", Amount: 7},
				}, nil
			},
		}, nil)

		rec := doRequest(t, s, http.MethodPost, "/api/wallet/link", map[string]string{"walletAddress": "Wallet1"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Wallet1", got)

		body := decode(t, rec)
		assert.Equal(t, true, body["claimed"])
		assert.Equal(t, "sig-1", body["signature"])
	})

	t.Run("chained claim failure still succeeds", func(t *testing.T) {
		s := newTestServer(&mockClaimService{
			linkFunc: func(ctx context.Context, address string) (*service.LinkResult, error) {
				return &service.LinkResult{
					Linked:     true,
					Wallet:     address,
					ClaimError: errors.NewTransferFailedError("transfer", stderrors.New("rpc")),
				}, nil
			},
		}, nil)

		rec := doRequest(t, s, http.MethodPost, "/api/wallet/link", map[string]string{"walletAddress": "Wallet1"})
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode(t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, false, body["claimed"])
		assert.Contains(t, body["claimError"], "transfer failed")
		assert.Equal(t, errors.CodeTransferFailed, body["claimErrorCode"])
	})

	t.Run("chained claim left record inconsistent", func(t *testing.T) {
		s := newTestServer(&mockClaimService{
			linkFunc: func(ctx context.Context, address string) (*service.LinkResult, error) {
				return &service.LinkResult{
					Linked:     true,
					Wallet:     address,
					ClaimError: errors.NewInconsistentStateError("rec-1", "sig-1", 7, stderrors.New("patch")),
				}, nil
			},
		}, nil)

		rec := doRequest(t, s, http.MethodPost, "/api/wallet/link", map[string]string{"walletAddress": "Wallet1"})
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode(t, rec)
		assert.Equal(t, false, body["claimed"])
		assert.Equal(t, errors.CodeInconsistentState, body["claimErrorCode"])
	})

	t.Run("missing address", func(t *testing.T) {
		s := newTestServer(&mockClaimService{}, nil)
		rec := doRequest(t, s, http.MethodPost, "/api/wallet/link", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		s := newTestServer(&mockClaimService{}, nil)
		rec := doRequest(t, s, http.MethodPost, "/api/wallet/link", map[string]string{"wallet": "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid address", func(t *testing.T) {
		s := newTestServer(&mockClaimService{
			linkFunc: func(ctx context.Context, address string) (*service.LinkResult, error) {
				return nil, errors.NewInvalidAddressError(address, stderrors.New("bad base58"))
			},
		}, nil)
		rec := doRequest(t, s, http.MethodPost, "/api/wallet/link", map[string]string{"walletAddress": "nope"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, errors.CodeInvalidAddress, decode(t, rec)["code"])
	})
}

func TestHandleStats(t *testing.T) {
	s := newTestServer(&mockClaimService{}, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	data, ok := body["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(3), data["availableTokens"])
	assert.Equal(t, "2.5", data["onChainBalance"])
	assert.Equal(t, true, data["canClaim"])
}

func TestHandleSync(t *testing.T) {
	s := newTestServer(&mockClaimService{
		syncFunc: func(ctx context.Context) (*service.SyncResult, error) {
			return &service.SyncResult{
				Outcome: types.SyncClaimed,
				Message: "claimed 4 tokens",
				Claim:   &service.ClaimResult{Signature: "sig-4", Amount: 4},
			}, nil
		},
	}, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["claimed"])
	assert.Equal(t, "sig-4", body["signature"])
	assert.Equal(t, "claimed", body["outcome"])
}

func TestHandleAccrue(t *testing.T) {
	var amounts []int64
	s := newTestServer(&mockClaimService{
		accrueFunc: func(ctx context.Context, amount int64) (*service.AccrueResult, error) {
			amounts = append(amounts, amount)
			if amount < 1 {
				return nil, errors.NewInvalidParameterError("amount", "must be at least 1")
			}
			return &service.AccrueResult{AvailableTokens: amount}, nil
		},
	}, nil)

	assert.Equal(t, http.StatusOK, doRequest(t, s, http.MethodPost, "/api/tokens/accrue", nil).Code)
	assert.Equal(t, http.StatusOK, doRequest(t, s, http.MethodPost, "/api/tokens/accrue", map[string]int64{"amount": 5}).Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(t, s, http.MethodPost, "/api/tokens/accrue", map[string]int64{"amount": 0}).Code)
	assert.Equal(t, []int64{1, 5, 0}, amounts)
}

func TestHandleTokenData(t *testing.T) {
	s := newTestServer(&mockClaimService{}, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/tokens", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])
}

func TestHealth(t *testing.T) {
	healthy := newTestServer(&mockClaimService{}, map[string]HealthCheck{
		"store": func(ctx context.Context) error { return nil },
	})
	rec := doRequest(t, healthy, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	degraded := newTestServer(&mockClaimService{}, map[string]HealthCheck{
		"store": func(ctx context.Context) error { return stderrors.New("down") },
	})
	rec = doRequest(t, degraded, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode(t, rec)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(&mockClaimService{}, nil)
	doRequest(t, s, http.MethodPost, "/api/claim", nil)

	rec := doRequest(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "claimer_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(&mockClaimService{}, nil)
	rec := doRequest(t, s, http.MethodOptions, "/api/claim", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	s := NewServer(&ServerConfig{RequestsPerSec: 1, Burst: 2}, &mockClaimService{}, nil)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, doRequest(t, s, http.MethodGet, "/api/stats", nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// health is never limited
	assert.Equal(t, http.StatusOK, doRequest(t, s, http.MethodGet, "/health", nil).Code)
}

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	clock := time.Now()
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return clock }

	rl.getLimiter("a")
	clock = clock.Add(limiterIdleTTL + time.Second)
	rl.getLimiter("b")

	assert.Len(t, rl.limiters, 1)
	assert.Contains(t, rl.limiters, "b")
}
