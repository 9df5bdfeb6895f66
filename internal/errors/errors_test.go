package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/pegged-token/claimer/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{
			name:       "categorized passes through",
			err:        NewWalletNotLinkedError(),
			wantCode:   CodeWalletNotLinked,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "wrapped categorized is unwrapped",
			err:        fmt.Errorf("claim: %w", NewTransferFailedError("transfer", stderrors.New("rpc down"))),
			wantCode:   CodeTransferFailed,
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "service error is mapped",
			err:        &types.ServiceError{Code: CodeStoreUnavailable, Message: "down"},
			wantCode:   CodeStoreUnavailable,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "plain error becomes internal",
			err:        stderrors.New("boom"),
			wantCode:   CodeInternalError,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Categorize(tt.err)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantStatus, got.StatusCode)
			assert.Equal(t, tt.wantStatus, GetHTTPStatusCode(tt.err))
		})
	}

	assert.Nil(t, Categorize(nil))
}

func TestInsufficientBalanceDetails(t *testing.T) {
	err := NewInsufficientBalanceError(1, 0)
	assert.Equal(t, int64(1), err.Details["minimum"])
	assert.Equal(t, int64(0), err.Details["current"])
	assert.Contains(t, err.Message, "at least 1")
}

func TestIsRetryable(t *testing.T) {
	cause := stderrors.New("cause")
	assert.True(t, IsRetryable(NewStoreUnavailableError("fetch", cause)))
	assert.True(t, IsRetryable(NewTransferFailedError("transfer", cause)))
	assert.False(t, IsRetryable(NewInconsistentStateError("rec", "sig", 5, cause)))
	assert.False(t, IsRetryable(NewInvalidAddressError("bad", cause)))
	assert.False(t, IsRetryable(nil))
}

func TestHasCodeAndUnwrap(t *testing.T) {
	cause := stderrors.New("timeout")
	err := NewStoreUnavailableError("patch", cause)

	assert.True(t, HasCode(err, CodeStoreUnavailable))
	assert.False(t, HasCode(err, CodeTransferFailed))
	assert.False(t, HasCode(nil, CodeStoreUnavailable))
	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, IsUserError(NewWalletNotLinkedError()))
	assert.False(t, IsUserError(err))
}
