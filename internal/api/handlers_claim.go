package api

import (
	"fmt"
	"net/http"

	"github.com/pegged-token/claimer/internal/errors"
	"github.com/pegged-token/claimer/internal/logging"
	"github.com/pegged-token/claimer/internal/service"
	"github.com/pegged-token/claimer/internal/types"
)

// ClaimResponse is returned by POST /api/claim
type ClaimResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
	Amount    int64  `json:"amount"`
}

// LinkWalletResponse is returned by POST /api/wallet/link
type LinkWalletResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	Claimed        bool   `json:"claimed"`
	Signature      string `json:"signature,omitempty"`
	ClaimError     string `json:"claimError,omitempty"`
	ClaimErrorCode string `json:"claimErrorCode,omitempty"`
}

// StatsResponse is returned by GET /api/stats
type StatsResponse struct {
	Success bool           `json:"success"`
	Data    *service.Stats `json:"data"`
}

// SyncResponse is returned by POST /api/sync
type SyncResponse struct {
	Success   bool              `json:"success"`
	Message   string            `json:"message"`
	Outcome   types.SyncOutcome `json:"outcome"`
	Claimed   bool              `json:"claimed"`
	Signature string            `json:"signature,omitempty"`
}

// handleClaim handles POST /api/claim
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	result, err := s.claimService.ClaimTokens(r.Context())
	if err != nil {
		logFailure(r, "ClaimTokens", err)
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, ClaimResponse{
		Success:   true,
		Message:   fmt.Sprintf("Successfully claimed %d tokens", result.Amount),
		Signature: result.Signature,
		Amount:    result.Amount,
	})
}

// handleLinkWallet handles POST /api/wallet/link
func (s *Server) handleLinkWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletAddress string `json:"walletAddress"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, errors.NewInvalidParameterError("body", "invalid JSON"))
		return
	}
	if req.WalletAddress == "" {
		respondError(w, errors.NewInvalidParameterError("walletAddress", "required"))
		return
	}

	result, err := s.claimService.LinkWallet(r.Context(), req.WalletAddress)
	if err != nil {
		logFailure(r, "LinkWallet", err)
		respondError(w, err)
		return
	}

	resp := LinkWalletResponse{
		Success: true,
		Message: "Wallet linked successfully",
		Claimed: result.Claimed,
	}
	switch {
	case result.Claimed:
		resp.Message = fmt.Sprintf("Wallet linked and %d tokens claimed", result.Claim.Amount)
		resp.Signature = result.Claim.Signature
	case result.ClaimError != nil:
		resp.Message = "Wallet linked but claiming available tokens failed"
		catErr := errors.Categorize(result.ClaimError)
		resp.ClaimError = catErr.Message
		resp.ClaimErrorCode = catErr.Code
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleStats handles GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.claimService.GetStats(r.Context())
	if err != nil {
		logFailure(r, "GetStats", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, StatsResponse{Success: true, Data: stats})
}

// handleSync handles POST /api/sync
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.claimService.SyncTokens(r.Context())
	if err != nil {
		logFailure(r, "SyncTokens", err)
		respondError(w, err)
		return
	}

	resp := SyncResponse{
		Success: true,
		Message: result.Message,
		Outcome: result.Outcome,
		Claimed: result.Claim != nil,
	}
	if result.Claim != nil {
		resp.Signature = result.Claim.Signature
	}
	respondJSON(w, http.StatusOK, resp)
}

// logFailure logs server-side failures; client errors are only visible in the request log
func logFailure(r *http.Request, op string, err error) {
	if errors.IsUserError(err) {
		return
	}
	logging.FromContext(r.Context()).WithError(err).WithField("operation", op).Error("Request failed")
}
