package api

import (
	"net/http"

	"github.com/pegged-token/claimer/internal/errors"
)

// handleAccrue handles POST /api/tokens/accrue. The amount defaults to one token.
func (s *Server) handleAccrue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount *int64 `json:"amount,omitempty"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, errors.NewInvalidParameterError("body", "invalid JSON"))
		return
	}

	amount := int64(1)
	if req.Amount != nil {
		amount = *req.Amount
	}

	result, err := s.claimService.AccrueTokens(r.Context(), amount)
	if err != nil {
		logFailure(r, "AccrueTokens", err)
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    result,
	})
}

// handleTokenData handles GET /api/tokens
func (s *Server) handleTokenData(w http.ResponseWriter, r *http.Request) {
	data, err := s.claimService.TokenData(r.Context())
	if err != nil {
		logFailure(r, "TokenData", err)
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}
