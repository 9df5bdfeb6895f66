package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pegged-token/claimer/internal/config"
	"github.com/pegged-token/claimer/internal/models"
	"github.com/shopspring/decimal"
)

// pocketBaseTimeLayouts are the timestamp formats found in collection records
var pocketBaseTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.000Z",
	"2006-01-02 15:04:05Z",
}

// PocketBaseStore reads and patches account records through the PocketBase REST API
type PocketBaseStore struct {
	baseURL         string
	collection      string
	authToken       string
	filterByAccount bool
	client          *http.Client
}

// NewPocketBaseStore creates a REST record store
func NewPocketBaseStore(cfg *config.PocketBaseConfig, timeout time.Duration) *PocketBaseStore {
	return &PocketBaseStore{
		baseURL:         strings.TrimSuffix(cfg.URL, "/"),
		collection:      cfg.Collection,
		authToken:       cfg.AuthToken,
		filterByAccount: cfg.FilterByAccount,
		client:          &http.Client{Timeout: timeout},
	}
}

// pbRecord is the wire shape of a collection record.
// Numbers are decoded as decimals since the collection stores them as JSON numbers.
type pbRecord struct {
	ID              string          `json:"id"`
	Account         string          `json:"account"`
	CurrentIndex    decimal.Decimal `json:"current_index"`
	AvailableTokens decimal.Decimal `json:"available_tokens"`
	TokenValue      decimal.Decimal `json:"token_value"`
	SolanaWallet    string          `json:"solana_wallet"`
	TotalClaimed    decimal.Decimal `json:"total_tokens_claimed"`
	LastClaim       string          `json:"last_claim"`
	LastUpdated     string          `json:"last_updated"`
	Created         string          `json:"created"`
}

type pbList struct {
	Page       int        `json:"page"`
	PerPage    int        `json:"perPage"`
	TotalItems int        `json:"totalItems"`
	Items      []pbRecord `json:"items"`
}

func (r *pbRecord) toModel() *models.AccountRecord {
	record := &models.AccountRecord{
		ID:              r.ID,
		Account:         r.Account,
		CurrentIndex:    r.CurrentIndex.IntPart(),
		AvailableTokens: r.AvailableTokens.Floor().IntPart(),
		TokenValue:      r.TokenValue,
		LinkedWallet:    r.SolanaWallet,
		TotalClaimed:    r.TotalClaimed.Floor().IntPart(),
	}
	if t, ok := parsePocketBaseTime(r.LastClaim); ok {
		record.LastClaimAt = &t
	}
	if t, ok := parsePocketBaseTime(r.LastUpdated); ok {
		record.UpdatedAt = t
	}
	if t, ok := parsePocketBaseTime(r.Created); ok {
		record.CreatedAt = t
	}
	return record
}

func parsePocketBaseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range pocketBaseTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func (s *PocketBaseStore) recordsURL() string {
	return fmt.Sprintf("%s/api/collections/%s/records", s.baseURL, url.PathEscape(s.collection))
}

// Latest returns the most recently created record
func (s *PocketBaseStore) Latest(ctx context.Context, account string) (*models.AccountRecord, error) {
	params := url.Values{}
	params.Set("sort", "-created")
	params.Set("perPage", "1")
	if s.filterByAccount && account != "" {
		params.Set("filter", fmt.Sprintf("(account='%s')", strings.ReplaceAll(account, "'", `\'`)))
	}

	var list pbList
	if err := s.do(ctx, http.MethodGet, s.recordsURL()+"?"+params.Encode(), nil, &list); err != nil {
		return nil, fmt.Errorf("failed to fetch latest record: %w", err)
	}
	if len(list.Items) == 0 {
		return nil, ErrRecordNotFound
	}

	record := list.Items[0].toModel()
	if record.Account == "" {
		record.Account = account
	}
	return record, nil
}

// Patch updates the record by id. A guarded patch re-reads the record first and
// returns ErrConflict when available_tokens no longer matches.
func (s *PocketBaseStore) Patch(ctx context.Context, id string, patch *models.RecordPatch) (*models.AccountRecord, error) {
	recordURL := s.recordsURL() + "/" + url.PathEscape(id)

	if patch.ExpectAvailableTokens != nil {
		var current pbRecord
		if err := s.do(ctx, http.MethodGet, recordURL, nil, &current); err != nil {
			return nil, fmt.Errorf("failed to read record %s before patch: %w", id, err)
		}
		if got := current.AvailableTokens.Floor().IntPart(); got != *patch.ExpectAvailableTokens {
			return nil, fmt.Errorf("%w: available_tokens is %d, expected %d", ErrConflict, got, *patch.ExpectAvailableTokens)
		}
	}

	body, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal patch: %w", err)
	}

	var updated pbRecord
	if err := s.do(ctx, http.MethodPatch, recordURL, body, &updated); err != nil {
		return nil, fmt.Errorf("failed to patch record %s: %w", id, err)
	}
	return updated.toModel(), nil
}

// Create appends a new record to the collection
func (s *PocketBaseStore) Create(ctx context.Context, record *models.AccountRecord) (*models.AccountRecord, error) {
	payload := map[string]interface{}{
		"current_index":        record.CurrentIndex,
		"available_tokens":     record.AvailableTokens,
		"token_value":          record.TokenValue,
		"total_tokens_claimed": record.TotalClaimed,
		"last_updated":         record.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if record.Account != "" {
		payload["account"] = record.Account
	}
	if record.LinkedWallet != "" {
		payload["solana_wallet"] = record.LinkedWallet
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	var created pbRecord
	if err := s.do(ctx, http.MethodPost, s.recordsURL(), body, &created); err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}
	return created.toModel(), nil
}

// do sends one request and decodes a 2xx JSON response into out
func (s *PocketBaseStore) do(ctx context.Context, method, rawURL string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.authToken != "" {
		req.Header.Set("Authorization", s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrRecordNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
