package storage

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pegged-token/claimer/internal/config"
	"github.com/pegged-token/claimer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePocketBase serves a single collection from memory
type fakePocketBase struct {
	mu      sync.Mutex
	records []map[string]interface{} // oldest first
	patches []map[string]interface{}
	queries []string
	fail    int // respond 500 to the next n requests
}

func (f *fakePocketBase) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail > 0 {
		f.fail--
		http.Error(w, `{"message":"boom"}`, http.StatusInternalServerError)
		return
	}

	const prefix = "/api/collections/token_data/records"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	id := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, prefix), "/")

	switch {
	case r.Method == http.MethodGet && id == "":
		f.queries = append(f.queries, r.URL.RawQuery)
		items := []map[string]interface{}{}
		if n := len(f.records); n > 0 {
			items = append(items, f.records[n-1])
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"page": 1, "perPage": 1, "items": items})

	case r.Method == http.MethodGet:
		rec := f.find(id)
		if rec == nil {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(rec)

	case r.Method == http.MethodPatch:
		rec := f.find(id)
		if rec == nil {
			http.NotFound(w, r)
			return
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.patches = append(f.patches, body)
		for k, v := range body {
			rec[k] = v
		}
		_ = json.NewEncoder(w).Encode(rec)

	case r.Method == http.MethodPost:
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		body["id"] = "rec" + string(rune('a'+len(f.records)))
		body["created"] = "2024-05-01 10:00:00.000Z"
		f.records = append(f.records, body)
		_ = json.NewEncoder(w).Encode(body)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakePocketBase) find(id string) map[string]interface{} {
	for _, rec := range f.records {
		if rec["id"] == id {
			return rec
		}
	}
	return nil
}

func newTestPocketBase(t *testing.T, records ...map[string]interface{}) (*fakePocketBase, *PocketBaseStore) {
	t.Helper()
	fake := &fakePocketBase{records: records}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store := NewPocketBaseStore(&config.PocketBaseConfig{
		URL:        srv.URL + "/",
		Collection: "token_data",
	}, 2*time.Second)
	return fake, store
}

func TestPocketBaseStore_Latest(t *testing.T) {
	_, store := newTestPocketBase(t,
		map[string]interface{}{"id": "old", "available_tokens": 1},
		map[string]interface{}{
			"id":                   "r1",
			"current_index":        42,
			"available_tokens":     500,
			"token_value":          "1.0000",
			"solana_wallet":        "",
			"total_tokens_claimed": 0,
			"last_updated":         "2024-05-01T10:00:00.000Z",
			"created":              "2024-05-01 09:00:00.123Z",
		},
	)

	record, err := store.Latest(testContext(t), "default")
	require.NoError(t, err)

	assert.Equal(t, "r1", record.ID)
	assert.Equal(t, "default", record.Account)
	assert.Equal(t, int64(42), record.CurrentIndex)
	assert.Equal(t, int64(500), record.AvailableTokens)
	assert.Equal(t, "1", record.TokenValue.String())
	assert.False(t, record.HasWallet())
	assert.Nil(t, record.LastClaimAt)
	assert.Equal(t, 2024, record.UpdatedAt.Year())
	assert.Equal(t, 123*time.Millisecond, time.Duration(record.CreatedAt.Nanosecond()))
}

func TestPocketBaseStore_LatestQuery(t *testing.T) {
	fake, store := newTestPocketBase(t)
	store.filterByAccount = true

	_, err := store.Latest(testContext(t), "acct-1")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	require.Len(t, fake.queries, 1)
	assert.Contains(t, fake.queries[0], "sort=-created")
	assert.Contains(t, fake.queries[0], "perPage=1")
	assert.Contains(t, fake.queries[0], "filter=")
}

func TestPocketBaseStore_Patch(t *testing.T) {
	fake, store := newTestPocketBase(t, map[string]interface{}{"id": "r1", "available_tokens": 500, "total_tokens_claimed": 0})
	now := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)

	updated, err := store.Patch(testContext(t), "r1", &models.RecordPatch{
		AvailableTokens:       models.Int64(0),
		TotalClaimed:          models.Int64(500),
		LastClaimAt:           models.Time(now),
		UpdatedAt:             models.Time(now),
		ExpectAvailableTokens: models.Int64(500),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), updated.AvailableTokens)
	assert.Equal(t, int64(500), updated.TotalClaimed)
	require.NotNil(t, updated.LastClaimAt)
	assert.True(t, now.Equal(*updated.LastClaimAt))

	require.Len(t, fake.patches, 1)
	assert.NotContains(t, fake.patches[0], "solana_wallet", "nil fields are not sent")
	assert.NotContains(t, fake.patches[0], "ExpectAvailableTokens")
}

func TestPocketBaseStore_PatchGuard(t *testing.T) {
	fake, store := newTestPocketBase(t, map[string]interface{}{"id": "r1", "available_tokens": 0})

	_, err := store.Patch(testContext(t), "r1", &models.RecordPatch{
		AvailableTokens:       models.Int64(0),
		ExpectAvailableTokens: models.Int64(500),
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Empty(t, fake.patches)

	_, err = store.Patch(testContext(t), "missing", &models.RecordPatch{AvailableTokens: models.Int64(1)})
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestPocketBaseStore_Create(t *testing.T) {
	_, store := newTestPocketBase(t)

	created, err := store.Create(testContext(t), &models.AccountRecord{
		Account:         "default",
		AvailableTokens: 3,
		UpdatedAt:       time.Now(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, int64(3), created.AvailableTokens)

	latest, err := store.Latest(testContext(t), "default")
	require.NoError(t, err)
	assert.Equal(t, created.ID, latest.ID)
}

func TestPocketBaseStore_ServerError(t *testing.T) {
	fake, store := newTestPocketBase(t, map[string]interface{}{"id": "r1"})
	fake.fail = 1

	_, err := store.Latest(testContext(t), "default")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRecordNotFound)
	assert.Contains(t, err.Error(), "500")
}
