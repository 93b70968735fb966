package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldpad/syncengine/internal/config"
	"github.com/fieldpad/syncengine/internal/logger"
	"github.com/fieldpad/syncengine/models"
)

// newTestAdapter builds an adapter pointed at a test server.
func newTestAdapter(t *testing.T, serverURL string) ServerAdapter {
	t.Helper()

	a, err := NewHTTPServerAdapter(config.Adapter{
		BaseURL:        serverURL,
		RequestTimeout: 5 * time.Second,
	}, "device-42", StaticToken("secret-token"), logger.Nop())
	require.NoError(t, err)
	return a
}

// ── NewHTTPServerAdapter ─────────────────────────────────────────────────────

func TestNewHTTPServerAdapter_EmptyBaseURL(t *testing.T) {
	_, err := NewHTTPServerAdapter(config.Adapter{}, "d", StaticToken(""), logger.Nop())
	assert.Error(t, err)
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "full url", in: "https://api.example.com", want: "https://api.example.com"},
		{name: "missing scheme gets http", in: "api.example.com:8080", want: "http://api.example.com:8080"},
		{name: "trailing slash trimmed", in: "https://api.example.com/", want: "https://api.example.com"},
		{name: "blank", in: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeBaseURL(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// ── Create ───────────────────────────────────────────────────────────────────

func TestCreate_Success(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/{collection}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tasks", chi.URLParam(r, "collection"))
		assert.Equal(t, "device-42", r.Header.Get("X-Device-ID"))
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))

		var req models.UpsertRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(models.ServerRecord{
			ID: req.ID, Payload: req.Payload, Version: 1, UpdatedAt: time.Now().UTC(),
		})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	got, err := a.Create(context.Background(), "tasks", models.UpsertRequest{
		ID: "rec-1", Payload: models.Payload{"title": "hello"},
	})

	require.NoError(t, err)
	assert.Equal(t, "rec-1", got.ID)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, "hello", got.Payload["title"])
}

func TestCreate_ServerRejects(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/{collection}", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "payload invalid", http.StatusUnprocessableEntity)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	_, err := a.Create(context.Background(), "tasks", models.UpsertRequest{ID: "rec-1"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerRejected)
	assert.False(t, IsTransient(err))
}

// ── Update ───────────────────────────────────────────────────────────────────

func TestUpdate_SendsIfMatchVersion(t *testing.T) {
	r := chi.NewRouter()
	r.Put("/api/{collection}/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "rec-1", chi.URLParam(r, "id"))
		assert.Equal(t, "4", r.Header.Get("If-Match"))

		var req models.UpsertRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(models.ServerRecord{
			ID: req.ID, Payload: req.Payload, Version: req.BaseVersion + 1, UpdatedAt: time.Now().UTC(),
		})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	got, err := a.Update(context.Background(), "tasks", "rec-1", models.UpsertRequest{
		ID: "rec-1", Payload: models.Payload{"title": "edited"}, BaseVersion: 4,
	})

	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Version)
}

func TestUpdate_ConflictCarriesServerRecord(t *testing.T) {
	serverCopy := models.ServerRecord{
		ID: "rec-1", Payload: models.Payload{"title": "theirs"}, Version: 9, UpdatedAt: time.Now().UTC(),
	}
	r := chi.NewRouter()
	r.Put("/api/{collection}/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(serverCopy)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	_, err := a.Update(context.Background(), "tasks", "rec-1", models.UpsertRequest{ID: "rec-1", BaseVersion: 4})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVersionConflict)

	ce, ok := AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, int64(9), ce.Server.Version)
	assert.Equal(t, "theirs", ce.Server.Payload["title"])
}

// ── Delete ───────────────────────────────────────────────────────────────────

func TestDelete_Success(t *testing.T) {
	r := chi.NewRouter()
	r.Delete("/api/{collection}/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.Header.Get("If-Match"))
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	assert.NoError(t, a.Delete(context.Background(), "tasks", "rec-1", 7))
}

func TestDelete_Unauthorized(t *testing.T) {
	r := chi.NewRouter()
	r.Delete("/api/{collection}/{id}", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	err := a.Delete(context.Background(), "tasks", "rec-1", 7)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, ErrServerRejected)
}

// ── Pull ─────────────────────────────────────────────────────────────────────

func TestPull_SendsCursorAndDeviceID(t *testing.T) {
	want := models.PullResponse{
		Records: []models.ServerRecord{
			{ID: "rec-1", Payload: models.Payload{"title": "a"}, Version: 2, UpdatedAt: time.Now().UTC()},
			{ID: "rec-2", Version: 3, Deleted: true, UpdatedAt: time.Now().UTC()},
		},
		Cursor: "cursor-99",
	}

	r := chi.NewRouter()
	r.Get("/api/{collection}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cursor-42", r.URL.Query().Get("since"))
		assert.Equal(t, "device-42", r.URL.Query().Get("device_id"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(want)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	got, err := a.Pull(context.Background(), "tasks", "cursor-42")

	require.NoError(t, err)
	assert.Equal(t, "cursor-99", got.Cursor)
	require.Len(t, got.Records, 2)
	assert.True(t, got.Records[1].Deleted)
}

func TestPull_ServerErrorIsTransient(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/{collection}", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	_, err := a.Pull(context.Background(), "tasks", "")

	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestPull_ConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // nothing listens anymore

	a := newTestAdapter(t, srv.URL)
	_, err := a.Pull(context.Background(), "tasks", "")

	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
