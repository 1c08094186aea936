package api_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silexium-dev/silexium/pkg/api"
	"github.com/silexium-dev/silexium/pkg/crypto"
	"github.com/silexium-dev/silexium/pkg/fixture"
	"github.com/silexium-dev/silexium/pkg/ingest"
	"github.com/silexium-dev/silexium/pkg/proofs"
	"github.com/silexium-dev/silexium/pkg/resolve"
	"github.com/silexium-dev/silexium/pkg/store"
	"github.com/silexium-dev/silexium/pkg/translog"
)

func testServer(t *testing.T, releases ...fixture.Options) http.Handler {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	seed := make([]byte, 32)
	seed[5] = 9
	signer, err := crypto.NewSignerFromSeed(seed, "")
	require.NoError(t, err)

	log, err := translog.Open(context.Background(), db, signer)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipeline := ingest.NewPipeline(db, log, proofs.New("", "", true), logger)
	keys := store.NewKeyStore(db)

	for i, opts := range releases {
		if opts.CreatedAt.IsZero() {
			opts.CreatedAt = time.Date(2026, 3, 1+i, 12, 0, 0, 0, time.UTC)
		}
		rel, err := fixture.Build(opts)
		require.NoError(t, err)
		for _, key := range rel.Keys() {
			k := key
			require.NoError(t, keys.Add(context.Background(), &k))
		}
		_, err = pipeline.Run(context.Background(), rel.Ingest)
		require.NoError(t, err)
	}

	svc := resolve.NewService(db, log, logger)
	srv := api.NewServer(api.ServerOptions{}, api.NewHandler(svc, logger), logger)
	return srv.Handler()
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestHealth(t *testing.T) {
	h := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.JSONEq(t, `"OK"`, rec.Body.String())
}

func TestResolveRoundtrip(t *testing.T) {
	h := testServer(t, fixture.Options{Package: "demo", Version: "1.0.0"})

	rec := postJSON(t, h, "/resolve", `{"package":"demo","os":"linux","arch":"x86_64"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp resolve.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "demo", resp.Package)
	assert.Equal(t, "1.0.0", resp.Version)
	assert.Len(t, resp.Attestations, 3)
	assert.Equal(t, uint64(1), resp.Log.TreeSize)
	assert.NotEmpty(t, resp.Log.STH.Signature)
}

func TestUpdateRoundtrip(t *testing.T) {
	h := testServer(t,
		fixture.Options{Package: "demo", Version: "1.0.0"},
		fixture.Options{Package: "demo", Version: "1.1.0"},
	)

	rec := postJSON(t, h, "/update",
		`{"package":"demo","os":"linux","arch":"x86_64","current_version":"1.1.0"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp resolve.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.UpToDate)
	assert.Equal(t, "1.1.0", resp.Version)
}

func TestBadJSONIs400(t *testing.T) {
	h := testServer(t)
	rec := postJSON(t, h, "/resolve", `{"package":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request body", errorBody(t, rec))
}

func TestMissingFieldIs400(t *testing.T) {
	h := testServer(t, fixture.Options{Package: "demo", Version: "1.0.0"})
	rec := postJSON(t, h, "/resolve", `{"os":"linux","arch":"x86_64"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, errorBody(t, rec), "package is required")
}

func TestUnknownPackageIs404(t *testing.T) {
	h := testServer(t, fixture.Options{Package: "demo", Version: "1.0.0"})
	rec := postJSON(t, h, "/resolve", `{"package":"ghost","os":"linux","arch":"x86_64"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, errorBody(t, rec))
}

func TestMethodMismatchIs405(t *testing.T) {
	h := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/resolve", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestClientRequestIDIsEchoed(t *testing.T) {
	h := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestRateLimitExhaustionIs429(t *testing.T) {
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	log, err := translog.Open(context.Background(), db, nil)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := resolve.NewService(db, log, logger)
	srv := api.NewServer(api.ServerOptions{RateLimit: 0.001, Burst: 1}, api.NewHandler(svc, logger), logger)
	h := srv.Handler()

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
}
