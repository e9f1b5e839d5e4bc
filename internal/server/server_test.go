package server_test

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripboard/tripstats/internal/auth"
	"github.com/tripboard/tripstats/internal/config"
	"github.com/tripboard/tripstats/internal/db"
	"github.com/tripboard/tripstats/internal/server"
	"github.com/tripboard/tripstats/internal/stats"
)

const testSecret = "server-test-secret-value"

var testNow = time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC)

// --- Test helpers ---

// testEnv sets up a server over a temporary database.
type testEnv struct {
	srv      *server.Server
	handler  http.Handler
	db       *db.DB
	verifier *auth.Verifier
}

// setupOption customizes the config used by setup.
type setupOption func(*config.Config)

func withRequestTimeout(d time.Duration) setupOption {
	return func(c *config.Config) { c.Stats.RequestTimeout = d }
}

func withRateLimit(n int) setupOption {
	return func(c *config.Config) { c.Stats.RateLimit = n }
}

func withBreakerFailures(n uint32) setupOption {
	return func(c *config.Config) { c.Stats.BreakerFailures = n }
}

func openDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func setup(t *testing.T, opts ...setupOption) *testEnv {
	t.Helper()
	d := openDB(t)
	seed(t, d)
	return setupWithStore(t, d, d, opts...)
}

func setupWithStore(
	t *testing.T, d *db.DB, store server.Store, opts ...setupOption,
) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = testSecret
	for _, opt := range opts {
		opt(&cfg)
	}
	v, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.CookieName)
	require.NoError(t, err)

	srv := server.New(cfg, store, v,
		server.WithVersion(server.VersionInfo{Version: "test"}),
		server.WithEngineOptions(stats.WithClock(func() time.Time { return testNow })),
	)
	return &testEnv{srv: srv, handler: srv.Handler(), db: d, verifier: v}
}

func seed(t *testing.T, d *db.DB) {
	t.Helper()
	stmts := []string{
		`INSERT INTO users VALUES ('u1', 'Alice', ''), ('u2', 'Bob', '')`,
		`INSERT INTO boards (id, title) VALUES ('b1', 'Porto')`,
		`INSERT INTO board_members VALUES ('b1', 'u1'), ('b1', 'u2')`,
		`INSERT INTO posts VALUES
			('p1', 'b1', 'u1', 'Tickets booked ✈', '2024-06-09T09:00:00Z'),
			('p2', 'b1', 'u2', 'Hotel?', '2024-06-10T10:00:00Z')`,
		`INSERT INTO comments VALUES
			('c1', 'p1', 'b1', 'u2', 'Nice', '2024-06-09T10:00:00Z')`,
	}
	err := d.Update(func(tx *sql.Tx) error {
		for _, s := range stmts {
			if _, err := tx.Exec(s); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func (te *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := te.verifier.Sign(userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (te *testEnv) get(
	t *testing.T, path, token string,
) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	te.handler.ServeHTTP(w, req)
	return w
}

// decode unmarshals the response body into a typed struct.
func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var result T
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding JSON: %v\nbody: %s", err, w.Body.String())
	}
	return result
}

func assertStatus(t *testing.T, w *httptest.ResponseRecorder, code int) {
	t.Helper()
	if w.Code != code {
		t.Fatalf("expected status %d, got %d: %s",
			code, w.Code, w.Body.String())
	}
}

// assertErrorResponse checks that the response body is a JSON
// object with an "error" field matching wantMsg.
func assertErrorResponse(
	t *testing.T, w *httptest.ResponseRecorder, wantMsg string,
) {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	resp := decode[map[string]string](t, w)
	assert.Equal(t, wantMsg, resp["error"])
}

// countingStore records how often the stats path touched storage.
type countingStore struct {
	*db.DB
	calls atomic.Int32
}

func (s *countingStore) AccessibleBoards(ctx context.Context, userID string) ([]db.Board, error) {
	s.calls.Add(1)
	return s.DB.AccessibleBoards(ctx, userID)
}

func (s *countingStore) HasPresence(ctx context.Context) (bool, error) {
	s.calls.Add(1)
	return s.DB.HasPresence(ctx)
}

// downStore behaves like an unreachable database.
type downStore struct {
	*db.DB
	calls atomic.Int32
}

func (s *downStore) AccessibleBoards(context.Context, string) ([]db.Board, error) {
	s.calls.Add(1)
	return nil, fmt.Errorf("querying accessible boards: %w", db.ErrUnavailable)
}

func (s *downStore) Ping(context.Context) error {
	return db.ErrUnavailable
}

// slowStore blocks until the request context is done.
type slowStore struct{ *db.DB }

func (s *slowStore) AccessibleBoards(ctx context.Context, _ string) ([]db.Board, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// --- Tests ---

func TestStatsUnauthenticated(t *testing.T) {
	d := openDB(t)
	store := &countingStore{DB: d}
	te := setupWithStore(t, d, store)

	other, err := auth.NewVerifier("some-other-secret-value", "token")
	require.NoError(t, err)
	forged, err := other.Sign("u1", time.Hour)
	require.NoError(t, err)

	for _, tok := range []string{"", "garbage", forged} {
		w := te.get(t, "/api/v1/stats", tok)
		assertStatus(t, w, http.StatusUnauthorized)
		assertErrorResponse(t, w, "unauthenticated")
	}
	assert.Zero(t, store.calls.Load())
}

func TestStatsSolo(t *testing.T) {
	te := setup(t)
	w := te.get(t, "/api/v1/stats?range=7", te.token(t, "u1"))
	assertStatus(t, w, http.StatusOK)
	assert.Equal(t, "private, max-age=30", w.Header().Get("Cache-Control"))

	rep := decode[stats.Report](t, w)
	assert.Equal(t, "solo", rep.Mode)
	assert.Equal(t, "7", rep.Filters.Range)
	assert.Equal(t, "all", rep.Filters.BoardID)
	assert.Equal(t, 1, rep.Solo.KPI.Posts)
	assert.Equal(t, 0, rep.Solo.KPI.Comments)
	assert.Equal(t, 1.0, rep.Solo.Engagement.AverageCommentsOnPosts)
	require.Len(t, rep.Options.Boards, 1)
	assert.Equal(t, "Porto", rep.Options.Boards[0].Title)
	assert.Len(t, rep.Options.Users, 2)
}

func TestStatsGroupMemberFilter(t *testing.T) {
	te := setup(t)
	w := te.get(t, "/api/v1/stats?mode=group&range=30&userId=u2", te.token(t, "u1"))
	assertStatus(t, w, http.StatusOK)

	rep := decode[stats.Report](t, w)
	assert.Equal(t, "group", rep.Mode)
	assert.Equal(t, "u2", rep.Filters.UserID)
	assert.Equal(t, 1, rep.Group.KPI.Posts)
	assert.Equal(t, 1, rep.Group.KPI.Comments)
	require.Len(t, rep.Group.Ranking, 1)
	assert.Equal(t, "Bob", rep.Group.Ranking[0].DisplayName)
}

func TestStatsJSONShape(t *testing.T) {
	te := setup(t)
	w := te.get(t, "/api/v1/stats?mode=group&range=custom&startDate=2024-06-09&endDate=2024-06-09",
		te.token(t, "u1"))
	assertStatus(t, w, http.StatusOK)

	body := decode[map[string]any](t, w)
	for _, key := range []string{"mode", "filters", "options", "solo", "group"} {
		assert.Contains(t, body, key)
	}
	filters := body["filters"].(map[string]any)
	assert.Equal(t, "custom", filters["range"])
	assert.Equal(t, "2024-06-09", filters["startDate"])
	assert.Equal(t, "2024-06-09", filters["endDate"])

	group := body["group"].(map[string]any)
	for _, key := range []string{"heatmap", "ranking"} {
		_, isArray := group[key].([]any)
		assert.True(t, isArray, "group.%s should be an array", key)
	}
}

func TestStatsAliasWithCookie(t *testing.T) {
	te := setup(t)
	req := httptest.NewRequest(http.MethodGet, "/stats?range=all", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: te.token(t, "u2")})
	w := httptest.NewRecorder()
	te.handler.ServeHTTP(w, req)

	assertStatus(t, w, http.StatusOK)
	rep := decode[stats.Report](t, w)
	assert.Equal(t, "all", rep.Filters.Range)
	assert.Equal(t, 1, rep.Solo.KPI.Posts)
	assert.Equal(t, 1, rep.Solo.KPI.Comments)
}

func TestStatsInvalidFiltersAreNormalised(t *testing.T) {
	te := setup(t)
	w := te.get(t, "/api/v1/stats?mode=weird&range=custom&startDate=2024-06-09&endDate=2024-06-01",
		te.token(t, "u1"))
	assertStatus(t, w, http.StatusOK)
	rep := decode[stats.Report](t, w)
	assert.Equal(t, "solo", rep.Mode)
	assert.Equal(t, "all", rep.Filters.Range)
	assert.Nil(t, rep.Filters.StartDate)
}

func TestStatsStorageUnavailable(t *testing.T) {
	d := openDB(t)
	store := &downStore{DB: d}
	te := setupWithStore(t, d, store, withBreakerFailures(2))
	tok := te.token(t, "u1")

	for range 2 {
		w := te.get(t, "/api/v1/stats", tok)
		assertStatus(t, w, http.StatusServiceUnavailable)
		assertErrorResponse(t, w, "storage unavailable")
	}
	assert.Equal(t, int32(2), store.calls.Load())

	// The breaker is open now: no further storage calls.
	w := te.get(t, "/api/v1/stats", tok)
	assertStatus(t, w, http.StatusServiceUnavailable)
	assertErrorResponse(t, w, "storage unavailable")
	assert.Equal(t, int32(2), store.calls.Load())
}

func TestStatsTimeout(t *testing.T) {
	d := openDB(t)
	te := setupWithStore(t, d, &slowStore{DB: d},
		withRequestTimeout(20*time.Millisecond))

	w := te.get(t, "/api/v1/stats", te.token(t, "u1"))
	assertStatus(t, w, http.StatusServiceUnavailable)
	assertErrorResponse(t, w, "request timed out")
}

func TestStatsRateLimit(t *testing.T) {
	te := setup(t, withRateLimit(1))
	tok := te.token(t, "u1")

	assertStatus(t, te.get(t, "/api/v1/stats", tok), http.StatusOK)
	w := te.get(t, "/api/v1/stats", tok)
	assertStatus(t, w, http.StatusTooManyRequests)
	assertErrorResponse(t, w, "rate limit exceeded")
}

func TestReloadCacheMaxAge(t *testing.T) {
	te := setup(t)
	cfg := config.Default()
	cfg.Stats.CacheMaxAge = 2 * time.Minute
	te.srv.Reload(cfg)

	w := te.get(t, "/api/v1/stats", te.token(t, "u1"))
	assertStatus(t, w, http.StatusOK)
	assert.Equal(t, "private, max-age=120", w.Header().Get("Cache-Control"))
}

func TestHealthz(t *testing.T) {
	te := setup(t)
	w := te.get(t, "/api/v1/healthz", "")
	assertStatus(t, w, http.StatusOK)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])

	d := openDB(t)
	down := setupWithStore(t, d, &downStore{DB: d})
	w = down.get(t, "/api/v1/healthz", "")
	assertStatus(t, w, http.StatusServiceUnavailable)
	assertErrorResponse(t, w, "storage unavailable")
}

func TestVersionAndRequestID(t *testing.T) {
	te := setup(t)
	w := te.get(t, "/api/v1/version", "")
	assertStatus(t, w, http.StatusOK)
	assert.Equal(t, "test", decode[server.VersionInfo](t, w).Version)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	te := setup(t)
	assertStatus(t, te.get(t, "/api/v1/healthz", ""), http.StatusOK)

	w := te.get(t, "/metrics", "")
	assertStatus(t, w, http.StatusOK)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, "tripstats_http_requests_total"), body)
	assert.True(t, strings.Contains(body, `route="GET /api/v1/healthz"`), body)
}

func TestUnknownRoute(t *testing.T) {
	te := setup(t)
	assertStatus(t, te.get(t, "/api/v1/nope", ""), http.StatusNotFound)
}
