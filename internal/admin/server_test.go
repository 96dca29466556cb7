package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ganesh-ai/internal/ledger"
	"ganesh-ai/internal/models"
	"ganesh-ai/internal/store"
)

type fakeStats struct {
	stats *store.Stats
	err   error
}

func (f fakeStats) Stats(context.Context, time.Time) (*store.Stats, error) {
	return f.stats, f.err
}

func newTestServer(t *testing.T, stats StatsSource) (*http.ServeMux, *ledger.Service, uint) {
	t.Helper()
	svc := ledger.NewService(ledger.NewMemoryStore(), ledger.DefaultPolicy())
	reg, err := svc.Register(context.Background(), ledger.Registration{Username: "asha"})
	require.NoError(t, err)

	// httptest requests come from 192.0.2.1
	srv := NewServer(svc, stats, "admin", "s3cret", []string{"192.0.2.0/24"})
	mux := http.NewServeMux()
	srv.Register(mux)
	return mux, svc, reg.User.ID
}

func do(mux *http.ServeMux, method, path, body string, auth bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if auth {
		req.SetBasicAuth("admin", "s3cret")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestHealthNeedsNoAuth(t *testing.T) {
	mux, _, _ := newTestServer(t, fakeStats{})
	rec := do(mux, http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequiresBasicAuth(t *testing.T) {
	mux, _, _ := newTestServer(t, fakeStats{})

	rec := do(mux, http.MethodGet, "/admin/users/1", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/admin/users/1", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRejectsDisallowedIP(t *testing.T) {
	svc := ledger.NewService(ledger.NewMemoryStore(), ledger.DefaultPolicy())
	srv := NewServer(svc, fakeStats{}, "admin", "s3cret", []string{"10.0.0.0/8"})
	mux := http.NewServeMux()
	srv.Register(mux)

	rec := do(mux, http.MethodGet, "/admin/stats", "", true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEmptyPasswordDisablesAdmin(t *testing.T) {
	svc := ledger.NewService(ledger.NewMemoryStore(), ledger.DefaultPolicy())
	srv := NewServer(svc, fakeStats{}, "admin", "", []string{"192.0.2.0/24"})
	mux := http.NewServeMux()
	srv.Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.SetBasicAuth("admin", "")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStats(t *testing.T) {
	mux, _, _ := newTestServer(t, fakeStats{stats: &store.Stats{TotalUsers: 3, PremiumUsers: 1, TotalPayouts: "30.05"}})

	rec := do(mux, http.MethodGet, "/admin/stats", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.EqualValues(t, 3, out["total_users"])
	assert.Equal(t, "30.05", out["total_payouts"])

	mux, _, _ = newTestServer(t, fakeStats{err: errors.New("db down")})
	rec = do(mux, http.MethodGet, "/admin/stats", "", true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetUser(t *testing.T) {
	mux, _, _ := newTestServer(t, fakeStats{})

	rec := do(mux, http.MethodGet, "/admin/users/1", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	user := out["user"].(map[string]any)
	assert.Equal(t, "asha", user["username"])
	assert.Equal(t, "10.00", user["balance"])
	assert.EqualValues(t, 1, out["entries"])

	assert.Equal(t, http.StatusNotFound, do(mux, http.MethodGet, "/admin/users/99", "", true).Code)
	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodGet, "/admin/users/abc", "", true).Code)
}

func TestAdjustmentAndLedger(t *testing.T) {
	mux, svc, id := newTestServer(t, fakeStats{})

	rec := do(mux, http.MethodPost, "/admin/users/1/adjustments", `{"delta":"-4.50","note":"refund"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	out := decode(t, rec)
	entry := out["entry"].(map[string]any)
	assert.Equal(t, "admin_adjustment", entry["kind"])
	assert.Equal(t, "-4.50", entry["amount"])
	assert.Equal(t, "5.50", entry["balance_after"])

	rec = do(mux, http.MethodPost, "/admin/users/1/adjustments", `{"delta":"-6","note":"too much"}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(mux, http.MethodPost, "/admin/users/1/adjustments", `{"delta":"1"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(mux, http.MethodPost, "/admin/users/1/adjustments", `{"delta":"lots","note":"x"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(mux, http.MethodGet, "/admin/users/1/ledger", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	out = decode(t, rec)
	assert.Equal(t, "5.50", out["balance"])
	assert.Len(t, out["entries"], 2)

	balance, err := svc.GetBalance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "5.50", balance.StringFixed(2))
}

func TestDeactivate(t *testing.T) {
	mux, svc, id := newTestServer(t, fakeStats{})

	rec := do(mux, http.MethodPost, "/admin/users/1/deactivate", "", true)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err := svc.RecordChatEarning(context.Background(), id, 1, nil)
	assert.ErrorIs(t, err, ledger.ErrUserInactive)

	assert.Equal(t, http.StatusNotFound, do(mux, http.MethodPost, "/admin/users/7/deactivate", "", true).Code)
}

func TestChats(t *testing.T) {
	mux, svc, id := newTestServer(t, fakeStats{})
	ctx := context.Background()
	for _, prompt := range []string{"first", "second", "third"} {
		_, err := svc.RecordChatEarning(ctx, id, 1, &models.ChatRecord{Prompt: prompt, Response: "ok", Platform: "web", Tokens: 7})
		require.NoError(t, err)
	}

	rec := do(mux, http.MethodGet, "/admin/users/1/chats?limit=2", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	chats := decode(t, rec)["chats"].([]any)
	require.Len(t, chats, 2)
	newest := chats[0].(map[string]any)
	assert.Equal(t, "third", newest["prompt"])
	assert.Equal(t, "0.05", newest["earning"])
	assert.EqualValues(t, 7, newest["tokens"])

	rec = do(mux, http.MethodGet, "/admin/users/1/chats", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["chats"], 3)

	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodGet, "/admin/users/1/chats?limit=0", "", true).Code)
	assert.Equal(t, http.StatusNotFound, do(mux, http.MethodGet, "/admin/users/9/chats", "", true).Code)
	assert.Equal(t, http.StatusUnauthorized, do(mux, http.MethodGet, "/admin/users/1/chats", "", false).Code)
}
