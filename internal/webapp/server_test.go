package webapp

import (
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

	"prediction-bot/internal/predictions"
	"prediction-bot/internal/service"
	"prediction-bot/internal/store"
)

func newTestServer() *Server {
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	svc := service.New(store.NewMemoryStorage(), predictions.Default(), log, 100, 24*time.Hour)
	return New(log, svc, 10, []string{"127.0.0.0/8"})
}

func doJSON(t *testing.T, srv *Server, method, target, body, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestProfileLazilyCreatesUser(t *testing.T) {
	srv := newTestServer()

	rec := doJSON(t, srv, http.MethodGet, "/api/profile?user_id=1&username=alice", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp profileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.TelegramID)
	assert.Equal(t, "alice", resp.Username)
	assert.Equal(t, int64(0), resp.Stars)
	assert.Equal(t, int64(0), resp.TotalPredictions)
	assert.Equal(t, 1, resp.Rank)
	assert.Empty(t, resp.LastPrediction)
}

func TestProfileRejectsBadUserID(t *testing.T) {
	srv := newTestServer()

	rec := doJSON(t, srv, http.MethodGet, "/api/profile?user_id=abc", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActionWithoutStars(t *testing.T) {
	srv := newTestServer()

	rec := doJSON(t, srv, http.MethodPost, "/api/action",
		`{"action":"get_prediction","user_id":1,"username":"alice"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp actionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "Недостаточно звёзд!", resp.Error)
}

func TestActionUnknownAction(t *testing.T) {
	srv := newTestServer()

	rec := doJSON(t, srv, http.MethodPost, "/api/action",
		`{"action":"dance","user_id":1}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Неизвестное действие", resp.Error)
}

func TestGrantFlowThroughAPI(t *testing.T) {
	srv := newTestServer()

	// Credit from an allowed address.
	rec := doJSON(t, srv, http.MethodPost, "/api/add_stars",
		`{"user_id":1,"stars":100,"payment_reference":"pay-1"}`, "127.0.0.1:5000")
	require.Equal(t, http.StatusOK, rec.Code)

	var credit actionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &credit))
	assert.True(t, credit.Success)
	assert.Equal(t, int64(100), credit.Stars)

	// Grant spends the balance.
	rec = doJSON(t, srv, http.MethodPost, "/api/action",
		`{"action":"get_prediction","user_id":1}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var grant actionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &grant))
	assert.True(t, grant.Success)
	assert.NotEmpty(t, grant.Prediction)
	assert.Equal(t, int64(0), grant.Stars)

	// Immediate retry is blocked by the cooldown.
	rec = doJSON(t, srv, http.MethodPost, "/api/action",
		`{"action":"get_prediction","user_id":1}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var blocked actionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &blocked))
	assert.False(t, blocked.Success)
	assert.Equal(t, "Кулдаун ещё не прошёл", blocked.Error)
	assert.NotEmpty(t, blocked.RetryAfter)

	// History and leaderboard reflect the grant.
	rec = doJSON(t, srv, http.MethodGet, "/api/history?user_id=1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var history []historyRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, grant.Prediction, history[0].Text)

	rec = doJSON(t, srv, http.MethodGet, "/api/leaderboard", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var board []leaderboardRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &board))
	require.Len(t, board, 1)
	assert.Equal(t, int64(1), board[0].TotalPredictions)
}

func TestAddStarsReplaySafe(t *testing.T) {
	srv := newTestServer()

	for i := 0; i < 2; i++ {
		rec := doJSON(t, srv, http.MethodPost, "/api/add_stars",
			`{"user_id":1,"stars":100,"payment_reference":"pay-dup"}`, "127.0.0.1:5000")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, srv, http.MethodGet, "/api/profile?user_id=1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp profileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(100), resp.Stars)
}

func TestAddStarsRejectsNonPositiveAmount(t *testing.T) {
	srv := newTestServer()

	for _, body := range []string{
		`{"user_id":1,"stars":0,"payment_reference":"pay-0"}`,
		`{"user_id":1,"stars":-50,"payment_reference":"pay-neg"}`,
	} {
		rec := doJSON(t, srv, http.MethodPost, "/api/add_stars", body, "127.0.0.1:5000")
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "некорректная сумма", resp.Error)
	}
}

func TestAddStarsForbiddenFromOutside(t *testing.T) {
	srv := newTestServer()

	rec := doJSON(t, srv, http.MethodPost, "/api/add_stars",
		`{"user_id":1,"stars":100,"payment_reference":"pay-x"}`, "203.0.113.9:4444")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRankUnknownUser(t *testing.T) {
	srv := newTestServer()

	rec := doJSON(t, srv, http.MethodGet, "/api/rank?user_id=404", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
