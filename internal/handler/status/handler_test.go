package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/shopbot/backend/internal/model/token"
	"github.com/zhouzirui/shopbot/backend/internal/service/router"
)

type fixedStatus token.Status

func (f fixedStatus) Status() token.Status { return token.Status(f) }

type fixedStats router.Stats

func (f fixedStats) Stats() router.Stats { return router.Stats(f) }

func TestHealthz(t *testing.T) {
	r := chi.NewRouter()
	New(fixedStatus{State: token.StateNoToken}, nil, Features{}).RegisterRoutes(r)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
}

func TestStatusReportsTokenAndFeatures(t *testing.T) {
	r := chi.NewRouter()
	New(
		fixedStatus{State: token.StateExpiringSoon, Authorized: true, ShopID: 1001, Degraded: true},
		fixedStats{Received: 3, Replied: 2},
		Features{KeywordReply: true, ConversationHistory: 20, RateLimitPerMinute: 30},
	).RegisterRoutes(r)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Status string       `json:"status"`
		Token  token.Status `json:"token"`
		Feat   Features     `json:"features"`
		Stats  router.Stats `json:"pipeline"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, "running", body.Status)
	require.Equal(t, token.StateExpiringSoon, body.Token.State)
	require.True(t, body.Token.Degraded)
	require.Equal(t, int64(1001), body.Token.ShopID)
	require.Equal(t, 30, body.Feat.RateLimitPerMinute)
	require.Equal(t, uint64(2), body.Stats.Replied)
}
