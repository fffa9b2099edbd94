package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/shopbot/backend/internal/model/conversation"
	"github.com/zhouzirui/shopbot/backend/internal/model/message"
	convsvc "github.com/zhouzirui/shopbot/backend/internal/service/conversation"
	logsvc "github.com/zhouzirui/shopbot/backend/internal/service/msglog"
	"github.com/zhouzirui/shopbot/backend/internal/service/ratelimit"
	"github.com/zhouzirui/shopbot/backend/internal/service/router"
	verify "github.com/zhouzirui/shopbot/backend/internal/service/webhook"
)

type nopTokens struct{}

func (nopTokens) ValidToken(context.Context) (string, error) { return "t", nil }

type countingSender struct{ sent chan message.Outbound }

func (s countingSender) Send(_ context.Context, out message.Outbound, _ string) error {
	s.sent <- out
	return nil
}

func setup(t *testing.T) (*chi.Mux, *verify.Verifier, conversation.Store, chan message.Outbound) {
	t.Helper()
	verifier := verify.NewVerifier("secret")
	convs := convsvc.NewMemoryStore(20)
	sent := make(chan message.Outbound, 4)

	pipeline, err := router.New(router.Deps{
		Verifier:      verifier,
		Limiter:       ratelimit.New(30),
		Conversations: convs,
		Tokens:        nopTokens{},
		Sender:        countingSender{sent: sent},
		Log:           logsvc.NewMemoryStore(10),
	}, router.Config{})
	require.NoError(t, err)
	pipeline.Start(context.Background())
	t.Cleanup(func() { _ = pipeline.Stop(context.Background()) })

	r := chi.NewRouter()
	New(pipeline).RegisterRoutes(r)
	return r, verifier, convs, sent
}

func push(t *testing.T) []byte {
	body, err := json.Marshal(map[string]any{
		"code":    3,
		"shop_id": 1001,
		"data": map[string]any{
			"conversation_id": "c1",
			"from_id":         42,
			"message_type":    "text",
			"content":         map[string]string{"text": "hi"},
		},
	})
	require.NoError(t, err)
	return body
}

func TestPushWithValidSignatureIsAcked(t *testing.T) {
	r, verifier, _, sent := setup(t)
	body := push(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, verifier.Sign(body))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"status":"ok"}`, resp.Body.String())

	out := <-sent
	require.Equal(t, "42", out.ToID)
}

func TestPushWithBadSignatureIsRejected(t *testing.T) {
	r, _, convs, sent := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(push(t)))
	req.Header.Set(SignatureHeader, "00")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusUnauthorized, resp.Code)
	require.Empty(t, sent)
	senders, err := convs.Senders(context.Background())
	require.NoError(t, err)
	require.Empty(t, senders)
}

func TestPushWithGarbageBodyIsBadRequest(t *testing.T) {
	r, verifier, _, _ := setup(t)
	body := []byte("not json")

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, verifier.Sign(body))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
}
