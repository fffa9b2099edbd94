package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/shopbot/backend/internal/apperr"
	"github.com/zhouzirui/shopbot/backend/internal/model/conversation"
	"github.com/zhouzirui/shopbot/backend/internal/model/message"
	"github.com/zhouzirui/shopbot/backend/internal/model/msglog"
	"github.com/zhouzirui/shopbot/backend/internal/model/rule"
	"github.com/zhouzirui/shopbot/backend/internal/model/token"
	"github.com/zhouzirui/shopbot/backend/internal/service/auth"
	convsvc "github.com/zhouzirui/shopbot/backend/internal/service/conversation"
	"github.com/zhouzirui/shopbot/backend/internal/service/knowledge"
	logsvc "github.com/zhouzirui/shopbot/backend/internal/service/msglog"
	"github.com/zhouzirui/shopbot/backend/internal/service/router"
)

type fakeCredentials struct {
	token     string
	refreshes int
}

func (f *fakeCredentials) ValidToken(context.Context) (string, error) {
	if f.token == "" {
		return "", apperr.New(apperr.KindAuthUnavailable, "no_token", nil)
	}
	return f.token, nil
}

func (f *fakeCredentials) Current() (token.Record, bool) {
	return token.Record{AccessToken: f.token, ShopID: 1001}, f.token != ""
}

func (f *fakeCredentials) RequestRefresh() bool {
	f.refreshes++
	return true
}

func (f *fakeCredentials) Status() token.Status {
	return token.Status{State: token.StateValid, Authorized: f.token != "", ShopID: 1001}
}

type fakeShop struct {
	shopID int64
	token  string
	convID string
}

func (f *fakeShop) ConversationList(_ context.Context, shopID int64, accessToken string, _ int, _ string) (json.RawMessage, error) {
	f.shopID, f.token = shopID, accessToken
	return json.RawMessage(`{"response":{"conversations":[]}}`), nil
}

func (f *fakeShop) Messages(_ context.Context, _ int64, _ string, conversationID string, _ int, _ string) (json.RawMessage, error) {
	f.convID = conversationID
	return nil, errors.New("upstream down")
}

type fakePipeline struct{ got []message.Inbound }

func (f *fakePipeline) Simulate(_ context.Context, msg message.Inbound) router.Result {
	f.got = append(f.got, msg)
	return router.Result{State: router.StateLogged, Message: msg, Reply: "您好", Source: msglog.SourceKeyword}
}

type fakeSender struct {
	sent []message.Outbound
	err  error
}

func (f *fakeSender) Send(_ context.Context, out message.Outbound, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, out)
	return nil
}

type env struct {
	r        *chi.Mux
	tokens   *auth.Tokens
	rules    *rule.MemoryStore
	convs    *convsvc.MemoryStore
	logs     *logsvc.MemoryStore
	creds    *fakeCredentials
	shop     *fakeShop
	pipeline *fakePipeline
	sender   *fakeSender
	applied  []string
	bearer   string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	tokens, err := auth.NewTokens("jwt-secret", time.Hour)
	require.NoError(t, err)

	e := &env{
		r:        chi.NewRouter(),
		tokens:   tokens,
		rules:    rule.NewMemoryStore(rule.Seed()),
		convs:    convsvc.NewMemoryStore(20),
		logs:     logsvc.NewMemoryStore(50),
		creds:    &fakeCredentials{token: "shop-access"},
		shop:     &fakeShop{},
		pipeline: &fakePipeline{},
		sender:   &fakeSender{},
	}
	loader := knowledge.NewLoader(fstest.MapFS{
		"faq.txt": {Data: []byte("營業時間 9:00-18:00")},
	})

	h := New(Deps{
		Tokens:        tokens,
		Passwords:     auth.NewPasswords("", "letmein"),
		Rules:         e.rules,
		Conversations: e.convs,
		Logs:          e.logs,
		Credentials:   e.creds,
		Shop:          e.shop,
		Sender:        e.sender,
		Pipeline:      e.pipeline,
		Knowledge:     loader,
		Apply:         func(content string) { e.applied = append(e.applied, content) },
	})
	e.r.Route("/api/admin", h.RegisterRoutes)

	signed, _, err := tokens.Issue("ops")
	require.NoError(t, err)
	e.bearer = "Bearer " + signed
	return e
}

func (e *env) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if e.bearer != "" {
		req.Header.Set("Authorization", e.bearer)
	}
	resp := httptest.NewRecorder()
	e.r.ServeHTTP(resp, req)
	return resp
}

func TestLoginIssuesUsableToken(t *testing.T) {
	e := newEnv(t)
	e.bearer = ""

	resp := e.do(t, http.MethodPost, "/api/admin/login", map[string]string{"password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = e.do(t, http.MethodPost, "/api/admin/login", map[string]string{"username": "ops", "password": "letmein"})
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	claims, err := e.tokens.Parse(body.Token)
	require.NoError(t, err)
	require.Equal(t, "ops", claims.Operator)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	e := newEnv(t)
	e.bearer = ""

	resp := e.do(t, http.MethodGet, "/api/admin/keyword-rules", nil)
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	e.bearer = "Bearer not-a-jwt"
	resp = e.do(t, http.MethodGet, "/api/admin/keyword-rules", nil)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestKeywordRuleLifecycle(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/api/admin/keyword-rules/item", rule.Rule{
		Keywords: []string{"發票"}, Reply: "我們提供電子發票", Enabled: true,
	})
	require.Equal(t, http.StatusCreated, resp.Code)
	var created rule.Rule
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	resp = e.do(t, http.MethodPut, "/api/admin/keyword-rules/"+created.ID, rule.Rule{
		Keywords: []string{"發票", "統編"}, Reply: "我們提供電子發票", Enabled: false,
	})
	require.Equal(t, http.StatusOK, resp.Code)
	got, err := e.rules.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.False(t, got.Enabled)
	require.Equal(t, []string{"發票", "統編"}, got.Keywords)

	resp = e.do(t, http.MethodPost, "/api/admin/keyword-rules/item", rule.Rule{Keywords: []string{"x"}})
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = e.do(t, http.MethodDelete, "/api/admin/keyword-rules/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, resp.Code)
	resp = e.do(t, http.MethodDelete, "/api/admin/keyword-rules/"+created.ID, nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestReplaceRules(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/api/admin/keyword-rules", map[string]any{
		"rules": []rule.Rule{{ID: "only", Keywords: []string{"優惠"}, Reply: "目前全館九折", Enabled: true}},
	})
	require.Equal(t, http.StatusOK, resp.Code)

	resp = e.do(t, http.MethodGet, "/api/admin/keyword-rules", nil)
	var body struct {
		Rules []rule.Rule `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Rules, 1)
	require.Equal(t, "only", body.Rules[0].ID)
}

func TestConversationRoutes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.convs.Append(ctx, "42",
		conversation.Entry{SenderID: "42", Role: conversation.RoleUser, Text: "在嗎"},
		conversation.Entry{SenderID: "42", Role: conversation.RoleAssistant, Text: "在的"},
	))

	resp := e.do(t, http.MethodGet, "/api/admin/conversations", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"senders":["42"],"total":1}`, resp.Body.String())

	resp = e.do(t, http.MethodGet, "/api/admin/conversations/42", nil)
	var body struct {
		Messages []conversation.Entry `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Messages, 2)

	resp = e.do(t, http.MethodDelete, "/api/admin/conversations/42", nil)
	require.Equal(t, http.StatusNoContent, resp.Code)
	history, err := e.convs.History(ctx, "42")
	require.NoError(t, err)
	require.Empty(t, history)

	resp = e.do(t, http.MethodGet, "/api/admin/conversations/nobody", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"senderId":"nobody","messages":[]}`, resp.Body.String())
}

func TestLogsLimit(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, e.logs.Append(context.Background(), msglog.Record{Direction: msglog.Incoming, SenderID: "42", Outcome: "received"}))
	}

	resp := e.do(t, http.MethodGet, "/api/admin/logs?limit=3", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, 3, body.Count)

	resp = e.do(t, http.MethodGet, "/api/admin/logs?limit=-1", nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestTokenRefreshIsQueued(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/api/admin/token/refresh", nil)

	require.Equal(t, http.StatusAccepted, resp.Code)
	require.Equal(t, 1, e.creds.refreshes)
}

func TestShopPassThrough(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodGet, "/api/admin/shop/conversations?page_size=5", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"response":{"conversations":[]}}`, resp.Body.String())
	require.Equal(t, int64(1001), e.shop.shopID)
	require.Equal(t, "shop-access", e.shop.token)

	resp = e.do(t, http.MethodGet, "/api/admin/shop/conversations/c9/messages", nil)
	require.Equal(t, http.StatusBadGateway, resp.Code)
	require.Equal(t, "c9", e.shop.convID)

	e.creds.token = ""
	resp = e.do(t, http.MethodGet, "/api/admin/shop/conversations", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestTestWebhookSimulates(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/api/admin/test/webhook", map[string]string{"message": "運費多少"})

	require.Equal(t, http.StatusOK, resp.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, "keyword", body["reply_type"])
	require.Equal(t, "test_user", body["user_id"])
	require.Len(t, e.pipeline.got, 1)
	require.Equal(t, message.TypeText, e.pipeline.got[0].Type)

	resp = e.do(t, http.MethodPost, "/api/admin/test/webhook", map[string]string{"message": "  "})
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestTestSend(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/api/admin/test/send", map[string]string{"user_id": "42", "message": "您好"})
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, []message.Outbound{{ConversationID: "42", ToID: "42", Text: "您好"}}, e.sender.sent)

	resp = e.do(t, http.MethodPost, "/api/admin/test/send", map[string]string{"user_id": "42"})
	require.Equal(t, http.StatusBadRequest, resp.Code)

	e.sender.err = errors.New("marketplace 500")
	resp = e.do(t, http.MethodPost, "/api/admin/test/send", map[string]string{"user_id": "42", "message": "您好"})
	require.Equal(t, http.StatusBadGateway, resp.Code)
}

func TestKnowledgeReloadAppliesContent(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/api/admin/knowledge/reload", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, e.applied, 1)
	require.Contains(t, e.applied[0], "營業時間")

	resp = e.do(t, http.MethodGet, "/api/admin/knowledge", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var snap knowledge.Snapshot
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &snap))
	require.Len(t, snap.Files, 1)
	require.Equal(t, knowledge.StatusLoaded, snap.Files[0].Status)
}

func TestEventsWithoutHubIsUnavailable(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodGet, "/api/admin/events", nil)

	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
}
