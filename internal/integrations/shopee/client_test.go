package shopee

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/shopbot/backend/internal/model/message"
	"github.com/zhouzirui/shopbot/backend/internal/model/token"
)

var fixedNow = time.Unix(1735689600, 0).UTC()

func expectedSign(key, base string) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write([]byte(base))
	return hex.EncodeToString(h.Sum(nil))
}

type capturedRequest struct {
	path  string
	query url.Values
	body  map[string]any
}

func newTestClient(t *testing.T, status int, response string) (*Client, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.path = r.URL.Path
		captured.query = r.URL.Query()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &captured.body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(2001, "secret", WithBaseURL(srv.URL), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return c, captured
}

func TestNewClientValidates(t *testing.T) {
	_, err := NewClient(0, "k")
	require.Error(t, err)
	_, err = NewClient(1, " ")
	require.Error(t, err)
}

func TestSignMatchesBaseStringLayout(t *testing.T) {
	c, err := NewClient(2001, "secret")
	require.NoError(t, err)

	require.Equal(t, expectedSign("secret", "2001/api/v2/auth/token/get1735689600"),
		c.Sign(pathTokenGet, 1735689600, "", 0))
	require.Equal(t, expectedSign("secret", "2001/api/v2/sellerchat/send_message1735689600tok1001"),
		c.Sign(pathSendMessage, 1735689600, "tok", 1001))
}

func TestAuthorizeURL(t *testing.T) {
	c, err := NewClient(2001, "secret", WithBaseURL("https://example.test/"), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	u, err := url.Parse(c.AuthorizeURL("https://bot.example/auth/callback"))
	require.NoError(t, err)
	require.Equal(t, "example.test", u.Host)
	require.Equal(t, pathAuthPartner, u.Path)
	require.Equal(t, "2001", u.Query().Get("partner_id"))
	require.Equal(t, "https://bot.example/auth/callback", u.Query().Get("redirect"))
	require.Equal(t, c.Sign(pathAuthPartner, fixedNow.Unix(), "", 0), u.Query().Get("sign"))
}

func TestExchangeCode(t *testing.T) {
	c, captured := newTestClient(t, http.StatusOK, `{"access_token":"at","refresh_token":"rt","expire_in":14400,"error":"","message":""}`)

	rec, err := c.ExchangeCode(context.Background(), "code-1", 1001)
	require.NoError(t, err)
	require.Equal(t, token.Record{
		AccessToken:  "at",
		RefreshToken: "rt",
		ShopID:       1001,
		IssuedAt:     fixedNow,
		ExpiresAt:    fixedNow.Add(4 * time.Hour),
	}, rec)

	require.Equal(t, pathTokenGet, captured.path)
	require.Equal(t, c.Sign(pathTokenGet, fixedNow.Unix(), "", 0), captured.query.Get("sign"))
	require.Equal(t, "code-1", captured.body["code"])
	require.EqualValues(t, 1001, captured.body["shop_id"])
	require.EqualValues(t, 2001, captured.body["partner_id"])
}

func TestRefreshTokenKeepsOldRefreshTokenWhenOmitted(t *testing.T) {
	c, captured := newTestClient(t, http.StatusOK, `{"access_token":"at2","expire_in":14400}`)

	rec, err := c.RefreshToken(context.Background(), token.Record{RefreshToken: "rt1", ShopID: 1001})
	require.NoError(t, err)
	require.Equal(t, "at2", rec.AccessToken)
	require.Equal(t, "rt1", rec.RefreshToken)
	require.Equal(t, pathAccessTokenGet, captured.path)
	require.Equal(t, "rt1", captured.body["refresh_token"])
}

func TestAPIErrorInBody(t *testing.T) {
	c, _ := newTestClient(t, http.StatusOK, `{"error":"error_auth","message":"invalid refresh token","request_id":"r1"}`)

	_, err := c.RefreshToken(context.Background(), token.Record{RefreshToken: "bad", ShopID: 1})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "error_auth", apiErr.Code)
	require.Equal(t, "r1", apiErr.RequestID)
}

func TestHTTPStatusErrorHidesQuery(t *testing.T) {
	c, _ := newTestClient(t, http.StatusBadGateway, `upstream down`)

	err := NewSender(c, func() int64 { return 1001 }).Send(context.Background(), message.Outbound{ToID: "42", Text: "hi"}, "secret-token")
	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusBadGateway, statusErr.HTTPStatusCode())
	require.NotContains(t, statusErr.Error(), "secret-token")
}

func TestSendTextSignsWithShopCredentials(t *testing.T) {
	c, captured := newTestClient(t, http.StatusOK, `{"error":"","response":{"message_id":"m-9"}}`)

	id, err := c.SendText(context.Background(), 1001, "tok", 42, "您好")
	require.NoError(t, err)
	require.Equal(t, "m-9", id)

	require.Equal(t, pathSendMessage, captured.path)
	require.Equal(t, "tok", captured.query.Get("access_token"))
	require.Equal(t, "1001", captured.query.Get("shop_id"))
	require.Equal(t, c.Sign(pathSendMessage, fixedNow.Unix(), "tok", 1001), captured.query.Get("sign"))
	require.EqualValues(t, 42, captured.body["to_id"])
	require.Equal(t, "text", captured.body["message_type"])
	require.Equal(t, map[string]any{"text": "您好"}, captured.body["content"])
}

func TestSenderRejectsNonNumericRecipient(t *testing.T) {
	c, _ := newTestClient(t, http.StatusOK, `{}`)
	err := NewSender(c, func() int64 { return 1 }).Send(context.Background(), message.Outbound{ToID: "abc"}, "tok")
	require.Error(t, err)
}

func TestMessagesPassThrough(t *testing.T) {
	c, captured := newTestClient(t, http.StatusOK, `{"error":"","response":{"messages":[]}}`)

	raw, err := c.Messages(context.Background(), 1001, "tok", "777", 500, "next")
	require.NoError(t, err)
	require.JSONEq(t, `{"error":"","response":{"messages":[]}}`, string(raw))
	require.EqualValues(t, 777, captured.body["conversation_id"])
	require.EqualValues(t, 100, captured.body["page_size"])
	require.Equal(t, "next", captured.body["offset"])

	_, err = c.Messages(context.Background(), 1001, "tok", "x", 0, "")
	require.Error(t, err)
}
