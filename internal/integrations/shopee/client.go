// Package shopee is a focused client for the marketplace partner API: shop
// authorization, token refresh and seller chat.
package shopee

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultBaseURL = "https://partner.shopeemobile.com"

const (
	pathAuthPartner      = "/api/v2/shop/auth_partner"
	pathTokenGet         = "/api/v2/auth/token/get"
	pathAccessTokenGet   = "/api/v2/auth/access_token/get"
	pathSendMessage      = "/api/v2/sellerchat/send_message"
	pathConversationList = "/api/v2/sellerchat/get_conversation_list"
	pathGetMessage       = "/api/v2/sellerchat/get_message"
)

// HTTPStatusError captures non-2xx upstream responses. URL carries the path
// only; query strings hold credentials.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("shopee: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// APIError is a business error reported in the response body.
type APIError struct {
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shopee: %s: %s (request_id=%s)", e.Code, e.Message, e.RequestID)
}

type apiEnvelope struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

type Client struct {
	baseURL    string
	partnerID  int64
	partnerKey []byte
	httpClient *http.Client
	now        func() time.Time
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithClock overrides time.Now for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func NewClient(partnerID int64, partnerKey string, opts ...Option) (*Client, error) {
	if partnerID == 0 {
		return nil, errors.New("shopee: partner id must not be zero")
	}
	if strings.TrimSpace(partnerKey) == "" {
		return nil, errors.New("shopee: partner key must not be empty")
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		partnerID:  partnerID,
		partnerKey: []byte(partnerKey),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	return c, nil
}

// PartnerID returns the configured partner id.
func (c *Client) PartnerID() int64 {
	return c.partnerID
}

// Sign computes the request signature: hex HMAC-SHA256 keyed by the partner
// key over partner_id, path, timestamp, then access token and shop id when set.
func (c *Client) Sign(path string, timestamp int64, accessToken string, shopID int64) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(c.partnerID, 10))
	b.WriteString(path)
	b.WriteString(strconv.FormatInt(timestamp, 10))
	if accessToken != "" {
		b.WriteString(accessToken)
	}
	if shopID != 0 {
		b.WriteString(strconv.FormatInt(shopID, 10))
	}

	h := hmac.New(sha256.New, c.partnerKey)
	h.Write([]byte(b.String()))
	return hex.EncodeToString(h.Sum(nil))
}

// AuthorizeURL is where a seller grants the app access to their shop.
func (c *Client) AuthorizeURL(redirect string) string {
	ts := c.now().Unix()
	q := url.Values{}
	q.Set("partner_id", strconv.FormatInt(c.partnerID, 10))
	q.Set("timestamp", strconv.FormatInt(ts, 10))
	q.Set("sign", c.Sign(pathAuthPartner, ts, "", 0))
	q.Set("redirect", redirect)
	return c.baseURL + pathAuthPartner + "?" + q.Encode()
}

func (c *Client) publicQuery(path string) url.Values {
	ts := c.now().Unix()
	q := url.Values{}
	q.Set("partner_id", strconv.FormatInt(c.partnerID, 10))
	q.Set("timestamp", strconv.FormatInt(ts, 10))
	q.Set("sign", c.Sign(path, ts, "", 0))
	return q
}

func (c *Client) shopQuery(path, accessToken string, shopID int64) url.Values {
	ts := c.now().Unix()
	q := url.Values{}
	q.Set("partner_id", strconv.FormatInt(c.partnerID, 10))
	q.Set("timestamp", strconv.FormatInt(ts, 10))
	q.Set("access_token", accessToken)
	q.Set("shop_id", strconv.FormatInt(shopID, 10))
	q.Set("sign", c.Sign(path, ts, accessToken, shopID))
	return q
}

// postJSON sends payload and decodes the body into out (when non-nil) after
// checking both the HTTP status and the body's error field.
func (c *Client) postJSON(ctx context.Context, path string, query url.Values, payload any, out any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("shopee: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path+"?"+query.Encode(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("shopee: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("shopee: %s: %w", path, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: path, Body: string(buf)}
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("shopee: read response body: %w", err)
	}

	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("shopee: decode response: %w", err)
	}
	if env.Error != "" {
		return nil, &APIError{Code: env.Error, Message: env.Message, RequestID: env.RequestID}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("shopee: decode response: %w", err)
		}
	}
	return raw, nil
}
