package shopee

import (
	"context"
	"errors"
	"time"

	"github.com/zhouzirui/shopbot/backend/internal/model/token"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpireIn     int64  `json:"expire_in"`
}

func (r tokenResponse) record(shopID int64, issuedAt time.Time) (token.Record, error) {
	if r.AccessToken == "" || r.ExpireIn <= 0 {
		return token.Record{}, errors.New("shopee: token response missing access_token or expire_in")
	}
	return token.Record{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ShopID:       shopID,
		IssuedAt:     issuedAt,
		ExpiresAt:    issuedAt.Add(time.Duration(r.ExpireIn) * time.Second),
	}, nil
}

// ExchangeCode trades the one-time authorization code for the first token pair.
func (c *Client) ExchangeCode(ctx context.Context, code string, shopID int64) (token.Record, error) {
	if code == "" || shopID == 0 {
		return token.Record{}, errors.New("shopee: code and shop id are required")
	}

	issuedAt := c.now()
	var resp tokenResponse
	payload := map[string]any{
		"code":       code,
		"partner_id": c.partnerID,
		"shop_id":    shopID,
	}
	if _, err := c.postJSON(ctx, pathTokenGet, c.publicQuery(pathTokenGet), payload, &resp); err != nil {
		return token.Record{}, err
	}
	return resp.record(shopID, issuedAt)
}

// RefreshToken exchanges rec's refresh token for a new pair.
func (c *Client) RefreshToken(ctx context.Context, rec token.Record) (token.Record, error) {
	if rec.RefreshToken == "" {
		return token.Record{}, errors.New("shopee: refresh token is empty")
	}

	issuedAt := c.now()
	var resp tokenResponse
	payload := map[string]any{
		"refresh_token": rec.RefreshToken,
		"partner_id":    c.partnerID,
		"shop_id":       rec.ShopID,
	}
	if _, err := c.postJSON(ctx, pathAccessTokenGet, c.publicQuery(pathAccessTokenGet), payload, &resp); err != nil {
		return token.Record{}, err
	}
	if resp.RefreshToken == "" {
		resp.RefreshToken = rec.RefreshToken
	}
	return resp.record(rec.ShopID, issuedAt)
}
