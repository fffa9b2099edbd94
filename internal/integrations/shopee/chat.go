package shopee

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/zhouzirui/shopbot/backend/internal/model/message"
)

type sendMessageResponse struct {
	Response struct {
		MessageID string `json:"message_id"`
	} `json:"response"`
}

// SendText posts a text message to a buyer and returns the marketplace message id.
func (c *Client) SendText(ctx context.Context, shopID int64, accessToken string, toID int64, text string) (string, error) {
	if toID == 0 {
		return "", errors.New("shopee: recipient id is required")
	}
	payload := map[string]any{
		"to_id":        toID,
		"message_type": "text",
		"content":      map[string]string{"text": text},
	}

	var resp sendMessageResponse
	if _, err := c.postJSON(ctx, pathSendMessage, c.shopQuery(pathSendMessage, accessToken, shopID), payload, &resp); err != nil {
		return "", err
	}
	return resp.Response.MessageID, nil
}

// ConversationList returns the raw latest-conversations page.
func (c *Client) ConversationList(ctx context.Context, shopID int64, accessToken string, pageSize int, offset string) (json.RawMessage, error) {
	payload := map[string]any{
		"direction": "latest",
		"type":      "all",
		"page_size": clampPageSize(pageSize),
	}
	if offset != "" {
		payload["offset"] = offset
	}
	return c.postJSON(ctx, pathConversationList, c.shopQuery(pathConversationList, accessToken, shopID), payload, nil)
}

// Messages returns the raw message page of one conversation.
func (c *Client) Messages(ctx context.Context, shopID int64, accessToken, conversationID string, pageSize int, offset string) (json.RawMessage, error) {
	id, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("shopee: invalid conversation id %q", conversationID)
	}
	payload := map[string]any{
		"conversation_id": id,
		"page_size":       clampPageSize(pageSize),
	}
	if offset != "" {
		payload["offset"] = offset
	}
	return c.postJSON(ctx, pathGetMessage, c.shopQuery(pathGetMessage, accessToken, shopID), payload, nil)
}

func clampPageSize(n int) int {
	switch {
	case n <= 0:
		return 20
	case n > 100:
		return 100
	default:
		return n
	}
}

// Sender delivers router replies through the seller chat API for the shop
// currently holding credentials.
type Sender struct {
	client *Client
	shopID func() int64
}

func NewSender(client *Client, shopID func() int64) *Sender {
	return &Sender{client: client, shopID: shopID}
}

func (s *Sender) Send(ctx context.Context, out message.Outbound, accessToken string) error {
	toID, err := strconv.ParseInt(out.ToID, 10, 64)
	if err != nil {
		return fmt.Errorf("shopee: invalid recipient id %q", out.ToID)
	}
	_, err = s.client.SendText(ctx, s.shopID(), accessToken, toID, out.Text)
	return err
}
