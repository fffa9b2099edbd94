package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/zhouzirui/shopbot/backend/internal/model/message"
)

// pushCodeChat is the marketplace push code for chat messages. Other codes
// (order status, shop updates) are acknowledged and ignored.
const pushCodeChat = 3

var errMalformed = errors.New("malformed webhook payload")

// IsMalformed reports whether err came from an undecodable webhook body.
func IsMalformed(err error) bool {
	return errors.Is(err, errMalformed)
}

// flexID accepts identifiers the marketplace sends either as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type envelope struct {
	Code      int64  `json:"code"`
	ShopID    flexID `json:"shop_id"`
	Timestamp int64  `json:"timestamp"`
	Data      struct {
		ConversationID flexID          `json:"conversation_id"`
		FromID         flexID          `json:"from_id"`
		ToID           flexID          `json:"to_id"`
		MessageID      flexID          `json:"message_id"`
		MessageType    string          `json:"message_type"`
		Content        json.RawMessage `json:"content"`
	} `json:"data"`
}

type textContent struct {
	Text string `json:"text"`
}

// parsed is the outcome of decoding a verified body.
type parsed struct {
	msg    message.Inbound
	ignore string
}

func parseEnvelope(body []byte, now time.Time) (parsed, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return parsed{}, errMalformed
	}

	if env.Code != pushCodeChat {
		return parsed{ignore: "push_code_" + strconv.FormatInt(env.Code, 10)}, nil
	}
	d := env.Data
	if d.FromID == "" || d.ConversationID == "" {
		return parsed{ignore: "missing_fields"}, nil
	}
	if env.ShopID != "" && d.FromID == env.ShopID {
		return parsed{ignore: "own_message"}, nil
	}

	msg := message.Inbound{
		ID:             string(d.MessageID),
		SenderID:       string(d.FromID),
		ConversationID: string(d.ConversationID),
		Type:           message.ParseType(d.MessageType),
		Payload:        []byte(d.Content),
		ReceivedAt:     now,
	}
	if env.Timestamp > 0 {
		msg.ReceivedAt = time.Unix(env.Timestamp, 0).UTC()
	}
	if msg.Type == message.TypeText && len(d.Content) > 0 {
		var c textContent
		if err := json.Unmarshal(d.Content, &c); err != nil {
			return parsed{}, errMalformed
		}
		msg.Text = strings.TrimSpace(c.Text)
	}
	return parsed{msg: msg}, nil
}
