package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/shopbot/backend/internal/config"
	"github.com/zhouzirui/shopbot/backend/internal/handler/webhook"
	verify "github.com/zhouzirui/shopbot/backend/internal/service/webhook"
)

// chatPush mirrors the marketplace push body for chat messages (code 3).
type chatPush struct {
	Code      int    `json:"code"`
	ShopID    int64  `json:"shop_id"`
	Timestamp int64  `json:"timestamp"`
	Data      struct {
		ConversationID string          `json:"conversation_id"`
		FromID         string          `json:"from_id"`
		ToID           int64           `json:"to_id"`
		MessageID      string          `json:"message_id"`
		MessageType    string          `json:"message_type"`
		Content        json.RawMessage `json:"content"`
	} `json:"data"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	target := flag.String("url", "http://localhost"+cfg.Server.Addr+"/webhook", "webhook 地址")
	sender := flag.String("from", "10001", "买家 ID")
	conversation := flag.String("conversation", "", "会话 ID，留空则与买家 ID 相同")
	kind := flag.String("type", "text", "消息类型: text, sticker, image, order")
	text := flag.String("text", "你好，请问什么时候发货？", "文本内容")
	secret := flag.String("secret", "", "签名密钥，默认使用 WEBHOOK_SECRET 或 partner key")
	badSig := flag.Bool("bad-signature", false, "发送错误签名以测试验签")
	timeout := flag.Duration("timeout", 10*time.Second, "请求超时时间")

	flag.Parse()

	key := *secret
	if key == "" {
		key = cfg.Shop.EffectiveWebhookSecret()
	}
	if key == "" {
		log.Fatal("没有可用的签名密钥，请通过 -secret 或 WEBHOOK_SECRET 指定")
	}

	body, err := buildPush(cfg.Shop.ShopID, *sender, *conversation, *kind, *text)
	if err != nil {
		log.Fatalf("构造推送失败: %v", err)
	}

	signature := verify.NewVerifier(key).Sign(body)
	if *badSig {
		signature = strings.Repeat("0", len(signature))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	status, reply, err := post(ctx, *target, body, signature)
	if err != nil {
		log.Fatalf("请求失败: %v", err)
	}
	log.Printf("webhook 响应: status=%d body=%s", status, reply)
}

func buildPush(shopID int64, from, conversationID, kind, text string) ([]byte, error) {
	var push chatPush
	push.Code = 3
	push.ShopID = shopID
	push.Timestamp = time.Now().Unix()
	push.Data.FromID = from
	push.Data.ToID = shopID
	push.Data.ConversationID = conversationID
	if push.Data.ConversationID == "" {
		push.Data.ConversationID = from
	}
	push.Data.MessageID = uuid.NewString()
	push.Data.MessageType = kind

	var content any
	switch kind {
	case "text":
		content = map[string]string{"text": text}
	case "sticker":
		content = map[string]string{"sticker_id": "1", "sticker_package_id": "1"}
	case "image":
		content = map[string]string{"url": "https://example.com/sample.jpg"}
	case "order":
		content = map[string]string{"order_sn": "SIM" + strings.ToUpper(uuid.NewString()[:8])}
	default:
		return nil, fmt.Errorf("unknown message type %q", kind)
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	push.Data.Content = raw
	return json.Marshal(push)
}

func post(ctx context.Context, target string, body []byte, signature string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.SignatureHeader, signature)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, strings.TrimSpace(string(reply)), nil
}
