package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/shopbot/backend/internal/integrations/openai"
	"github.com/zhouzirui/shopbot/backend/internal/integrations/paramstore"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	Shop   ShopConfig
	Bot    BotConfig
	AI     AIConfig
	Store  StoreConfig
	Admin  AdminConfig
	AWS    AWSConfig
	Log    LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}
	shop, err := loadShopConfig()
	if err != nil {
		return nil, err
	}
	bot, err := loadBotConfig()
	if err != nil {
		return nil, err
	}
	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}
	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}
	admin, err := loadAdminConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Shop:   shop,
		Bot:    bot,
		AI:     ai,
		Store:  store,
		Admin:  admin,
		AWS: AWSConfig{
			Region:      strings.TrimSpace(os.Getenv("AWS_REGION")),
			ParamPrefix: strings.TrimSpace(os.Getenv("PARAM_PREFIX")),
		},
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
	}, nil
}

// ApplySecrets fills secrets that the environment left empty. Environment
// values always win over the parameter store.
func (c *Config) ApplySecrets(s paramstore.Secrets) {
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&c.Shop.PartnerKey, s.PartnerKey)
	fill(&c.Shop.WebhookSecret, s.WebhookSecret)
	fill(&c.AI.OpenAIAPIKey, s.OpenAIAPIKey)
	fill(&c.Admin.JWTSecret, s.AdminJWTSecret)
	fill(&c.Admin.Password, s.AdminPassword)
}

// EffectiveWebhookSecret returns the push signing key, which defaults to the partner key.
func (c ShopConfig) EffectiveWebhookSecret() string {
	if c.WebhookSecret != "" {
		return c.WebhookSecret
	}
	return c.PartnerKey
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。PORT 优先，其次 APP_PORT。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = getEnvOrDefault("APP_PORT", "5000")
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":5000" 或 "127.0.0.1:5000"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// ShopConfig 描述平台开放接口凭证。
type ShopConfig struct {
	PartnerID     int64
	PartnerKey    string
	ShopID        int64
	APIBase       string
	RedirectURL   string
	WebhookSecret string
}

// Enabled reports whether marketplace calls can be signed.
func (c ShopConfig) Enabled() bool {
	return c.PartnerID > 0 && c.PartnerKey != ""
}

func loadShopConfig() (ShopConfig, error) {
	partnerID, err := parseInt64Env("SHOPEE_PARTNER_ID")
	if err != nil {
		return ShopConfig{}, err
	}
	shopID, err := parseInt64Env("SHOPEE_SHOP_ID")
	if err != nil {
		return ShopConfig{}, err
	}
	return ShopConfig{
		PartnerID:     partnerID,
		PartnerKey:    strings.TrimSpace(os.Getenv("SHOPEE_PARTNER_KEY")),
		ShopID:        shopID,
		APIBase:       getEnvOrDefault("SHOPEE_API_BASE", "https://partner.shopeemobile.com"),
		RedirectURL:   strings.TrimSpace(os.Getenv("REDIRECT_URL")),
		WebhookSecret: strings.TrimSpace(os.Getenv("WEBHOOK_SECRET")),
	}, nil
}

// BotConfig 描述回复流程的行为参数。
type BotConfig struct {
	SystemPrompt       string
	KnowledgeDir       string
	MaxHistory         int
	RateLimitPerMinute int
	KeywordReply       bool
	StickerAck         string // empty means the built-in acknowledgement
	StickerAckOff      bool   // STICKER_ACK=off
	AITimeout          time.Duration
	SendRetries        int
	Workers            int
	QueueSize          int
	TokenSafetyMargin  time.Duration
	TokenCheckInterval time.Duration
}

func loadBotConfig() (BotConfig, error) {
	cfg := BotConfig{
		SystemPrompt:       strings.TrimSpace(os.Getenv("SYSTEM_PROMPT")),
		KnowledgeDir:       strings.TrimSpace(os.Getenv("KNOWLEDGE_DIR")),
		MaxHistory:         20,
		RateLimitPerMinute: 30,
		StickerAck:         strings.TrimSpace(os.Getenv("STICKER_ACK")),
		SendRetries:        3,
		Workers:            4,
		QueueSize:          256,
	}

	ints := []struct {
		key string
		dst *int
		min int
	}{
		{"MAX_CONVERSATION_HISTORY", &cfg.MaxHistory, 1},
		{"RATE_LIMIT_PER_MINUTE", &cfg.RateLimitPerMinute, 1},
		{"SEND_RETRIES", &cfg.SendRetries, 0},
		{"ROUTER_WORKERS", &cfg.Workers, 1},
		{"ROUTER_QUEUE_SIZE", &cfg.QueueSize, 1},
	}
	for _, item := range ints {
		v, err := parseOptionalIntEnv(item.key)
		if err != nil {
			return BotConfig{}, err
		}
		if v == nil {
			continue
		}
		if *v < item.min {
			return BotConfig{}, fmt.Errorf("%s must be at least %d, got %d", item.key, item.min, *v)
		}
		*item.dst = *v
	}

	if strings.EqualFold(cfg.StickerAck, "off") {
		cfg.StickerAck = ""
		cfg.StickerAckOff = true
	}

	var err error
	if cfg.KeywordReply, err = parseBoolEnv("ENABLE_KEYWORD_REPLY", true); err != nil {
		return BotConfig{}, err
	}
	if cfg.AITimeout, err = parseDurationEnv("AI_TIMEOUT", 20*time.Second); err != nil {
		return BotConfig{}, err
	}
	if cfg.TokenSafetyMargin, err = parseDurationEnv("TOKEN_SAFETY_MARGIN", 30*time.Minute); err != nil {
		return BotConfig{}, err
	}
	if cfg.TokenCheckInterval, err = parseDurationEnv("TOKEN_CHECK_INTERVAL", 5*time.Minute); err != nil {
		return BotConfig{}, err
	}
	return cfg, nil
}

const (
	ProviderArk    = "ark"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
)

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider      string
	APIKey        string
	AccessKey     string
	SecretKey     string
	Model         string
	BaseURL       string
	Region        string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	Temperature   *float64
	TopP          *float64
	MaxTokens     *int
}

func (c AIConfig) arkReady() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// Backend resolves the provider. Without AI_PROVIDER, Ark wins when its
// credentials are complete, then OpenAI; otherwise replies fall back to the
// canned text.
func (c AIConfig) Backend() string {
	switch c.Provider {
	case ProviderArk, ProviderOpenAI, ProviderNone:
		return c.Provider
	}
	switch {
	case c.arkReady():
		return ProviderArk
	case c.OpenAIAPIKey != "":
		return ProviderOpenAI
	default:
		return ProviderNone
	}
}

// Enabled 表示是否可以构建模型。
func (c AIConfig) Enabled() bool {
	switch c.Backend() {
	case ProviderArk:
		return c.arkReady()
	case ProviderOpenAI:
		return c.OpenAIAPIKey != ""
	default:
		return false
	}
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("AI 凭证缺失：provider=%s 需要 ARK_API_KEY + Model、AK/SK 组合或 OPENAI_API_KEY", c.Backend())
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	if c.Backend() == ProviderOpenAI {
		return openai.NewChatModel(openai.Config{
			APIKey:      c.OpenAIAPIKey,
			BaseURL:     c.OpenAIBaseURL,
			Model:       c.OpenAIModel,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		})
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}
	if temperature == nil {
		if temperature, err = parseOptionalFloatEnv("ARK_TEMPERATURE"); err != nil {
			return AIConfig{}, err
		}
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("AI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}
	if maxTokens == nil {
		if maxTokens, err = parseOptionalIntEnv("ARK_MAX_TOKENS"); err != nil {
			return AIConfig{}, err
		}
	}

	provider := strings.ToLower(strings.TrimSpace(os.Getenv("AI_PROVIDER")))
	switch provider {
	case "", ProviderArk, ProviderOpenAI, ProviderNone:
	default:
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q", provider)
	}

	return AIConfig{
		Provider:      provider,
		APIKey:        strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:     strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:     strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:         strings.TrimSpace(os.Getenv("Model")),
		BaseURL:       getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:        getEnvOrDefault("ARK_REGION", "cn-beijing"),
		OpenAIAPIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL: strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		OpenAIModel:   getEnvOrDefault("OPENAI_MODEL", openai.DefaultModel),
		Temperature:   temperature,
		TopP:          topP,
		MaxTokens:     maxTokens,
	}, nil
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// StoreConfig 选择凭证、对话与日志的存储后端。
type StoreConfig struct {
	Backend         string
	RedisURL        string
	DatabaseURL     string
	MessageLogTable string
}

func loadStoreConfig() (StoreConfig, error) {
	cfg := StoreConfig{
		RedisURL:        strings.TrimSpace(os.Getenv("REDIS_URL")),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		MessageLogTable: strings.TrimSpace(os.Getenv("MESSAGE_LOG_TABLE")),
	}
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND")))
	if backend == "" {
		backend = BackendMemory
		if cfg.RedisURL != "" {
			backend = BackendRedis
		}
	}
	switch backend {
	case BackendMemory:
	case BackendRedis:
		if cfg.RedisURL == "" {
			return StoreConfig{}, fmt.Errorf("STORE_BACKEND=redis requires REDIS_URL")
		}
	default:
		return StoreConfig{}, fmt.Errorf("invalid STORE_BACKEND value %q", backend)
	}
	cfg.Backend = backend
	return cfg, nil
}

// AdminConfig 描述运营后台的登录配置。
type AdminConfig struct {
	JWTSecret    string
	Password     string
	PasswordHash string
	TokenTTL     time.Duration
}

func loadAdminConfig() (AdminConfig, error) {
	ttl, err := parseDurationEnv("ADMIN_TOKEN_TTL", 12*time.Hour)
	if err != nil {
		return AdminConfig{}, err
	}
	return AdminConfig{
		JWTSecret:    strings.TrimSpace(os.Getenv("ADMIN_JWT_SECRET")),
		Password:     os.Getenv("ADMIN_PASSWORD"),
		PasswordHash: strings.TrimSpace(os.Getenv("ADMIN_PASSWORD_HASH")),
		TokenTTL:     ttl,
	}, nil
}

// AWSConfig 控制参数仓库与 DynamoDB 日志。
type AWSConfig struct {
	Region      string
	ParamPrefix string
}

// NeedsAWS reports whether any AWS-backed component is configured.
func (c Config) NeedsAWS() bool {
	return c.AWS.ParamPrefix != "" || c.Store.MessageLogTable != ""
}

type LogConfig struct {
	Level  string
	Format string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseDurationEnv accepts Go durations ("90s") or a bare number of seconds.
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
		}
		return time.Duration(secs) * time.Second, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parseInt64Env(key string) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, nil
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
