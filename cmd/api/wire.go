package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/zhouzirui/shopbot/backend/internal/apperr"
	"github.com/zhouzirui/shopbot/backend/internal/config"
	"github.com/zhouzirui/shopbot/backend/internal/handler"
	"github.com/zhouzirui/shopbot/backend/internal/handler/admin"
	"github.com/zhouzirui/shopbot/backend/internal/handler/oauth"
	"github.com/zhouzirui/shopbot/backend/internal/handler/status"
	"github.com/zhouzirui/shopbot/backend/internal/handler/webhook"
	"github.com/zhouzirui/shopbot/backend/internal/integrations/paramstore"
	"github.com/zhouzirui/shopbot/backend/internal/integrations/shopee"
	"github.com/zhouzirui/shopbot/backend/internal/logging"
	"github.com/zhouzirui/shopbot/backend/internal/model/conversation"
	"github.com/zhouzirui/shopbot/backend/internal/model/message"
	"github.com/zhouzirui/shopbot/backend/internal/model/msglog"
	"github.com/zhouzirui/shopbot/backend/internal/model/persona"
	"github.com/zhouzirui/shopbot/backend/internal/model/rule"
	"github.com/zhouzirui/shopbot/backend/internal/model/token"
	"github.com/zhouzirui/shopbot/backend/internal/realtime"
	"github.com/zhouzirui/shopbot/backend/internal/repository/dynamo"
	"github.com/zhouzirui/shopbot/backend/internal/repository/postgres"
	"github.com/zhouzirui/shopbot/backend/internal/repository/redisstore"
	"github.com/zhouzirui/shopbot/backend/internal/service/ai"
	"github.com/zhouzirui/shopbot/backend/internal/service/auth"
	convsvc "github.com/zhouzirui/shopbot/backend/internal/service/conversation"
	"github.com/zhouzirui/shopbot/backend/internal/service/keyword"
	"github.com/zhouzirui/shopbot/backend/internal/service/knowledge"
	"github.com/zhouzirui/shopbot/backend/internal/service/lifecycle"
	logsvc "github.com/zhouzirui/shopbot/backend/internal/service/msglog"
	"github.com/zhouzirui/shopbot/backend/internal/service/ratelimit"
	"github.com/zhouzirui/shopbot/backend/internal/service/router"
	verify "github.com/zhouzirui/shopbot/backend/internal/service/webhook"
)

// limiterSweepInterval drops idle sender windows.
const limiterSweepInterval = 5 * time.Minute

type app struct {
	handler  http.Handler
	manager  *lifecycle.Manager
	limiter  *ratelimit.Limiter
	pipeline *router.Router
	hub      *realtime.Hub
	log      logging.Logger
	closers  []func()
}

// shopUnavailable stands in for the marketplace client when partner
// credentials are missing, so the bot still serves the admin API.
type shopUnavailable struct{}

func (shopUnavailable) RefreshToken(context.Context, token.Record) (token.Record, error) {
	return token.Record{}, apperr.New(apperr.KindAuthUnavailable, "partner_not_configured", nil)
}

func (shopUnavailable) Send(context.Context, message.Outbound, string) error {
	return apperr.New(apperr.KindAuthUnavailable, "partner_not_configured", nil)
}

func build(ctx context.Context, cfg *config.Config, logger logging.Logger) (*app, error) {
	a := &app{log: logger}

	var logs msglog.Store = logsvc.NewMemoryStore(logsvc.DefaultCapacity)
	if cfg.NeedsAWS() {
		awsCfg, err := loadAWS(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if cfg.AWS.ParamPrefix != "" {
			getter, err := paramstore.New(ssm.NewFromConfig(awsCfg))
			if err != nil {
				return nil, err
			}
			secrets, err := paramstore.LoadSecrets(ctx, getter, cfg.AWS.ParamPrefix)
			if err != nil {
				return nil, fmt.Errorf("load secrets: %w", err)
			}
			cfg.ApplySecrets(secrets)
			logger.Info(ctx, "secrets resolved from parameter store", "prefix", cfg.AWS.ParamPrefix)
		}
		if cfg.Store.MessageLogTable != "" {
			durable, err := dynamo.NewLogStore(dynamodb.NewFromConfig(awsCfg), cfg.Store.MessageLogTable)
			if err != nil {
				return nil, err
			}
			logs = durable
			logger.Info(ctx, "message log backed by dynamodb", "table", cfg.Store.MessageLogTable)
		}
	}

	credentials, conversations, err := a.buildStores(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	rules, err := a.buildRules(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	// Marketplace client.
	var (
		shopClient *shopee.Client
		refresher  lifecycle.Refresher = shopUnavailable{}
		sender     router.Sender       = shopUnavailable{}
	)
	if cfg.Shop.Enabled() {
		shopClient, err = shopee.NewClient(cfg.Shop.PartnerID, cfg.Shop.PartnerKey, shopee.WithBaseURL(cfg.Shop.APIBase))
		if err != nil {
			a.close()
			return nil, err
		}
		refresher = shopClient
	} else {
		logger.Warn(ctx, "SHOPEE_PARTNER_ID / SHOPEE_PARTNER_KEY missing, replies cannot be delivered")
	}

	a.manager = lifecycle.NewManager(credentials, refresher, lifecycle.Config{
		SafetyMargin:  cfg.Bot.TokenSafetyMargin,
		CheckInterval: cfg.Bot.TokenCheckInterval,
		MaxRetries:    5,
	}, lifecycle.WithLogger(logger))
	if err := a.manager.Load(ctx); err != nil {
		a.close()
		return nil, err
	}
	if shopClient != nil {
		sender = shopee.NewSender(shopClient, a.shopID(cfg.Shop.ShopID))
	}

	// Knowledge base and AI responder.
	var loader *knowledge.Loader
	prompt := persona.Default(cfg.Bot.SystemPrompt)
	if cfg.Bot.KnowledgeDir != "" {
		loader = knowledge.NewLoader(os.DirFS(cfg.Bot.KnowledgeDir))
		snap, err := loader.Reload()
		if err != nil {
			logger.Warn(ctx, "knowledge base not loaded", "dir", cfg.Bot.KnowledgeDir, "err", err)
		} else {
			prompt = prompt.WithKnowledge(snap.Content)
			logger.Info(ctx, "knowledge base loaded", "files", len(snap.Files), "chars", snap.TotalChars)
		}
	}

	var responder *ai.Responder
	if cfg.AI.Enabled() {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			logger.Warn(ctx, "chat model unavailable, using fallback replies", "err", err)
		} else if responder, err = ai.NewResponder(ctx, chatModel, prompt, ai.WithLogger(logger)); err != nil {
			logger.Warn(ctx, "ai responder unavailable, using fallback replies", "err", err)
			responder = nil
		} else {
			logger.Info(ctx, "ai responder ready", "provider", cfg.AI.Backend())
		}
	} else {
		logger.Warn(ctx, "AI 凭证未配置，所有非关键字消息将使用预设回复")
	}

	a.limiter = ratelimit.New(cfg.Bot.RateLimitPerMinute)
	a.hub = realtime.NewHub(logger)

	deps := router.Deps{
		Verifier:      verify.NewVerifier(cfg.Shop.EffectiveWebhookSecret()),
		Limiter:       a.limiter,
		Matcher:       keyword.NewMatcher(rules, cfg.Bot.KeywordReply),
		Conversations: conversations,
		Tokens:        a.manager,
		Sender:        sender,
		Log:           logs,
		Publisher:     a.hub,
		Logger:        logger,
	}
	if responder != nil {
		deps.Responder = responder
	}
	stickerAck := cfg.Bot.StickerAck
	if stickerAck == "" && !cfg.Bot.StickerAckOff {
		stickerAck = router.DefaultStickerAck
	}
	a.pipeline, err = router.New(deps, router.Config{
		AITimeout:   cfg.Bot.AITimeout,
		SendRetries: uint64(cfg.Bot.SendRetries),
		StickerAck:  stickerAck,
		Workers:     cfg.Bot.Workers,
		QueueSize:   cfg.Bot.QueueSize,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	adminDeps := admin.Deps{
		Passwords:     auth.NewPasswords(cfg.Admin.PasswordHash, cfg.Admin.Password),
		Rules:         rules,
		Conversations: conversations,
		Logs:          logs,
		Credentials:   a.manager,
		Pipeline:      a.pipeline,
		Events:        http.HandlerFunc(a.hub.ServeWS),
		Logger:        logger,
	}
	if tokens, err := auth.NewTokens(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL); err == nil {
		adminDeps.Tokens = tokens
	} else {
		logger.Warn(ctx, "ADMIN_JWT_SECRET not set, admin API is unauthenticated")
	}
	if shopClient != nil {
		adminDeps.Shop = shopClient
		adminDeps.Sender = sender
	}
	if loader != nil {
		adminDeps.Knowledge = loader
		if responder != nil {
			adminDeps.Apply = responder.UpdateKnowledge
		}
	}

	handlers := handler.Handlers{
		Webhook: webhook.New(a.pipeline),
		Status: status.New(a.manager, a.pipeline, status.Features{
			KeywordReply:        cfg.Bot.KeywordReply,
			ConversationHistory: cfg.Bot.MaxHistory,
			RateLimitPerMinute:  cfg.Bot.RateLimitPerMinute,
			AIProvider:          cfg.AI.Backend(),
			StoreBackend:        cfg.Store.Backend,
		}),
		Admin: admin.New(adminDeps),
	}
	if shopClient != nil {
		handlers.OAuth = oauth.New(shopClient, a.manager, cfg.Shop.RedirectURL, logger)
	}
	a.handler = handler.NewRouter(handlers)
	return a, nil
}

func loadAWS(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWS.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWS.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// buildStores picks the credential and conversation backends.
func (a *app) buildStores(ctx context.Context, cfg *config.Config) (token.Store, conversation.Store, error) {
	if cfg.Store.Backend != config.BackendRedis {
		a.log.Info(ctx, "using in-memory stores; credentials and history are lost on restart")
		return token.NewMemoryStore(), convsvc.NewMemoryStore(cfg.Bot.MaxHistory), nil
	}

	rdb, err := redisstore.Connect(ctx, cfg.Store.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	a.log.Info(ctx, "using redis stores")
	return redisstore.NewCredentialStore(rdb, cfg.Shop.ShopID), redisstore.NewConversationStore(rdb, cfg.Bot.MaxHistory), nil
}

// buildRules uses Postgres when DATABASE_URL is set, seeding the default FAQ
// rules into an empty table.
func (a *app) buildRules(ctx context.Context, cfg *config.Config) (rule.Store, error) {
	if cfg.Store.DatabaseURL == "" {
		return rule.NewMemoryStore(rule.Seed()), nil
	}

	db, err := postgres.Open(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = db.Close() })
	if err := postgres.RunMigrations(ctx, db); err != nil {
		return nil, err
	}

	store := postgres.NewRuleStore(db)
	seeded, err := store.SeedIfEmpty(ctx, rule.Seed())
	if err != nil {
		return nil, err
	}
	a.log.Info(ctx, "keyword rules backed by postgres", "seeded", seeded)
	return store, nil
}

func (a *app) shopID(fallback int64) func() int64 {
	return func() int64 {
		if rec, ok := a.manager.Current(); ok && rec.ShopID != 0 {
			return rec.ShopID
		}
		return fallback
	}
}

func (a *app) start(ctx context.Context) {
	go a.manager.Run(ctx)
	go a.limiter.Run(ctx, limiterSweepInterval)
	a.pipeline.Start(ctx)
}

// stop drains queued messages after the HTTP server has shut down.
func (a *app) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.pipeline.Stop(ctx); err != nil {
		a.log.Warn(ctx, "message workers did not drain", "err", err)
	}
	a.hub.Close()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
