package status

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/shopbot/backend/internal/model/token"
	"github.com/zhouzirui/shopbot/backend/internal/service/router"
	"github.com/zhouzirui/shopbot/backend/pkg/utils"
)

type TokenStatus interface {
	Status() token.Status
}

type PipelineStats interface {
	Stats() router.Stats
}

// Features echoes the switches the bot runs with.
type Features struct {
	KeywordReply        bool   `json:"keywordReply"`
	ConversationHistory int    `json:"conversationHistory"`
	RateLimitPerMinute  int    `json:"rateLimit"`
	AIProvider          string `json:"aiProvider"`
	StoreBackend        string `json:"storeBackend"`
}

// Handler 提供存活检查与运行状态
type Handler struct {
	tokens   TokenStatus
	pipeline PipelineStats
	features Features
	started  time.Time
}

func New(tokens TokenStatus, pipeline PipelineStats, features Features) *Handler {
	return &Handler{tokens: tokens, pipeline: pipeline, features: features, started: time.Now()}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Get("/status", h.handleStatus)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"status":        "running",
		"uptimeSeconds": int64(time.Since(h.started).Seconds()),
		"token":         h.tokens.Status(),
		"features":      h.features,
	}
	if h.pipeline != nil {
		payload["pipeline"] = h.pipeline.Stats()
	}
	utils.RespondJSON(w, http.StatusOK, payload)
}
