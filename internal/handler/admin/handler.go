// Package admin serves the operator API: keyword rules, conversation
// history, message logs, token control, marketplace reads, pipeline test
// routes and a live event feed.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/shopbot/backend/internal/logging"
	middlewarePkg "github.com/zhouzirui/shopbot/backend/internal/middleware"
	"github.com/zhouzirui/shopbot/backend/internal/model/conversation"
	"github.com/zhouzirui/shopbot/backend/internal/model/message"
	"github.com/zhouzirui/shopbot/backend/internal/model/msglog"
	"github.com/zhouzirui/shopbot/backend/internal/model/rule"
	"github.com/zhouzirui/shopbot/backend/internal/model/token"
	"github.com/zhouzirui/shopbot/backend/internal/service/auth"
	"github.com/zhouzirui/shopbot/backend/internal/service/knowledge"
	"github.com/zhouzirui/shopbot/backend/internal/service/router"
	"github.com/zhouzirui/shopbot/backend/pkg/utils"
)

// TokenIssuer signs and verifies operator bearer tokens.
type TokenIssuer interface {
	middlewarePkg.TokenParser
	Issue(operator string) (string, time.Time, error)
}

// Credentials exposes the shop's token lifecycle to operators.
type Credentials interface {
	ValidToken(ctx context.Context) (string, error)
	Current() (token.Record, bool)
	RequestRefresh() bool
	Status() token.Status
}

// ShopReader proxies marketplace chat reads.
type ShopReader interface {
	ConversationList(ctx context.Context, shopID int64, accessToken string, pageSize int, offset string) (json.RawMessage, error)
	Messages(ctx context.Context, shopID int64, accessToken, conversationID string, pageSize int, offset string) (json.RawMessage, error)
}

// Pipeline runs synthetic messages through the router.
type Pipeline interface {
	Simulate(ctx context.Context, msg message.Inbound) router.Result
}

type Sender interface {
	Send(ctx context.Context, out message.Outbound, accessToken string) error
}

// Knowledge is the reloadable knowledge base. Reloaded content is pushed to
// the responder through Apply.
type Knowledge interface {
	Current() knowledge.Snapshot
	Reload() (knowledge.Snapshot, error)
}

// Deps groups the collaborators. Tokens nil leaves the API unauthenticated;
// nil Shop, Sender, Knowledge or Events disable their routes with 503.
type Deps struct {
	Tokens        TokenIssuer
	Passwords     auth.Passwords
	Rules         rule.Store
	Conversations conversation.Store
	Logs          msglog.Store
	Credentials   Credentials
	Shop          ShopReader
	Sender        Sender
	Pipeline      Pipeline
	Knowledge     Knowledge
	Apply         func(content string)
	Events        http.Handler
	Logger        logging.Logger
}

// Handler 运营后台 API
type Handler struct {
	deps Deps
	log  logging.Logger
}

func New(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	return &Handler{deps: deps, log: deps.Logger.With("component", "admin")}
}

// RegisterRoutes mounts the operator API on r, which is expected to be the
// /api/admin sub-router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		if h.deps.Tokens != nil {
			r.Use(middlewarePkg.RequireOperator(h.deps.Tokens))
		}

		r.Get("/keyword-rules", h.handleListRules)
		r.Post("/keyword-rules", h.handleReplaceRules)
		r.Post("/keyword-rules/item", h.handleCreateRule)
		r.Put("/keyword-rules/{id}", h.handleUpdateRule)
		r.Delete("/keyword-rules/{id}", h.handleDeleteRule)

		r.Get("/conversations", h.handleListConversations)
		r.Get("/conversations/{senderID}", h.handleGetConversation)
		r.Delete("/conversations/{senderID}", h.handleClearConversation)

		r.Get("/logs", h.handleLogs)
		r.Get("/token", h.handleTokenStatus)
		r.Post("/token/refresh", h.handleTokenRefresh)

		r.Get("/shop/conversations", h.handleShopConversations)
		r.Get("/shop/conversations/{id}/messages", h.handleShopMessages)

		r.Post("/test/webhook", h.handleTestWebhook)
		r.Post("/test/send", h.handleTestSend)

		r.Get("/knowledge", h.handleKnowledge)
		r.Post("/knowledge/reload", h.handleKnowledgeReload)

		r.Get("/events", h.handleEvents)
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if h.deps.Tokens == nil || !h.deps.Passwords.Configured() {
		utils.RespondError(w, http.StatusServiceUnavailable, "operator login not configured")
		return
	}

	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.deps.Passwords.Check(payload.Password) {
		h.log.Warn(r.Context(), "operator login rejected", "remote", r.RemoteAddr)
		utils.RespondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	operator := strings.TrimSpace(payload.Username)
	if operator == "" {
		operator = "admin"
	}
	signed, expires, err := h.deps.Tokens.Issue(operator)
	if err != nil {
		h.log.Error(r.Context(), "issue operator token failed", "err", err)
		utils.RespondError(w, http.StatusInternalServerError, "unable to issue token")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"token": signed, "expiresAt": expires})
}
