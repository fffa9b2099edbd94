package oauth

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/shopbot/backend/internal/logging"
	"github.com/zhouzirui/shopbot/backend/internal/model/token"
	"github.com/zhouzirui/shopbot/backend/pkg/utils"
)

// Authorizer talks to the marketplace authorization endpoints.
type Authorizer interface {
	AuthorizeURL(redirect string) string
	ExchangeCode(ctx context.Context, code string, shopID int64) (token.Record, error)
}

// Installer publishes a freshly exchanged credential pair.
type Installer interface {
	Install(ctx context.Context, rec token.Record) error
}

// Handler 处理店铺授权流程
type Handler struct {
	auth      Authorizer
	installer Installer
	redirect  string
	log       logging.Logger
}

func New(auth Authorizer, installer Installer, redirect string, log logging.Logger) *Handler {
	if log == nil {
		log = logging.Discard()
	}
	return &Handler{auth: auth, installer: installer, redirect: redirect, log: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/auth/login", h.handleLogin)
	r.Get("/auth/callback", h.handleCallback)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if h.redirect == "" {
		utils.RespondError(w, http.StatusServiceUnavailable, "redirect url not configured")
		return
	}
	h.log.Info(r.Context(), "redirecting to marketplace authorization")
	http.Redirect(w, r, h.auth.AuthorizeURL(h.redirect), http.StatusFound)
}

// handleCallback exchanges the one-time code. The code is never retried.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	rawShop := strings.TrimSpace(r.URL.Query().Get("shop_id"))
	if code == "" || rawShop == "" {
		utils.RespondError(w, http.StatusBadRequest, "code and shop_id are required")
		return
	}
	shopID, err := strconv.ParseInt(rawShop, 10, 64)
	if err != nil || shopID <= 0 {
		utils.RespondError(w, http.StatusBadRequest, "invalid shop_id")
		return
	}

	ctx := r.Context()
	rec, err := h.auth.ExchangeCode(ctx, code, shopID)
	if err != nil {
		h.log.Error(ctx, "authorization code exchange failed", "shop_id", shopID, "err", err)
		utils.RespondError(w, http.StatusBadGateway, "authorization failed")
		return
	}
	if err := h.installer.Install(ctx, rec); err != nil {
		h.log.Error(ctx, "install credentials failed", "shop_id", shopID, "err", err)
		utils.RespondError(w, http.StatusInternalServerError, "unable to store credentials")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":    "authorized",
		"shopId":    rec.ShopID,
		"expiresAt": rec.ExpiresAt,
	})
}
