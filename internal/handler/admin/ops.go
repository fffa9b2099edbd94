package admin

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zhouzirui/shopbot/backend/internal/apperr"
	middlewarePkg "github.com/zhouzirui/shopbot/backend/internal/middleware"
	"github.com/zhouzirui/shopbot/backend/internal/model/message"
	"github.com/zhouzirui/shopbot/backend/pkg/utils"
)

const defaultPageSize = 20

func operator(r *http.Request) string {
	if op := middlewarePkg.Operator(r.Context()); op != "" {
		return op
	}
	return "anonymous"
}

func (h *Handler) handleTokenStatus(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.deps.Credentials.Status())
}

// handleTokenRefresh only signals the lifecycle loop; the refresh itself runs there.
func (h *Handler) handleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	queued := h.deps.Credentials.RequestRefresh()
	h.log.Info(r.Context(), "manual token refresh requested", "operator", operator(r), "queued", queued)
	utils.RespondJSON(w, http.StatusAccepted, map[string]any{"queued": queued})
}

func (h *Handler) shopCredentials(w http.ResponseWriter, r *http.Request) (int64, string, bool) {
	if h.deps.Shop == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "marketplace client not configured")
		return 0, "", false
	}
	accessToken, err := h.deps.Credentials.ValidToken(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "shop not authorized")
		return 0, "", false
	}
	rec, _ := h.deps.Credentials.Current()
	return rec.ShopID, accessToken, true
}

func pageSize(r *http.Request) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && n > 0 {
		return n
	}
	return defaultPageSize
}

func (h *Handler) handleShopConversations(w http.ResponseWriter, r *http.Request) {
	shopID, accessToken, ok := h.shopCredentials(w, r)
	if !ok {
		return
	}
	raw, err := h.deps.Shop.ConversationList(r.Context(), shopID, accessToken, pageSize(r), r.URL.Query().Get("offset"))
	if err != nil {
		h.log.Error(r.Context(), "marketplace conversation list failed", "err", err)
		utils.RespondError(w, http.StatusBadGateway, "marketplace request failed")
		return
	}
	writeRaw(w, raw)
}

func (h *Handler) handleShopMessages(w http.ResponseWriter, r *http.Request) {
	shopID, accessToken, ok := h.shopCredentials(w, r)
	if !ok {
		return
	}
	raw, err := h.deps.Shop.Messages(r.Context(), shopID, accessToken, chi.URLParam(r, "id"), pageSize(r), r.URL.Query().Get("offset"))
	if err != nil {
		h.log.Error(r.Context(), "marketplace message list failed", "err", err)
		utils.RespondError(w, http.StatusBadGateway, "marketplace request failed")
		return
	}
	writeRaw(w, raw)
}

func writeRaw(w http.ResponseWriter, raw []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// handleTestWebhook answers a synthetic buyer message without signature
// checks or delivery. History is recorded as for a live message.
func (h *Handler) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message string `json:"message"`
		UserID  string `json:"user_id"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	text := strings.TrimSpace(payload.Message)
	if text == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}
	userID := strings.TrimSpace(payload.UserID)
	if userID == "" {
		userID = "test_user"
	}

	res := h.deps.Pipeline.Simulate(r.Context(), message.Inbound{
		ID:             uuid.NewString(),
		SenderID:       userID,
		ConversationID: userID,
		Type:           message.TypeText,
		Text:           text,
	})
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"reply_type": res.Source,
		"reply":      res.Reply,
		"message":    text,
		"user_id":    userID,
		"mood":       res.Mood,
		"trail":      res.Trail,
	})
}

func (h *Handler) handleTestSend(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sender == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "marketplace client not configured")
		return
	}
	var payload struct {
		UserID  string `json:"user_id"`
		Message string `json:"message"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(payload.UserID) == "" || strings.TrimSpace(payload.Message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "user_id and message are required")
		return
	}

	ctx := r.Context()
	accessToken, err := h.deps.Credentials.ValidToken(ctx)
	if err != nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "shop not authorized")
		return
	}
	out := message.Outbound{ConversationID: payload.UserID, ToID: payload.UserID, Text: payload.Message}
	if err := h.deps.Sender.Send(ctx, out, accessToken); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, apperr.ErrAuthUnavailable) {
			status = http.StatusServiceUnavailable
		}
		h.log.Error(ctx, "test send failed", "to", payload.UserID, "err", err)
		utils.RespondError(w, status, "send failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"success": true, "user_id": payload.UserID, "message": payload.Message})
}

func (h *Handler) handleKnowledge(w http.ResponseWriter, _ *http.Request) {
	if h.deps.Knowledge == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "knowledge base not configured")
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.deps.Knowledge.Current())
}

func (h *Handler) handleKnowledgeReload(w http.ResponseWriter, r *http.Request) {
	if h.deps.Knowledge == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "knowledge base not configured")
		return
	}
	snap, err := h.deps.Knowledge.Reload()
	if err != nil {
		h.log.Error(r.Context(), "knowledge reload failed", "err", err)
		utils.RespondError(w, http.StatusInternalServerError, "knowledge reload failed")
		return
	}
	if h.deps.Apply != nil {
		h.deps.Apply(snap.Content)
	}
	h.log.Info(r.Context(), "knowledge reloaded", "files", len(snap.Files), "chars", snap.TotalChars, "operator", operator(r))
	utils.RespondJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.deps.Events == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "event feed not configured")
		return
	}
	h.deps.Events.ServeHTTP(w, r)
}
