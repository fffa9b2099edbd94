package admin

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/shopbot/backend/internal/model/conversation"
	"github.com/zhouzirui/shopbot/backend/pkg/utils"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	senders, err := h.deps.Conversations.Senders(r.Context())
	if err != nil {
		h.storeError(w, r, "list conversations", err)
		return
	}
	sort.Strings(senders)
	if senders == nil {
		senders = []string{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"senders": senders, "total": len(senders)})
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	senderID := chi.URLParam(r, "senderID")
	history, err := h.deps.Conversations.History(r.Context(), senderID)
	if err != nil {
		h.storeError(w, r, "load conversation", err)
		return
	}
	if history == nil {
		history = []conversation.Entry{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"senderId": senderID, "messages": history})
}

func (h *Handler) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	senderID := chi.URLParam(r, "senderID")
	if err := h.deps.Conversations.Clear(r.Context(), senderID); err != nil {
		h.storeError(w, r, "clear conversation", err)
		return
	}
	h.log.Info(r.Context(), "conversation cleared", "sender", senderID, "operator", operator(r))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLogLimit)
	}

	logs, err := h.deps.Logs.Recent(r.Context(), limit)
	if err != nil {
		h.storeError(w, r, "read message log", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs)})
}
