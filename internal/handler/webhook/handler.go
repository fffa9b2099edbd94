package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/shopbot/backend/internal/apperr"
	"github.com/zhouzirui/shopbot/backend/internal/service/router"
	"github.com/zhouzirui/shopbot/backend/pkg/utils"
)

// maxPushBytes caps a single marketplace push body.
const maxPushBytes = 1 << 20

// SignatureHeader carries the hex HMAC of the raw body.
const SignatureHeader = "Authorization"

// Accepter takes a raw push and queues it for processing.
type Accepter interface {
	Accept(ctx context.Context, body []byte, signature string) (router.Result, error)
}

// Handler 接收平台推送的聊天消息
type Handler struct {
	pipeline Accepter
}

func New(pipeline Accepter) *Handler {
	return &Handler{pipeline: pipeline}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/webhook", h.handlePush)
}

// handlePush verifies the raw body before anything else. Verified pushes are
// acknowledged right away and answered in the background.
func (h *Handler) handlePush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPushBytes))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "unable to read body")
		return
	}

	_, err = h.pipeline.Accept(r.Context(), body, r.Header.Get(SignatureHeader))
	switch {
	case errors.Is(err, apperr.ErrVerificationFailed):
		utils.RespondError(w, http.StatusUnauthorized, "invalid signature")
		return
	case router.IsMalformed(err):
		utils.RespondError(w, http.StatusBadRequest, "invalid payload")
		return
	case err != nil:
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
