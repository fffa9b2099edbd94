package admin

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/shopbot/backend/internal/model/rule"
	"github.com/zhouzirui/shopbot/backend/pkg/utils"
)

func (h *Handler) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.deps.Rules.List(r.Context())
	if err != nil {
		h.storeError(w, r, "list keyword rules", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

// handleReplaceRules swaps the whole ordered list in one call.
func (h *Handler) handleReplaceRules(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Rules []rule.Rule `json:"rules"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rules, err := h.deps.Rules.Replace(r.Context(), payload.Rules)
	if err != nil {
		h.storeError(w, r, "replace keyword rules", err)
		return
	}
	h.log.Info(r.Context(), "keyword rules replaced", "count", len(rules), "operator", operator(r))
	utils.RespondJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (h *Handler) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var payload rule.Rule
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.deps.Rules.Create(r.Context(), payload)
	if err != nil {
		h.storeError(w, r, "create keyword rule", err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var payload rule.Rule
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	payload.ID = chi.URLParam(r, "id")

	updated, err := h.deps.Rules.Update(r.Context(), payload)
	if err != nil {
		h.storeError(w, r, "update keyword rule", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Rules.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.storeError(w, r, "delete keyword rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, rule.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, rule.ErrInvalidRule):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error(r.Context(), op+" failed", "err", err)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
