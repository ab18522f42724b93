package handler

import (
	"net/http"
	"time"

	"savings-service/internal/domain"
	"savings-service/internal/usecase/group"
	"savings-service/internal/usecase/lock"
	"savings-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type GroupHandler struct {
	groups  *group.Service
	deriver *group.Deriver
	locks   *lock.Manager
	logger  *zap.Logger
}

func NewGroupHandler(groups *group.Service, deriver *group.Deriver, locks *lock.Manager, logger *zap.Logger) *GroupHandler {
	return &GroupHandler{groups: groups, deriver: deriver, locks: locks, logger: logger}
}

type memberRequest struct {
	UserID string `json:"user_id"`
}

func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string          `json:"name"`
		Target decimal.Decimal `json:"target"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	g, err := h.groups.Create(r.Context(), userID(r), req.Name, req.Target)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusCreated, g)
}

// List returns the caller's groups, each with its derived balance.
func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	groups, err := h.groups.ListForUser(r.Context(), userID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	out := make([]groupDetail, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupDetail{Group: g, Balance: h.deriver.ViewOf(g)})
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"groups": out})
}

type groupDetail struct {
	Group   *domain.Group      `json:"group"`
	Balance *group.BalanceView `json:"balance"`
}

// memberGroup loads the group in the URL and refuses callers who are not
// members.
func (h *GroupHandler) memberGroup(w http.ResponseWriter, r *http.Request) (*domain.Group, bool) {
	g, err := h.groups.Get(r.Context(), chi.URLParam(r, "groupID"))
	if err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	if _, ok := g.Member(userID(r)); !ok {
		writeError(w, h.logger, domain.ErrNotMember)
		return nil, false
	}
	return g, true
}

// Get returns the group with its freshly derived balance.
func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	g, ok := h.memberGroup(w, r)
	if !ok {
		return
	}
	response.JSON(w, http.StatusOK, groupDetail{Group: g, Balance: h.deriver.ViewOf(g)})
}

func (h *GroupHandler) Balance(w http.ResponseWriter, r *http.Request) {
	g, ok := h.memberGroup(w, r)
	if !ok {
		return
	}
	response.JSON(w, http.StatusOK, h.deriver.ViewOf(g))
}

func (h *GroupHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	txs, err := h.groups.Transactions(r.Context(), userID(r), chi.URLParam(r, "groupID"), limit, offset)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"limit":        limit,
		"offset":       offset,
	})
}

func (h *GroupHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, h.logger, domain.ErrInvalidInput)
		return
	}
	if err := h.groups.AddMember(r.Context(), userID(r), chi.URLParam(r, "groupID"), req.UserID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusCreated, map[string]string{"user_id": req.UserID})
}

func (h *GroupHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "userID")
	if err := h.groups.RemoveMember(r.Context(), userID(r), chi.URLParam(r, "groupID"), target); err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"removed": target})
}

func (h *GroupHandler) PromoteAdmin(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.groups.PromoteAdmin(r.Context(), userID(r), chi.URLParam(r, "groupID"), req.UserID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"admin": req.UserID})
}

// Ban takes either an absolute expiry or a duration such as "72h".
func (h *GroupHandler) Ban(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string     `json:"user_id"`
		Until    *time.Time `json:"until,omitempty"`
		Duration string     `json:"duration,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	var until time.Time
	switch {
	case req.Until != nil:
		until = *req.Until
	case req.Duration != "":
		d, err := time.ParseDuration(req.Duration)
		if err != nil || d <= 0 {
			response.ErrorWithCode(w, http.StatusBadRequest, "invalid_input", "duration must be a positive Go duration")
			return
		}
		until = time.Now().Add(d)
	default:
		response.ErrorWithCode(w, http.StatusBadRequest, "invalid_input", "until or duration is required")
		return
	}

	if err := h.groups.Ban(r.Context(), userID(r), chi.URLParam(r, "groupID"), req.UserID, until); err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"user_id": req.UserID, "until": until.UTC()})
}

func (h *GroupHandler) Unban(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "userID")
	if err := h.groups.Unban(r.Context(), userID(r), chi.URLParam(r, "groupID"), target); err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"unbanned": target})
}

func (h *GroupHandler) Contribute(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.locks.LockForGroup(r.Context(), userID(r), chi.URLParam(r, "groupID"), req.Amount)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

func (h *GroupHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.locks.UnlockFromGroup(r.Context(), userID(r), chi.URLParam(r, "groupID"), req.Amount)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

func (h *GroupHandler) Close(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	if err := h.groups.Close(r.Context(), userID(r), groupID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"closed": groupID})
}
