package handler

import (
	"net/http"

	"savings-service/internal/usecase/goal"
	"savings-service/internal/usecase/lock"
	"savings-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type GoalHandler struct {
	goals  *goal.Service
	locks  *lock.Manager
	logger *zap.Logger
}

func NewGoalHandler(goals *goal.Service, locks *lock.Manager, logger *zap.Logger) *GoalHandler {
	return &GoalHandler{goals: goals, locks: locks, logger: logger}
}

func (h *GoalHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string          `json:"name"`
		Target decimal.Decimal `json:"target"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	g, err := h.goals.Create(r.Context(), userID(r), req.Name, req.Target)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusCreated, g)
}

func (h *GoalHandler) List(w http.ResponseWriter, r *http.Request) {
	goals, err := h.goals.List(r.Context(), userID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, goals)
}

func (h *GoalHandler) Get(w http.ResponseWriter, r *http.Request) {
	g, err := h.goals.Get(r.Context(), userID(r), chi.URLParam(r, "goalID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, g)
}

// Contribute locks funds into the goal.
func (h *GoalHandler) Contribute(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.locks.LockForGoal(r.Context(), userID(r), chi.URLParam(r, "goalID"), req.Amount)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

func (h *GoalHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.locks.UnlockFromGoal(r.Context(), userID(r), chi.URLParam(r, "goalID"), req.Amount)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}
