package handler

import (
	"errors"
	"net/http"

	"savings-service/internal/domain"
	"savings-service/pkg/response"

	"go.uber.org/zap"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorTable = []errorMapping{
	{domain.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{domain.ErrBelowMinimum, http.StatusBadRequest, "below_minimum"},

	{domain.ErrNotGroupAdmin, http.StatusForbidden, "not_group_admin"},
	{domain.ErrMembershipBanned, http.StatusForbidden, "membership_banned"},
	{domain.ErrNotMember, http.StatusForbidden, "not_member"},

	{domain.ErrWalletNotFound, http.StatusNotFound, "wallet_not_found"},
	{domain.ErrGoalNotFound, http.StatusNotFound, "goal_not_found"},
	{domain.ErrGroupNotFound, http.StatusNotFound, "group_not_found"},

	{domain.ErrConflict, http.StatusConflict, "conflict"},
	{domain.ErrWalletExists, http.StatusConflict, "wallet_exists"},
	{domain.ErrAlreadyMember, http.StatusConflict, "already_member"},

	{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
	{domain.ErrOverUnlock, http.StatusUnprocessableEntity, "over_unlock"},
	{domain.ErrGoalInactive, http.StatusUnprocessableEntity, "goal_inactive"},
	{domain.ErrGoalTargetExceeded, http.StatusUnprocessableEntity, "goal_target_exceeded"},
	{domain.ErrGroupInactive, http.StatusUnprocessableEntity, "group_inactive"},
	{domain.ErrGroupTooSmall, http.StatusUnprocessableEntity, "group_too_small"},
	{domain.ErrGroupTargetReached, http.StatusUnprocessableEntity, "group_target_reached"},
	{domain.ErrGroupFull, http.StatusUnprocessableEntity, "group_full"},
	{domain.ErrAdminLimit, http.StatusUnprocessableEntity, "admin_limit"},
	{domain.ErrCannotRemoveAdmin, http.StatusUnprocessableEntity, "cannot_remove_admin"},
	{domain.ErrActiveContribution, http.StatusUnprocessableEntity, "active_contribution"},
}

// writeError maps a usecase error onto the response envelope. Unknown and
// persistence failures are logged and reported without internal detail.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			response.ErrorWithCode(w, m.status, m.code, err.Error())
			return
		}
	}

	if errors.Is(err, domain.ErrPersistence) && domain.IsTransient(err) {
		logger.Warn("transient persistence failure", zap.Error(err))
		w.Header().Set("Retry-After", "1")
		response.ErrorWithCode(w, http.StatusServiceUnavailable, "unavailable", "temporarily unavailable, retry the request")
		return
	}

	logger.Error("request failed", zap.Error(err))
	response.ErrorWithCode(w, http.StatusInternalServerError, "internal", "internal error")
}
