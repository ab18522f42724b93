package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"savings-service/internal/usecase/lock"
	"savings-service/internal/usecase/wallet"
	"savings-service/pkg/response"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type amountRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		response.ErrorWithCode(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return false
	}
	return true
}

// userID is only called behind RequireUser.
func userID(r *http.Request) string {
	id, _ := GetUserID(r.Context())
	return id
}

type WalletHandler struct {
	wallets *wallet.Service
	locks   *lock.Manager
	logger  *zap.Logger
}

func NewWalletHandler(wallets *wallet.Service, locks *lock.Manager, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{wallets: wallets, locks: locks, logger: logger}
}

func (h *WalletHandler) Open(w http.ResponseWriter, r *http.Request) {
	wlt, err := h.wallets.Open(r.Context(), userID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusCreated, wlt.Balance())
}

func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	b, err := h.wallets.GetBalance(r.Context(), userID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, b)
}

func (h *WalletHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	txs, err := h.wallets.History(r.Context(), userID(r), limit, offset)
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

func (h *WalletHandler) Verify(w http.ResponseWriter, r *http.Request) {
	rep, err := h.wallets.Verify(r.Context(), userID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, rep)
}

func (h *WalletHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.locks.Deposit(r.Context(), userID(r), req.Amount, req.Reference)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.locks.Withdraw(r.Context(), userID(r), req.Amount, req.Reference)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

func pagination(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	limit, offset := defaultPageSize, 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			response.ErrorWithCode(w, http.StatusBadRequest, "invalid_input", "limit must be a positive integer")
			return 0, 0, false
		}
		limit = n
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			response.ErrorWithCode(w, http.StatusBadRequest, "invalid_input", "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}
