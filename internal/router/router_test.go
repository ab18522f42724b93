package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"savings-service/internal/handler"
	"savings-service/internal/pub"
	"savings-service/internal/repository/memory"
	"savings-service/internal/usecase/goal"
	"savings-service/internal/usecase/group"
	"savings-service/internal/usecase/ledger"
	"savings-service/internal/usecase/lock"
	"savings-service/internal/usecase/wallet"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	alice = "7f1c1f0a-2d1b-4c57-9a64-0d5f1e4b2a01"
	bob   = "7f1c1f0a-2d1b-4c57-9a64-0d5f1e4b2a02"
	carol = "7f1c1f0a-2d1b-4c57-9a64-0d5f1e4b2a03"
)

type envelope struct {
	Status  string          `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()
	store := memory.New()
	ldg := ledger.New(store)
	deriver := group.NewDeriver(store)
	notifier := wallet.NewNotifier(logger)
	events := pub.Multi{pub.NewWSPublisher(notifier)}

	walletUC := wallet.New(store, ldg, notifier, logger)
	goalUC := goal.NewService(store, logger)
	groupUC := group.NewService(store, group.Config{}, logger).WithPublisher(events)
	locks := lock.NewManager(store, ldg, deriver, lock.Config{
		MaxRetries:    3,
		RetryBackoff:  time.Millisecond,
		AppendTimeout: time.Second,
		MinDeposit:    decimal.NewFromInt(1),
		MinWithdrawal: decimal.NewFromInt(1),
	}, logger).
		WithPublisher(events).
		WithBalanceObserver(walletUC).
		WithMilestoneNotifier(pub.NewMilestoneNotifier(events, pub.NewMemoryDeduper(), logger))

	h := SetupRoutes(Handlers{
		Wallet: handler.NewWalletHandler(walletUC, locks, logger),
		Goal:   handler.NewGoalHandler(goalUC, locks, logger),
		Group:  handler.NewGroupHandler(groupUC, deriver, locks, logger),
		WS:     handler.WalletWSHandler(walletUC, logger),
	}, Options{Health: store.Ping}, logger)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, user string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(handler.HeaderUserID, user)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	status, env := call(t, srv, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", env.Status)

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIRequiresCaller(t *testing.T) {
	srv := newTestServer(t)
	status, env := call(t, srv, http.MethodGet, "/api/wallet/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "missing_user", env.Code)
}

func TestWalletAndGoalFlow(t *testing.T) {
	srv := newTestServer(t)

	status, _ := call(t, srv, http.MethodPost, "/api/wallet", alice, nil)
	require.Equal(t, http.StatusCreated, status)
	status, env := call(t, srv, http.MethodPost, "/api/wallet", alice, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "wallet_exists", env.Code)

	status, _ = call(t, srv, http.MethodPost, "/api/wallet/deposit", alice, map[string]string{"amount": "100"})
	require.Equal(t, http.StatusOK, status)

	status, env = call(t, srv, http.MethodPost, "/api/goals", alice, map[string]string{"name": "Bike", "target": "80"})
	require.Equal(t, http.StatusCreated, status)
	var g struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &g))

	status, _ = call(t, srv, http.MethodPost, "/api/goals/"+g.ID+"/contribute", alice, map[string]string{"amount": "60"})
	require.Equal(t, http.StatusOK, status)

	status, env = call(t, srv, http.MethodPost, "/api/wallet/withdraw", alice, map[string]string{"amount": "50"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "insufficient_funds", env.Code)

	status, env = call(t, srv, http.MethodPost, "/api/goals/"+g.ID+"/withdraw", alice, map[string]string{"amount": "70"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "over_unlock", env.Code)

	status, env = call(t, srv, http.MethodGet, "/api/wallet/balance", alice, nil)
	require.Equal(t, http.StatusOK, status)
	var b struct {
		Total     decimal.Decimal `json:"total"`
		Locked    decimal.Decimal `json:"locked"`
		Available decimal.Decimal `json:"available"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &b))
	assert.True(t, decimal.NewFromInt(100).Equal(b.Total))
	assert.True(t, decimal.NewFromInt(60).Equal(b.Locked))
	assert.True(t, decimal.NewFromInt(40).Equal(b.Available))

	status, env = call(t, srv, http.MethodGet, "/api/wallet/transactions?limit=1", alice, nil)
	require.Equal(t, http.StatusOK, status)
	var page struct {
		Transactions []json.RawMessage `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Transactions, 1)

	status, env = call(t, srv, http.MethodGet, "/api/wallet/verify", alice, nil)
	require.Equal(t, http.StatusOK, status)
	var rep struct {
		Consistent bool `json:"consistent"`
		Entries    int  `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &rep))
	assert.True(t, rep.Consistent)
	assert.Equal(t, 2, rep.Entries)
}

func TestGroupFlow(t *testing.T) {
	srv := newTestServer(t)
	for _, u := range []string{alice, bob, carol} {
		call(t, srv, http.MethodPost, "/api/wallet", u, nil)
		call(t, srv, http.MethodPost, "/api/wallet/deposit", u, map[string]string{"amount": "100"})
	}

	status, env := call(t, srv, http.MethodPost, "/api/groups", alice, map[string]string{"name": "Trip", "target": "100"})
	require.Equal(t, http.StatusCreated, status)
	var g struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &g))
	base := "/api/groups/" + g.ID

	status, env = call(t, srv, http.MethodPost, base+"/contribute", alice, map[string]string{"amount": "10"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "group_too_small", env.Code)

	status, _ = call(t, srv, http.MethodPost, base+"/members", alice, map[string]string{"user_id": bob})
	require.Equal(t, http.StatusCreated, status)
	status, env = call(t, srv, http.MethodPost, base+"/members", bob, map[string]string{"user_id": carol})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "not_group_admin", env.Code)
	call(t, srv, http.MethodPost, base+"/members", alice, map[string]string{"user_id": carol})

	status, _ = call(t, srv, http.MethodPost, base+"/contribute", bob, map[string]string{"amount": "30"})
	require.Equal(t, http.StatusOK, status)
	status, _ = call(t, srv, http.MethodPost, base+"/contribute", carol, map[string]string{"amount": "20"})
	require.Equal(t, http.StatusOK, status)

	status, env = call(t, srv, http.MethodGet, base+"/balance", alice, nil)
	require.Equal(t, http.StatusOK, status)
	var view struct {
		Derived    decimal.Decimal `json:"derived_balance"`
		Milestones struct {
			ReachedFifty bool `json:"reached_fifty"`
		} `json:"milestones"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.True(t, decimal.NewFromInt(50).Equal(view.Derived))

	status, _ = call(t, srv, http.MethodPost, base+"/bans", alice, map[string]string{"user_id": carol, "duration": "1h"})
	require.Equal(t, http.StatusOK, status)

	status, env = call(t, srv, http.MethodPost, base+"/withdraw", carol, map[string]string{"amount": "5"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "membership_banned", env.Code)

	status, env = call(t, srv, http.MethodGet, base+"/balance", alice, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.True(t, decimal.NewFromInt(30).Equal(view.Derived))

	status, _ = call(t, srv, http.MethodDelete, base+"/bans/"+carol, alice, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = call(t, srv, http.MethodPost, base+"/withdraw", carol, map[string]string{"amount": "20"})
	require.Equal(t, http.StatusOK, status)

	status, env = call(t, srv, http.MethodPost, base+"/close", alice, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "active_contribution", env.Code)

	status, _ = call(t, srv, http.MethodGet, base, bob, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = call(t, srv, http.MethodGet, "/api/groups/missing", bob, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestGroupReadsAreMemberOnly(t *testing.T) {
	srv := newTestServer(t)
	for _, u := range []string{alice, bob} {
		call(t, srv, http.MethodPost, "/api/wallet", u, nil)
		call(t, srv, http.MethodPost, "/api/wallet/deposit", u, map[string]string{"amount": "100"})
	}

	status, env := call(t, srv, http.MethodPost, "/api/groups", alice, map[string]string{"name": "Rent", "target": "200"})
	require.Equal(t, http.StatusCreated, status)
	var g struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &g))
	base := "/api/groups/" + g.ID

	call(t, srv, http.MethodPost, base+"/members", alice, map[string]string{"user_id": bob})
	status, _ = call(t, srv, http.MethodPost, base+"/contribute", bob, map[string]string{"amount": "40"})
	require.Equal(t, http.StatusOK, status)
	status, _ = call(t, srv, http.MethodPost, base+"/contribute", alice, map[string]string{"amount": "25.5"})
	require.Equal(t, http.StatusOK, status)

	for _, path := range []string{base, base + "/balance", base + "/transactions"} {
		status, env = call(t, srv, http.MethodGet, path, carol, nil)
		assert.Equal(t, http.StatusForbidden, status, path)
		assert.Equal(t, "not_member", env.Code, path)
	}

	status, env = call(t, srv, http.MethodGet, base+"/transactions?limit=10", bob, nil)
	require.Equal(t, http.StatusOK, status)
	var page struct {
		Transactions []struct {
			UserID string          `json:"user_id"`
			Kind   string          `json:"kind"`
			Locked decimal.Decimal `json:"locked_delta"`
		} `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Transactions, 2)
	assert.Equal(t, alice, page.Transactions[0].UserID)
	assert.True(t, decimal.RequireFromString("25.5").Equal(page.Transactions[0].Locked))
	assert.Equal(t, bob, page.Transactions[1].UserID)

	status, env = call(t, srv, http.MethodGet, "/api/groups", bob, nil)
	require.Equal(t, http.StatusOK, status)
	var list struct {
		Groups []struct {
			Group struct {
				ID string `json:"id"`
			} `json:"group"`
			Balance struct {
				Derived decimal.Decimal `json:"derived_balance"`
			} `json:"balance"`
		} `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Groups, 1)
	assert.Equal(t, g.ID, list.Groups[0].Group.ID)
	assert.True(t, decimal.RequireFromString("65.5").Equal(list.Groups[0].Balance.Derived))

	status, env = call(t, srv, http.MethodGet, "/api/groups", carol, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Empty(t, list.Groups)
}
