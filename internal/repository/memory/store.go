// Package memory is an in-process Store used for local runs and tests.
// Transactions are serialized by a single mutex and stage their writes until
// commit, so a failed transaction leaves nothing behind.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"savings-service/internal/domain"
	"savings-service/internal/repository"
)

type Store struct {
	mu           sync.RWMutex
	wallets      map[string]*domain.Wallet // by user id
	transactions map[string][]*domain.Transaction
	goals        map[string]*domain.Goal
	groups       map[string]*domain.Group
}

func New() *Store {
	return &Store{
		wallets:      make(map[string]*domain.Wallet),
		transactions: make(map[string][]*domain.Transaction),
		goals:        make(map[string]*domain.Goal),
		groups:       make(map[string]*domain.Group),
	}
}

var _ repository.Store = (*Store)(nil)

func (s *Store) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return domain.NewPersistenceError("begin", err, true)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:        s,
		wallets:  make(map[string]*domain.Wallet),
		goals:    make(map[string]*domain.Goal),
		groups:   make(map[string]*domain.Group),
		appended: make(map[string][]*domain.Transaction),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return domain.NewPersistenceError("commit", err, true)
	}
	tx.commit()
	return nil
}

func (s *Store) Snapshot(ctx context.Context, fn func(r repository.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return domain.NewPersistenceError("snapshot", err, true)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{s: s})
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// memTx reads through its staged writes to the committed maps. A memTx with
// nil staging maps is a plain reader.
type memTx struct {
	s        *Store
	wallets  map[string]*domain.Wallet
	goals    map[string]*domain.Goal
	groups   map[string]*domain.Group
	appended map[string][]*domain.Transaction
}

func (t *memTx) commit() {
	for k, w := range t.wallets {
		t.s.wallets[k] = w
	}
	for k, g := range t.goals {
		t.s.goals[k] = g
	}
	for k, g := range t.groups {
		t.s.groups[k] = g
	}
	for k, txs := range t.appended {
		t.s.transactions[k] = append(t.s.transactions[k], txs...)
	}
}

func (t *memTx) wallet(userID string) (*domain.Wallet, bool) {
	if w, ok := t.wallets[userID]; ok {
		return w, true
	}
	w, ok := t.s.wallets[userID]
	return w, ok
}

func (t *memTx) goal(id string) (*domain.Goal, bool) {
	if g, ok := t.goals[id]; ok {
		return g, true
	}
	g, ok := t.s.goals[id]
	return g, ok
}

func (t *memTx) group(id string) (*domain.Group, bool) {
	if g, ok := t.groups[id]; ok {
		return g, true
	}
	g, ok := t.s.groups[id]
	return g, ok
}

// stagedGroup returns a group copy owned by this transaction.
func (t *memTx) stagedGroup(id string) (*domain.Group, error) {
	if g, ok := t.groups[id]; ok {
		return g, nil
	}
	g, ok := t.s.groups[id]
	if !ok {
		return nil, domain.ErrGroupNotFound
	}
	c := g.Clone()
	t.groups[id] = c
	return c, nil
}

func (t *memTx) GetWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	w, ok := t.wallet(userID)
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	c := *w
	return &c, nil
}

func (t *memTx) ListTransactions(ctx context.Context, walletID string, limit, offset int) ([]*domain.Transaction, error) {
	all := t.entries(walletID)
	out := make([]*domain.Transaction, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		c := *all[i]
		out = append(out, &c)
	}
	if offset >= len(out) {
		return []*domain.Transaction{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) ScanTransactions(ctx context.Context, walletID string, fn func(*domain.Transaction) error) error {
	for _, e := range t.entries(walletID) {
		c := *e
		if err := fn(&c); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTx) entries(walletID string) []*domain.Transaction {
	committed := t.s.transactions[walletID]
	staged := t.appended[walletID]
	all := make([]*domain.Transaction, 0, len(committed)+len(staged))
	all = append(all, committed...)
	return append(all, staged...)
}

func (t *memTx) GetGoal(ctx context.Context, goalID string) (*domain.Goal, error) {
	g, ok := t.goal(goalID)
	if !ok {
		return nil, domain.ErrGoalNotFound
	}
	c := *g
	return &c, nil
}

func (t *memTx) ListGoals(ctx context.Context, ownerID string) ([]*domain.Goal, error) {
	seen := make(map[string]bool)
	var out []*domain.Goal
	collect := func(g *domain.Goal) {
		if g.OwnerID != ownerID || seen[g.ID] {
			return
		}
		seen[g.ID] = true
		c := *g
		out = append(out, &c)
	}
	for _, g := range t.goals {
		collect(g)
	}
	for _, g := range t.s.goals {
		collect(g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) GetGroup(ctx context.Context, groupID string) (*domain.Group, error) {
	g, ok := t.group(groupID)
	if !ok {
		return nil, domain.ErrGroupNotFound
	}
	return g.Clone(), nil
}

func (t *memTx) ListMemberGroups(ctx context.Context, userID string) ([]*domain.Group, error) {
	type seat struct {
		g      *domain.Group
		joined time.Time
	}
	var seats []seat
	collect := func(id string) {
		g, _ := t.group(id)
		if m, ok := g.Member(userID); ok {
			seats = append(seats, seat{g: g.Clone(), joined: m.JoinedAt})
		}
	}
	for id := range t.s.groups {
		collect(id)
	}
	for id := range t.groups {
		if _, committed := t.s.groups[id]; !committed {
			collect(id)
		}
	}
	sort.Slice(seats, func(i, j int) bool {
		if seats[i].joined.Equal(seats[j].joined) {
			return seats[i].g.ID < seats[j].g.ID
		}
		return seats[i].joined.Before(seats[j].joined)
	})

	out := make([]*domain.Group, 0, len(seats))
	for _, s := range seats {
		out = append(out, s.g)
	}
	return out, nil
}

func (t *memTx) ListGroupTransactions(ctx context.Context, groupID string, limit, offset int) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	visit := func(entries []*domain.Transaction) {
		for _, e := range entries {
			if e.ReferenceID != groupID {
				continue
			}
			if e.Kind != domain.KindGroupContribution && e.Kind != domain.KindGroupWithdrawal {
				continue
			}
			c := *e
			out = append(out, &c)
		}
	}
	for _, entries := range t.s.transactions {
		visit(entries)
	}
	for _, entries := range t.appended {
		visit(entries)
	}
	// Entry ids are monotonic ULIDs.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	if offset >= len(out) {
		return []*domain.Transaction{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) CreateWallet(ctx context.Context, w *domain.Wallet) error {
	if _, exists := t.wallet(w.UserID); exists {
		return domain.ErrWalletExists
	}
	c := *w
	t.wallets[w.UserID] = &c
	return nil
}

func (t *memTx) UpdateWallet(ctx context.Context, w *domain.Wallet) error {
	cur, ok := t.wallet(w.UserID)
	if !ok {
		return domain.ErrWalletNotFound
	}
	if cur.Version != w.Version {
		return domain.ErrConflict
	}
	w.Version++
	c := *w
	t.wallets[w.UserID] = &c
	return nil
}

func (t *memTx) AppendTransaction(ctx context.Context, e *domain.Transaction) error {
	c := *e
	t.appended[e.WalletID] = append(t.appended[e.WalletID], &c)
	return nil
}

func (t *memTx) CreateGoal(ctx context.Context, g *domain.Goal) error {
	c := *g
	t.goals[g.ID] = &c
	return nil
}

func (t *memTx) UpdateGoal(ctx context.Context, g *domain.Goal) error {
	if _, ok := t.goal(g.ID); !ok {
		return domain.ErrGoalNotFound
	}
	c := *g
	t.goals[g.ID] = &c
	return nil
}

func (t *memTx) CreateGroup(ctx context.Context, g *domain.Group) error {
	t.groups[g.ID] = g.Clone()
	return nil
}

func (t *memTx) UpdateGroup(ctx context.Context, g *domain.Group) error {
	staged, err := t.stagedGroup(g.ID)
	if err != nil {
		return err
	}
	staged.Name = g.Name
	staged.Target = g.Target
	staged.Status = g.Status
	staged.UpdatedAt = g.UpdatedAt
	return nil
}

func (t *memTx) PutMember(ctx context.Context, groupID string, m *domain.Member) error {
	staged, err := t.stagedGroup(groupID)
	if err != nil {
		return err
	}
	c := *m
	if cur, ok := staged.Member(m.UserID); ok {
		*cur = c
		return nil
	}
	staged.Members = append(staged.Members, &c)
	return nil
}

func (t *memTx) DeleteMember(ctx context.Context, groupID, userID string) error {
	staged, err := t.stagedGroup(groupID)
	if err != nil {
		return err
	}
	staged.RemoveMember(userID)
	return nil
}

func (t *memTx) PutBan(ctx context.Context, groupID, userID string, until time.Time) error {
	staged, err := t.stagedGroup(groupID)
	if err != nil {
		return err
	}
	staged.Bans[userID] = until
	return nil
}

func (t *memTx) DeleteBan(ctx context.Context, groupID, userID string) error {
	staged, err := t.stagedGroup(groupID)
	if err != nil {
		return err
	}
	delete(staged.Bans, userID)
	return nil
}
