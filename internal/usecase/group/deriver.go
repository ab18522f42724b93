package group

import (
	"context"
	"time"

	"savings-service/internal/domain"
	"savings-service/internal/repository"

	"github.com/shopspring/decimal"
)

// Deriver computes group balances on demand from member contributions. It
// keeps no state between calls and never writes.
type Deriver struct {
	store repository.Store
	now   func() time.Time
}

func NewDeriver(store repository.Store) *Deriver {
	return &Deriver{store: store, now: time.Now}
}

func (d *Deriver) WithClock(now func() time.Time) *Deriver {
	d.now = now
	return d
}

// BalanceView is one consistent read of a group's derived position.
type BalanceView struct {
	GroupID    string             `json:"group_id"`
	Name       string             `json:"name"`
	Status     domain.GroupStatus `json:"status"`
	Target     decimal.Decimal    `json:"target"`
	Derived    decimal.Decimal    `json:"derived_balance"`
	Progress   decimal.Decimal    `json:"progress_percent"`
	Members    int                `json:"members"`
	Milestones domain.Milestones  `json:"milestones"`
	MemberIDs  []string           `json:"-"`
}

func (d *Deriver) View(ctx context.Context, groupID string) (*BalanceView, error) {
	var view *BalanceView
	err := d.store.Snapshot(ctx, func(r repository.Reader) error {
		g, err := r.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		view = d.ViewOf(g)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// ViewOf derives the view from an already loaded group, so callers holding
// g see members and balance from the same read.
func (d *Deriver) ViewOf(g *domain.Group) *BalanceView {
	derived := domain.DeriveBalance(g, d.now())
	ids := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		ids = append(ids, m.UserID)
	}
	return &BalanceView{
		GroupID:    g.ID,
		Name:       g.Name,
		Status:     g.Status,
		Target:     g.Target,
		Derived:    derived,
		Progress:   domain.Progress(g, derived),
		Members:    len(g.Members),
		Milestones: domain.CheckMilestones(g, derived),
		MemberIDs:  ids,
	}
}

func (d *Deriver) DeriveBalance(ctx context.Context, groupID string) (decimal.Decimal, error) {
	v, err := d.View(ctx, groupID)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Derived, nil
}

func (d *Deriver) CheckMilestones(ctx context.Context, groupID string) (domain.Milestones, error) {
	v, err := d.View(ctx, groupID)
	if err != nil {
		return domain.Milestones{}, err
	}
	return v.Milestones, nil
}
