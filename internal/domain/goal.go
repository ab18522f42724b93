package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
)

// Goal is an individual savings target funded from its owner's wallet.
type Goal struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Name      string          `json:"name"`
	Target    decimal.Decimal `json:"target"`
	Locked    decimal.Decimal `json:"locked"`
	Status    GoalStatus      `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (g *Goal) Remaining() decimal.Decimal {
	return g.Target.Sub(g.Locked)
}

// Contribute adds amount to the goal's locked contribution, completing the
// goal when it reaches its target.
func (g *Goal) Contribute(amount decimal.Decimal, now time.Time) error {
	if g.Status != GoalActive {
		return ErrGoalInactive
	}
	next := g.Locked.Add(amount)
	if next.GreaterThan(g.Target) {
		return ErrGoalTargetExceeded
	}
	g.Locked = next
	if g.Locked.Equal(g.Target) {
		g.Status = GoalCompleted
	}
	g.UpdatedAt = now
	return nil
}

// Withdraw releases amount from the goal. A completed goal drops back to
// active once it is below target again.
func (g *Goal) Withdraw(amount decimal.Decimal, now time.Time) error {
	if amount.GreaterThan(g.Locked) {
		return ErrOverUnlock
	}
	g.Locked = g.Locked.Sub(amount)
	if g.Locked.LessThan(g.Target) {
		g.Status = GoalActive
	}
	g.UpdatedAt = now
	return nil
}
