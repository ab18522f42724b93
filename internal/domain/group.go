package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type GroupStatus string

const (
	GroupActive    GroupStatus = "active"
	GroupCompleted GroupStatus = "completed"
	GroupClosed    GroupStatus = "closed"
)

type MemberRole string

const (
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

const (
	DefaultMaxGroupMembers = 7
	DefaultMaxGroupAdmins  = 2
	MinContributingMembers = 2
)

type Member struct {
	UserID      string          `json:"user_id"`
	Role        MemberRole      `json:"role"`
	Contributed decimal.Decimal `json:"contributed"`
	JoinedAt    time.Time       `json:"joined_at"`
}

// Group is a shared savings target. It stores no balance; see DeriveBalance.
type Group struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Target    decimal.Decimal      `json:"target"`
	Status    GroupStatus          `json:"status"`
	CreatedBy string               `json:"created_by"`
	Members   []*Member            `json:"members"`
	Bans      map[string]time.Time `json:"bans,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

func (g *Group) Member(userID string) (*Member, bool) {
	for _, m := range g.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return nil, false
}

func (g *Group) IsAdmin(userID string) bool {
	m, ok := g.Member(userID)
	return ok && m.Role == RoleAdmin
}

func (g *Group) AdminCount() int {
	n := 0
	for _, m := range g.Members {
		if m.Role == RoleAdmin {
			n++
		}
	}
	return n
}

// BannedUntil returns the expiry of userID's ban if it is still in force at now.
// Expired bans are ignored rather than cleaned up.
func (g *Group) BannedUntil(userID string, now time.Time) (time.Time, bool) {
	until, ok := g.Bans[userID]
	if !ok || !now.Before(until) {
		return time.Time{}, false
	}
	return until, true
}

func (g *Group) IsBanned(userID string, now time.Time) bool {
	_, banned := g.BannedUntil(userID, now)
	return banned
}

func (g *Group) RemoveMember(userID string) {
	for i, m := range g.Members {
		if m.UserID == userID {
			g.Members = append(g.Members[:i], g.Members[i+1:]...)
			return
		}
	}
}

// Clone returns a deep copy, so stores can hand out groups without sharing
// member slices or ban maps.
func (g *Group) Clone() *Group {
	c := *g
	c.Members = make([]*Member, len(g.Members))
	for i, m := range g.Members {
		mc := *m
		c.Members[i] = &mc
	}
	c.Bans = make(map[string]time.Time, len(g.Bans))
	for k, v := range g.Bans {
		c.Bans[k] = v
	}
	return &c
}

// Milestones reports which progress thresholds a group's derived balance has reached.
type Milestones struct {
	ReachedFifty bool `json:"reached_fifty"`
	ReachedFull  bool `json:"reached_full"`
}

// DeriveBalance sums the contributions of current members whose ban, if any,
// has expired at now.
func DeriveBalance(g *Group, now time.Time) decimal.Decimal {
	sum := decimal.Zero
	for _, m := range g.Members {
		if g.IsBanned(m.UserID, now) {
			continue
		}
		sum = sum.Add(m.Contributed)
	}
	return sum
}

// CheckMilestones compares a derived balance against the group's target.
func CheckMilestones(g *Group, derived decimal.Decimal) Milestones {
	if !g.Target.IsPositive() {
		return Milestones{}
	}
	half := g.Target.Div(decimal.NewFromInt(2))
	return Milestones{
		ReachedFifty: derived.GreaterThanOrEqual(half),
		ReachedFull:  derived.GreaterThanOrEqual(g.Target),
	}
}

// Progress is the derived balance as a percentage of target.
func Progress(g *Group, derived decimal.Decimal) decimal.Decimal {
	if !g.Target.IsPositive() {
		return decimal.Zero
	}
	return derived.Mul(decimal.NewFromInt(100)).Div(g.Target).Round(2)
}
