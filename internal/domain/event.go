package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventWalletDeposit      EventType = "wallet.deposit"
	EventWalletWithdrawal   EventType = "wallet.withdrawal"
	EventLowBalance         EventType = "wallet.low_balance"
	EventGoalContribution   EventType = "goal.contribution"
	EventGoalWithdrawal     EventType = "goal.withdrawal"
	EventGroupContribution  EventType = "group.contribution"
	EventGroupWithdrawal    EventType = "group.withdrawal"
	EventGroupMemberAdded   EventType = "group.member_added"
	EventGroupMemberRemoved EventType = "group.member_removed"
	EventGroupMemberBanned  EventType = "group.member_banned"
	EventGroupClosed        EventType = "group.closed"
	EventGroupMilestone50   EventType = "group.milestone_50"
	EventGroupMilestone100  EventType = "group.milestone_100"
)

// EventForKind maps a committed ledger entry to its notification type.
func EventForKind(k TransactionKind) EventType {
	switch k {
	case KindDeposit:
		return EventWalletDeposit
	case KindWithdrawal:
		return EventWalletWithdrawal
	case KindGoalContribution:
		return EventGoalContribution
	case KindGoalWithdrawal:
		return EventGoalWithdrawal
	case KindGroupContribution:
		return EventGroupContribution
	case KindGroupWithdrawal:
		return EventGroupWithdrawal
	}
	return EventType(k)
}

// Event is emitted after a commit for asynchronous delivery. Delivery
// guarantees belong to the consumer.
type Event struct {
	ID            string                 `json:"id"`
	Type          EventType              `json:"type"`
	UserID        string                 `json:"user_id,omitempty"`
	GroupID       string                 `json:"group_id,omitempty"`
	GoalID        string                 `json:"goal_id,omitempty"`
	TransactionID string                 `json:"transaction_id,omitempty"`
	Amount        *decimal.Decimal       `json:"amount,omitempty"`
	Balance       *Balance               `json:"balance,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	OccurredAt    time.Time              `json:"occurred_at"`
}

// Key is used as the partition key so a group's or user's events stay ordered.
func (e *Event) Key() string {
	if e.GroupID != "" {
		return e.GroupID
	}
	return e.UserID
}
