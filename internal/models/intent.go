package models

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ActionKind identifies a user-submitted protocol action.
type ActionKind int

const (
	ActionApprove ActionKind = iota
	ActionSupply
	ActionBorrow
	ActionRepay
	ActionWithdraw
)

func (k ActionKind) String() string {
	switch k {
	case ActionApprove:
		return "approve"
	case ActionSupply:
		return "supply"
	case ActionBorrow:
		return "borrow"
	case ActionRepay:
		return "repay"
	case ActionWithdraw:
		return "withdraw"
	default:
		return "unknown"
	}
}

// ParseActionKind resolves an action name from the HTTP surface.
func ParseActionKind(s string) (ActionKind, error) {
	switch s {
	case "approve":
		return ActionApprove, nil
	case "supply":
		return ActionSupply, nil
	case "borrow":
		return ActionBorrow, nil
	case "repay":
		return ActionRepay, nil
	case "withdraw":
		return ActionWithdraw, nil
	}
	return 0, errors.New("unknown action kind: " + s)
}

// IntentStatus is the lifecycle state of a submitted intent.
type IntentStatus int

const (
	// IntentPending means the action was submitted to the wallet layer but
	// no transaction hash exists yet. Abandonment from here is a no-op.
	IntentPending IntentStatus = iota
	// IntentAwaiting means a hash exists and the receipt is being awaited.
	IntentAwaiting
	IntentConfirmed
	IntentFailed
	IntentAbandoned
)

func (s IntentStatus) String() string {
	switch s {
	case IntentPending:
		return "pending"
	case IntentAwaiting:
		return "awaiting"
	case IntentConfirmed:
		return "confirmed"
	case IntentFailed:
		return "failed"
	case IntentAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Intent records one in-flight or settled user action. Only one intent may be
// live (pending or awaiting) per position at a time.
type Intent struct {
	ID    string     `json:"id"`
	Asset string     `json:"asset"`
	Kind  ActionKind `json:"kind"`
	// Full marks a repay or withdraw that closes the whole balance.
	Full   bool         `json:"full"`
	Amount *big.Int     `json:"amount"`
	TxHash common.Hash  `json:"tx_hash"`
	Status IntentStatus `json:"status"`
	Reason string       `json:"reason,omitempty"`

	SubmittedAt time.Time `json:"submitted_at"`
	SettledAt   time.Time `json:"settled_at,omitempty"`
}

// Live reports whether the intent still blocks new submissions.
func (i *Intent) Live() bool {
	return i != nil && (i.Status == IntentPending || i.Status == IntentAwaiting)
}
