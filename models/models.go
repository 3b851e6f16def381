package models

import (
	"time"
)

// TransactionState is the lifecycle state of a pending token transfer.
type TransactionState string

const (
	StateCreated   TransactionState = "CREATED"
	StateVerified  TransactionState = "VERIFIED"
	StateAbandoned TransactionState = "ABANDONED"
	StateFailed    TransactionState = "FAILED"
)

// Terminal reports whether no further transition is defined from s.
func (s TransactionState) Terminal() bool {
	return s == StateVerified || s == StateAbandoned || s == StateFailed
}

type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	FullName     string    `json:"fullName"`
	Avatar       string    `json:"avatar"`
	TokenBalance int       `json:"tokenBalance"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Receiver is the identity object the surrounding application hands to a
// transfer session to populate the recipient side.
type Receiver struct {
	ID       int    `json:"id"`
	FullName string `json:"fullName"`
	Avatar   string `json:"avatar"`
}

// TransferRequest is one transfer attempt. The sender is resolved
// server-side from the authenticated caller, never from the body.
type TransferRequest struct {
	SenderID   int    `json:"-"`
	ReceiverID int    `json:"receiverId"`
	Amount     int    `json:"amount"`
	Reason     string `json:"reason"`
}

// PendingTransaction is a backend-recorded transfer awaiting one-time-code
// confirmation. ID is zero until the backend has created the row.
type PendingTransaction struct {
	ID         int              `json:"id"`
	SenderID   int              `json:"senderId"`
	ReceiverID int              `json:"receiverId"`
	Amount     int              `json:"amount"`
	Reason     string           `json:"reason"`
	State      TransactionState `json:"state"`
	CreatedAt  time.Time        `json:"createdAt"`
}
