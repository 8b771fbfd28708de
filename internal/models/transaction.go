package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types.
const (
	TypeDeposit  = "DEPOSIT"
	TypeWithdraw = "WITHDRAW"
	TypeTransfer = "TRANSFER"
)

// Transaction statuses. Only COMPLETED records are ever committed by the
// balance service; PENDING and FAILED are reserved.
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Transaction is an append-only audit record. A row exists only if the
// balance mutation it describes committed in the same database transaction.
type Transaction struct {
	ID         int64           `json:"id" db:"id"`
	Type       string          `json:"type" db:"type"`
	Status     string          `json:"status" db:"status"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	UserID     int64           `json:"userId" db:"user_id"`
	ReceiverID *int64          `json:"receiverId,omitempty" db:"receiver_id"`
	CreatedAt  time.Time       `json:"createdAt" db:"created_at"`
}

// DepositRequest is the payload for deposit and withdraw endpoints.
type DepositRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
}

// WithdrawRequest mirrors DepositRequest; kept separate so the two
// endpoints stay independently documentable.
type WithdrawRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
}

// TransferRequest is the payload for the transfer endpoint.
type TransferRequest struct {
	ReceiverID int64           `json:"receiverId" validate:"required"`
	Amount     decimal.Decimal `json:"amount" validate:"required"`
}
