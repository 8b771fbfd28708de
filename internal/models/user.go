package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a ledger account holder. Balance is mutated only by the
// balance service and never goes negative after a committed operation.
type User struct {
	ID        int64           `json:"id" example:"1"`
	Name      string          `json:"name" example:"Alice"`
	Email     string          `json:"email" example:"alice@example.com"`
	Role      string          `json:"role" example:"user"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
