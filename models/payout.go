package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PayoutStatus string

const (
	PayoutStatusPending PayoutStatus = "pending"
	PayoutStatusPaid    PayoutStatus = "paid"
)

// PrizePayout is one winner's share of a settled event. Rows are created in
// the same transaction that claims the event's is_distributed flag, so a crash
// between claiming and crediting leaves a durable pending row instead of a
// lost prize. The payout ID doubles as the idempotency reference for the
// balance credit, which makes retries safe.
type PrizePayout struct {
	ID      string          `json:"id" gorm:"primaryKey;type:uuid"`
	EventID string          `json:"event_id" gorm:"not null;uniqueIndex:idx_payout_event_rank"`
	Rank    int             `json:"rank" gorm:"not null;uniqueIndex:idx_payout_event_rank"`
	UserID  string          `json:"user_id" gorm:"not null;index"`
	Amount  decimal.Decimal `json:"amount" gorm:"type:numeric(20,2);not null"`
	Status  PayoutStatus    `json:"status" gorm:"not null;default:'pending';index"`

	PaidAt    *time.Time `json:"paid_at,omitempty"`
	CreatedAt time.Time  `json:"created_at" gorm:"autoCreateTime"`
}
