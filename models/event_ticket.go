package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// EventTicket gates participation in an event. A ticket is created only after
// the entry fee has been collected, and IsUsed transitions false→true at most
// once, inside the same transaction that records the run.
//
// The partial unique index on (event_id, user_id) backs the one-ticket-per-
// event rule at the storage layer: two concurrent purchases cannot both
// insert, and the loser's create fails and triggers the compensating refund.
type EventTicket struct {
	ID      string          `json:"id" gorm:"primaryKey;type:uuid"`
	EventID string          `json:"event_id" gorm:"not null;index;uniqueIndex:idx_ticket_event_user,where:deleted_at IS NULL"`
	UserID  string          `json:"user_id" gorm:"not null;index;uniqueIndex:idx_ticket_event_user,where:deleted_at IS NULL"`
	Price   decimal.Decimal `json:"price" gorm:"type:numeric(20,2);not null"`
	IsUsed  bool            `json:"is_used" gorm:"not null;default:false"`

	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
