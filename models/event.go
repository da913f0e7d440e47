package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event is a running race with a declared course. Checkpoints carry the
// declared route in order; Runs accumulate finished attempts until the
// settlement sweep distributes the prize pool.
type Event struct {
	ID        string          `json:"id" gorm:"primaryKey;type:uuid"`
	Name      string          `json:"name" gorm:"not null"`
	NameLower string          `json:"-" gorm:"index"`
	Slug      string          `json:"slug" gorm:"index"`
	City      string          `json:"city"`
	CityLower string          `json:"-" gorm:"index"`
	KmLong    decimal.Decimal `json:"km_long" gorm:"type:numeric(20,10);not null"`
	EntryFee  decimal.Decimal `json:"entry_fee" gorm:"type:numeric(20,2);not null"`
	StartTime time.Time       `json:"start_time" gorm:"not null;index"`
	EndTime   time.Time       `json:"end_time" gorm:"not null;index"`

	// IsDistributed flips exactly once when the settlement sweep claims the
	// event; it is never reset.
	IsDistributed bool `json:"is_distributed" gorm:"not null;default:false;index"`

	CreatorID string         `json:"creator_id" gorm:"index"`
	Trace     datatypes.JSON `json:"trace,omitempty"`

	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`

	Checkpoints []EventCheckpoint `json:"checkpoints,omitempty" gorm:"foreignKey:EventID"`
	Runs        []EventRun        `json:"runs,omitempty" gorm:"foreignKey:EventID"`
}

// IsActiveAt reports whether the event window covers the given instant.
func (e *Event) IsActiveAt(t time.Time) bool {
	return !t.Before(e.StartTime) && !t.After(e.EndTime)
}

// EventCheckpoint is one declared waypoint of the course. A finishing run must
// replay the checkpoint sequence exactly.
type EventCheckpoint struct {
	ID        string          `json:"id" gorm:"primaryKey;type:uuid"`
	EventID   string          `json:"event_id" gorm:"not null;index"`
	SortOrder int             `json:"sort_order" gorm:"column:sort_order;default:0"`
	Address   string          `json:"address"`
	Lat       decimal.Decimal `json:"lat" gorm:"type:numeric(20,10)"`
	Lng       decimal.Decimal `json:"lng" gorm:"type:numeric(20,10)"`
	IsStart   bool            `json:"is_start"`
	IsEnd     bool            `json:"is_end"`
}

// EventRun is a validated finished attempt. Rows are append-only: they are
// written inside the same transaction that consumes the ticket and never
// updated afterwards.
type EventRun struct {
	ID                  string          `json:"id" gorm:"primaryKey;type:uuid"`
	EventID             string          `json:"event_id" gorm:"not null;index"`
	UserID              string          `json:"user_id" gorm:"not null;index"`
	KmLong              decimal.Decimal `json:"km_long" gorm:"type:numeric(20,10)"`
	NumberOfSteps       decimal.Decimal `json:"number_of_steps" gorm:"type:numeric(20,10)"`
	DurationInSeconds   decimal.Decimal `json:"duration_in_seconds" gorm:"type:numeric(20,10)"`
	AveragePaceMinPerKm decimal.Decimal `json:"average_pace_min_per_km" gorm:"type:numeric(20,10);index"`
	FinishedAt          time.Time       `json:"finished_at"`
	CreatedAt           time.Time       `json:"created_at" gorm:"autoCreateTime"`
}
