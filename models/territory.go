package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Territory is one claimed geographic cell. SquareKey is derived from the four
// corner coordinate pairs and is the only identity the cell ever has; ownership
// moves between users exclusively through the conditional claim upsert.
type Territory struct {
	SquareKey   string          `json:"square_key" gorm:"primaryKey;type:varchar(64)"`
	UserID      string          `json:"user_id" gorm:"not null;index"`
	AveragePace decimal.Decimal `json:"average_pace" gorm:"type:numeric(20,10);not null"`
	Color       string          `json:"color"`

	LeftTopCornerLat     decimal.Decimal `json:"left_top_corner_lat" gorm:"type:numeric(20,10)"`
	LeftTopCornerLng     decimal.Decimal `json:"left_top_corner_lng" gorm:"type:numeric(20,10)"`
	RightTopCornerLat    decimal.Decimal `json:"right_top_corner_lat" gorm:"type:numeric(20,10)"`
	RightTopCornerLng    decimal.Decimal `json:"right_top_corner_lng" gorm:"type:numeric(20,10)"`
	LeftBottomCornerLat  decimal.Decimal `json:"left_bottom_corner_lat" gorm:"type:numeric(20,10)"`
	LeftBottomCornerLng  decimal.Decimal `json:"left_bottom_corner_lng" gorm:"type:numeric(20,10)"`
	RightBottomCornerLat decimal.Decimal `json:"right_bottom_corner_lat" gorm:"type:numeric(20,10)"`
	RightBottomCornerLng decimal.Decimal `json:"right_bottom_corner_lng" gorm:"type:numeric(20,10)"`

	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
