package services

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"territory-run-system/models"
	"territory-run-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// territoryListRadiusKm bounds the map viewport scan around a center point.
const territoryListRadiusKm = 5.0

type TerritoryService struct {
	DB       *gorm.DB
	Identity IdentityService
}

func NewTerritoryService(db *gorm.DB, identity IdentityService) *TerritoryService {
	return &TerritoryService{DB: db, Identity: identity}
}

// TerritoryClaim is one cell in a claim batch: corner geometry plus the pace
// the runner covered it with (lower is better) and a display color.
type TerritoryClaim struct {
	AveragePace          decimal.Decimal `json:"average_pace"`
	Color                string          `json:"color"`
	LeftTopCornerLat     decimal.Decimal `json:"left_top_corner_lat"`
	LeftTopCornerLng     decimal.Decimal `json:"left_top_corner_lng"`
	RightTopCornerLat    decimal.Decimal `json:"right_top_corner_lat"`
	RightTopCornerLng    decimal.Decimal `json:"right_top_corner_lng"`
	LeftBottomCornerLat  decimal.Decimal `json:"left_bottom_corner_lat"`
	LeftBottomCornerLng  decimal.Decimal `json:"left_bottom_corner_lng"`
	RightBottomCornerLat decimal.Decimal `json:"right_bottom_corner_lat"`
	RightBottomCornerLng decimal.Decimal `json:"right_bottom_corner_lng"`
}

func (cl *TerritoryClaim) toTerritory(userID string) models.Territory {
	return models.Territory{
		UserID:               userID,
		AveragePace:          cl.AveragePace,
		Color:                cl.Color,
		LeftTopCornerLat:     cl.LeftTopCornerLat,
		LeftTopCornerLng:     cl.LeftTopCornerLng,
		RightTopCornerLat:    cl.RightTopCornerLat,
		RightTopCornerLng:    cl.RightTopCornerLng,
		LeftBottomCornerLat:  cl.LeftBottomCornerLat,
		LeftBottomCornerLng:  cl.LeftBottomCornerLng,
		RightBottomCornerLat: cl.RightBottomCornerLat,
		RightBottomCornerLng: cl.RightBottomCornerLng,
	}
}

// claimUpdateColumns are the columns a winning reclaim overwrites. created_at
// is deliberately absent: it is set on first insert and never touched again.
var claimUpdateColumns = []string{
	"user_id", "average_pace", "color",
	"left_top_corner_lat", "left_top_corner_lng",
	"right_top_corner_lat", "right_top_corner_lng",
	"left_bottom_corner_lat", "left_bottom_corner_lng",
	"right_bottom_corner_lat", "right_bottom_corner_lng",
	"updated_at",
}

// ClaimBatch upserts every claimed cell and returns the caller's live
// territory count afterwards.
//
// Each cell is one conditional statement: insert when the key is new,
// otherwise overwrite only when the stored pace is strictly worse than the
// incoming one. Losing the comparison is an expected concurrency outcome and
// is silently skipped; only storage failures abort the batch.
func (s *TerritoryService) ClaimBatch(ctx context.Context, userID string, claims []TerritoryClaim) (int64, error) {
	for i := range claims {
		t := claims[i].toTerritory(userID)
		t.SquareKey = TerritorySquareKey(&t)

		res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "square_key"}},
			Where: clause.Where{Exprs: []clause.Expression{
				gorm.Expr("territories.average_pace > excluded.average_pace"),
			}},
			DoUpdates: clause.AssignmentColumns(claimUpdateColumns),
		}).Create(&t)
		if res.Error != nil {
			return 0, fmt.Errorf("failed to upsert territory %s: %w", t.SquareKey, res.Error)
		}
		// RowsAffected == 0 here means the stored pace was better or equal
		// and the claim lost; nothing to do.
	}

	count, err := s.LiveTerritoryCount(ctx, userID)
	if err != nil {
		return 0, err
	}

	// The recount is the source of truth; the identity attribute is a mirror
	// for the profile screen, so a failed push only gets logged.
	if err := s.Identity.SetTerritoryCount(ctx, userID, count); err != nil {
		log.Printf("❌ Failed to sync territory count for user %s: %v", userID, err)
	}

	return count, nil
}

// LiveTerritoryCount recounts the user's non-deleted cells. Always a fresh
// scan, never a stored counter: concurrent claims and tombstones by the same
// user self-correct on the next call.
func (s *TerritoryService) LiveTerritoryCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.Territory{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count territories for %s: %w", userID, err)
	}
	return count, nil
}

// ListWithinBounds scans for cells with any corner inside a box around the
// center point. A filtered scan is fine at the dataset sizes this runs at.
func (s *TerritoryService) ListWithinBounds(ctx context.Context, lat, lng float64) ([]models.Territory, error) {
	box := utils.BoundsAround(lat, lng, territoryListRadiusKm)

	var territories []models.Territory
	err := s.DB.WithContext(ctx).
		Where(s.DB.
			Where("left_top_corner_lat BETWEEN ? AND ? AND left_top_corner_lng BETWEEN ? AND ?",
				box.MinLat, box.MaxLat, box.MinLng, box.MaxLng).
			Or("right_top_corner_lat BETWEEN ? AND ? AND right_top_corner_lng BETWEEN ? AND ?",
				box.MinLat, box.MaxLat, box.MinLng, box.MaxLng).
			Or("left_bottom_corner_lat BETWEEN ? AND ? AND left_bottom_corner_lng BETWEEN ? AND ?",
				box.MinLat, box.MaxLat, box.MinLng, box.MaxLng).
			Or("right_bottom_corner_lat BETWEEN ? AND ? AND right_bottom_corner_lng BETWEEN ? AND ?",
				box.MinLat, box.MaxLat, box.MinLng, box.MaxLng)).
		Find(&territories).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch territories within bounds: %w", err)
	}
	return territories, nil
}

// --- HTTP handlers ---

// AssignTerritories handles POST /territories/assign.
func (s *TerritoryService) AssignTerritories(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var req struct {
		Territories []TerritoryClaim `json:"territories"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if len(req.Territories) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "territories is required"})
	}

	count, err := s.ClaimBatch(c.Context(), userID, req.Territories)
	if err != nil {
		log.Printf("❌ Failed to upsert territories for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to upsert territories"})
	}

	return c.JSON(fiber.Map{
		"status":          "success",
		"message":         fmt.Sprintf("%d territories upserted successfully.", len(req.Territories)),
		"territory_count": count,
	})
}

// ListTerritories handles GET /territories?lat=&lng=.
func (s *TerritoryService) ListTerritories(c *fiber.Ctx) error {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid lat/lng values"})
	}

	territories, err := s.ListWithinBounds(c.Context(), lat, lng)
	if err != nil {
		log.Printf("❌ Failed to list territories: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch territories"})
	}

	return c.JSON(fiber.Map{
		"status":      "success",
		"territories": territories,
	})
}
