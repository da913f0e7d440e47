package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"territory-run-system/models"
)

// Default mining rate: coins per owned territory per hour.
const defaultMiningRate = "0.05"

var secondsPerHour = decimal.NewFromInt(3600)

type MiningService struct {
	DB       *gorm.DB
	Identity IdentityService
	Rate     decimal.Decimal
	// Now is the clock; swapped out in tests.
	Now func() time.Time
}

func NewMiningService(db *gorm.DB, identity IdentityService) *MiningService {
	rate := decimal.RequireFromString(defaultMiningRate)
	if v := os.Getenv("MINING_RATE_PER_TERRITORY_PER_HOUR"); v != "" {
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			log.Fatalf("invalid MINING_RATE_PER_TERRITORY_PER_HOUR %q: %v", v, err)
		}
		rate = parsed
	}
	return &MiningService{DB: db, Identity: identity, Rate: rate, Now: time.Now}
}

// AccrualResult reports one mining call.
type AccrualResult struct {
	TerritoryCount int64           `json:"territory_count"`
	ElapsedSeconds int64           `json:"elapsed_seconds"`
	Minted         decimal.Decimal `json:"minted"`
	NewBalance     decimal.Decimal `json:"new_balance"`
}

// Accrue credits the caller for the interval since their last mine:
// minted = territories × rate × elapsed/3600.
//
// last_mined is re-read from the identity service on every call and advanced
// to "now" together with the balance in a single attribute update, so
// back-to-back or retried calls only ever see a near-zero elapsed window — the
// same interval is never counted twice. A missing last_mined (fresh account)
// and a last_mined in the future (clock skew) both clamp elapsed to zero.
func (s *MiningService) Accrue(ctx context.Context, userID string) (AccrualResult, error) {
	var count int64
	if err := s.DB.WithContext(ctx).Model(&models.Territory{}).
		Where("user_id = ?", userID).
		Count(&count).Error; err != nil {
		return AccrualResult{}, fmt.Errorf("failed to count territories for %s: %w", userID, err)
	}

	profile, err := s.Identity.Profile(ctx, userID)
	if err != nil {
		return AccrualResult{}, fmt.Errorf("failed to read profile for %s: %w", userID, err)
	}

	now := s.Now().Unix()
	last := profile.LastMinedAt
	if last == 0 || last > now {
		last = now
	}
	elapsed := now - last

	minted := decimal.NewFromInt(count).
		Mul(s.Rate).
		Mul(decimal.NewFromInt(elapsed)).
		Div(secondsPerHour)
	newBalance := profile.CoinBalance.Add(minted)

	// One call → one atomic transition on the identity side: the clock never
	// advances without the matching credit, and vice versa.
	if err := s.Identity.UpdateMiningState(ctx, userID, newBalance, count, now); err != nil {
		return AccrualResult{}, fmt.Errorf("failed to persist mining state for %s: %w", userID, err)
	}

	return AccrualResult{
		TerritoryCount: count,
		ElapsedSeconds: elapsed,
		Minted:         minted,
		NewBalance:     newBalance,
	}, nil
}

// MineTerritoryCoins handles POST /territories/mine.
func (s *MiningService) MineTerritoryCoins(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	result, err := s.Accrue(c.Context(), userID)
	if err != nil {
		log.Printf("❌ Mining failed for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to mine territory coins"})
	}

	log.Printf("⛏️  User %s mined %s coins for %d territories over %ds",
		userID, result.Minted, result.TerritoryCount, result.ElapsedSeconds)

	return c.JSON(fiber.Map{
		"status":          "success",
		"message":         "Mined tokens for territories successfully",
		"territory_count": result.TerritoryCount,
		"minted":          result.Minted,
		"new_balance":     result.NewBalance,
	})
}
