package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"territory-run-system/models"
	"territory-run-system/utils"
)

// Prize shares for the top three finishers.
var prizeShares = []decimal.Decimal{
	decimal.RequireFromString("0.7"),
	decimal.RequireFromString("0.2"),
	decimal.RequireFromString("0.1"),
}

// PrizeAward is one winner entry computed from an event's run log.
type PrizeAward struct {
	Rank   int             `json:"rank"`
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
	Pace   decimal.Decimal `json:"pace_min_per_km"`
}

type SettlementService struct {
	DB       *gorm.DB
	Identity IdentityService
	Reports  *utils.ReportStore // optional, nil disables report uploads
	Now      func() time.Time
}

func NewSettlementService(db *gorm.DB, identity IdentityService, reports *utils.ReportStore) *SettlementService {
	return &SettlementService{DB: db, Identity: identity, Reports: reports, Now: time.Now}
}

// ComputePrizes ranks an event's runs and splits the prize pool. The pool is
// entry fee times number of recorded runs. Runners are ranked by average pace
// ascending; a runner with several runs counts once, at their best run.
// Returns nil when there is nothing to pay out.
func ComputePrizes(entryFee decimal.Decimal, runs []models.EventRun) []PrizeAward {
	if len(runs) == 0 || entryFee.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	pool := entryFee.Mul(decimal.NewFromInt(int64(len(runs))))

	ranked := make([]models.EventRun, len(runs))
	copy(ranked, runs)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].AveragePaceMinPerKm.LessThan(ranked[j].AveragePaceMinPerKm)
	})

	seen := make(map[string]bool, len(ranked))
	awards := make([]PrizeAward, 0, len(prizeShares))
	for _, run := range ranked {
		if seen[run.UserID] {
			continue
		}
		seen[run.UserID] = true
		rank := len(awards) + 1
		awards = append(awards, PrizeAward{
			Rank:   rank,
			UserID: run.UserID,
			Amount: pool.Mul(prizeShares[rank-1]).Round(2),
			Pace:   run.AveragePaceMinPerKm,
		})
		if len(awards) == len(prizeShares) {
			break
		}
	}
	return awards
}

// RunSweep settles every ended event that has not been distributed yet.
// Safe to call from overlapping schedulers: the distribution claim is a
// conditional update, so each event settles at most once.
func (s *SettlementService) RunSweep(ctx context.Context) error {
	now := s.Now().UTC()

	var events []models.Event
	err := s.DB.WithContext(ctx).
		Preload("Runs", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where("end_time <= ? AND is_distributed = ?", now, false).
		Find(&events).Error
	if err != nil {
		return fmt.Errorf("failed to fetch settleable events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	log.Printf("🏁 Settlement sweep: %d event(s) ready", len(events))
	for i := range events {
		if err := s.settleEvent(ctx, &events[i]); err != nil {
			log.Printf("❌ Settlement failed for event %s: %v", events[i].ID, err)
		}
	}
	return nil
}

// settleEvent claims the event and records its payouts in one transaction,
// then pays each payout row. A payout that fails to credit stays pending and
// is retried by the payout worker; the claim itself never repeats.
func (s *SettlementService) settleEvent(ctx context.Context, event *models.Event) error {
	awards := ComputePrizes(event.EntryFee, event.Runs)

	claimed := false
	var payouts []models.PrizePayout
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Event{}).
			Where("id = ? AND is_distributed = ?", event.ID, false).
			Update("is_distributed", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Another sweep won the claim.
			return nil
		}
		claimed = true

		for _, award := range awards {
			payout := models.PrizePayout{
				ID:      uuid.NewString(),
				EventID: event.ID,
				Rank:    award.Rank,
				UserID:  award.UserID,
				Amount:  award.Amount,
				Status:  models.PayoutStatusPending,
			}
			if err := tx.Create(&payout).Error; err != nil {
				return fmt.Errorf("failed to record payout for rank %d: %w", award.Rank, err)
			}
			payouts = append(payouts, payout)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !claimed {
		// Nothing was settled here; the winning sweep logs and reports.
		return nil
	}

	if len(awards) == 0 {
		log.Printf("🏁 Event %s settled with no payouts (%d runs, entry fee %s)",
			event.ID, len(event.Runs), event.EntryFee.StringFixed(2))
		return nil
	}

	paid := 0
	for i := range payouts {
		if err := s.ApplyPayout(ctx, &payouts[i]); err != nil {
			log.Printf("⚠️ Payout %s (event %s, rank %d) left pending: %v",
				payouts[i].ID, event.ID, payouts[i].Rank, err)
			continue
		}
		paid++
	}
	log.Printf("✅ Event %s settled: %d/%d payouts paid", event.ID, paid, len(payouts))

	s.uploadReport(ctx, event, awards)
	return nil
}

// ApplyPayout credits one payout and flips it to paid. The credit carries the
// payout ID as its idempotency reference, so a retry after a crash between
// credit and flip does not double pay.
func (s *SettlementService) ApplyPayout(ctx context.Context, payout *models.PrizePayout) error {
	if err := s.Identity.Credit(ctx, payout.UserID, payout.Amount, payout.ID); err != nil {
		return fmt.Errorf("credit failed: %w", err)
	}

	now := s.Now().UTC()
	res := s.DB.WithContext(ctx).Model(&models.PrizePayout{}).
		Where("id = ? AND status = ?", payout.ID, models.PayoutStatusPending).
		Updates(map[string]interface{}{
			"status":  models.PayoutStatusPaid,
			"paid_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark payout paid: %w", res.Error)
	}
	payout.Status = models.PayoutStatusPaid
	payout.PaidAt = &now
	return nil
}

func (s *SettlementService) uploadReport(ctx context.Context, event *models.Event, awards []PrizeAward) {
	if s.Reports == nil {
		return
	}
	report := map[string]interface{}{
		"event_id":   event.ID,
		"event_name": event.Name,
		"entry_fee":  event.EntryFee,
		"run_count":  len(event.Runs),
		"settled_at": s.Now().UTC(),
		"awards":     awards,
	}
	body, err := json.Marshal(report)
	if err != nil {
		log.Printf("⚠️ Failed to encode settlement report for event %s: %v", event.ID, err)
		return
	}
	key := fmt.Sprintf("settlements/%s.json", event.ID)
	if err := s.Reports.UploadSettlementReport(ctx, key, body); err != nil {
		log.Printf("⚠️ Failed to upload settlement report %s: %v", key, err)
	}
}
