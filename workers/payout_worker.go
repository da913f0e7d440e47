package workers

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"

	"territory-run-system/models"
	"territory-run-system/services"
)

// PayoutRetryWorker re-drives prize payouts that were recorded but never
// credited, typically after an identity-service outage during settlement.
type PayoutRetryWorker struct {
	DB       *gorm.DB
	Identity services.IdentityService
	// MinAge keeps the worker off payouts the settlement sweep is still
	// actively paying.
	MinAge time.Duration
}

func NewPayoutRetryWorker(db *gorm.DB, identity services.IdentityService, minAge time.Duration) *PayoutRetryWorker {
	return &PayoutRetryWorker{DB: db, Identity: identity, MinAge: minAge}
}

// RetryPending credits every stale pending payout once. Credits carry the
// payout ID as idempotency reference, so re-crediting an already-credited
// payout is a no-op on the identity side.
func (w *PayoutRetryWorker) RetryPending(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-w.MinAge)

	var payouts []models.PrizePayout
	err := w.DB.WithContext(ctx).
		Where("status = ? AND created_at <= ?", models.PayoutStatusPending, cutoff).
		Order("created_at ASC").
		Find(&payouts).Error
	if err != nil {
		log.Printf("❌ Payout retry: failed to fetch pending payouts: %v", err)
		return
	}
	if len(payouts) == 0 {
		return
	}

	log.Printf("📥 Payout retry: %d pending payout(s) to re-drive", len(payouts))
	for i := range payouts {
		p := &payouts[i]
		if err := w.Identity.Credit(ctx, p.UserID, p.Amount, p.ID); err != nil {
			log.Printf("❌ Payout retry: credit failed for payout %s (user %s): %v", p.ID, p.UserID, err)
			continue
		}

		now := time.Now().UTC()
		res := w.DB.WithContext(ctx).Model(&models.PrizePayout{}).
			Where("id = ? AND status = ?", p.ID, models.PayoutStatusPending).
			Updates(map[string]interface{}{
				"status":  models.PayoutStatusPaid,
				"paid_at": now,
			})
		if res.Error != nil {
			log.Printf("❌ Payout retry: failed to mark payout %s paid: %v", p.ID, res.Error)
			continue
		}
		if res.RowsAffected == 0 {
			// Someone else flipped it between fetch and update.
			continue
		}
		log.Printf("✅ Payout retry: paid payout %s (event %s, rank %d, %s)",
			p.ID, p.EventID, p.Rank, p.Amount.StringFixed(2))
	}
}

// Run polls for stale pending payouts until the context is cancelled.
func (w *PayoutRetryWorker) Run(ctx context.Context, pollInterval time.Duration) {
	log.Println("Starting payout retry worker...")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Payout retry worker stopped.")
			return
		case <-ticker.C:
			w.RetryPending(ctx)
		}
	}
}
