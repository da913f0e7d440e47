package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"territory-run-system/models"
	"territory-run-system/utils"
)

func newTestSettlementService(db *gorm.DB, identity *fakeIdentity, now time.Time) *SettlementService {
	return &SettlementService{
		DB:       db,
		Identity: identity,
		Now:      func() time.Time { return now },
	}
}

func seedRun(t *testing.T, db *gorm.DB, eventID, userID, pace string) {
	t.Helper()
	run := models.EventRun{
		ID:                  uuid.NewString(),
		EventID:             eventID,
		UserID:              userID,
		KmLong:              mustDecimal(t, "10"),
		NumberOfSteps:       mustDecimal(t, "14000"),
		DurationInSeconds:   mustDecimal(t, pace).Mul(mustDecimal(t, "600")),
		AveragePaceMinPerKm: mustDecimal(t, pace),
		FinishedAt:          time.Now().UTC(),
	}
	if err := db.Create(&run).Error; err != nil {
		t.Fatalf("failed to seed run: %v", err)
	}
}

func TestComputePrizesSplitsPool(t *testing.T) {
	runs := []models.EventRun{
		{UserID: "slow", AveragePaceMinPerKm: mustDecimal(t, "7.5")},
		{UserID: "first", AveragePaceMinPerKm: mustDecimal(t, "5.0")},
		{UserID: "third", AveragePaceMinPerKm: mustDecimal(t, "6.2")},
		{UserID: "second", AveragePaceMinPerKm: mustDecimal(t, "5.8")},
		{UserID: "slowest", AveragePaceMinPerKm: mustDecimal(t, "8.1")},
	}

	// Pool is 10 × 5 runs = 50, split 70/20/10.
	awards := ComputePrizes(mustDecimal(t, "10"), runs)
	if len(awards) != 3 {
		t.Fatalf("expected 3 awards, got %d", len(awards))
	}

	want := []struct {
		user   string
		amount string
	}{
		{"first", "35.00"},
		{"second", "10.00"},
		{"third", "5.00"},
	}
	for i, w := range want {
		if awards[i].UserID != w.user {
			t.Errorf("rank %d: expected %s, got %s", i+1, w.user, awards[i].UserID)
		}
		if !awards[i].Amount.Equal(mustDecimal(t, w.amount)) {
			t.Errorf("rank %d: expected %s, got %s", i+1, w.amount, awards[i].Amount)
		}
		if awards[i].Rank != i+1 {
			t.Errorf("expected rank %d, got %d", i+1, awards[i].Rank)
		}
	}
}

func TestComputePrizesRoundsToCents(t *testing.T) {
	runs := []models.EventRun{
		{UserID: "a", AveragePaceMinPerKm: mustDecimal(t, "5.0")},
		{UserID: "b", AveragePaceMinPerKm: mustDecimal(t, "6.0")},
		{UserID: "c", AveragePaceMinPerKm: mustDecimal(t, "7.0")},
	}

	// Pool 0.33 × 3 = 0.99 → 0.69 / 0.20 / 0.10 after rounding.
	awards := ComputePrizes(mustDecimal(t, "0.33"), runs)
	if !awards[0].Amount.Equal(mustDecimal(t, "0.69")) {
		t.Fatalf("expected 0.69, got %s", awards[0].Amount)
	}
	if !awards[1].Amount.Equal(mustDecimal(t, "0.2")) {
		t.Fatalf("expected 0.20, got %s", awards[1].Amount)
	}
	if !awards[2].Amount.Equal(mustDecimal(t, "0.1")) {
		t.Fatalf("expected 0.10, got %s", awards[2].Amount)
	}
}

func TestComputePrizesCountsEachRunnerOnce(t *testing.T) {
	runs := []models.EventRun{
		{UserID: "double", AveragePaceMinPerKm: mustDecimal(t, "5.0")},
		{UserID: "double", AveragePaceMinPerKm: mustDecimal(t, "5.5")},
		{UserID: "other", AveragePaceMinPerKm: mustDecimal(t, "6.0")},
	}

	awards := ComputePrizes(mustDecimal(t, "10"), runs)
	if len(awards) != 2 {
		t.Fatalf("expected 2 awards for 2 distinct runners, got %d", len(awards))
	}
	if awards[0].UserID != "double" || awards[1].UserID != "other" {
		t.Fatalf("unexpected ranking: %+v", awards)
	}
	// Pool still counts every run: 10 × 3 = 30.
	if !awards[0].Amount.Equal(mustDecimal(t, "21")) {
		t.Fatalf("expected 21.00 for rank 1, got %s", awards[0].Amount)
	}
}

func TestComputePrizesNothingToPay(t *testing.T) {
	if awards := ComputePrizes(mustDecimal(t, "10"), nil); awards != nil {
		t.Fatalf("no runs must yield no awards, got %+v", awards)
	}
	runs := []models.EventRun{{UserID: "a", AveragePaceMinPerKm: mustDecimal(t, "5.0")}}
	if awards := ComputePrizes(mustDecimal(t, "0"), runs); awards != nil {
		t.Fatalf("free events have no pool, got %+v", awards)
	}
}

func TestRunSweepSettlesExactlyOnce(t *testing.T) {
	db := newTestDB(t)
	identity := newFakeIdentity()
	now := time.Now().UTC()
	svc := newTestSettlementService(db, identity, now)
	ctx := context.Background()

	event := seedEvent(t, db, "10.00", now.Add(-26*time.Hour), now.Add(-2*time.Hour))
	seedRun(t, db, event.ID, "first", "5.0")
	seedRun(t, db, event.ID, "second", "5.8")
	seedRun(t, db, event.ID, "third", "6.2")

	if err := svc.RunSweep(ctx); err != nil {
		t.Fatalf("RunSweep failed: %v", err)
	}

	var settled models.Event
	if err := db.First(&settled, "id = ?", event.ID).Error; err != nil {
		t.Fatalf("event missing: %v", err)
	}
	if !settled.IsDistributed {
		t.Fatal("event must be marked distributed")
	}

	// Pool 10 × 3 = 30, split 21 / 6 / 3.
	if !identity.profile("first").CoinBalance.Equal(mustDecimal(t, "21")) {
		t.Fatalf("rank 1 balance: %s", identity.profile("first").CoinBalance)
	}
	if !identity.profile("second").CoinBalance.Equal(mustDecimal(t, "6")) {
		t.Fatalf("rank 2 balance: %s", identity.profile("second").CoinBalance)
	}
	if !identity.profile("third").CoinBalance.Equal(mustDecimal(t, "3")) {
		t.Fatalf("rank 3 balance: %s", identity.profile("third").CoinBalance)
	}

	var payouts []models.PrizePayout
	if err := db.Where("event_id = ?", event.ID).Find(&payouts).Error; err != nil {
		t.Fatalf("failed to read payouts: %v", err)
	}
	if len(payouts) != 3 {
		t.Fatalf("expected 3 payout rows, got %d", len(payouts))
	}
	for _, p := range payouts {
		if p.Status != models.PayoutStatusPaid {
			t.Fatalf("payout %s not paid: %s", p.ID, p.Status)
		}
		if p.PaidAt == nil {
			t.Fatalf("payout %s missing paid_at", p.ID)
		}
	}

	// Second sweep finds nothing and moves no money.
	if err := svc.RunSweep(ctx); err != nil {
		t.Fatalf("second RunSweep failed: %v", err)
	}
	if !identity.profile("first").CoinBalance.Equal(mustDecimal(t, "21")) {
		t.Fatal("second sweep must not credit again")
	}
}

func TestRunSweepSkipsRunningEvents(t *testing.T) {
	db := newTestDB(t)
	identity := newFakeIdentity()
	now := time.Now().UTC()
	svc := newTestSettlementService(db, identity, now)

	event := seedEvent(t, db, "10.00", now.Add(-time.Hour), now.Add(23*time.Hour))
	seedRun(t, db, event.ID, "first", "5.0")

	if err := svc.RunSweep(context.Background()); err != nil {
		t.Fatalf("RunSweep failed: %v", err)
	}

	var check models.Event
	if err := db.First(&check, "id = ?", event.ID).Error; err != nil {
		t.Fatalf("event missing: %v", err)
	}
	if check.IsDistributed {
		t.Fatal("running event must not settle")
	}
}

func TestRunSweepMarksEmptyEventDistributed(t *testing.T) {
	db := newTestDB(t)
	identity := newFakeIdentity()
	now := time.Now().UTC()
	svc := newTestSettlementService(db, identity, now)

	event := seedEvent(t, db, "10.00", now.Add(-26*time.Hour), now.Add(-2*time.Hour))

	if err := svc.RunSweep(context.Background()); err != nil {
		t.Fatalf("RunSweep failed: %v", err)
	}

	var check models.Event
	if err := db.First(&check, "id = ?", event.ID).Error; err != nil {
		t.Fatalf("event missing: %v", err)
	}
	if !check.IsDistributed {
		t.Fatal("event with no runs must still be marked distributed")
	}

	var count int64
	db.Model(&models.PrizePayout{}).Count(&count)
	if count != 0 {
		t.Fatalf("no payout rows expected, got %d", count)
	}
}

func TestSettleEventLostClaimDoesNothing(t *testing.T) {
	db := newTestDB(t)
	identity := newFakeIdentity()
	now := time.Now().UTC()
	svc := newTestSettlementService(db, identity, now)
	// A nil S3 client makes any report upload attempt blow up, so a losing
	// sweep that still reports fails this test loudly.
	svc.Reports = &utils.ReportStore{Bucket: "settlement-audit"}

	event := seedEvent(t, db, "10.00", now.Add(-26*time.Hour), now.Add(-2*time.Hour))
	seedRun(t, db, event.ID, "first", "5.0")

	// Another sweep wins the claim between fetch and settle.
	if err := db.Model(&models.Event{}).
		Where("id = ?", event.ID).
		Update("is_distributed", true).Error; err != nil {
		t.Fatalf("failed to pre-claim event: %v", err)
	}

	var stale models.Event
	if err := db.Preload("Runs").First(&stale, "id = ?", event.ID).Error; err != nil {
		t.Fatalf("failed to load runs: %v", err)
	}
	stale.IsDistributed = false

	if err := svc.settleEvent(context.Background(), &stale); err != nil {
		t.Fatalf("lost claim must not error: %v", err)
	}

	var payouts int64
	db.Model(&models.PrizePayout{}).Count(&payouts)
	if payouts != 0 {
		t.Fatalf("losing sweep must record nothing, got %d payouts", payouts)
	}
	if !identity.profile("first").CoinBalance.IsZero() {
		t.Fatal("losing sweep must not credit")
	}
}

func TestFailedCreditLeavesDurablePendingPayout(t *testing.T) {
	db := newTestDB(t)
	identity := newFakeIdentity()
	now := time.Now().UTC()
	svc := newTestSettlementService(db, identity, now)
	ctx := context.Background()

	event := seedEvent(t, db, "10.00", now.Add(-26*time.Hour), now.Add(-2*time.Hour))
	seedRun(t, db, event.ID, "first", "5.0")

	identity.failCredit = true
	if err := svc.RunSweep(ctx); err != nil {
		t.Fatalf("RunSweep failed: %v", err)
	}

	var payout models.PrizePayout
	if err := db.First(&payout, "event_id = ?", event.ID).Error; err != nil {
		t.Fatalf("pending payout row must exist: %v", err)
	}
	if payout.Status != models.PayoutStatusPending {
		t.Fatalf("expected pending payout, got %s", payout.Status)
	}
	if !identity.profile("first").CoinBalance.IsZero() {
		t.Fatal("failed credit must not move money")
	}

	// Identity comes back; re-driving the stored payout pays it out.
	identity.failCredit = false
	if err := svc.ApplyPayout(ctx, &payout); err != nil {
		t.Fatalf("ApplyPayout retry failed: %v", err)
	}
	if !identity.profile("first").CoinBalance.Equal(mustDecimal(t, "7.00")) {
		t.Fatalf("expected 7.00 after retry, got %s", identity.profile("first").CoinBalance)
	}

	var check models.PrizePayout
	if err := db.First(&check, "id = ?", payout.ID).Error; err != nil {
		t.Fatalf("payout missing: %v", err)
	}
	if check.Status != models.PayoutStatusPaid {
		t.Fatalf("expected paid, got %s", check.Status)
	}

	// A duplicate retry hits the idempotency ref and does not double pay.
	pendingAgain := check
	pendingAgain.Status = models.PayoutStatusPending
	_ = svc.ApplyPayout(ctx, &pendingAgain)
	if !identity.profile("first").CoinBalance.Equal(mustDecimal(t, "7.00")) {
		t.Fatalf("duplicate retry double paid: %s", identity.profile("first").CoinBalance)
	}
}
