package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"territory-run-system/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Territory{},
		&models.Event{},
		&models.EventCheckpoint{},
		&models.EventRun{},
		&models.EventTicket{},
		&models.PrizePayout{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// fakeIdentity is an in-memory IdentityService that honors the same contract
// as the real client: debits reject on insufficient balance without change,
// and credits are idempotent per ref.
type fakeIdentity struct {
	profiles   map[string]*UserProfile
	creditRefs map[string]bool

	setCounts []int64

	failCredit   bool
	failSetCount bool
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		profiles:   make(map[string]*UserProfile),
		creditRefs: make(map[string]bool),
	}
}

func (f *fakeIdentity) profile(userID string) *UserProfile {
	p, ok := f.profiles[userID]
	if !ok {
		p = &UserProfile{UserID: userID}
		f.profiles[userID] = p
	}
	return p
}

func (f *fakeIdentity) Profile(_ context.Context, userID string) (UserProfile, error) {
	return *f.profile(userID), nil
}

func (f *fakeIdentity) UpdateMiningState(_ context.Context, userID string, balance decimal.Decimal, territoryCount int64, lastMined int64) error {
	p := f.profile(userID)
	p.CoinBalance = balance
	p.TerritoryBlocks = territoryCount
	p.LastMinedAt = lastMined
	return nil
}

func (f *fakeIdentity) SetTerritoryCount(_ context.Context, userID string, count int64) error {
	if f.failSetCount {
		return errors.New("identity service unavailable")
	}
	f.profile(userID).TerritoryBlocks = count
	f.setCounts = append(f.setCounts, count)
	return nil
}

func (f *fakeIdentity) Debit(_ context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	p := f.profile(userID)
	if p.CoinBalance.LessThan(amount) {
		return decimal.Zero, ErrInsufficientFunds
	}
	p.CoinBalance = p.CoinBalance.Sub(amount)
	return p.CoinBalance, nil
}

func (f *fakeIdentity) Credit(_ context.Context, userID string, amount decimal.Decimal, ref string) error {
	if f.failCredit {
		return errors.New("identity service unavailable")
	}
	if f.creditRefs[ref] {
		return nil
	}
	f.creditRefs[ref] = true
	p := f.profile(userID)
	p.CoinBalance = p.CoinBalance.Add(amount)
	return nil
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}
