package handlers

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"territory-run-system/models"
	"territory-run-system/services"
)

type nullIdentity struct{}

func (nullIdentity) Profile(context.Context, string) (services.UserProfile, error) {
	return services.UserProfile{}, nil
}

func (nullIdentity) UpdateMiningState(context.Context, string, decimal.Decimal, int64, int64) error {
	return nil
}

func (nullIdentity) SetTerritoryCount(context.Context, string, int64) error {
	return nil
}

func (nullIdentity) Debit(context.Context, string, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (nullIdentity) Credit(context.Context, string, decimal.Decimal, string) error {
	return nil
}

// newRoutedApp wires the app in the same registration order as main.go.
func newRoutedApp(t *testing.T) *fiber.App {
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

	identity := nullIdentity{}
	territoryService := services.NewTerritoryService(db, identity)
	miningService := services.NewMiningService(db, identity)
	eventService := services.NewEventService(db)
	ticketService := services.NewTicketService(db, identity)

	app := fiber.New()
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	SetupTerritoryRoutes(app, territoryService, miningService)
	SetupEventRoutes(app, eventService, ticketService)
	return app
}

func TestPublicRoutesNeedNoUserContext(t *testing.T) {
	app := newRoutedApp(t)

	cases := []struct {
		method string
		path   string
		want   int
	}{
		{"GET", "/health", fiber.StatusOK},
		{"GET", "/events", fiber.StatusOK},
		{"GET", "/events/unknown-id", fiber.StatusNotFound},
		{"GET", "/territories?lat=52.0&lng=4.3", fiber.StatusOK},
	}
	for _, tc := range cases {
		resp, err := app.Test(httptest.NewRequest(tc.method, tc.path, nil))
		if err != nil {
			t.Fatalf("%s %s: %v", tc.method, tc.path, err)
		}
		if resp.StatusCode == fiber.StatusUnauthorized {
			t.Errorf("%s %s: public route must not require user context", tc.method, tc.path)
		}
		if resp.StatusCode != tc.want {
			t.Errorf("%s %s: expected %d, got %d", tc.method, tc.path, tc.want, resp.StatusCode)
		}
	}
}

func TestSecuredRoutesRejectMissingUserContext(t *testing.T) {
	app := newRoutedApp(t)

	cases := []struct {
		method string
		path   string
	}{
		{"POST", "/territories/assign"},
		{"POST", "/territories/mine"},
		{"POST", "/events"},
		{"PUT", "/events/some-id"},
		{"DELETE", "/events/some-id"},
		{"POST", "/events/some-id/tickets"},
		{"GET", "/events/some-id/tickets"},
		{"POST", "/events/some-id/finish"},
	}
	for _, tc := range cases {
		resp, err := app.Test(httptest.NewRequest(tc.method, tc.path, nil))
		if err != nil {
			t.Fatalf("%s %s: %v", tc.method, tc.path, err)
		}
		if resp.StatusCode != fiber.StatusUnauthorized {
			t.Errorf("%s %s: expected 401 without X-User-ID, got %d", tc.method, tc.path, resp.StatusCode)
		}
	}
}
