package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"territory-run-system/models"
)

// Domain rejections. These are expected outcomes, not infrastructure
// failures, and map to 4xx responses.
var (
	ErrEventNotFound     = errors.New("event not found")
	ErrEventNotActive    = errors.New("event is not active")
	ErrAlreadyTicketed   = errors.New("user already holds a ticket for this event")
	ErrTicketNotFound    = errors.New("event ticket not found")
	ErrNotTicketOwner    = errors.New("ticket does not belong to user")
	ErrTicketAlreadyUsed = errors.New("event ticket has already been used")
)

type TicketService struct {
	DB       *gorm.DB
	Identity IdentityService
	Now      func() time.Time
}

func NewTicketService(db *gorm.DB, identity IdentityService) *TicketService {
	return &TicketService{DB: db, Identity: identity, Now: time.Now}
}

// Issue charges the entry fee and creates a ticket for the event.
//
// Preconditions: the event window is currently open and the user holds no
// live ticket for it. The fee is debited before the ticket row is written; if
// the write then fails, a compensating credit keyed by the ticket ID is issued
// so a collected fee never outlives a failed ticket.
func (s *TicketService) Issue(ctx context.Context, eventID, userID string) (*models.EventTicket, decimal.Decimal, error) {
	var event models.Event
	if err := s.DB.WithContext(ctx).First(&event, "id = ?", eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, decimal.Zero, ErrEventNotFound
		}
		return nil, decimal.Zero, fmt.Errorf("failed to fetch event %s: %w", eventID, err)
	}

	if !event.IsActiveAt(s.Now().UTC()) {
		return nil, decimal.Zero, ErrEventNotActive
	}

	var existing int64
	if err := s.DB.WithContext(ctx).Model(&models.EventTicket{}).
		Where("event_id = ? AND user_id = ?", eventID, userID).
		Count(&existing).Error; err != nil {
		return nil, decimal.Zero, fmt.Errorf("failed to check existing tickets: %w", err)
	}
	if existing > 0 {
		return nil, decimal.Zero, ErrAlreadyTicketed
	}

	newBalance, err := s.Identity.Debit(ctx, userID, event.EntryFee)
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return nil, decimal.Zero, ErrInsufficientFunds
		}
		return nil, decimal.Zero, fmt.Errorf("failed to debit entry fee: %w", err)
	}

	ticket := models.EventTicket{
		ID:      uuid.NewString(),
		EventID: eventID,
		UserID:  userID,
		Price:   event.EntryFee,
	}
	if err := s.DB.WithContext(ctx).Create(&ticket).Error; err != nil {
		// The fee is already collected; give it back. The ticket ID as credit
		// ref keeps a retried refund from doubling.
		if cerr := s.Identity.Credit(ctx, userID, event.EntryFee, ticket.ID); cerr != nil {
			log.Printf("🚨 Refund of %s to user %s failed after ticket create error, needs manual reconciliation: %v",
				event.EntryFee, userID, cerr)
		}
		return nil, decimal.Zero, fmt.Errorf("failed to create ticket: %w", err)
	}

	log.Printf("🎟️  User %s bought ticket %s for event %s (fee %s)", userID, ticket.ID, eventID, event.EntryFee)
	return &ticket, newBalance, nil
}

// Consume validates the submitted run and spends the ticket.
//
// The run append and the is_used flip commit in one transaction: either both
// happen or neither does. The flip itself is conditional on is_used = false,
// so a concurrent or repeated consume of the same ticket loses the
// compare-and-swap and surfaces as ErrTicketAlreadyUsed without a second run
// ever being recorded.
func (s *TicketService) Consume(ctx context.Context, eventID, userID string, sub *RunSubmission) (*models.EventRun, error) {
	var ticket models.EventTicket
	if err := s.DB.WithContext(ctx).First(&ticket, "id = ?", sub.TicketID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to fetch ticket %s: %w", sub.TicketID, err)
	}
	if ticket.UserID != userID {
		return nil, ErrNotTicketOwner
	}
	if ticket.EventID != eventID {
		return nil, ErrTicketNotFound
	}
	if ticket.IsUsed {
		return nil, ErrTicketAlreadyUsed
	}

	var event models.Event
	err := s.DB.WithContext(ctx).
		Preload("Checkpoints", func(db *gorm.DB) *gorm.DB {
			return db.Order("\"sort_order\" ASC")
		}).
		First(&event, "id = ?", eventID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to fetch event %s: %w", eventID, err)
	}

	if err := ValidateRun(&event, sub); err != nil {
		return nil, err
	}

	run := models.EventRun{
		ID:                  uuid.NewString(),
		EventID:             eventID,
		UserID:              userID,
		KmLong:              sub.KmLong,
		NumberOfSteps:       sub.NumberOfSteps,
		DurationInSeconds:   sub.DurationInSeconds,
		AveragePaceMinPerKm: sub.Pace(),
		FinishedAt:          s.Now().UTC(),
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.EventTicket{}).
			Where("id = ? AND is_used = ?", ticket.ID, false).
			Update("is_used", true)
		if res.Error != nil {
			return fmt.Errorf("failed to mark ticket used: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrTicketAlreadyUsed
		}
		if err := tx.Create(&run).Error; err != nil {
			return fmt.Errorf("failed to record run: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &run, nil
}

// ActiveTickets returns the user's unused tickets for an event.
func (s *TicketService) ActiveTickets(ctx context.Context, eventID, userID string) ([]models.EventTicket, error) {
	var tickets []models.EventTicket
	err := s.DB.WithContext(ctx).
		Where("event_id = ? AND user_id = ? AND is_used = ?", eventID, userID, false).
		Find(&tickets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tickets: %w", err)
	}
	return tickets, nil
}

// --- HTTP handlers ---

// BuyEventTicket handles POST /events/:event_id/tickets.
func (s *TicketService) BuyEventTicket(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	eventID := c.Params("event_id")

	ticket, newBalance, err := s.Issue(c.Context(), eventID, userID)
	switch {
	case errors.Is(err, ErrEventNotFound):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "event does not exist"})
	case errors.Is(err, ErrEventNotActive):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "event is not active"})
	case errors.Is(err, ErrAlreadyTicketed):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "you have already attended this event"})
	case errors.Is(err, ErrInsufficientFunds):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "insufficient balance to attend this event"})
	case err != nil:
		log.Printf("❌ Ticket purchase failed for user %s, event %s: %v", userID, eventID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to buy event ticket"})
	}

	return c.JSON(fiber.Map{
		"status":      "success",
		"message":     fmt.Sprintf("User successfully attended event %s.", eventID),
		"ticket_id":   ticket.ID,
		"new_balance": newBalance,
	})
}

// FinishEventRace handles POST /events/:event_id/finish.
func (s *TicketService) FinishEventRace(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	eventID := c.Params("event_id")

	var sub RunSubmission
	if err := c.BodyParser(&sub); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if sub.TicketID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "ticket_id is required"})
	}

	_, err := s.Consume(c.Context(), eventID, userID, &sub)
	var vErr *ValidationError
	switch {
	case errors.Is(err, ErrTicketNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "event ticket not found"})
	case errors.Is(err, ErrNotTicketOwner):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "ticket does not belong to user"})
	case errors.Is(err, ErrTicketAlreadyUsed):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "event ticket has already been used"})
	case errors.Is(err, ErrEventNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "event not found"})
	case errors.As(err, &vErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": vErr.Reason})
	case err != nil:
		log.Printf("❌ Race finish failed for user %s, event %s: %v", userID, eventID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to finish event race"})
	}

	return c.JSON(fiber.Map{
		"status":   "success",
		"message":  "Event run finished successfully.",
		"event_id": eventID,
	})
}

// GetActiveTickets handles GET /events/:event_id/tickets.
func (s *TicketService) GetActiveTickets(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	eventID := c.Params("event_id")

	tickets, err := s.ActiveTickets(c.Context(), eventID, userID)
	if err != nil {
		log.Printf("❌ Failed to fetch tickets for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch tickets"})
	}

	return c.JSON(fiber.Map{
		"status":       "success",
		"message":      "Tickets retrieved successfully",
		"user_tickets": tickets,
	})
}
