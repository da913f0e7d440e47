package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"territory-run-system/models"
	"territory-run-system/utils"
)

// eventListRadiusKm bounds the geo filter when listing events near a point.
const eventListRadiusKm = 100.0

// lowerCaser folds search terms and stored name/city copies the same way, so
// non-ASCII event names still match.
var lowerCaser = cases.Lower(language.Und)

type EventService struct {
	DB *gorm.DB
}

func NewEventService(db *gorm.DB) *EventService {
	return &EventService{DB: db}
}

// CreateEvent handles POST /events.
func (s *EventService) CreateEvent(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var req struct {
		Name        string                 `json:"name"`
		City        string                 `json:"city"`
		KmLong      decimal.Decimal        `json:"km_long"`
		EntryFee    decimal.Decimal        `json:"entry_fee"`
		Date        string                 `json:"date"`      // YYYY-MM-DD
		StartTime   string                 `json:"startTime"` // HH:MM
		Checkpoints []CheckpointSubmission `json:"checkpoints"`
		Trace       json.RawMessage        `json:"trace"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.Name == "" || req.Date == "" || req.StartTime == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name, date and startTime are required"})
	}
	if req.KmLong.LessThanOrEqual(decimal.Zero) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "km_long must be positive"})
	}
	if req.EntryFee.IsNegative() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "entry_fee must be non-negative"})
	}

	startTime, err := time.Parse("2006-01-02 15:04", req.Date+" "+req.StartTime)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid date/startTime (use YYYY-MM-DD and HH:MM)"})
	}
	startTime = startTime.UTC()
	endTime := startTime.Add(24 * time.Hour)

	event := models.Event{
		ID:        uuid.NewString(),
		Name:      req.Name,
		NameLower: lowerCaser.String(req.Name),
		Slug:      slug.Make(req.Name),
		City:      req.City,
		CityLower: lowerCaser.String(req.City),
		KmLong:    req.KmLong,
		EntryFee:  req.EntryFee,
		StartTime: startTime,
		EndTime:   endTime,
		CreatorID: userID,
	}
	if len(req.Trace) > 0 {
		event.Trace = datatypes.JSON(req.Trace)
	}

	checkpoints := make([]models.EventCheckpoint, len(req.Checkpoints))
	for i, cp := range req.Checkpoints {
		checkpoints[i] = models.EventCheckpoint{
			ID:        uuid.NewString(),
			EventID:   event.ID,
			SortOrder: i,
			Address:   cp.Address,
			Lat:       cp.Lat,
			Lng:       cp.Lng,
			IsStart:   cp.IsStart,
			IsEnd:     cp.IsEnd,
		}
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Checkpoints", "Runs").Create(&event).Error; err != nil {
			return err
		}
		for i := range checkpoints {
			if err := tx.Create(&checkpoints[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("❌ Failed to create event %q: %v", req.Name, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB insert failed"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status":   "success",
		"message":  fmt.Sprintf("Event '%s' created successfully.", event.Name),
		"event_id": event.ID,
	})
}

// SearchEvents matches the folded search term against event name or city.
func (s *EventService) SearchEvents(ctx context.Context, search string, limit, offset int) ([]models.Event, error) {
	term := "%" + lowerCaser.String(search) + "%"
	var events []models.Event
	err := s.DB.WithContext(ctx).
		Where("name_lower LIKE ? OR city_lower LIKE ?", term, term).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search events: %w", err)
	}
	return events, nil
}

// EventsWithinBounds lists events with any declared checkpoint inside the box
// around the center point. Filtered scan; fine at moderate volumes.
func (s *EventService) EventsWithinBounds(ctx context.Context, lat, lng float64, limit int) ([]models.Event, error) {
	box := utils.BoundsAround(lat, lng, eventListRadiusKm)

	var events []models.Event
	err := s.DB.WithContext(ctx).
		Where("id IN (?)", s.DB.Model(&models.EventCheckpoint{}).
			Select("event_id").
			Where("lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?",
				box.MinLat, box.MaxLat, box.MinLng, box.MaxLng)).
		Order("start_time ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events within bounds: %w", err)
	}
	return events, nil
}

// ListEvents handles GET /events?search=&lat=&lng=&limit=&offset=.
func (s *EventService) ListEvents(c *fiber.Ctx) error {
	limit, err := strconv.Atoi(c.Query("limit", "30"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 30
	}
	offset, err := strconv.Atoi(c.Query("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	var events []models.Event
	search := c.Query("search")
	latStr, lngStr := c.Query("lat"), c.Query("lng")

	switch {
	case search != "":
		events, err = s.SearchEvents(c.Context(), search, limit, offset)
	case latStr != "" && lngStr != "":
		lat, errLat := strconv.ParseFloat(latStr, 64)
		lng, errLng := strconv.ParseFloat(lngStr, 64)
		if errLat != nil || errLng != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid lat/lng values"})
		}
		events, err = s.EventsWithinBounds(c.Context(), lat, lng, limit)
	default:
		err = s.DB.WithContext(c.Context()).
			Order("created_at DESC").
			Limit(limit).Offset(offset).
			Find(&events).Error
	}
	if err != nil {
		log.Printf("❌ Failed to list events: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch events"})
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Events fetched successfully.",
		"pagination": fiber.Map{
			"limit":  limit,
			"offset": offset,
			"total":  len(events),
		},
		"events": events,
	})
}

// GetEvent handles GET /events/:id.
func (s *EventService) GetEvent(c *fiber.Ctx) error {
	id := c.Params("id")

	var event models.Event
	err := s.DB.WithContext(c.Context()).
		Preload("Checkpoints", func(db *gorm.DB) *gorm.DB {
			return db.Order("\"sort_order\" ASC")
		}).
		Preload("Runs", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		First(&event, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "event not found"})
		}
		log.Printf("❌ Failed to fetch event %s: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	return c.JSON(event)
}

// UpdateEvent handles PUT /events/:id. Full replacement by the creator: the
// event fields and the declared checkpoint sequence are rewritten together,
// so a half-edited course is never observable.
func (s *EventService) UpdateEvent(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	id := c.Params("id")

	var req struct {
		Name        string                 `json:"name"`
		City        string                 `json:"city"`
		KmLong      decimal.Decimal        `json:"km_long"`
		EntryFee    decimal.Decimal        `json:"entry_fee"`
		Date        string                 `json:"date"`      // YYYY-MM-DD
		StartTime   string                 `json:"startTime"` // HH:MM
		Checkpoints []CheckpointSubmission `json:"checkpoints"`
		Trace       json.RawMessage        `json:"trace"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.Name == "" || req.Date == "" || req.StartTime == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name, date and startTime are required"})
	}
	if req.KmLong.LessThanOrEqual(decimal.Zero) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "km_long must be positive"})
	}
	if req.EntryFee.IsNegative() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "entry_fee must be non-negative"})
	}

	startTime, err := time.Parse("2006-01-02 15:04", req.Date+" "+req.StartTime)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid date/startTime (use YYYY-MM-DD and HH:MM)"})
	}
	startTime = startTime.UTC()

	var event models.Event
	if err := s.DB.First(&event, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "event not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	if event.CreatorID != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "only the event creator can edit it"})
	}

	checkpoints := make([]models.EventCheckpoint, len(req.Checkpoints))
	for i, cp := range req.Checkpoints {
		checkpoints[i] = models.EventCheckpoint{
			ID:        uuid.NewString(),
			EventID:   event.ID,
			SortOrder: i,
			Address:   cp.Address,
			Lat:       cp.Lat,
			Lng:       cp.Lng,
			IsStart:   cp.IsStart,
			IsEnd:     cp.IsEnd,
		}
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"name":       req.Name,
			"name_lower": lowerCaser.String(req.Name),
			"slug":       slug.Make(req.Name),
			"city":       req.City,
			"city_lower": lowerCaser.String(req.City),
			"km_long":    req.KmLong,
			"entry_fee":  req.EntryFee,
			"start_time": startTime,
			"end_time":   startTime.Add(24 * time.Hour),
		}
		if len(req.Trace) > 0 {
			updates["trace"] = datatypes.JSON(req.Trace)
		}
		if err := tx.Model(&models.Event{}).Where("id = ?", event.ID).Updates(updates).Error; err != nil {
			return err
		}

		if err := tx.Where("event_id = ?", event.ID).Delete(&models.EventCheckpoint{}).Error; err != nil {
			return err
		}
		for i := range checkpoints {
			if err := tx.Create(&checkpoints[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("❌ Failed to update event %s: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB update failed"})
	}

	return c.JSON(fiber.Map{
		"status":   "success",
		"message":  fmt.Sprintf("Event '%s' updated successfully.", req.Name),
		"event_id": event.ID,
	})
}

// DeleteEvent handles DELETE /events/:id. Soft delete: the tombstone hides
// the event from listings and ticket sales but keeps settled history around.
func (s *EventService) DeleteEvent(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	id := c.Params("id")

	var event models.Event
	if err := s.DB.First(&event, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "event not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	if event.CreatorID != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "only the event creator can delete it"})
	}

	if err := s.DB.Delete(&event).Error; err != nil {
		log.Printf("❌ Failed to delete event %s: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "delete failed"})
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Event deleted successfully.",
	})
}
