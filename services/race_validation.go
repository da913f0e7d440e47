package services

import (
	"github.com/shopspring/decimal"

	"territory-run-system/models"
)

// Plausibility constants for submitted run telemetry.
var (
	averageStepsPerKm = decimal.NewFromInt(1400)
	distanceTolerance = decimal.RequireFromString("0.10")
	stepsTolerance    = decimal.RequireFromString("0.25")
	secondsPerMinute  = decimal.NewFromInt(60)
)

// ValidationError rejects a submitted run. It carries the specific reason and
// implies that no state was changed.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "run validation failed: " + e.Reason
}

// CheckpointSubmission is the runner's replay of the declared course.
type CheckpointSubmission struct {
	Address string          `json:"address"`
	Lat     decimal.Decimal `json:"lat"`
	Lng     decimal.Decimal `json:"lng"`
	IsStart bool            `json:"is_start"`
	IsEnd   bool            `json:"is_end"`
}

// RunSubmission is the telemetry a runner submits when finishing a race.
type RunSubmission struct {
	TicketID          string                 `json:"ticket_id"`
	KmLong            decimal.Decimal        `json:"km_long"`
	NumberOfSteps     decimal.Decimal        `json:"number_of_steps"`
	DurationInSeconds decimal.Decimal        `json:"duration_in_seconds"`
	Checkpoints       []CheckpointSubmission `json:"checkpoints"`
}

// Pace derives minutes-per-km from the submitted duration and distance.
// Lower is better; it is the ranking key for settlement.
func (r *RunSubmission) Pace() decimal.Decimal {
	return r.DurationInSeconds.Div(r.KmLong).Div(secondsPerMinute)
}

// ValidateRun checks submitted telemetry against the declared event
// parameters. All checks must pass before a run may be recorded; the first
// failure is returned as a *ValidationError and nothing is persisted.
func ValidateRun(event *models.Event, sub *RunSubmission) error {
	if !checkEventDistance(event.KmLong, sub.KmLong) {
		return &ValidationError{Reason: "provided km_long does not match event km_long"}
	}
	if !checkNumberOfSteps(event.KmLong, sub.NumberOfSteps) {
		return &ValidationError{Reason: "provided number_of_steps is not reasonable for the event distance"}
	}
	if !checkCheckpoints(event.Checkpoints, sub.Checkpoints) {
		return &ValidationError{Reason: "provided checkpoints do not match event checkpoints"}
	}
	if sub.DurationInSeconds.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Reason: "duration_in_seconds must be positive"}
	}
	return nil
}

// checkEventDistance accepts distances within ±10% of the declared course.
func checkEventDistance(eventKm, km decimal.Decimal) bool {
	if eventKm.LessThanOrEqual(decimal.Zero) {
		return false
	}
	tolerance := eventKm.Mul(distanceTolerance)
	return km.GreaterThanOrEqual(eventKm.Sub(tolerance)) &&
		km.LessThanOrEqual(eventKm.Add(tolerance))
}

// checkNumberOfSteps accepts step counts within ±25% of the expected total
// for the declared distance.
func checkNumberOfSteps(eventKm, steps decimal.Decimal) bool {
	if eventKm.LessThanOrEqual(decimal.Zero) {
		return false
	}
	expected := eventKm.Mul(averageStepsPerKm)
	tolerance := expected.Mul(stepsTolerance)
	return steps.GreaterThanOrEqual(expected.Sub(tolerance)) &&
		steps.LessThanOrEqual(expected.Add(tolerance))
}

// checkCheckpoints requires an exact pairwise replay of the declared course:
// same length and, in order, identical address, coordinates and start/end
// flags. This is a route-adherence proof, not a tolerance check.
func checkCheckpoints(declared []models.EventCheckpoint, submitted []CheckpointSubmission) bool {
	if len(declared) != len(submitted) {
		return false
	}
	for i := range declared {
		d, s := &declared[i], &submitted[i]
		if d.Address != s.Address ||
			!d.Lat.Equal(s.Lat) ||
			!d.Lng.Equal(s.Lng) ||
			d.IsStart != s.IsStart ||
			d.IsEnd != s.IsEnd {
			return false
		}
	}
	return true
}
