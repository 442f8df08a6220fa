package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atticusjxn/FlynnAIapp-sub006/internal/schedule"
	"github.com/atticusjxn/FlynnAIapp-sub006/pkg/logging"
)

var ErrNoHours = errors.New("availability: user has no business hours configured")

// Event is a synced calendar entry that blocks availability.
type Event struct {
	ID    string
	Title string
	Start time.Time
	End   time.Time
}

// Slot is a proposed appointment interval, half-open [Start, End).
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Check is the outcome of a specific-time availability test. When the time
// is taken, ConflictTitle names the first clashing event so the caller can
// be told what conflicts.
type Check struct {
	Available     bool   `json:"available"`
	ConflictTitle string `json:"conflict_title,omitempty"`
}

// HoursSource resolves a user's weekly business hours.
type HoursSource interface {
	WeeklyHours(ctx context.Context, userID string) (*schedule.Weekly, error)
}

// EventSource lists a user's calendar events intersecting [from, to).
type EventSource interface {
	EventsBetween(ctx context.Context, userID string, from, to time.Time) ([]Event, error)
}

// Calculator finds open appointment slots around business hours and synced
// calendar events.
type Calculator struct {
	hours  HoursSource
	events EventSource
	logger *logging.Logger
	now    func() time.Time
}

func NewCalculator(hours HoursSource, events EventSource, logger *logging.Logger) *Calculator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Calculator{
		hours:  hours,
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

// NextAvailableSlot returns the first free slot of the given length strictly
// after now, scanning up to searchDays ahead. Nil with a nil error means the
// whole search horizon is booked solid.
func (c *Calculator) NextAvailableSlot(ctx context.Context, userID string, durationMinutes, searchDays int) (*Slot, error) {
	if durationMinutes <= 0 {
		return nil, fmt.Errorf("availability: duration must be positive, got %d", durationMinutes)
	}
	if searchDays <= 0 {
		searchDays = 14
	}

	weekly, err := c.hours.WeeklyHours(ctx, userID)
	if err != nil {
		return nil, err
	}
	if weekly == nil {
		return nil, ErrNoHours
	}
	loc, err := weekly.Location()
	if err != nil {
		return nil, err
	}

	now := c.now().In(loc)
	duration := time.Duration(durationMinutes) * time.Minute

	for d := 0; d < searchDays; d++ {
		day := now.AddDate(0, 0, d)
		windows, err := weekly.WindowsOn(day)
		if err != nil {
			return nil, err
		}
		if len(windows) == 0 {
			continue
		}

		dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
		events, err := c.events.EventsBetween(ctx, userID, dayStart, dayStart.AddDate(0, 0, 1))
		if err != nil {
			return nil, fmt.Errorf("availability: load events: %w", err)
		}

		for _, window := range windows {
			for start := window.Start; !start.Add(duration).After(window.End); start = start.Add(duration) {
				if !start.After(now) {
					continue
				}
				if conflict := firstConflict(start, start.Add(duration), events); conflict == nil {
					return &Slot{Start: start, End: start.Add(duration)}, nil
				}
			}
		}
	}

	c.logger.Debug("no slot found in search horizon",
		"user_id", userID, "duration_minutes", durationMinutes, "search_days", searchDays)
	return nil, nil
}

// CheckSpecificTime tests a single proposed interval. Unlike the slot scan,
// it does not require the time to fall inside business hours; it only
// reports calendar conflicts, naming the first one.
func (c *Calculator) CheckSpecificTime(ctx context.Context, userID string, start time.Time, durationMinutes int) (*Check, error) {
	if durationMinutes <= 0 {
		return nil, fmt.Errorf("availability: duration must be positive, got %d", durationMinutes)
	}
	end := start.Add(time.Duration(durationMinutes) * time.Minute)

	events, err := c.events.EventsBetween(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("availability: load events: %w", err)
	}
	if conflict := firstConflict(start, end, events); conflict != nil {
		return &Check{Available: false, ConflictTitle: conflict.Title}, nil
	}
	return &Check{Available: true}, nil
}

// firstConflict returns the first event whose half-open interval overlaps
// [start, end). Abutting boundaries do not overlap: a slot ending exactly
// when an event starts is free.
func firstConflict(start, end time.Time, events []Event) *Event {
	for i := range events {
		e := &events[i]
		if start.Before(e.End) && e.Start.Before(end) {
			return e
		}
	}
	return nil
}
