package slots

import (
	"context"
	"fmt"
	"sort"

	"github.com/high-cuisine/vetclinic-bot/internal/crm"
	"github.com/high-cuisine/vetclinic-bot/pkg/logging"
)

// Working hours for the hourly offer grid.
const (
	gridStartHour = 9
	gridEndHour   = 18
)

// Slot is one bookable window, indexed for numeric selection.
type Slot struct {
	Index int
	Date  string // "YYYY-MM-DD"
	Time  string // "HH:MM"
}

// Source provides schedule data, normally the CRM API.
type Source interface {
	AvailableDates(ctx context.Context, daysAhead, clinicID int) ([]crm.DateAvailability, error)
	OccupiedTimeSlots(ctx context.Context, date string, clinicID int) ([]string, error)
	DoctorAdmissionTimes(ctx context.Context, doctorID, clinicID int) ([]string, error)
}

// Resolver finds free appointment windows over the booking horizon.
type Resolver struct {
	src        Source
	clinicID   int
	windowDays int
	logger     *logging.Logger
}

// New creates a Resolver for the given clinic and search window.
func New(src Source, clinicID, windowDays int, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{src: src, clinicID: clinicID, windowDays: windowDays, logger: logger}
}

// DurationFor maps a visit type to its admission length in minutes.
func DurationFor(visitType string) int {
	switch visitType {
	case "primary", "other":
		return 60
	case "analyses":
		return 15
	default:
		return 30
	}
}

// TypeIDFor maps a visit type to its CRM admission type id.
func TypeIDFor(visitType string) int {
	switch visitType {
	case "secondary":
		return crm.TypeSecondary
	case "vaccination":
		return crm.TypeVaccine
	case "ultrasound":
		return crm.TypeUltrasound
	case "analyses":
		return crm.TypeAnalyses
	case "xray":
		return crm.TypeXRay
	default:
		return crm.TypePrimary
	}
}

func hourlyGrid() []string {
	grid := make([]string, 0, gridEndHour-gridStartHour)
	for h := gridStartHour; h < gridEndHour; h++ {
		grid = append(grid, fmt.Sprintf("%02d:00", h))
	}
	return grid
}

func freeTimes(occupied []string) []string {
	taken := make(map[string]bool, len(occupied))
	for _, t := range occupied {
		taken[t] = true
	}
	out := make([]string, 0, gridEndHour-gridStartHour)
	for _, t := range hourlyGrid() {
		if !taken[t] {
			out = append(out, t)
		}
	}
	return out
}

// NearestSlots returns up to limit free windows, earliest date and time
// first, indexed from 1.
func (r *Resolver) NearestSlots(ctx context.Context, limit int) ([]Slot, error) {
	dates, err := r.src.AvailableDates(ctx, r.windowDays, r.clinicID)
	if err != nil {
		return nil, fmt.Errorf("slots: load available dates: %w", err)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Date < dates[j].Date })

	out := make([]Slot, 0, limit)
	for _, d := range dates {
		for _, t := range freeTimes(d.OccupiedSlots) {
			out = append(out, Slot{Index: len(out) + 1, Date: d.Date, Time: t})
			if len(out) == limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// AvailableDates lists dates in the window that still have a free window.
func (r *Resolver) AvailableDates(ctx context.Context) ([]string, error) {
	dates, err := r.src.AvailableDates(ctx, r.windowDays, r.clinicID)
	if err != nil {
		return nil, fmt.Errorf("slots: load available dates: %w", err)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Date < dates[j].Date })

	out := make([]string, 0, len(dates))
	for _, d := range dates {
		if len(freeTimes(d.OccupiedSlots)) > 0 {
			out = append(out, d.Date)
		}
	}
	return out, nil
}

// AvailableTimes lists free windows on one date.
func (r *Resolver) AvailableTimes(ctx context.Context, date string) ([]string, error) {
	occupied, err := r.src.OccupiedTimeSlots(ctx, date, r.clinicID)
	if err != nil {
		return nil, fmt.Errorf("slots: load occupied slots for %s: %w", date, err)
	}
	return freeTimes(occupied), nil
}

// DoctorSlots builds the free windows of one doctor over the search window,
// stepping the grid by the visit duration and excluding the doctor's own
// booked admissions.
func (r *Resolver) DoctorSlots(ctx context.Context, doctorID, durationMin int) ([]Slot, error) {
	if durationMin <= 0 {
		durationMin = 30
	}
	dates, err := r.src.AvailableDates(ctx, r.windowDays, r.clinicID)
	if err != nil {
		return nil, fmt.Errorf("slots: load available dates: %w", err)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Date < dates[j].Date })

	booked, err := r.src.DoctorAdmissionTimes(ctx, doctorID, r.clinicID)
	if err != nil {
		r.logger.Warn("doctor schedule unavailable, offering full grid", "doctor_id", doctorID, "error", err)
		booked = nil
	}
	taken := make(map[string]bool, len(booked))
	for _, stamp := range booked {
		if len(stamp) >= 16 {
			taken[stamp[:16]] = true
		}
	}

	out := make([]Slot, 0, 16)
	for _, d := range dates {
		for minutes := gridStartHour * 60; minutes+durationMin <= gridEndHour*60; minutes += durationMin {
			t := fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
			if taken[d.Date+" "+t] {
				continue
			}
			out = append(out, Slot{Index: len(out) + 1, Date: d.Date, Time: t})
		}
	}
	return out, nil
}
