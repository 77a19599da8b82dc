// Package timeslot derives a task's duration and deadline from its calendar
// date and start/end times, and enforces the slot rules shared by every
// mutation path.
package timeslot

import (
	"fmt"
	"time"

	"task-planner/internal/exceptions"
	"task-planner/internal/model"
)

// MinDuration is the shortest slot a task may occupy.
const MinDuration = 15 * time.Minute

// DefaultLocation is the reference time zone for wall-clock fields.
const DefaultLocation = "Asia/Karachi"

// Slot is the wall-clock part of a task as entered by the user.
type Slot struct {
	Date  *model.Date
	Start *model.TimeOfDay
	End   *model.TimeOfDay
}

// Derived holds values computed from a Slot.
type Derived struct {
	HasSlot  bool
	Duration int // minutes
	Deadline *time.Time
}

// SlotOf extracts the slot fields from a task.
func SlotOf(t *model.Task) Slot {
	return Slot{Date: t.TaskDate, Start: t.StartTime, End: t.EndTime}
}

// Derive validates the slot and computes duration and deadline in loc.
//
// The deadline is task_date at end_time. An end time earlier than the start
// is read as an overnight slot instead: the deadline moves to end_time on the
// following day, so it never precedes the start and always lies Duration
// after it. Duration wraps past midnight the same way.
func Derive(slot Slot, loc *time.Location) (Derived, error) {
	switch {
	case slot.Start == nil && slot.End == nil:
		return Derived{}, nil
	case slot.Start == nil || slot.End == nil:
		return Derived{}, exceptions.InvalidSlot("start and end time must be set together")
	}

	minutes := minutesBetween(*slot.Start, *slot.End)
	if time.Duration(minutes)*time.Minute < MinDuration {
		return Derived{}, exceptions.InvalidSlot(fmt.Sprintf("slot must be at least %d minutes, got %d", int(MinDuration.Minutes()), minutes))
	}

	d := Derived{HasSlot: true, Duration: minutes}
	if slot.Date != nil {
		endDate := *slot.Date
		if slot.End.Before(*slot.Start) {
			endDate = endDate.AddDays(1)
		}
		deadline := endDate.At(*slot.End, loc).UTC()
		d.Deadline = &deadline
	}
	return d, nil
}

// ValidateStartsInFuture rejects a slot whose start is not strictly after now.
// Only task creation applies this rule.
func ValidateStartsInFuture(slot Slot, now time.Time, loc *time.Location) error {
	if slot.Date == nil {
		return nil
	}
	local := now.In(loc)
	today := model.DateOf(local)
	if slot.Date.Before(today) {
		return exceptions.InvalidSlot("task date cannot be in the past")
	}
	if *slot.Date == today && slot.Start != nil {
		if slot.Start.Seconds() <= model.TimeOfDayOf(local).Seconds() {
			return exceptions.InvalidSlot("start time must be in the future")
		}
	}
	return nil
}

// StartInstant returns when the task starts. Tasks without a slot fall back
// to their deadline so reminders still fire ahead of it.
func StartInstant(t *model.Task, loc *time.Location) (time.Time, bool) {
	if t.TaskDate != nil && t.StartTime != nil {
		return t.TaskDate.At(*t.StartTime, loc).UTC(), true
	}
	if t.Deadline != nil {
		return t.Deadline.UTC(), true
	}
	return time.Time{}, false
}

// ReferenceLocation loads the named zone, falling back to a fixed UTC+5
// offset when the zone database is unavailable.
func ReferenceLocation(name string) *time.Location {
	if name == "" {
		name = DefaultLocation
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("PKT", 5*60*60)
	}
	return loc
}

func minutesBetween(start, end model.TimeOfDay) int {
	diff := end.Seconds() - start.Seconds()
	if diff < 0 {
		diff += 24 * 60 * 60
	}
	return diff / 60
}
