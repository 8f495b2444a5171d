// Package schedule holds the domain model of deferred actions: when they fire,
// what they deliver and on which channel.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DateLayout formats calendar dates recorded in ExecutedDates.
const DateLayout = "2006-01-02"

// Schedule is one deferred action owned by a user.
//
// Records are never removed: delete and one-time firing flip Active to false so
// ids stay stable.
type Schedule struct {
	ID        int
	OwnerID   string
	At        Clock
	Content   Content
	Channel   int
	CreatedAt time.Time

	Recurrence Recurrence
	// WeekdayNames is display-only; Recurrence is authoritative.
	WeekdayNames []string

	Active        bool
	ExecutedDates []string
}

// Clone returns a deep copy safe to hand outside the registry lock.
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Recurrence = Weekly(s.Recurrence.Days()...)
	cp.WeekdayNames = append([]string(nil), s.WeekdayNames...)
	cp.ExecutedDates = append([]string(nil), s.ExecutedDates...)
	return &cp
}

// ExecutedOn reports whether date (DateLayout) is recorded as a firing date.
func (s *Schedule) ExecutedOn(date string) bool {
	for _, d := range s.ExecutedDates {
		if d == date {
			return true
		}
	}
	return false
}

// DaysLabel is "todos los días" for every-day schedules, else the day names joined.
func (s *Schedule) DaysLabel() string {
	if s.Recurrence.IsEveryDay() {
		return "todos los días"
	}
	names := s.WeekdayNames
	if len(names) == 0 {
		names = s.Recurrence.Names()
	}
	return strings.Join(names, ", ")
}

// RecurrenceLabel is the parenthesized suffix used in listings.
func (s *Schedule) RecurrenceLabel() string {
	if s.Recurrence.IsOneTime() {
		return "(una vez)"
	}
	return "(" + s.DaysLabel() + ")"
}

// NextRun returns the next time the schedule would fire strictly after t, in t's location.
// Inactive schedules return the zero time. Display only: the resolver does not use it.
func (s *Schedule) NextRun(t time.Time) time.Time {
	if s == nil || !s.Active {
		return time.Time{}
	}
	sched, err := cron.ParseStandard(s.cronSpec())
	if err != nil {
		return time.Time{}
	}
	return sched.Next(t)
}

func (s *Schedule) cronSpec() string {
	dow := "*"
	if days := s.Recurrence.Days(); len(days) > 0 {
		parts := make([]string, 0, len(days))
		for _, d := range days {
			// cron counts from Sunday=0.
			parts = append(parts, strconv.Itoa((d+1)%7))
		}
		dow = strings.Join(parts, ",")
	}
	return fmt.Sprintf("%d %d * * %s", s.At.Minute, s.At.Hour, dow)
}

// Due is a schedule selected to fire in the current minute.
// It carries everything the executor needs, independent of the registry.
type Due struct {
	OwnerID    string
	ScheduleID int
	Content    Content
	Channel    int
	Recurring  bool
	At         Clock
}
