package storage

import (
	"fmt"
	"time"

	"meshmate/internal/schedule"
)

// legacyCreatedAt is the zone-less ISO timestamp written by older deployments.
const legacyCreatedAt = "2006-01-02T15:04:05.999999999"

// record is the persisted shape of one schedule.
// Weekdays is null for one-time schedules.
type record struct {
	ID            int      `json:"id"`
	Time          string   `json:"time"`
	Content       string   `json:"content"`
	Channel       int      `json:"channel"`
	CreatedAt     string   `json:"created_at"`
	IsCommand     bool     `json:"is_command"`
	Active        bool     `json:"active"`
	Weekdays      []int    `json:"weekdays"`
	WeekdayNames  []string `json:"weekday_names"`
	IsRecurring   bool     `json:"is_recurring"`
	ExecutedDates []string `json:"executed_dates"`
}

func toRecord(s *schedule.Schedule) record {
	r := record{
		ID:            s.ID,
		Time:          s.At.String(),
		Content:       s.Content.Text,
		Channel:       s.Channel,
		IsCommand:     s.Content.IsCommand(),
		Active:        s.Active,
		Weekdays:      s.Recurrence.Days(),
		IsRecurring:   !s.Recurrence.IsOneTime(),
		WeekdayNames:  append([]string{}, s.WeekdayNames...),
		ExecutedDates: append([]string{}, s.ExecutedDates...),
	}
	if !s.CreatedAt.IsZero() {
		r.CreatedAt = s.CreatedAt.Format(time.RFC3339Nano)
	}
	return r
}

func fromRecord(owner string, r record) (*schedule.Schedule, error) {
	at, err := schedule.ParseClock(r.Time)
	if err != nil {
		return nil, fmt.Errorf("owner %s schedule #%d: bad time %q", owner, r.ID, r.Time)
	}
	created, err := parseCreatedAt(r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("owner %s schedule #%d: bad created_at %q", owner, r.ID, r.CreatedAt)
	}

	rec := schedule.OneTime()
	if r.IsRecurring {
		rec = schedule.Weekly(r.Weekdays...)
	}

	kind := schedule.KindReminder
	if r.IsCommand {
		kind = schedule.KindCommand
	}

	names := r.WeekdayNames
	if names == nil {
		names = rec.Names()
	}

	return &schedule.Schedule{
		ID:            r.ID,
		OwnerID:       owner,
		At:            at,
		Content:       schedule.Content{Kind: kind, Text: r.Content},
		Channel:       r.Channel,
		CreatedAt:     created,
		Recurrence:    rec,
		WeekdayNames:  append([]string{}, names...),
		Active:        r.Active,
		ExecutedDates: append([]string{}, r.ExecutedDates...),
	}, nil
}

func parseCreatedAt(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(legacyCreatedAt, s, time.Local)
}

func encodeSnapshot(snap Snapshot) map[string][]record {
	out := make(map[string][]record, len(snap))
	for owner, list := range snap {
		recs := make([]record, 0, len(list))
		for _, s := range list {
			if s == nil {
				continue
			}
			recs = append(recs, toRecord(s))
		}
		out[owner] = recs
	}
	return out
}

func decodeSnapshot(raw map[string][]record) (Snapshot, error) {
	out := make(Snapshot, len(raw))
	for owner, recs := range raw {
		list := make([]*schedule.Schedule, 0, len(recs))
		for _, r := range recs {
			s, err := fromRecord(owner, r)
			if err != nil {
				return Snapshot{}, err
			}
			list = append(list, s)
		}
		out[owner] = list
	}
	return out, nil
}
