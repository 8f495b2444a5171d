package registry

import (
	"context"
	"time"

	"meshmate/internal/schedule"
	logx "meshmate/pkg/logx"
)

// Due resolves the schedules that fire in now's minute.
//
// Recurring schedules match when now's weekday is in their set and stay armed.
// One-time schedules match unless today's date is already recorded; a match
// records the date and deactivates them. Consumed one-time schedules are
// persisted before returning. A save failure is returned together with the
// due items, which remain valid to dispatch.
//
// Order: owners lexicographically, then creation order. now's location decides
// the wall clock, weekday and date.
func (r *Registry) Due(ctx context.Context, now time.Time) ([]schedule.Due, error) {
	at := schedule.ClockOf(now)
	weekday := schedule.WeekdayIndex(now)
	date := now.Format(schedule.DateLayout)

	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		out      []schedule.Due
		consumed int
	)
	for _, owner := range r.ownersLocked() {
		for _, s := range r.byOwner[owner] {
			if !s.Active || s.At != at {
				continue
			}
			if s.Recurrence.IsOneTime() {
				if s.ExecutedOn(date) {
					continue
				}
				s.ExecutedDates = append(s.ExecutedDates, date)
				s.Active = false
				consumed++
			} else if !s.Recurrence.Includes(weekday) {
				continue
			}
			out = append(out, schedule.Due{
				OwnerID:    owner,
				ScheduleID: s.ID,
				Content:    s.Content,
				Channel:    s.Channel,
				Recurring:  !s.Recurrence.IsOneTime(),
				At:         s.At,
			})
		}
	}

	if consumed == 0 {
		return out, nil
	}
	r.log.Debug("one-time schedules consumed", logx.Int("count", consumed), logx.String("date", date))
	if err := r.persistLocked(ctx, "resolve"); err != nil {
		return out, err
	}
	return out, nil
}
