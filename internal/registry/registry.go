// Package registry owns the in-memory schedule collection.
//
// Every operation, including the per-minute due resolution, runs under one
// mutex and persists the whole collection through the store before returning.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"meshmate/internal/schedule"
	"meshmate/internal/storage"
	logx "meshmate/pkg/logx"
)

// DefaultMaxPerUser is the lifetime creation cap per owner.
const DefaultMaxPerUser = 5

// Observer receives registry events for metrics. Methods must not block.
type Observer interface {
	StoreFailure(op string)
	ActiveSchedules(n int)
}

type nopObserver struct{}

func (nopObserver) StoreFailure(string) {}
func (nopObserver) ActiveSchedules(int) {}

type Options struct {
	MaxPerUser int
	Log        logx.Logger
	Observer   Observer
	// Now stamps CreatedAt. Defaults to time.Now.
	Now func() time.Time
}

type Registry struct {
	mu sync.Mutex

	store storage.Store
	log   logx.Logger
	obs   Observer
	now   func() time.Time

	maxPerUser int
	byOwner    storage.Snapshot

	persistErr error
}

// Result is the outcome of a successful Add.
type Result struct {
	Schedule *schedule.Schedule
	Message  string
}

type Stats struct {
	Users           int `json:"users"`
	ActiveSchedules int `json:"active_schedules"`
	MaxPerUser      int `json:"max_per_user"`
}

// New loads the collection from store. A load failure is logged and the
// registry starts empty.
func New(ctx context.Context, store storage.Store, opts Options) *Registry {
	r := &Registry{
		store:      store,
		log:        opts.Log,
		obs:        opts.Observer,
		now:        opts.Now,
		maxPerUser: opts.MaxPerUser,
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	r.log = r.log.With(logx.String("comp", "registry"))
	if r.obs == nil {
		r.obs = nopObserver{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.maxPerUser <= 0 {
		r.maxPerUser = DefaultMaxPerUser
	}

	snap, err := store.Load(ctx)
	if err != nil {
		r.log.Error("load schedules failed, starting empty", logx.Err(err))
		r.obs.StoreFailure("load")
		r.persistErr = err
	}
	if snap == nil {
		snap = storage.Snapshot{}
	}
	r.byOwner = snap

	st := r.statsLocked()
	r.obs.ActiveSchedules(st.ActiveSchedules)
	r.log.Info("schedules loaded", logx.Int("users", st.Users), logx.Int("active", st.ActiveSchedules))
	return r
}

// SetMaxPerUser changes the quota for subsequent Add calls.
func (r *Registry) SetMaxPerUser(n int) {
	if n <= 0 {
		n = DefaultMaxPerUser
	}
	r.mu.Lock()
	r.maxPerUser = n
	r.mu.Unlock()
}

// Add validates and stores a new schedule.
//
// Validation runs in order: time, weekdays, quota. The quota counts every
// schedule the owner ever created, deleted or consumed ones included.
// A failed save keeps the schedule in memory and is reported through Degraded.
func (r *Registry) Add(ctx context.Context, owner, timeText, content string, channel int, recurrenceText string) (Result, error) {
	at, err := schedule.ParseClock(timeText)
	if err != nil {
		return Result{}, err
	}
	rec, err := schedule.ParseRecurrence(recurrenceText)
	if err != nil {
		return Result{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.byOwner[owner]
	if len(list) >= r.maxPerUser {
		return Result{}, schedule.QuotaError(r.maxPerUser)
	}

	s := &schedule.Schedule{
		ID:            len(list) + 1,
		OwnerID:       owner,
		At:            at,
		Content:       schedule.ParseContent(content),
		Channel:       channel,
		CreatedAt:     r.now(),
		Recurrence:    rec,
		WeekdayNames:  rec.Names(),
		Active:        true,
		ExecutedDates: []string{},
	}
	r.byOwner[owner] = append(list, s)
	r.persistLocked(ctx, "add")

	r.log.Info("schedule added",
		logx.String("owner", owner),
		logx.Int("schedule_id", s.ID),
		logx.String("time", at.String()),
		logx.String("kind", s.Content.Kind.String()),
		logx.Int("channel", channel),
	)

	var msg string
	if rec.IsOneTime() {
		msg = fmt.Sprintf("Schedule #%d creado para %s (una vez)", s.ID, at)
	} else {
		msg = fmt.Sprintf("Schedule #%d creado para %s los %s (recurrente)", s.ID, at, s.DaysLabel())
	}
	return Result{Schedule: s.Clone(), Message: msg}, nil
}

// List returns copies of the owner's active schedules in creation order.
func (r *Registry) List(owner string) []*schedule.Schedule {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*schedule.Schedule, 0, len(r.byOwner[owner]))
	for _, s := range r.byOwner[owner] {
		if s.Active {
			out = append(out, s.Clone())
		}
	}
	return out
}

// Delete deactivates an active schedule. The record is kept so ids stay unique.
func (r *Registry) Delete(ctx context.Context, owner string, id int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.byOwner[owner]
	if len(list) == 0 {
		return "", schedule.NoSchedulesError()
	}
	for _, s := range list {
		if s.ID != id || !s.Active {
			continue
		}
		s.Active = false
		r.persistLocked(ctx, "delete")
		r.log.Info("schedule deleted", logx.String("owner", owner), logx.Int("schedule_id", id))
		return fmt.Sprintf("Schedule #%d eliminado", id), nil
	}
	return "", schedule.NotFoundError(id)
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statsLocked()
}

func (r *Registry) statsLocked() Stats {
	st := Stats{Users: len(r.byOwner), MaxPerUser: r.maxPerUser}
	for _, list := range r.byOwner {
		for _, s := range list {
			if s.Active {
				st.ActiveSchedules++
			}
		}
	}
	return st
}

// Degraded returns the last persistence error, or nil once a save succeeds again.
func (r *Registry) Degraded() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persistErr
}

func (r *Registry) persistLocked(ctx context.Context, op string) error {
	defer func() { r.obs.ActiveSchedules(r.statsLocked().ActiveSchedules) }()

	if err := r.store.Save(ctx, r.byOwner); err != nil {
		r.persistErr = err
		r.obs.StoreFailure(op)
		r.log.Error("persist schedules failed", logx.String("op", op), logx.Err(err))
		return err
	}
	r.persistErr = nil
	return nil
}

func (r *Registry) ownersLocked() []string {
	owners := make([]string, 0, len(r.byOwner))
	for o := range r.byOwner {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	return owners
}
