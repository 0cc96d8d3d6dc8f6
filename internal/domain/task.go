package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Location is an optional source-location record carried by a task.
type Location struct {
	File   *string `json:"file,omitempty"`
	Module *string `json:"module,omitempty"`
	Line   *uint32 `json:"line,omitempty"`
	Column *uint32 `json:"column,omitempty"`
}

// Stats holds the absolute, wall-clock fields a task's lifecycle is decoded
// into. Derived totals (runtime/busy/scheduled/idle) are computed at read
// time from these fields — never stored (spec.md §3).
type Stats struct {
	CreatedAt       time.Time      `json:"created_at"`
	DroppedAt       *time.Time     `json:"dropped_at,omitempty"`
	Busy            time.Duration  `json:"busy"`
	Scheduled       time.Duration  `json:"scheduled"`
	LastPollStarted *time.Time     `json:"last_poll_started,omitempty"`
	LastPollEnded   *time.Time     `json:"last_poll_ended,omitempty"`
	LastWake        *time.Time     `json:"last_wake,omitempty"`
	Total           *time.Duration `json:"total,omitempty"`
	Idle            *time.Duration `json:"idle,omitempty"`
}

// Task is an asynchronous unit of work observed inside a target application.
type Task struct {
	AppID    uuid.UUID `json:"app_id"`
	ID       uint64    `json:"id"`
	TID      *uint64   `json:"tid,omitempty"`
	Name     *string   `json:"name,omitempty"`
	Kind     *string   `json:"kind,omitempty"`
	Location *Location `json:"location,omitempty"`
	Stats    Stats     `json:"stats"`
}

// Key returns the composite key "{app_id}.{id}" used by the tasks
// collection.
func (t *Task) Key() string {
	return TaskKey(t.AppID, t.ID)
}

// TaskKey builds the composite key for a given app id and task id without
// requiring a constructed Task.
func TaskKey(appID uuid.UUID, id uint64) string {
	return fmt.Sprintf("%s.%d", appID, id)
}

// Dropped reports whether the task has been marked dropped.
func (t *Task) Dropped() bool {
	return t.Stats.DroppedAt != nil
}

// Clone returns a deep copy of the Task safe to hand to a reader.
func (t *Task) Clone() *Task {
	cp := *t
	if t.TID != nil {
		v := *t.TID
		cp.TID = &v
	}
	if t.Name != nil {
		v := *t.Name
		cp.Name = &v
	}
	if t.Kind != nil {
		v := *t.Kind
		cp.Kind = &v
	}
	if t.Location != nil {
		loc := *t.Location
		cp.Location = &loc
	}
	cp.Stats = t.Stats.clone()
	return &cp
}

func (s Stats) clone() Stats {
	cp := s
	if s.DroppedAt != nil {
		v := *s.DroppedAt
		cp.DroppedAt = &v
	}
	if s.LastPollStarted != nil {
		v := *s.LastPollStarted
		cp.LastPollStarted = &v
	}
	if s.LastPollEnded != nil {
		v := *s.LastPollEnded
		cp.LastPollEnded = &v
	}
	if s.LastWake != nil {
		v := *s.LastWake
		cp.LastWake = &v
	}
	if s.Total != nil {
		v := *s.Total
		cp.Total = &v
	}
	if s.Idle != nil {
		v := *s.Idle
		cp.Idle = &v
	}
	return cp
}

// Derived is the read-time view of a task's timing fields, computed per
// spec.md §4.5 "Derived read-time computations".
type Derived struct {
	Runtime   time.Duration `json:"runtime"`
	Busy      time.Duration `json:"busy"`
	Scheduled time.Duration `json:"scheduled"`
	Idle      time.Duration `json:"idle"`
}

// DeriveAt computes Derived fields as of `now`.
func (t *Task) DeriveAt(now time.Time) Derived {
	s := t.Stats

	runtime := now.Sub(s.CreatedAt)
	if s.Total != nil {
		runtime = *s.Total
	}

	busy := s.Busy
	if s.LastPollStarted != nil && (s.LastPollEnded == nil || s.LastPollStarted.After(*s.LastPollEnded)) {
		busy += now.Sub(*s.LastPollStarted)
	}

	scheduled := s.Scheduled
	if s.LastWake != nil && s.LastPollStarted != nil && s.LastWake.After(*s.LastPollStarted) {
		scheduled += now.Sub(*s.LastWake)
	}

	var idle time.Duration
	if s.Idle != nil {
		idle = *s.Idle
	} else {
		idle = runtime - (busy + scheduled)
		if idle < 0 {
			idle = 0
		}
	}

	return Derived{Runtime: runtime, Busy: busy, Scheduled: scheduled, Idle: idle}
}
