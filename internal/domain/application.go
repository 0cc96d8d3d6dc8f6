// Package domain defines the Application and Task records tracked by the
// monitor, along with their state enums and composite-key helpers.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a registered Application.
type State string

const (
	// StateDisabled means no Supervisor is running and task updates for
	// this Application are dropped.
	StateDisabled State = "disabled"

	// StateEnabled means a Supervisor is live and task updates are accepted.
	StateEnabled State = "enabled"
)

// Application is a registered target process hosting an instrument
// streaming endpoint.
//
// id is immutable and unique within the registry. state=Enabled implies a
// live Supervisor exists for id; state=Disabled implies no task updates are
// accepted for id. The persisted form omits ConnectionHandle.
type Application struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	PID         int32     `json:"pid"`
	StartTime   time.Time `json:"start_time"`
	State       State     `json:"state"`
	CPUUsage    float64   `json:"cpu_usage"`
	MemoryUsage uint64    `json:"memory_usage"`

	// ConnectionHandle is a transient send-capability into the owning
	// Supervisor's command channel. Never persisted.
	ConnectionHandle ConnectionHandle `json:"-"`
}

// ConnectionHandle is the minimal capability an Application needs to signal
// its Supervisor: a command sender, kept separate from the Supervisor
// itself to avoid a cyclic ownership between Application and Supervisor
// (see spec.md §9 "Cyclic ownership").
type ConnectionHandle interface {
	// Disconnect asks the owning Supervisor to shut down. It is safe to
	// call more than once; implementations must tolerate a closed/gone
	// command channel.
	Disconnect()
}

// Clone returns a deep-enough copy of the Application for snapshot reads —
// everything except the interface-typed ConnectionHandle is a value copy.
func (a *Application) Clone() *Application {
	cp := *a
	return &cp
}
