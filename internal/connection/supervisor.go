// Package connection implements the Connection Supervisor: a single
// cooperative goroutine per target that owns one streaming subscription and
// drives the connect/stream/back-off/reconnect/disconnect state machine
// described in spec.md §4.3.
//
// Grounded on the teacher's overseer.Client (persistent reconnecting
// transport, serialized commands, a Run loop that owns reconnection) and on
// other_examples' arkeep agent connection.Manager (backoff-around-a-stream
// shape), adapted to the per-target, event-tagged-by-id model spec.md
// mandates instead of a single shared connection.
package connection

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/wyliodrin/async-tracing-monitor/internal/instrument"
)

// Command is a message sent into a Supervisor's command inbox.
type Command int

const (
	// Disconnect asks the Supervisor to terminate.
	Disconnect Command = iota
)

// EventKind classifies an Event emitted by a Supervisor.
type EventKind int

const (
	Connecting EventKind = iota
	Connected
	TaskUpdate
	AppUpdate
	Error
	Disconnected
)

// Sample is a CPU/memory reading surfaced via an AppUpdate event.
type Sample struct {
	CPUPercent  float64
	MemoryBytes uint64
}

// Event is a single lifecycle or data event emitted by a Supervisor, always
// tagged with the target's AppID by the Connection Manager when multiplexed
// onto the shared event channel (see internal/connmgr).
type Event struct {
	Kind   EventKind
	Update *instrument.TaskUpdate
	Sample Sample
	Err    error
}

// commandInboxCapacity matches spec.md §4.3.
const commandInboxCapacity = 100

// backoffDelay is the fixed reconnect delay mandated by spec.md §4.3. It is
// NOT exponential — "matching observed intent" per spec.md, though
// implementers MAY override it via WithBackoff.
var backoffDelay = time.Second

// Sampler samples host-OS process metrics for a PID. Supplied by the
// Orchestrator so the Supervisor never imports internal/probe directly,
// keeping the state machine testable without real process I/O.
type Sampler func(ctx context.Context, pid int32) (Sample, bool)

// Supervisor owns a single streaming subscription to one target.
type Supervisor struct {
	appID  uuid.UUID
	url    string
	pid    int32
	dialer instrument.Dialer
	sample Sampler

	events   chan<- Event
	commands chan Command

	backoff time.Duration
}

// Option configures a Supervisor at construction time.
type Option func(*Supervisor)

// WithBackoff overrides the fixed reconnect delay (spec.md §9 Open
// Question: implementers MAY parameterize back-off).
func WithBackoff(d time.Duration) Option {
	return func(s *Supervisor) { s.backoff = d }
}

// New constructs a Supervisor for appID at url, currently hosted by pid.
// events is the shared sink the owning Connection Manager tags with appID;
// the returned command channel is the capability the Application record
// retains (spec.md §9 "handle+id").
func New(appID uuid.UUID, url string, pid int32, dialer instrument.Dialer, sample Sampler, events chan<- Event, opts ...Option) (*Supervisor, chan<- Command) {
	s := &Supervisor{
		appID:    appID,
		url:      url,
		pid:      pid,
		dialer:   dialer,
		sample:   sample,
		events:   events,
		commands: make(chan Command, commandInboxCapacity),
		backoff:  backoffDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, s.commands
}

// Run drives the state machine until Disconnect is received or the command
// channel is closed (EOF), then emits Disconnected and returns.
//
// Suspension points are exactly those named in spec.md §5: awaiting the
// connect attempt, awaiting the next stream message, awaiting the next
// command, awaiting the 1Hz tick, awaiting the backoff sleep. Within
// Streaming, commands are serviced ahead of additional stream items when
// both are simultaneously ready, guaranteeing prompt shutdown.
func (s *Supervisor) Run(ctx context.Context) {
	defer s.emit(Event{Kind: Disconnected})

	// Idle -> Connecting.
	s.emit(Event{Kind: Connecting})

	for {
		stream, err := s.connectOrAbort(ctx)
		if err == errTerminated {
			return
		}
		if err != nil {
			s.emit(Event{Kind: Error, Err: err})
			if s.sleepOrAbort(ctx, s.backoff) {
				return
			}
			// Backoff -> Connecting.
			s.emit(Event{Kind: Connecting})
			continue
		}

		terminate := s.runStreaming(ctx, stream)
		stream.Close()
		if terminate {
			return
		}
		// Streaming -> Connecting on a stream error or closed stream is an
		// implicit reconnect (spec.md §4.3): no event is emitted.
	}
}

var errTerminated = errors.New("connection: terminated while connecting")

// connectOrAbort races the dial against the command inbox so a Disconnect
// received mid-connect takes effect immediately (spec.md §4.3 Connecting
// state transitions).
func (s *Supervisor) connectOrAbort(ctx context.Context) (instrument.Stream, error) {
	type result struct {
		stream instrument.Stream
		err    error
	}
	done := make(chan result, 1)
	go func() {
		stream, err := s.dialer.Dial(ctx, s.url)
		done <- result{stream, err}
	}()

	select {
	case r := <-done:
		return r.stream, r.err
	case cmd, ok := <-s.commands:
		if !ok || cmd == Disconnect {
			return nil, errTerminated
		}
		return nil, errTerminated
	}
}

// runStreaming multiplexes stream reads, commands, and the 1Hz sample tick
// while Connected. Returns true if the Supervisor should terminate.
func (s *Supervisor) runStreaming(ctx context.Context, stream instrument.Stream) bool {
	s.emit(Event{Kind: Connected})

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	updates := make(chan *instrument.Update)
	streamErrs := make(chan error, 1)
	go func() {
		for {
			u, err := stream.Recv()
			if err != nil {
				streamErrs <- err
				return
			}
			updates <- u
		}
	}()

	for {
		// Commands are checked first and with priority whenever more than
		// one case is ready, per spec.md §4.3's "commands must be serviced
		// before additional stream items when simultaneously ready".
		select {
		case cmd, ok := <-s.commands:
			if !ok || cmd == Disconnect {
				return true
			}
		default:
		}

		select {
		case cmd, ok := <-s.commands:
			if !ok || cmd == Disconnect {
				return true
			}

		case u := <-updates:
			if u.TaskUpdate != nil {
				s.emit(Event{Kind: TaskUpdate, Update: u.TaskUpdate})
			}

		case err := <-streamErrs:
			if errors.Is(err, io.EOF) {
				// stream closed — implicit reconnect per spec.md §4.3.
				return false
			}
			log.Printf("connection: stream error for %s (%s): %v", s.appID, s.url, err)
			return false

		case <-ticker.C:
			if s.sample == nil {
				continue
			}
			if sample, ok := s.sample(ctx, s.pid); ok {
				s.emit(Event{Kind: AppUpdate, Sample: sample})
			}

		case <-ctx.Done():
			return true
		}
	}
}

// sleepOrAbort sleeps for d, returning true early if a Disconnect arrives
// meanwhile (Backoff state transitions in spec.md §4.3).
func (s *Supervisor) sleepOrAbort(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case cmd, ok := <-s.commands:
		if !ok || cmd == Disconnect {
			return true
		}
		return false
	case <-ctx.Done():
		return true
	}
}

// emit sends ev on the event sink, blocking if it is full (spec.md §5:
// "the reference behavior is to block on send, preferring correctness over
// latency").
func (s *Supervisor) emit(ev Event) {
	s.events <- ev
}
