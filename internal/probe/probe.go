// Package probe implements the Process Probe: pure, stateless lookups of
// which OS process hosts a given URL's port, when it started, and its
// current CPU/memory usage. Every operation is total — on any failure it
// returns the zero value/false rather than an error, matching spec.md
// §4.1 ("the core treats absence as unknown this tick").
//
// Grounded on github.com/shirou/gopsutil/v4, the same module used by
// other_examples' pstrack.go sampler and by the hashicorp-nomad and
// steveyegge-beads example repos.
package probe

import (
	"context"
	"net/url"
	"time"

	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

// Sample is a single CPU/memory reading for a process.
type Sample struct {
	CPUPercent  float64
	MemoryBytes uint64
}

// PIDHosting returns the PID of the single process listening on the TCP
// port encoded in rawURL. It returns (0, false) if the URL has no port, no
// process is listening on it, or more than one candidate PID is found
// (ambiguous).
func PIDHosting(ctx context.Context, rawURL string) (int32, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Port() == "" {
		return 0, false
	}
	port, err := parsePort(u.Port())
	if err != nil {
		return 0, false
	}

	conns, err := gnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return 0, false
	}

	var found int32
	var count int
	for _, c := range conns {
		if c.Status != "LISTEN" || c.Laddr.Port != port {
			continue
		}
		if c.Pid == 0 {
			continue
		}
		if count == 0 {
			found = c.Pid
		} else if c.Pid != found {
			return 0, false // ambiguous: more than one distinct PID
		}
		count++
	}
	if count == 0 {
		return 0, false
	}
	return found, true
}

// StartTime returns the wall-clock creation time of pid, or false if the
// process cannot be inspected.
func StartTime(ctx context.Context, pid int32) (time.Time, bool) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return time.Time{}, false
	}
	ms, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// SampleProcess reads the current CPU% and resident memory of pid.
func SampleProcess(ctx context.Context, pid int32) (Sample, bool) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return Sample{}, false
	}
	cpuPct, err := p.CPUPercentWithContext(ctx)
	if err != nil {
		return Sample{}, false
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return Sample{}, false
	}
	return Sample{CPUPercent: cpuPct, MemoryBytes: mem.RSS}, true
}

func parsePort(s string) (uint32, error) {
	var port uint32
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errInvalidPort
		}
		port = port*10 + uint32(c-'0')
	}
	return port, nil
}

var errInvalidPort = portError{}

type portError struct{}

func (portError) Error() string { return "invalid port" }
