// Package resources implements the admission guard the event loop consults
// before accepting a new client (spec §1 ADD, §4.5 ADD), adapted from the
// teacher's cgroup-derived connection-capacity calculation (cgroup.go) onto
// github.com/shirou/gopsutil/v3 so the same guard works on cgroup v1/v2
// hosts and on bare-metal/VM hosts without reading /sys/fs/cgroup by hand.
package resources

import (
	"os"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Guard gates new client accepts on available memory headroom. Buxton
// connections are cheap (a read buffer, a write queue, no replay buffer),
// so unlike the teacher's WebSocket sizing this tracks a much smaller
// per-client footprint.
type Guard struct {
	// MaxRSSBytes caps this process's resident set size; accepts are
	// rejected once RSS exceeds it. Zero disables the check.
	MaxRSSBytes uint64

	pid int32
}

// NewGuard builds a guard for the current process.
func NewGuard(maxRSSBytes uint64) *Guard {
	return &Guard{MaxRSSBytes: maxRSSBytes, pid: int32(os.Getpid())}
}

// AllowAccept reports whether the event loop should accept a new client
// right now. It never blocks: gopsutil's process/memory reads are
// synchronous but fast, consistent with spec §5's "no request may block"
// rule — this is an admission check, not a request.
func (g *Guard) AllowAccept() (bool, error) {
	if g.MaxRSSBytes == 0 {
		return true, nil
	}
	p, err := process.NewProcess(g.pid)
	if err != nil {
		return true, err // fail open: a monitoring failure must not wedge the accept loop
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return true, err
	}
	return info.RSS < g.MaxRSSBytes, nil
}

// HostMemoryPercent returns the percentage (0 to 100) of host (or
// container, via gopsutil's cgroup-aware accounting) memory currently in
// use. No metric in internal/metrics reports it.
func HostMemoryPercent() (float64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return v.UsedPercent, nil
}
