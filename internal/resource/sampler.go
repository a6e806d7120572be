// Package resource implements the per-worker RSS/CPU sampler: an
// additive observability layer whose only effect on a Worker Handle's
// state is Target.Kill, called when a Policy with Enforce set is
// exceeded. Grounded in
// internal/cluster/manager.go's monitorLoop and internal/sys/sys.go's
// gopsutil usage from the teacher repository, trimmed to exactly the
// two metrics a worker resource policy needs.
package resource

import (
	"context"
	"log"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"picomasterd/internal/cgroup"
	"picomasterd/internal/wire"
)

// Policy bounds a single worker's resource use. A zero value in either
// field disables that check, matching the teacher's EnforceHardLimits
// gate (here: a limit of 0 means "unbounded"). Policy is per-Target,
// not per-Sampler, since each worker's limits come from its own
// service's config entry.
type Policy struct {
	MaxRSSBytes uint64
	MaxCPUPct   float64
	// Enforce, when true, kills a worker over its limit instead of
	// only logging a warning.
	Enforce bool
}

// Target is one worker the sampler watches: its live PID (0 when the
// worker currently has no child), where to deliver samples/kills, and
// the cgroup (if any) enforcing its hard limits at the kernel level.
type Target struct {
	PID     func() int
	Observe func(wire.ResourceSample)
	Kill    func()
	Label   string
	Policy  Policy
	// Cgroup, when non-nil, is the cgroup v2 group backing this
	// worker's memory.max/cpu.max limits; the sampler keeps the live
	// PID enrolled in it every tick so a restarted worker is covered
	// without needing a spawn-time hook into internal/worker.
	Cgroup *cgroup.Group
}

// Sampler periodically samples a set of Targets, each against its own
// Policy.
type Sampler struct {
	interval time.Duration
	logger   *log.Logger
	targets  []Target
}

func New(interval time.Duration, logger *log.Logger, targets []Target) *Sampler {
	return &Sampler{interval: interval, logger: logger, targets: targets}
}

// Run samples every Target on interval until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sampleOnce()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sampler) sampleOnce() {
	for _, t := range s.targets {
		pid := t.PID()
		if pid == 0 {
			continue
		}
		if t.Cgroup != nil {
			if err := t.Cgroup.AddProcess(pid); err != nil {
				s.logger.Printf("resource: %s: cgroup enrollment: %v", t.Label, err)
			}
		}
		proc, err := process.NewProcess(int32(pid))
		if err != nil {
			continue
		}
		memInfo, err := proc.MemoryInfo()
		if err != nil || memInfo == nil {
			continue
		}
		cpuPct, _ := proc.CPUPercent()
		sample := wire.ResourceSample{RSSBytes: memInfo.RSS, CPUPercent: cpuPct, SampledAt: time.Now()}
		t.Observe(sample)
		s.enforce(t, sample)
	}
}

func (s *Sampler) enforce(t Target, sample wire.ResourceSample) {
	overMem := t.Policy.MaxRSSBytes > 0 && sample.RSSBytes > t.Policy.MaxRSSBytes
	overCPU := t.Policy.MaxCPUPct > 0 && sample.CPUPercent > t.Policy.MaxCPUPct
	if !overMem && !overCPU {
		return
	}
	if t.Policy.Enforce {
		s.logger.Printf("resource: %s exceeded limits (rss=%d cpu=%.1f), killing", t.Label, sample.RSSBytes, sample.CPUPercent)
		t.Kill()
		return
	}
	s.logger.Printf("resource: %s over soft limit (rss=%d cpu=%.1f)", t.Label, sample.RSSBytes, sample.CPUPercent)
}
