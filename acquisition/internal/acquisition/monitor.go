//go:build linux

package acquisition

import (
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

// monitorRealtimePriority is the round-robin priority the monitor thread
// requests when realtime scheduling is enabled. SCHED_RR priorities span
// 1..99; this sits deliberately above normal workloads and below
// hard-realtime capture threads the vendor may run.
const monitorRealtimePriority = 70

// monitorLoop samples metrics once per second until stopCh closes. It runs
// pinned to an OS thread so the affinity and scheduler settings below apply
// to it alone.
func (s *Service) monitorLoop(stopCh chan struct{}) {
	defer s.monitorWG.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	s.applyThreadTuning()

	var lastCPU time.Duration
	lastWall := time.Now()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		now := time.Now()
		cpu := processCPUTime()
		wall := now.Sub(lastWall)

		var cpuPercent float64
		if wall > 0 && lastCPU > 0 {
			cpuPercent = 100 * float64(cpu-lastCPU) / float64(wall)
			if cpuPercent < 0 {
				cpuPercent = 0
			}
		}
		lastCPU = cpu
		lastWall = now

		s.metrics.recompute(now.Sub(s.startTime), s.frameCount.Load(), cpuPercent, processRSSMB())

		if s.cfg.EnableLogging && now.Sub(s.lastLogTime) >= s.logInterval() {
			s.lastLogTime = now
			up, avgFPS, curFPS, avgLat, maxLat, cpuPct, rss := s.metrics.snapshot()
			s.log.Info("acquisition status",
				"uptime_s", int64(up),
				"frames", s.frameCount.Load(),
				"avg_fps", round2(avgFPS),
				"current_fps", round2(curFPS),
				"avg_latency_ms", round2(avgLat),
				"max_latency_ms", round2(maxLat),
				"cpu_pct", round2(cpuPct),
				"rss_mb", round2(rss),
				"write_errors", s.writeErrors.Load(),
				"buffer_full", s.bufferFullEvents.Load(),
			)
		}
	}
}

func (s *Service) logInterval() time.Duration {
	if s.cfg.LogInterval > 0 {
		return s.cfg.LogInterval
	}
	return 1 * time.Second
}

// applyThreadTuning pins the calling OS thread to the configured CPU and
// raises it to SCHED_RR when requested. Failures are logged and otherwise
// ignored: tuning is an optimization, never a correctness requirement.
func (s *Service) applyThreadTuning() {
	if s.cfg.ThreadAffinity >= 0 {
		var set unix.CPUSet
		set.Zero()
		set.Set(s.cfg.ThreadAffinity)
		if err := unix.SchedSetaffinity(0, &set); err != nil {
			s.log.Warn("setting monitor thread affinity failed",
				"cpu", s.cfg.ThreadAffinity, "error", err)
		}
	}

	if s.cfg.RealtimePriority {
		attr := unix.SchedAttr{
			Size:     unix.SizeofSchedAttr,
			Policy:   unix.SCHED_RR,
			Priority: monitorRealtimePriority,
		}
		if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
			s.log.Warn("requesting realtime scheduling failed", "error", err)
		}
	}
}

// processCPUTime returns the process's combined user+system CPU time.
func processCPUTime() time.Duration {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	return time.Duration(ru.Utime.Nano() + ru.Stime.Nano())
}

// processRSSMB returns the process's peak resident set in MiB.
func processRSSMB() float64 {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	// ru_maxrss is in KiB on Linux.
	return float64(ru.Maxrss) / 1024
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
