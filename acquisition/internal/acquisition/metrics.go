package acquisition

import (
	"sync"
	"time"
)

const (
	fpsHistoryLen     = 60
	latencyHistoryLen = 300
)

// metrics holds the bounded sample histories the frame handler appends to
// and the derived figures the monitor recomputes each second. Guarded by
// its own mutex, distinct from the service and frame-buffer locks.
type metrics struct {
	mu sync.Mutex

	lastArrival time.Time
	interFrame  []time.Duration // most recent fpsHistoryLen inter-frame gaps
	latency     []time.Duration // most recent latencyHistoryLen capture-to-handler latencies

	uptimeSeconds float64
	averageFPS    float64
	currentFPS    float64
	avgLatencyMS  float64
	maxLatencyMS  float64
	cpuPercent    float64
	rssMB         float64
}

// recordArrival appends one frame's inter-arrival gap and capture latency.
// Called on the vendor thread; both appends are bounded: a full history
// shifts its fixed-length slice by one.
func (m *metrics) recordArrival(now time.Time, captureNS int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastArrival.IsZero() {
		gap := now.Sub(m.lastArrival)
		if len(m.interFrame) == fpsHistoryLen {
			copy(m.interFrame, m.interFrame[1:])
			m.interFrame[fpsHistoryLen-1] = gap
		} else {
			m.interFrame = append(m.interFrame, gap)
		}
	}
	m.lastArrival = now

	lat := now.Sub(time.Unix(0, captureNS))
	if lat < 0 {
		lat = 0
	}
	if len(m.latency) == latencyHistoryLen {
		copy(m.latency, m.latency[1:])
		m.latency[latencyHistoryLen-1] = lat
	} else {
		m.latency = append(m.latency, lat)
	}
}

// recompute derives the published figures. Called by the monitor once per
// second.
func (m *metrics) recompute(uptime time.Duration, totalFrames uint64, cpuPercent, rssMB float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.uptimeSeconds = uptime.Seconds()
	if m.uptimeSeconds > 0 {
		m.averageFPS = float64(totalFrames) / m.uptimeSeconds
	}

	if len(m.interFrame) > 0 {
		var sum time.Duration
		for _, d := range m.interFrame {
			sum += d
		}
		mean := sum / time.Duration(len(m.interFrame))
		if mean > 0 {
			m.currentFPS = float64(time.Second) / float64(mean)
		}
	} else {
		m.currentFPS = 0
	}

	if len(m.latency) > 0 {
		var sum, peak time.Duration
		for _, d := range m.latency {
			sum += d
			if d > peak {
				peak = d
			}
		}
		m.avgLatencyMS = float64(sum/time.Duration(len(m.latency))) / float64(time.Millisecond)
		m.maxLatencyMS = float64(peak) / float64(time.Millisecond)
	}

	m.cpuPercent = cpuPercent
	m.rssMB = rssMB
}

// snapshot returns the derived figures under the lock.
func (m *metrics) snapshot() (uptime, avgFPS, curFPS, avgLatMS, maxLatMS, cpu, rss float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uptimeSeconds, m.averageFPS, m.currentFPS, m.avgLatencyMS, m.maxLatencyMS, m.cpuPercent, m.rssMB
}

// reset clears the histories for a fresh session.
func (m *metrics) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastArrival = time.Time{}
	m.interFrame = m.interFrame[:0]
	m.latency = m.latency[:0]
	m.uptimeSeconds, m.averageFPS, m.currentFPS = 0, 0, 0
	m.avgLatencyMS, m.maxLatencyMS, m.cpuPercent, m.rssMB = 0, 0, 0, 0
}
