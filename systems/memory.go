package systems

import (
	"runtime"
)

// Level classifies heap usage against the configured budget.
type Level uint8

const (
	LevelSafe Level = iota
	LevelWarning
	LevelCritical
	LevelEmergency
)

func (l Level) String() string {
	switch l {
	case LevelSafe:
		return "safe"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	}
	return "unknown"
}

// Trend describes the direction of recent memory usage.
type Trend uint8

const (
	TrendStable Trend = iota
	TrendIncreasing
	TrendDecreasing
)

func (t Trend) String() string {
	switch t {
	case TrendStable:
		return "stable"
	case TrendIncreasing:
		return "increasing"
	case TrendDecreasing:
		return "decreasing"
	}
	return "unknown"
}

// MemorySample is one classified reading.
type MemorySample struct {
	Used    uint64
	Percent float64
	Level   Level
}

// MemoryMonitor samples heap usage, classifies pressure against a fixed
// budget, and invokes a cleanup callback when the level escalates past
// Safe. Policy (what to clean) belongs to the caller; the monitor only
// classifies and signals.
type MemoryMonitor struct {
	budget     uint64
	thresholds [3]float64 // warning, critical, emergency fractions

	window    []float64 // ring buffer of recent percentages
	writeIdx  int
	count     int
	lastLevel Level

	onCleanup func(Level)

	// readMemStats is swappable so tests can drive classification.
	readMemStats func(*runtime.MemStats)
}

// NewMemoryMonitor creates a monitor. budget is the heap budget in bytes;
// warning/critical/emergency are fractions of it; windowSize is the
// number of samples in the rolling trend window.
func NewMemoryMonitor(budget uint64, warning, critical, emergency float64, windowSize int) *MemoryMonitor {
	if windowSize < 2 {
		windowSize = 2
	}
	return &MemoryMonitor{
		budget:       budget,
		thresholds:   [3]float64{warning, critical, emergency},
		window:       make([]float64, windowSize),
		readMemStats: runtime.ReadMemStats,
	}
}

// OnCleanup registers the callback fired when a sample crosses into
// Warning or above from a lower level, or escalates further.
func (m *MemoryMonitor) OnCleanup(fn func(Level)) {
	m.onCleanup = fn
}

// Sample takes one reading, records it in the trend window, and fires
// the cleanup callback on escalation.
func (m *MemoryMonitor) Sample() MemorySample {
	var ms runtime.MemStats
	m.readMemStats(&ms)

	used := ms.HeapAlloc
	pct := float64(used) / float64(m.budget)
	level := m.classify(pct)

	m.window[m.writeIdx] = pct
	m.writeIdx = (m.writeIdx + 1) % len(m.window)
	if m.count < len(m.window) {
		m.count++
	}

	if level > m.lastLevel && level >= LevelWarning && m.onCleanup != nil {
		m.onCleanup(level)
	}
	m.lastLevel = level

	return MemorySample{Used: used, Percent: pct, Level: level}
}

func (m *MemoryMonitor) classify(pct float64) Level {
	switch {
	case pct >= m.thresholds[2]:
		return LevelEmergency
	case pct >= m.thresholds[1]:
		return LevelCritical
	case pct >= m.thresholds[0]:
		return LevelWarning
	}
	return LevelSafe
}

// trendEpsilon is the per-window relative change below which usage
// counts as stable.
const trendEpsilon = 0.02

// Trend reports the direction of usage across the rolling window,
// comparing the older half's mean against the newer half's.
func (m *MemoryMonitor) Trend() Trend {
	if m.count < 2 {
		return TrendStable
	}

	// Oldest sample sits at writeIdx once the ring is full.
	start := 0
	if m.count == len(m.window) {
		start = m.writeIdx
	}

	half := m.count / 2
	var oldSum, newSum float64
	for i := 0; i < m.count; i++ {
		v := m.window[(start+i)%len(m.window)]
		if i < half {
			oldSum += v
		} else {
			newSum += v
		}
	}
	oldMean := oldSum / float64(half)
	newMean := newSum / float64(m.count-half)

	switch {
	case newMean > oldMean+trendEpsilon:
		return TrendIncreasing
	case newMean < oldMean-trendEpsilon:
		return TrendDecreasing
	}
	return TrendStable
}

// Level returns the most recent classification.
func (m *MemoryMonitor) Level() Level {
	return m.lastLevel
}
