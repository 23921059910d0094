package learning

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/botdetect/internal/core"
)

// DriftMonitorConfig tunes the two-window comparison.
type DriftMonitorConfig struct {
	RecentWindowSize     int     // number of samples in the recent window
	HistoricalWindowSize int     // number of samples in the historical window
	MinSamples           int     // minimum samples in both windows before comparing
	DriftThreshold        float64 // |z| above which DriftDetected fires
}

func DefaultDriftMonitorConfig() DriftMonitorConfig {
	return DriftMonitorConfig{
		RecentWindowSize:     200,
		HistoricalWindowSize: 2000,
		MinSamples:           50,
		DriftThreshold:       3.0,
	}
}

// DriftMonitor tracks the bot-rate (mean bot probability) over a recent
// window and a longer historical window and emits DriftDetected when the
// recent mean has shifted from the historical mean by more standard
// errors than DriftThreshold — a simplified two-sample z-test, adequate
// for catching gross feature/label drift without the cost of a full
// Kolmogorov–Smirnov comparison over raw distributions.
type DriftMonitor struct {
	cfg DriftMonitorConfig
	bus Bus

	mu         sync.Mutex
	recent     []float64
	historical []float64
}

func NewDriftMonitor(cfg DriftMonitorConfig, bus Bus) *DriftMonitor {
	if cfg.RecentWindowSize <= 0 {
		cfg = DefaultDriftMonitorConfig()
	}
	return &DriftMonitor{cfg: cfg, bus: bus}
}

// Observe records one request's bot probability. The monitor does not
// subscribe to the bus for samples; it only sees what callers pass to
// Observe, and nothing in cmd/server calls it.
func (m *DriftMonitor) Observe(botProbability float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recent = append(m.recent, botProbability)
	if len(m.recent) > m.cfg.RecentWindowSize {
		overflow := m.recent[:len(m.recent)-m.cfg.RecentWindowSize]
		m.historical = append(m.historical, overflow...)
		m.recent = m.recent[len(m.recent)-m.cfg.RecentWindowSize:]
	}
	if len(m.historical) > m.cfg.HistoricalWindowSize {
		m.historical = m.historical[len(m.historical)-m.cfg.HistoricalWindowSize:]
	}

	if len(m.recent) < m.cfg.MinSamples || len(m.historical) < m.cfg.MinSamples {
		return
	}

	z, ok := twoSampleZ(m.recent, m.historical)
	if !ok {
		return
	}
	if math.Abs(z) >= m.cfg.DriftThreshold {
		m.bus.Publish(core.LearningEvent{
			ID:   uuid.NewString(),
			Kind: core.EventDriftDetected,
			Payload: map[string]interface{}{
				"z_score":         z,
				"recent_mean":     mean(m.recent),
				"historical_mean": mean(m.historical),
				"recent_n":        len(m.recent),
				"historical_n":    len(m.historical),
			},
			Timestamp: time.Now(),
		})
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func variance(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(len(xs)-1)
}

// twoSampleZ computes Welch's z-statistic for the difference of two means.
// Returns ok=false when both samples are degenerate (zero variance).
func twoSampleZ(a, b []float64) (float64, bool) {
	ma, mb := mean(a), mean(b)
	va, vb := variance(a, ma), variance(b, mb)

	se := math.Sqrt(va/float64(len(a)) + vb/float64(len(b)))
	if se == 0 {
		return 0, false
	}
	return (ma - mb) / se, true
}
