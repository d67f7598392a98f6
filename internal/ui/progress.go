package ui

import (
	"sync"
	"time"
)

// ProgressTracker holds progress state across stages.
// It is safe for concurrent use.
type ProgressTracker struct {
	mu          sync.RWMutex
	stage       Stage
	current     int
	total       int
	currentFile string
	startTime   time.Time
	stageStart  time.Time
	errors      []ErrorEvent
	warnings    []ErrorEvent

	// lastETA is the previous estimate, kept for smoothing.
	lastETA time.Duration

	lastCurrent  int
	lastRateCalc time.Time
	rate         float64
}

// ProgressStats is a snapshot of current progress.
type ProgressStats struct {
	Stage       Stage
	Current     int
	Total       int
	Progress    float64
	ETA         time.Duration
	CurrentFile string
	ErrorCount  int
	WarnCount   int
	// Rate is items per second within the current stage.
	Rate float64
}

// NewProgressTracker creates a new progress tracker.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{
		stage:        StageDownload,
		startTime:    now,
		stageStart:   now,
		lastRateCalc: now,
	}
}

// SetStage transitions to a new stage.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
	p.total = total
	p.current = 0
	p.currentFile = ""
	p.stageStart = time.Now()
	p.lastETA = 0
	p.lastCurrent = 0
	p.lastRateCalc = p.stageStart
	p.rate = 0
}

// Update updates progress within the current stage.
func (p *ProgressTracker) Update(current int, file string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = current
	if file != "" {
		p.currentFile = file
	}

	// Rate is sampled every 500ms to avoid noise.
	now := time.Now()
	elapsed := now.Sub(p.lastRateCalc)
	if elapsed >= 500*time.Millisecond {
		if delta := current - p.lastCurrent; delta > 0 {
			speed := float64(delta) / elapsed.Seconds()
			if p.rate == 0 {
				p.rate = speed
			} else {
				p.rate = 0.2*speed + 0.8*p.rate
			}
		}
		p.lastCurrent = current
		p.lastRateCalc = now
	}
}

// AddError records an error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings = append(p.warnings, event)
	} else {
		p.errors = append(p.errors, event)
	}
}

// Progress returns the current stage progress in [0, 1].
func (p *ProgressTracker) Progress() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fraction()
}

func (p *ProgressTracker) fraction() float64 {
	if p.total == 0 {
		return 0
	}
	f := float64(p.current) / float64(p.total)
	if f > 1 {
		return 1
	}
	return f
}

// Elapsed returns time since tracker creation.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Since(p.startTime)
}

// Stats returns a snapshot. It takes the write lock because the ETA
// estimate is smoothed in place.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProgressStats{
		Stage:       p.stage,
		Current:     p.current,
		Total:       p.total,
		Progress:    p.fraction(),
		ETA:         p.calculateETA(),
		CurrentFile: p.currentFile,
		ErrorCount:  len(p.errors),
		WarnCount:   len(p.warnings),
		Rate:        p.rate,
	}
}

// etaSmoothingFactor is the weight of a new ETA sample.
const etaSmoothingFactor = 0.3

// calculateETA must be called with the lock held.
func (p *ProgressTracker) calculateETA() time.Duration {
	if p.current == 0 || p.total == 0 {
		return 0
	}
	progress := float64(p.current) / float64(p.total)
	if progress >= 1.0 {
		return 0
	}

	elapsed := time.Since(p.stageStart)
	remaining := time.Duration(float64(elapsed)/progress) - elapsed
	if remaining < 0 {
		return 0
	}
	if p.lastETA == 0 {
		p.lastETA = remaining
		return remaining
	}
	p.lastETA = time.Duration(etaSmoothingFactor*float64(remaining) + (1-etaSmoothingFactor)*float64(p.lastETA))
	return p.lastETA
}

// Errors returns the recorded errors.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ErrorEvent(nil), p.errors...)
}

// Warnings returns the recorded warnings.
func (p *ProgressTracker) Warnings() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ErrorEvent(nil), p.warnings...)
}
