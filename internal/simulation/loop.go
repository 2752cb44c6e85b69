package simulation

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxStep caps the dt handed to a step after a stall.
const DefaultMaxStep = 250 * time.Millisecond

// StepFunc advances the simulation by the measured time since the previous step.
type StepFunc func(dt time.Duration)

// Loop ticks at most targetHz times per second and passes each step the
// wall-clock time elapsed since the previous one, capped at maxStep.
type Loop struct {
	interval time.Duration
	maxStep  time.Duration
	stepFunc StepFunc
	now      func() time.Time

	mu     sync.Mutex
	last   time.Time
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop configures a loop that runs at most targetHz steps per second.
func NewLoop(targetHz float64, step StepFunc) *Loop {
	if targetHz <= 0 {
		targetHz = 60
	}
	if step == nil {
		step = func(time.Duration) {}
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / 60
	}
	return &Loop{
		interval: interval,
		maxStep:  DefaultMaxStep,
		stepFunc: step,
		now:      time.Now,
	}
}

// SetMaxStep overrides the cap applied to measured dt values.
func (l *Loop) SetMaxStep(max time.Duration) {
	if l == nil || max <= 0 {
		return
	}
	l.mu.Lock()
	l.maxStep = max
	l.mu.Unlock()
}

// Start begins ticking in a goroutine until the context is cancelled or Stop is invoked.
func (l *Loop) Start(ctx context.Context) {
	if l == nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.mu.Lock()
	l.cancel = cancel
	l.done = done
	l.mu.Unlock()
	go func() {
		defer close(done)
		l.Run(ctx)
	}()
}

// Run ticks on the calling goroutine until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	if l == nil {
		return
	}
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	l.mu.Lock()
	l.last = l.now()
	l.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			//1.- The ticker only paces the loop; dt comes from the clock so a
			// late tick carries its real elapsed time.
			if dt := l.measure(l.now()); dt > 0 {
				l.stepFunc(dt)
			}
		}
	}
}

// measure returns the capped time since the previous measurement.
func (l *Loop) measure(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	dt := now.Sub(l.last)
	if dt <= 0 {
		return 0
	}
	l.last = now
	if dt > l.maxStep {
		dt = l.maxStep
	}
	return dt
}

// Stop cancels the loop and waits for the goroutine to exit.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// StepDuration exposes the minimum interval between steps.
func (l *Loop) StepDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}
