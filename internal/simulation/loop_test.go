package simulation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoopRunsAtLeastOnce(t *testing.T) {
	var ticks int32
	loop := NewLoop(60, func(dt time.Duration) {
		if dt <= 0 || dt > DefaultMaxStep {
			t.Errorf("unexpected dt %v", dt)
		}
		atomic.AddInt32(&ticks, 1)
	})
	loop.Start(context.Background())
	time.Sleep(80 * time.Millisecond)
	loop.Stop()
	if atomic.LoadInt32(&ticks) == 0 {
		t.Fatalf("expected loop to tick at least once")
	}
	after := atomic.LoadInt32(&ticks)
	time.Sleep(40 * time.Millisecond)
	if atomic.LoadInt32(&ticks) != after {
		t.Fatalf("loop kept ticking after Stop")
	}
}

func TestLoopStopsOnContextCancel(t *testing.T) {
	loop := NewLoop(200, nil)
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(finished)
	}()
	cancel()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestLoopStepDuration(t *testing.T) {
	loop := NewLoop(50, nil)
	if step := loop.StepDuration(); step != 20*time.Millisecond {
		t.Fatalf("unexpected step duration %v", step)
	}
	if step := NewLoop(0, nil).StepDuration(); step != time.Second/60 {
		t.Fatalf("unexpected fallback step %v", step)
	}
}

func TestLoopMeasureCapsStalls(t *testing.T) {
	loop := NewLoop(50, nil)
	base := time.Unix(1000, 0)
	loop.last = base

	if dt := loop.measure(base.Add(17 * time.Millisecond)); dt != 17*time.Millisecond {
		t.Fatalf("unexpected dt %v", dt)
	}
	if dt := loop.measure(base.Add(5 * time.Second)); dt != DefaultMaxStep {
		t.Fatalf("expected stall to be capped, got %v", dt)
	}
	if dt := loop.measure(base.Add(4 * time.Second)); dt != 0 {
		t.Fatalf("clock going backwards must yield no step, got %v", dt)
	}

	loop.SetMaxStep(time.Second)
	if dt := loop.measure(base.Add(8 * time.Second)); dt != time.Second {
		t.Fatalf("expected override cap, got %v", dt)
	}
}

func TestTickMonitorSnapshot(t *testing.T) {
	monitor := NewTickMonitor()
	monitor.Observe(10 * time.Millisecond)
	monitor.Observe(30 * time.Millisecond)
	monitor.Observe(0)
	monitor.ObserveClamp()

	snap := monitor.Snapshot()
	if snap.Samples != 2 || snap.Average != 20*time.Millisecond || snap.Max != 30*time.Millisecond || snap.Last != 30*time.Millisecond {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Clamped != 1 {
		t.Fatalf("expected one clamp, got %d", snap.Clamped)
	}
	if fps := snap.AverageFPS(); fps != 50 {
		t.Fatalf("unexpected fps %v", fps)
	}

	monitor.Reset()
	if snap := monitor.Snapshot(); snap != (TickMetricsSnapshot{}) {
		t.Fatalf("expected empty snapshot after reset, got %+v", snap)
	}
	var nilMonitor *TickMonitor
	nilMonitor.Observe(time.Second)
	if nilMonitor.Snapshot().Samples != 0 {
		t.Fatalf("nil monitor must stay empty")
	}
}
