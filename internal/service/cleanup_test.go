package service

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestMaintenanceRunOnce(t *testing.T) {
	m := NewMaintenanceService(0)
	if m.interval != 5*time.Minute {
		t.Errorf("default interval = %v", m.interval)
	}

	var runs atomic.Int32
	m.Register("count", func() { runs.Add(1) })
	m.Register("broken", func() { panic("boom") })

	m.RunOnce()
	m.RunOnce()
	if got := runs.Load(); got != 2 {
		t.Errorf("job ran %d times, want 2", got)
	}
}

func TestMaintenanceStartStop(t *testing.T) {
	m := NewMaintenanceService(10 * time.Millisecond)
	done := make(chan struct{}, 1)
	m.Register("signal", func() {
		select {
		case done <- struct{}{}:
		default:
		}
	})

	m.Start()
	m.Start() // second start is ignored
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}
	m.Stop()
	m.Stop()
}

func TestMaintenanceRestartsAfterStop(t *testing.T) {
	m := NewMaintenanceService(10 * time.Millisecond)
	ran := make(chan struct{}, 1)
	m.Register("signal", func() {
		select {
		case ran <- struct{}{}:
		default:
		}
	})

	m.Start()
	<-ran
	m.Stop()

	// drain a tick that raced with Stop
	select {
	case <-ran:
	default:
	}

	m.Start()
	defer m.Stop()
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("restarted service never ran its job")
	}
}
