package memory

import (
	"sync/atomic"
	"testing"
	"time"
)

func newTestMonitor(limit int64, alloc *atomic.Uint64) *Monitor {
	config := DefaultConfig()
	config.LimitBytes = limit
	m := NewMonitor(config)
	m.sample = alloc.Load
	return m
}

func TestMonitorPausesAndResumes(t *testing.T) {
	var alloc atomic.Uint64
	m := newTestMonitor(1000, &alloc)
	defer m.Stop()

	alloc.Store(500)
	m.check()
	if m.Paused() {
		t.Fatal("Expected no pause at 50% usage")
	}

	alloc.Store(900)
	m.check()
	if !m.Paused() {
		t.Fatal("Expected pause at 90% usage")
	}
	if got := m.Usage(); got != 0.9 {
		t.Errorf("Usage() = %v, want 0.9", got)
	}

	// Between the marks the monitor holds its state.
	alloc.Store(800)
	m.check()
	if !m.Paused() {
		t.Fatal("Expected pause to hold above the resume mark")
	}

	done := make(chan bool, 1)
	go func() { done <- m.Wait(nil) }()

	select {
	case <-done:
		t.Fatal("Wait returned while paused")
	case <-time.After(50 * time.Millisecond):
	}

	alloc.Store(100)
	m.check()

	select {
	case ok := <-done:
		if !ok {
			t.Error("Expected Wait to report resume")
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after resume")
	}
}

func TestMonitorWaitNotPaused(t *testing.T) {
	var alloc atomic.Uint64
	m := newTestMonitor(1000, &alloc)
	defer m.Stop()

	if !m.Wait(nil) {
		t.Error("Expected Wait to return immediately")
	}
}

func TestMonitorWaitStopped(t *testing.T) {
	tests := []struct {
		name string
		stop func(m *Monitor, caller chan struct{})
	}{
		{"caller stops", func(_ *Monitor, caller chan struct{}) { close(caller) }},
		{"monitor stops", func(m *Monitor, _ chan struct{}) { m.Stop() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var alloc atomic.Uint64
			m := newTestMonitor(1000, &alloc)
			defer m.Stop()

			alloc.Store(950)
			m.check()

			caller := make(chan struct{})
			done := make(chan bool, 1)
			go func() { done <- m.Wait(caller) }()

			tt.stop(m, caller)

			select {
			case ok := <-done:
				if ok {
					t.Error("Expected Wait to report stop")
				}
			case <-time.After(time.Second):
				t.Fatal("Wait did not return after stop")
			}
		})
	}
}

func TestMonitorWithoutLimit(t *testing.T) {
	m := &Monitor{config: DefaultConfig(), stopChan: make(chan struct{}), resume: make(chan struct{})}

	m.Start()
	m.Stop()
	m.Stop()

	if m.Usage() != 0 {
		t.Errorf("Expected zero usage without a limit, got %v", m.Usage())
	}
	if !m.Wait(nil) {
		t.Error("Expected Wait to pass without a limit")
	}
}

func TestMonitorLoop(t *testing.T) {
	var alloc atomic.Uint64
	alloc.Store(990)

	config := DefaultConfig()
	config.LimitBytes = 1000
	config.CheckInterval = 10 * time.Millisecond
	m := NewMonitor(config)
	m.sample = alloc.Load

	m.Start()
	defer m.Stop()

	deadline := time.Now().Add(time.Second)
	for !m.Paused() {
		if time.Now().After(deadline) {
			t.Fatal("Monitor loop never sampled")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
