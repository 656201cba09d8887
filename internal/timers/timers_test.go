package timers

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestStartFiresOnce(t *testing.T) {
	var fired atomic.Int32
	set := New([]Timer{
		{ID: 0, Name: "poll", Period: 10 * time.Millisecond, Callback: func() { fired.Add(1) }},
	})

	set.Start(0)
	if !set.Active(0) {
		t.Errorf("Active() after Start = false, want true")
	}
	time.Sleep(60 * time.Millisecond)

	if got := fired.Load(); got != 1 {
		t.Errorf("fired = %d, want 1", got)
	}
	if set.Active(0) {
		t.Errorf("Active() after firing = true, want false")
	}
}

func TestStopPreventsCallback(t *testing.T) {
	var fired atomic.Int32
	set := New([]Timer{
		{ID: 0, Name: "timeout", Period: 20 * time.Millisecond, Callback: func() { fired.Add(1) }},
	})

	set.Start(0)
	set.Stop(0)
	set.Stop(0)
	time.Sleep(50 * time.Millisecond)

	if got := fired.Load(); got != 0 {
		t.Errorf("fired = %d, want 0", got)
	}
}

func TestRestartResetsPeriod(t *testing.T) {
	var fired atomic.Int32
	set := New([]Timer{
		{ID: 0, Name: "info", Period: 30 * time.Millisecond, Callback: func() { fired.Add(1) }},
	})

	set.Start(0)
	time.Sleep(15 * time.Millisecond)
	set.Start(0)
	time.Sleep(20 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Errorf("fired before restarted period elapsed = %d, want 0", got)
	}
	time.Sleep(40 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Errorf("fired = %d, want 1", got)
	}
}

func TestSetPeriod(t *testing.T) {
	set := New([]Timer{{ID: 0, Name: "poll", Period: time.Hour, Callback: func() {}}})
	set.SetPeriod(0, time.Minute)
	if got := set.Period(0); got != time.Minute {
		t.Errorf("Period() = %v, want 1m", got)
	}
}

func TestPanics(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
	}{
		{"unknown id", func() {
			New([]Timer{{ID: 0, Name: "a", Period: time.Second, Callback: func() {}}}).Start(1)
		}},
		{"non-contiguous ids", func() {
			New([]Timer{{ID: 1, Name: "a", Period: time.Second, Callback: func() {}}})
		}},
		{"missing callback", func() {
			New([]Timer{{ID: 0, Name: "a", Period: time.Second}})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("%s did not panic", tt.name)
				}
			}()
			tt.fn()
		})
	}
}
