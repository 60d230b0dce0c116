package clock

import (
	"testing"
	"time"
)

func TestFake_Advance(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := NewFake(start)

	f.Advance(65 * time.Second)

	if got := f.Now(); !got.Equal(start.Add(65 * time.Second)) {
		t.Errorf("Now() = %v, want %v", got, start.Add(65*time.Second))
	}
}

func TestSystem_Now(t *testing.T) {
	before := time.Now()
	got := System{}.Now()
	if got.Before(before) {
		t.Errorf("System.Now() = %v, before %v", got, before)
	}
}
