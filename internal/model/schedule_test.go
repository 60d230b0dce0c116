package model

import (
	"testing"
	"time"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:05", 545, false},
		{"23:59", 1439, false},
		{"9:05", 0, true},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"noon", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseTimeOfDay(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTimeOfDay(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTimeOfDay(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestValidDate(t *testing.T) {
	for in, want := range map[string]bool{
		"2026-03-02": true,
		"2024-02-29": true,
		"2026-02-29": false,
		"2026-3-2":   false,
		"03/02/2026": false,
		"":           false,
	} {
		if got := ValidDate(in); got != want {
			t.Errorf("ValidDate(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDateOf_UsesUTC(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	got := DateOf(time.Date(2026, 3, 2, 8, 0, 0, 0, jst))
	if got != "2026-03-01" {
		t.Errorf("DateOf() = %q, want %q", got, "2026-03-01")
	}
}
