package policy

import (
	"testing"
	"time"
)

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 14, hour, min, 0, 0, time.UTC)
}

func TestContains(t *testing.T) {
	tests := []struct {
		name   string
		window AccessWindow
		now    time.Time
		want   bool
	}{
		{"before window", AccessWindow{18, 22}, at(17, 59), false},
		{"window opens", AccessWindow{18, 22}, at(18, 0), true},
		{"mid window", AccessWindow{18, 22}, at(21, 59), true},
		{"window closes", AccessWindow{18, 22}, at(22, 0), false},
		{"after window", AccessWindow{18, 22}, at(23, 30), false},
		{"midnight outside", AccessWindow{18, 22}, at(0, 0), false},

		{"wrap before start", AccessWindow{22, 2}, at(21, 59), false},
		{"wrap at start", AccessWindow{22, 2}, at(22, 0), true},
		{"wrap past midnight", AccessWindow{22, 2}, at(1, 59), true},
		{"wrap at end", AccessWindow{22, 2}, at(2, 0), false},
		{"wrap midday", AccessWindow{22, 2}, at(12, 0), false},

		{"empty window", AccessWindow{18, 18}, at(18, 0), false},
		{"full day minus one hour", AccessWindow{1, 0}, at(0, 30), false},
		{"full day minus one hour inside", AccessWindow{1, 0}, at(13, 0), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.window.Contains(tt.now); got != tt.want {
				t.Errorf("window %v Contains(%s) = %v, want %v", tt.window, tt.now.Format("15:04"), got, tt.want)
			}
		})
	}
}

func TestContainsUsesLocalHour(t *testing.T) {
	// 17:30 UTC is 18:30 in UTC+1: the same instant is gated
	// differently depending on the configured zone.
	w := AccessWindow{18, 22}
	instant := time.Date(2026, 3, 14, 17, 30, 0, 0, time.UTC)

	if w.Contains(instant) {
		t.Fatal("17:30 UTC should be outside an 18-22 UTC window")
	}

	plusOne := time.FixedZone("UTC+1", 3600)
	if !w.Contains(instant.In(plusOne)) {
		t.Fatal("18:30 local should be inside an 18-22 window")
	}
}

func TestString(t *testing.T) {
	if got := (AccessWindow{18, 22}).String(); got != "18:00-22:00" {
		t.Errorf("String() = %q", got)
	}
	if got := (AccessWindow{9, 5}).String(); got != "09:00-05:00" {
		t.Errorf("String() = %q", got)
	}
}
