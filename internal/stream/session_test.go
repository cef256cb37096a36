package stream

import (
	"testing"
	"time"
)

func TestSessionAllow(t *testing.T) {
	s, err := NewSession("09:15", "15:30", "Asia/Kolkata", 30)
	if err != nil {
		t.Fatal(err)
	}
	ist, _ := time.LoadLocation("Asia/Kolkata")

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"mid-session", time.Date(2024, 3, 1, 11, 0, 0, 0, ist), true},      // Friday
		{"at open", time.Date(2024, 3, 1, 9, 15, 0, 0, ist), true},
		{"before open", time.Date(2024, 3, 1, 9, 14, 0, 0, ist), false},
		{"inside entry cutoff", time.Date(2024, 3, 1, 15, 5, 0, 0, ist), false},
		{"last entry minute", time.Date(2024, 3, 1, 14, 59, 0, 0, ist), true},
		{"after close", time.Date(2024, 3, 1, 16, 0, 0, 0, ist), false},
		{"saturday", time.Date(2024, 3, 2, 11, 0, 0, 0, ist), false},
		{"sunday", time.Date(2024, 3, 3, 11, 0, 0, 0, ist), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.Allow(tc.at); got != tc.want {
				t.Fatalf("Allow(%s) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestSessionAllowConvertsTimezone(t *testing.T) {
	s, err := NewSession("09:15", "15:30", "Asia/Kolkata", 30)
	if err != nil {
		t.Fatal(err)
	}
	// 05:30 UTC on a weekday is 11:00 IST.
	if !s.Allow(time.Date(2024, 3, 1, 5, 30, 0, 0, time.UTC)) {
		t.Fatal("UTC timestamp inside the session was rejected")
	}
}

func TestNewSessionRejectsBadWindow(t *testing.T) {
	if _, err := NewSession("15:30", "09:15", "Asia/Kolkata", 0); err == nil {
		t.Fatal("want error for close before open")
	}
	if _, err := NewSession("9am", "15:30", "Asia/Kolkata", 0); err == nil {
		t.Fatal("want error for unparseable time")
	}
	if _, err := NewSession("09:15", "15:30", "Mars/Olympus", 0); err == nil {
		t.Fatal("want error for unknown timezone")
	}
}
