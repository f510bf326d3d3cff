package notify

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		ms   int64
		want string
	}{
		{0, "00:00:00"},
		{1000, "00:00:01"},
		{59000, "00:00:59"},
		{60000, "00:01:00"},
		{3*3600000 + 12*60000 + 45000, "03:12:45"},
		{360000000, "100:00:00"}, // hours are not clamped to two digits
		{362745000, "100:45:45"},
		{-5000, "00:00:00"},
	}
	for _, tc := range cases {
		got := FormatDuration(time.Duration(tc.ms) * time.Millisecond)
		if got != tc.want {
			t.Errorf("FormatDuration(%dms) = %q, want %q", tc.ms, got, tc.want)
		}
	}
}

func TestFormatDurationTruncatesSubSecond(t *testing.T) {
	if got := FormatDuration(1500 * time.Millisecond); got != "00:00:01" {
		t.Errorf("FormatDuration(1500ms) = %q, want 00:00:01", got)
	}
}
