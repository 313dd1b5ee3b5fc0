package kamo

import (
	"testing"
	"time"
)

func TestNextPollTime_Alignment(t *testing.T) {
	cases := []struct {
		name     string
		now      string
		interval int
		want     string
	}{
		{"five_minute_mid", "2026-02-07T10:03:00Z", 5, "2026-02-07T10:05:00Z"},
		{"thirty_minute_past_half", "2026-02-07T10:31:00Z", 30, "2026-02-07T11:00:00Z"},
		{"on_mark_is_strictly_after", "2026-02-07T10:05:00Z", 5, "2026-02-07T10:10:00Z"},
		{"fifteen_minute", "2026-02-07T10:46:12Z", 15, "2026-02-07T11:00:00Z"},
		{"ten_minute_with_seconds", "2026-02-07T10:59:59Z", 10, "2026-02-07T11:00:00Z"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			now, err := time.Parse(time.RFC3339, tc.now)
			if err != nil {
				t.Fatal(err)
			}
			got, err := NextPollTime(now, tc.interval)
			if err != nil {
				t.Fatal(err)
			}
			want, _ := time.Parse(time.RFC3339, tc.want)
			if !got.Equal(want) {
				t.Fatalf("NextPollTime(%s, %d) = %s, want %s", tc.now, tc.interval, got, want)
			}
			if !got.After(now) {
				t.Fatalf("next instant %s must be strictly after %s", got, now)
			}
		})
	}
}

func TestNextPollTime_RejectsBadIntervals(t *testing.T) {
	now := time.Date(2026, 2, 7, 10, 0, 0, 0, time.UTC)
	for _, interval := range []int{0, -5, 7, 20, 60} {
		if _, err := NextPollTime(now, interval); err == nil {
			t.Fatalf("expected error for interval %d", interval)
		}
	}
}

func TestSnapshotMark_RoundsDown(t *testing.T) {
	now := time.Date(2026, 2, 7, 9, 7, 42, 123, time.UTC)
	got := SnapshotMark(now, 5)
	want := time.Date(2026, 2, 7, 9, 5, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("SnapshotMark = %s, want %s", got, want)
	}

	// Exactly on a mark stays put.
	onMark := time.Date(2026, 2, 7, 9, 10, 0, 0, time.UTC)
	if got := SnapshotMark(onMark, 5); !got.Equal(onMark) {
		t.Fatalf("SnapshotMark on mark = %s, want %s", got, onMark)
	}
}
