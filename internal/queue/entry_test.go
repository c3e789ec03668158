package queue

import (
	"testing"
	"time"
)

func TestLineRoundTrip(t *testing.T) {
	entries := []Entry{
		{ID: "dQw4w9WgXcQ", Title: "Never Gonna Give You Up", Duration: 3*time.Minute + 33*time.Second, Thumbnail: "dQw4w9WgXcQ.webp", StartOffset: 0},
		{ID: "abc-123_XYZ", Title: "title with  double  spaces", Duration: time.Hour + 2*time.Minute + 3*time.Second, Thumbnail: "abc.jpg", StartOffset: 95},
		{ID: "x", Title: "x", Duration: 0, Thumbnail: "-", StartOffset: 0},
	}
	for _, want := range entries {
		got, err := ParseLine(want.Line())
		if err != nil {
			t.Fatalf("parse %q: %v", want.Line(), err)
		}
		if *got != want {
			t.Fatalf("round trip mismatch:\n want %+v\n got  %+v", want, *got)
		}
	}
}

func TestParseLineRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"id-only",
		"id 00:03:33 thumb.jpg",            // missing start + title
		"id 3m33s thumb.jpg 0 title",       // bad duration format
		"id 00:03:33 thumb.jpg ten title",  // non-numeric start
		"id 00:03:33 thumb.jpg -5 title",   // negative start
		"id 00:xx:33 thumb.jpg 0 title",    // non-numeric duration part
	}
	for _, line := range cases {
		if _, err := ParseLine(line); err == nil {
			t.Fatalf("expected parse failure for %q", line)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{59 * time.Second, "00:00:59"},
		{time.Minute, "00:01:00"},
		{time.Hour + time.Minute + time.Second, "01:01:01"},
		{25 * time.Hour, "25:00:00"},
	}
	for _, tc := range cases {
		if got := FormatDuration(tc.d); got != tc.want {
			t.Fatalf("format %s: expected %q, got %q", tc.d, tc.want, got)
		}
	}
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("01:02:03")
	if err != nil {
		t.Fatalf("parse duration: %v", err)
	}
	if d != time.Hour+2*time.Minute+3*time.Second {
		t.Fatalf("unexpected duration: %s", d)
	}
	for _, bad := range []string{"", "1:2", "aa:bb:cc", "-1:00:00"} {
		if _, err := ParseDuration(bad); err == nil {
			t.Fatalf("expected failure for %q", bad)
		}
	}
}
