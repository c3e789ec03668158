package resolver

import "testing"

func TestVideoID(t *testing.T) {
	cases := []struct {
		url  string
		want string
		ok   bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"http://youtube.com/watch?v=abc-123_XYZ&list=PL1", "abc-123_XYZ", true},
		{"youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://youtu.be/dQw4w9WgXcQ?t=1m30s", "dQw4w9WgXcQ", true},
		{"https://vimeo.com/12345", "", false},
		{"not a url", "", false},
	}
	for _, tc := range cases {
		got, ok := VideoID(tc.url)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("VideoID(%q) = %q,%v; want %q,%v", tc.url, got, ok, tc.want, tc.ok)
		}
	}
}

func TestStartOffset(t *testing.T) {
	cases := []struct {
		url  string
		want int
	}{
		{"https://youtube.com/watch?v=x", 0},
		{"https://youtube.com/watch?v=x&t=95", 95},
		{"https://youtube.com/watch?v=x&t=95s", 95},
		{"https://youtube.com/watch?v=x&t=2m5s", 125},
		{"https://youtube.com/watch?v=x&t=1h2m3s", 3723},
		{"https://youtube.com/watch?v=x&t=1h2m3s&list=PL1", 3723},
	}
	for _, tc := range cases {
		if got := StartOffset(tc.url); got != tc.want {
			t.Fatalf("StartOffset(%q) = %d; want %d", tc.url, got, tc.want)
		}
	}
}
