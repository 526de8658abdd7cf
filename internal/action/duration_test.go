package action

import (
	"testing"
	"time"
)

func TestParseISODuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"P30D", 30 * 24 * time.Hour},
		{"P1W", 7 * 24 * time.Hour},
		{"PT1H30M", 90 * time.Minute},
		{"P1DT12H", 36 * time.Hour},
		{"PT45S", 45 * time.Second},
		{"PT0S", 0},
	}
	for _, tc := range cases {
		got, err := ParseISODuration(tc.in)
		if err != nil {
			t.Errorf("ParseISODuration(%q) error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseISODuration(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseISODuration_Invalid(t *testing.T) {
	for _, in := range []string{"", "30D", "P", "PT", "PT1X", "P1.2.3D", "Pderp"} {
		if _, err := ParseISODuration(in); err == nil {
			t.Errorf("ParseISODuration(%q) should fail", in)
		}
	}
}

func TestFormatISODuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{30 * 24 * time.Hour, "P30D"},
		{90 * time.Minute, "PT1H30M"},
		{36 * time.Hour, "P1DT12H"},
		{0, "PT0S"},
	}
	for _, tc := range cases {
		if got := FormatISODuration(tc.in); got != tc.want {
			t.Errorf("FormatISODuration(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestISODuration_RoundTrip(t *testing.T) {
	for _, d := range []time.Duration{time.Second, time.Hour, 25 * time.Hour, 720 * time.Hour} {
		s := FormatISODuration(d)
		back, err := ParseISODuration(s)
		if err != nil {
			t.Fatalf("round trip %v via %q: %v", d, s, err)
		}
		if back != d {
			t.Fatalf("round trip %v via %q = %v", d, s, back)
		}
	}
}
