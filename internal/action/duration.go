package action

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ISO-8601 duration handling for the release_after field. The Automate spec
// exchanges durations as ISO-8601 strings (P30D, PT1H30M); Go durations are
// used internally. Calendar components are treated as fixed lengths
// (1 day = 24h, 1 week = 7 days); months and years are rejected because
// their length is ambiguous.

// ParseISODuration parses an ISO-8601 duration string into a time.Duration.
func ParseISODuration(s string) (time.Duration, error) {
	orig := s
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", orig)
	}
	s = s[1:]

	datePart := s
	timePart := ""
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		datePart, timePart = s[:i], s[i+1:]
		if timePart == "" {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q", orig)
		}
	}
	if datePart == "" && timePart == "" {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", orig)
	}

	var total time.Duration
	add := func(part string, units map[byte]time.Duration) error {
		num := ""
		for i := 0; i < len(part); i++ {
			c := part[i]
			if (c >= '0' && c <= '9') || c == '.' {
				num += string(c)
				continue
			}
			unit, ok := units[c]
			if !ok || num == "" {
				return fmt.Errorf("invalid ISO-8601 duration %q", orig)
			}
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return fmt.Errorf("invalid ISO-8601 duration %q", orig)
			}
			total += time.Duration(val * float64(unit))
			num = ""
		}
		if num != "" {
			return fmt.Errorf("invalid ISO-8601 duration %q", orig)
		}
		return nil
	}

	if err := add(datePart, map[byte]time.Duration{
		'W': 7 * 24 * time.Hour,
		'D': 24 * time.Hour,
	}); err != nil {
		return 0, err
	}
	if err := add(timePart, map[byte]time.Duration{
		'H': time.Hour,
		'M': time.Minute,
		'S': time.Second,
	}); err != nil {
		return 0, err
	}
	return total, nil
}

// FormatISODuration renders a duration as an ISO-8601 string with day,
// hour, minute and second components.
func FormatISODuration(d time.Duration) string {
	if d <= 0 {
		return "PT0S"
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second

	var b strings.Builder
	b.WriteByte('P')
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if hours > 0 || minutes > 0 || seconds > 0 {
		b.WriteByte('T')
		if hours > 0 {
			fmt.Fprintf(&b, "%dH", hours)
		}
		if minutes > 0 {
			fmt.Fprintf(&b, "%dM", minutes)
		}
		if seconds > 0 {
			fmt.Fprintf(&b, "%dS", seconds)
		}
	}
	if b.Len() == 1 {
		return "PT0S"
	}
	return b.String()
}
