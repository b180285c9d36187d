package backend

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var intervalRegexp = regexp.MustCompile(`^(\d+)(ms|s|m|h)$`)

// IntervalError is returned by ParseInterval for anything that is not an
// integer followed by one of the units ms, s, m or h.
type IntervalError struct {
	Value string
}

func (e *IntervalError) Error() string {
	return fmt.Sprintf("invalid duration %q: expected <number><unit> with unit ms, s, m or h (e.g. 1s, 1m, 1h)", e.Value)
}

// ParseInterval parses a compact duration token such as "500ms", "30s",
// "1m" or "2h".
func ParseInterval(s string) (time.Duration, error) {
	match := intervalRegexp.FindStringSubmatch(s)
	if match == nil {
		return 0, &IntervalError{Value: s}
	}

	n, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, &IntervalError{Value: s}
	}

	var unit time.Duration
	switch match[2] {
	case "ms":
		unit = time.Millisecond
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	}

	if n > int64(1<<63-1)/int64(unit) {
		return 0, &IntervalError{Value: s}
	}

	return time.Duration(n) * unit, nil
}

// FormatInterval renders d as hours, minutes and seconds, dropping leading
// zero components. Sub-second remainders are truncated.
func FormatInterval(d time.Duration) string {
	hours := d / time.Hour
	minutes := (d % time.Hour) / time.Minute
	seconds := (d % time.Minute) / time.Second

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
