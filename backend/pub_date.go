package backend

import (
	"strings"
	"time"
)

var publicationTimeFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, _2 Jan 2006 15:04:05 -0700", // RFC1123 with 1-2 digit days
	"Mon, _2 Jan 2006 15:04:05 MST",
	"Mon, _2 Jan 2006 15:04 -0700", // RFC1123 without seconds
	"Mon, _2 Jan 2006 15:04 MST",
	"_2 Jan 2006 15:04:05 -0700", // RFC1123 without day name
	"_2 Jan 2006 15:04:05 MST",
	"02 Jan 2006 15:04 MST", // RFC822 with 4 digit year
	time.RFC822Z,
	time.RFC822,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"Mon, _2 Jan 2006",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	time.UnixDate,
	time.ANSIC,
}

// rfc822Zones maps the North American zone names allowed by RFC 822 to their
// offsets. time.Parse gives unknown abbreviations a zero offset.
var rfc822Zones = map[string]int{
	"EST": -5 * 60 * 60,
	"EDT": -4 * 60 * 60,
	"CST": -6 * 60 * 60,
	"CDT": -5 * 60 * 60,
	"MST": -7 * 60 * 60,
	"MDT": -6 * 60 * 60,
	"PST": -8 * 60 * 60,
	"PDT": -7 * 60 * 60,
}

// ParsePublicationTime tries each known date layout in order and returns the
// first successful parse in UTC. It returns nil when no layout matches.
func ParsePublicationTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	for _, f := range publicationTimeFormats {
		t, err := time.Parse(f, value)
		if err == nil {
			if name, offset := t.Zone(); offset == 0 {
				if zoneOffset, ok := rfc822Zones[name]; ok {
					t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.FixedZone(name, zoneOffset))
				}
			}
			t = t.UTC()
			return &t
		}
	}

	return nil
}
