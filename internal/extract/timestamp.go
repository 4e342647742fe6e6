package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Bracketed log line timestamp token: [YYYY.MM.DD-HH.MM.SS:mmm]
var bracketStampRegex = regexp.MustCompile(`^\[(\d{4}\.\d{2}\.\d{2}-\d{2}\.\d{2}\.\d{2}):(\d{3})\]`)

const primaryStampLayout = "2006.01.02-15.04.05"

// Fallback layouts seen in older server builds. Tried in order before giving
// up and using the caller-supplied default.
var fallbackStampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// lineTimestamp extracts the bracketed timestamp from a log line. Returns the
// remainder of the line and the parsed time; ok=false leaves the caller to use
// its default time.
func lineTimestamp(line string) (rest string, ts time.Time, ok bool) {
	m := bracketStampRegex.FindStringSubmatch(line)
	if len(m) < 3 {
		return line, time.Time{}, false
	}

	base, err := time.Parse(primaryStampLayout, m[1])
	if err != nil {
		return line, time.Time{}, false
	}
	millis, _ := strconv.Atoi(m[2])

	rest = strings.TrimSpace(line[len(m[0]):])
	return rest, base.Add(time.Duration(millis) * time.Millisecond), true
}

// parseStamp parses a CSV leading timestamp field, trying the primary layout
// and then the legacy fallbacks.
func parseStamp(field string) (time.Time, bool) {
	field = strings.TrimSpace(field)
	if ts, err := time.Parse(primaryStampLayout, field); err == nil {
		return ts, true
	}
	for _, layout := range fallbackStampLayouts {
		if ts, err := time.Parse(layout, field); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
