package dash

import (
	"strconv"
	"strings"
	"time"
)

// parseISO8601Duration parses an ISO-8601 duration in the PnYnMnDTnHnMnS
// form as used by MPD's duration attributes. Only the Y/M/D/H/M/S
// components used by real-world MPDs are handled; W (weeks) never
// appears in @mediaPresentationDuration in practice and is ignored.
func parseISO8601Duration(s string) (time.Duration, bool) {
	s = strings.TrimPrefix(s, "P")

	datePart := s
	timePart := ""
	if idx := strings.IndexByte(s, 'T'); idx >= 0 {
		datePart = s[:idx]
		timePart = s[idx+1:]
	}

	var totalSeconds float64
	var any bool

	consume := func(part string, unit byte, multiplier float64) string {
		idx := strings.IndexByte(part, unit)
		if idx < 0 {
			return part
		}
		value, err := strconv.ParseFloat(part[:idx], 64)
		if err == nil {
			totalSeconds += value * multiplier
			any = true
		}
		return part[idx+1:]
	}

	datePart = consume(datePart, 'Y', 365*24*3600)
	datePart = consume(datePart, 'M', 30*24*3600)
	consume(datePart, 'D', 24*3600)

	timePart = consume(timePart, 'H', 3600)
	timePart = consume(timePart, 'M', 60)
	consume(timePart, 'S', 1)

	if !any {
		return 0, false
	}
	return time.Duration(totalSeconds * float64(time.Second)), true
}
