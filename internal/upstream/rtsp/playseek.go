package rtsp

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// tzFromUserAgent extracts a `TZ+08:00` / `TZ-05:00` style offset token
// from a User-Agent string, defaulting to UTC when absent.
var tzPattern = regexp.MustCompile(`TZ([+-])(\d{2}):?(\d{2})`)

func tzFromUserAgent(ua string) *time.Location {
	m := tzPattern.FindStringSubmatch(ua)
	if m == nil {
		return time.UTC
	}
	sign := 1
	if m[1] == "-" {
		sign = -1
	}
	hours, _ := strconv.Atoi(m[2])
	mins, _ := strconv.Atoi(m[3])
	offset := sign * (hours*3600 + mins*60)
	return time.FixedZone(fmt.Sprintf("TZ%s", m[1]+m[2]+m[3]), offset)
}

// ConvertPlayseek rewrites a `begin[-[end]]` playseek parameter from the
// incoming HTTP request into UTC, per spec.md §4.D.2: 10-digit values are
// already UTC Unix seconds; 14-digit values are local yyyyMMddHHmmss and
// are interpreted using the offset derived from userAgent, then
// re-emitted in the same 14-digit format (UTC).
func ConvertPlayseek(playseek, userAgent string) (string, error) {
	begin, end, hasEnd, err := splitPlayseek(playseek)
	if err != nil {
		return "", err
	}
	loc := tzFromUserAgent(userAgent)

	beginOut, err := convertOneTimestamp(begin, loc)
	if err != nil {
		return "", fmt.Errorf("playseek begin: %w", err)
	}
	if !hasEnd {
		return beginOut, nil
	}
	if end == "" {
		return beginOut + "-", nil
	}
	endOut, err := convertOneTimestamp(end, loc)
	if err != nil {
		return "", fmt.Errorf("playseek end: %w", err)
	}
	return beginOut + "-" + endOut, nil
}

func splitPlayseek(playseek string) (begin, end string, hasEnd bool, err error) {
	for i, c := range playseek {
		if c == '-' {
			return playseek[:i], playseek[i+1:], true, nil
		}
	}
	if playseek == "" {
		return "", "", false, fmt.Errorf("rtsp: empty playseek")
	}
	return playseek, "", false, nil
}

// convertOneTimestamp converts a single 10-digit (UTC Unix seconds) or
// 14-digit (local yyyyMMddHHmmss) timestamp into the 14-digit UTC form.
func convertOneTimestamp(ts string, loc *time.Location) (string, error) {
	switch len(ts) {
	case 10:
		secs, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return "", fmt.Errorf("bad unix timestamp %q: %w", ts, err)
		}
		return time.Unix(secs, 0).UTC().Format("20060102150405"), nil
	case 14:
		t, err := time.ParseInLocation("20060102150405", ts, loc)
		if err != nil {
			return "", fmt.Errorf("bad local timestamp %q: %w", ts, err)
		}
		return t.UTC().Format("20060102150405"), nil
	default:
		return "", fmt.Errorf("playseek timestamp %q must be 10 or 14 digits", ts)
	}
}
