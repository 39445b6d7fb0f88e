package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

// NormalizeTime converts "9:00", "09:00" or "9" into the canonical "H:MM"
// form used as the slot key.
func NormalizeTime(raw string) (string, error) {
	minutes, err := parseMinutes(raw)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d:%02d", minutes/60, minutes%60), nil
}

// Less orders two canonical slot times by time of day. Unparseable values
// sort after valid ones, lexically among themselves.
func Less(a, b string) bool {
	ma, errA := parseMinutes(a)
	mb, errB := parseMinutes(b)
	switch {
	case errA == nil && errB == nil:
		return ma < mb
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}

func parseMinutes(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("invalid time %q: empty", raw)
	}
	hourPart, minutePart, hasMinutes := strings.Cut(s, ":")
	hour, err := strconv.Atoi(hourPart)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid time %q: hour must be 0-23", raw)
	}
	minute := 0
	if hasMinutes {
		if len(minutePart) != 2 {
			return 0, fmt.Errorf("invalid time %q: minutes must have two digits", raw)
		}
		minute, err = strconv.Atoi(minutePart)
		if err != nil || minute < 0 || minute > 59 {
			return 0, fmt.Errorf("invalid time %q: minutes must be 00-59", raw)
		}
	}
	return hour*60 + minute, nil
}
