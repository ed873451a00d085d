package service

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const deltaPrefix = "delta:"

// ParseWhen resolves a schedule time given either as absolute epoch
// milliseconds or as "delta:<millis>" relative to now. Times in the past are
// accepted; the next processing run picks them up.
func ParseWhen(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrNoScheduleTime
	}

	if rest, ok := strings.CutPrefix(raw, deltaPrefix); ok {
		delta, err := strconv.ParseInt(rest, 10, 64)
		if err != nil || delta < 0 || delta > math.MaxInt64/int64(time.Millisecond) {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidScheduleTime, raw)
		}
		return now.Add(time.Duration(delta) * time.Millisecond).UTC(), nil
	}

	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || millis <= 0 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidScheduleTime, raw)
	}
	return time.UnixMilli(millis).UTC(), nil
}
