package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a wall-clock time of day with minute resolution.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" (a single-digit hour or minute is accepted).
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 || !isClockField(parts[0]) || !isClockField(parts[1]) {
		return Clock{}, invalidTime()
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return Clock{}, invalidTime()
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return Clock{}, invalidTime()
	}
	return Clock{Hour: h, Minute: m}, nil
}

// isClockField reports whether f is one or two ASCII digits. Atoi alone would
// let "+9" or "-0" through.
func isClockField(f string) bool {
	if f == "" || len(f) > 2 {
		return false
	}
	for i := 0; i < len(f); i++ {
		if f[i] < '0' || f[i] > '9' {
			return false
		}
	}
	return true
}

func invalidTime() error {
	return newError(ErrInvalidTime, "Formato de hora inválido. Usa HH:MM (ej: 09:30)")
}

// ClockOf truncates t to its minute of day (in t's location).
func ClockOf(t time.Time) Clock {
	return Clock{Hour: t.Hour(), Minute: t.Minute()}
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }
