package schedule

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// AllDays is the recurrence keyword for every weekday.
const AllDays = "all"

// dayNames is indexed by weekday index (0=Monday ... 6=Sunday).
var dayNames = [7]string{"lunes", "martes", "miercoles", "jueves", "viernes", "sabado", "domingo"}

// DayName returns the display name for a weekday index, or "" when out of range.
func DayName(idx int) string {
	if idx < 0 || idx >= len(dayNames) {
		return ""
	}
	return dayNames[idx]
}

// WeekdayIndex returns the Monday-based weekday index of t.
func WeekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// LookupDay resolves a day name token. Case and accents are ignored.
func LookupDay(token string) (int, bool) {
	f := fold(token)
	for i, n := range dayNames {
		if n == f {
			return i, true
		}
	}
	return 0, false
}

// MentionsDay reports whether token is "all" or contains a day name.
// The command layer uses it to tell a trailing recurrence argument apart from content.
func MentionsDay(token string) bool {
	f := fold(token)
	if f == AllDays {
		return true
	}
	for _, n := range dayNames {
		if strings.Contains(f, n) {
			return true
		}
	}
	return false
}

// Recurrence is either one-time (no days) or a non-empty set of weekday indices.
type Recurrence struct {
	days []int
}

// OneTime returns the one-time recurrence.
func OneTime() Recurrence { return Recurrence{} }

// EveryDay returns a recurrence on all seven days.
func EveryDay() Recurrence { return Recurrence{days: []int{0, 1, 2, 3, 4, 5, 6}} }

// Weekly builds a recurring set. Out-of-range indices are dropped; duplicates collapse.
// An empty result yields OneTime.
func Weekly(days ...int) Recurrence {
	seen := [7]bool{}
	out := make([]int, 0, len(days))
	for _, d := range days {
		if d < 0 || d > 6 || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	if len(out) == 0 {
		return OneTime()
	}
	sort.Ints(out)
	return Recurrence{days: out}
}

// ParseRecurrence parses a comma-separated list of day names or "all".
// Empty text means one-time.
func ParseRecurrence(text string) (Recurrence, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return OneTime(), nil
	}
	if fold(text) == AllDays {
		return EveryDay(), nil
	}
	tokens := strings.Split(text, ",")
	days := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		d, ok := LookupDay(tok)
		if !ok {
			return Recurrence{}, newError(ErrInvalidWeekday, "Día inválido: %s. Usa días en español o \"all\"", strings.ToLower(strings.TrimSpace(tok)))
		}
		days = append(days, d)
	}
	return Weekly(days...), nil
}

func (r Recurrence) IsOneTime() bool { return len(r.days) == 0 }

func (r Recurrence) IsEveryDay() bool { return len(r.days) == 7 }

// Days returns a copy of the weekday indices (nil for one-time).
func (r Recurrence) Days() []int {
	if len(r.days) == 0 {
		return nil
	}
	return append([]int(nil), r.days...)
}

func (r Recurrence) Includes(day int) bool {
	for _, d := range r.days {
		if d == day {
			return true
		}
	}
	return false
}

// Names returns display names matching Days.
func (r Recurrence) Names() []string {
	out := make([]string, 0, len(r.days))
	for _, d := range r.days {
		out = append(out, DayName(d))
	}
	return out
}

func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return out
}
