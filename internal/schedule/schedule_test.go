package schedule

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Clock
		ok   bool
	}{
		{raw: "09:30", want: Clock{9, 30}, ok: true},
		{raw: " 23:59 ", want: Clock{23, 59}, ok: true},
		{raw: "7:05", want: Clock{7, 5}, ok: true},
		{raw: "00:00", want: Clock{0, 0}, ok: true},
		{raw: "24:00"},
		{raw: "12:60"},
		{raw: "1230"},
		{raw: "12:30:00"},
		{raw: "ab:cd"},
		{raw: ""},
		{raw: "123:00"},
		{raw: "+9:30"},
		{raw: "-0:30"},
		{raw: "+0:+5"},
		{raw: "9: 5"},
		{raw: "٠٩:٣٠"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseClock(tt.raw)
			if !tt.ok {
				if !errors.Is(err, ErrInvalidTime) {
					t.Fatalf("ParseClock(%q) err = %v, want ErrInvalidTime", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseClock(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParseClock(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestClockString(t *testing.T) {
	t.Parallel()
	if got := (Clock{Hour: 7, Minute: 5}).String(); got != "07:05" {
		t.Fatalf("String() = %q, want 07:05", got)
	}
}

func TestParseRecurrence(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		raw   string
		days  []int
		names []string
	}{
		{name: "empty is one-time", raw: "", days: nil, names: []string{}},
		{name: "two days", raw: "lunes,miercoles", days: []int{0, 2}, names: []string{"lunes", "miercoles"}},
		{name: "order and duplicates", raw: "miercoles, lunes,LUNES", days: []int{0, 2}, names: []string{"lunes", "miercoles"}},
		{name: "accents", raw: "Miércoles,sábado", days: []int{2, 5}, names: []string{"miercoles", "sabado"}},
		{name: "all", raw: "all", days: []int{0, 1, 2, 3, 4, 5, 6}},
		{name: "all uppercase", raw: " ALL ", days: []int{0, 1, 2, 3, 4, 5, 6}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseRecurrence(tt.raw)
			if err != nil {
				t.Fatalf("ParseRecurrence(%q) error: %v", tt.raw, err)
			}
			if !reflect.DeepEqual(r.Days(), tt.days) {
				t.Fatalf("Days() = %v, want %v", r.Days(), tt.days)
			}
			if tt.names != nil && !reflect.DeepEqual(r.Names(), tt.names) {
				t.Fatalf("Names() = %v, want %v", r.Names(), tt.names)
			}
		})
	}
}

func TestParseRecurrenceInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"funday", "lunes,funday", "lunes,", "todos"} {
		_, err := ParseRecurrence(raw)
		if !errors.Is(err, ErrInvalidWeekday) {
			t.Fatalf("ParseRecurrence(%q) err = %v, want ErrInvalidWeekday", raw, err)
		}
	}
	_, err := ParseRecurrence("lunes,funday")
	if got := UserMessage(err); got != `Día inválido: funday. Usa días en español o "all"` {
		t.Fatalf("UserMessage = %q", got)
	}
}

func TestAllEqualsSevenNames(t *testing.T) {
	t.Parallel()
	all, err := ParseRecurrence("all")
	if err != nil {
		t.Fatal(err)
	}
	named, err := ParseRecurrence("lunes,martes,miercoles,jueves,viernes,sabado,domingo")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(all.Days(), named.Days()) || !reflect.DeepEqual(all.Names(), named.Names()) {
		t.Fatalf("all = %v/%v, named = %v/%v", all.Days(), all.Names(), named.Days(), named.Names())
	}
	s := &Schedule{Recurrence: named, WeekdayNames: named.Names()}
	if got := s.RecurrenceLabel(); got != "(todos los días)" {
		t.Fatalf("RecurrenceLabel() = %q", got)
	}
}

func TestWeekdayIndex(t *testing.T) {
	t.Parallel()
	mon := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		if got := WeekdayIndex(mon.AddDate(0, 0, i)); got != i {
			t.Fatalf("WeekdayIndex(+%d days) = %d, want %d", i, got, i)
		}
	}
}

func TestDayName(t *testing.T) {
	t.Parallel()
	if DayName(0) != "lunes" || DayName(6) != "domingo" {
		t.Fatalf("DayName(0), DayName(6) = %q, %q", DayName(0), DayName(6))
	}
	if DayName(-1) != "" || DayName(7) != "" {
		t.Fatal("out of range index should have no name")
	}
}

func TestMentionsDay(t *testing.T) {
	t.Parallel()
	yes := []string{"all", "lunes,viernes", "Sábado", "lunes,xx"}
	no := []string{"hola", "/ping", "09:30"}
	for _, s := range yes {
		if !MentionsDay(s) {
			t.Fatalf("MentionsDay(%q) = false", s)
		}
	}
	for _, s := range no {
		if MentionsDay(s) {
			t.Fatalf("MentionsDay(%q) = true", s)
		}
	}
}

func TestParseContent(t *testing.T) {
	t.Parallel()
	if c := ParseContent("/ping"); !c.IsCommand() || c.Text != "/ping" {
		t.Fatalf("ParseContent(/ping) = %+v", c)
	}
	if c := ParseContent("  /meteo"); !c.IsCommand() {
		t.Fatalf("leading spaces should still be a command: %+v", c)
	}
	if c := ParseContent("regar plantas"); c.IsCommand() {
		t.Fatalf("ParseContent(reminder) = %+v", c)
	}
}

func TestNextRun(t *testing.T) {
	t.Parallel()
	tue := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	rec := &Schedule{At: Clock{8, 0}, Recurrence: Weekly(0, 2), Active: true}
	if got, want := rec.NextRun(tue), time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("recurring NextRun = %v, want %v", got, want)
	}

	once := &Schedule{At: Clock{9, 30}, Active: true}
	after := time.Date(2024, 1, 1, 9, 30, 20, 0, time.UTC)
	if got, want := once.NextRun(after), time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("one-time NextRun = %v, want %v", got, want)
	}

	once.Active = false
	if got := once.NextRun(after); !got.IsZero() {
		t.Fatalf("inactive NextRun = %v, want zero", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()
	s := &Schedule{ID: 1, Recurrence: Weekly(1), WeekdayNames: []string{"martes"}, ExecutedDates: []string{"2024-01-01"}}
	cp := s.Clone()
	cp.WeekdayNames[0] = "x"
	cp.ExecutedDates[0] = "x"
	if s.WeekdayNames[0] != "martes" || s.ExecutedDates[0] != "2024-01-01" {
		t.Fatalf("Clone shares slices with original")
	}
}
