package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"meshmate/internal/metrics"
	"meshmate/internal/registry"
	rtsup "meshmate/internal/runtime/supervisor"
	"meshmate/internal/schedule"
	logx "meshmate/pkg/logx"
)

type fakeTransport struct{ up bool }

func (f fakeTransport) Connected() bool { return f.up }

type sent struct {
	ch   int
	text string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeSender) SendText(_ context.Context, ch int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{ch, text})
	return nil
}

type fakeScheduler struct {
	byOwner  map[string][]*schedule.Schedule
	degraded error
}

func (f fakeScheduler) List(owner string) []*schedule.Schedule { return f.byOwner[owner] }
func (f fakeScheduler) Stats() registry.Stats {
	return registry.Stats{Users: len(f.byOwner), ActiveSchedules: 1, MaxPerUser: 5}
}
func (f fakeScheduler) Degraded() error { return f.degraded }

func newTestService(t *testing.T, deps Deps) (*Service, *metrics.Metrics) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg, "test")
	if err != nil {
		t.Fatalf("metrics.New: %v", err)
	}
	deps.Gatherer = reg
	deps.Observer = m
	deps.Version = "test"
	return New(Config{Enabled: true}, deps, logx.Nop()), m
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s: %v (%q)", method, target, err, rec.Body.String())
		}
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		up        bool
		degraded  error
		want      string
		storeFlag bool
	}{
		{"healthy", true, nil, "healthy", false},
		{"disconnected", false, nil, "degraded", false},
		{"store failing", true, errors.New("disk full"), "degraded", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newTestService(t, Deps{
				Transport: fakeTransport{up: tc.up},
				Scheduler: fakeScheduler{degraded: tc.degraded},
				Runtime:   func() rtsup.Counters { return rtsup.Counters{Active: 3, Restarts: 1} },
			})
			rec, body := do(t, s.Handler(""), http.MethodGet, "/health", "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if body["status"] != tc.want {
				t.Fatalf("status field = %v, want %s", body["status"], tc.want)
			}
			if body["store_degraded"] != tc.storeFlag {
				t.Fatalf("store_degraded = %v, want %v", body["store_degraded"], tc.storeFlag)
			}
			if body["transport_connected"] != tc.up {
				t.Fatalf("transport_connected = %v, want %v", body["transport_connected"], tc.up)
			}
			g, _ := body["goroutines"].(map[string]any)
			if g["active"] != float64(3) || g["restarts"] != float64(1) {
				t.Fatalf("goroutines = %v", body["goroutines"])
			}
		})
	}
}

func TestSend(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		up      bool
		sendErr error
		body    string
		code    int
		wantErr string
	}{
		{"ok default channel", true, nil, `{"text":"hola"}`, 200, ""},
		{"ok explicit channel", true, nil, `{"text":"hola","channel":2}`, 200, ""},
		{"no json", true, nil, ``, 400, "No JSON data provided"},
		{"missing text", true, nil, `{"channel":1}`, 400, "Missing required field: text"},
		{"negative channel", true, nil, `{"text":"x","channel":-1}`, 400, "Channel must be a non-negative integer"},
		{"string channel", true, nil, `{"text":"x","channel":"1"}`, 400, "Channel must be a non-negative integer"},
		{"fractional channel", true, nil, `{"text":"x","channel":1.5}`, 400, "Channel must be a non-negative integer"},
		{"disconnected", false, nil, `{"text":"x"}`, 503, "radio transport not available"},
		{"send fails", true, errors.New("serial write"), `{"text":"x"}`, 500, "Failed to send message: serial write"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snd := &fakeSender{err: tc.sendErr}
			s, m := newTestService(t, Deps{Transport: fakeTransport{up: tc.up}, Sender: snd})

			rec, body := do(t, s.Handler(""), http.MethodPost, "/send", tc.body)
			if rec.Code != tc.code {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.code, rec.Body.String())
			}
			if tc.wantErr != "" {
				if body["error"] != tc.wantErr {
					t.Fatalf("error = %v, want %q", body["error"], tc.wantErr)
				}
				if len(snd.sent) != 0 {
					t.Fatalf("nothing should be sent, got %+v", snd.sent)
				}
			} else if body["success"] != true || len(snd.sent) != 1 || snd.sent[0].text != "hola" {
				t.Fatalf("body = %v, sent = %+v", body, snd.sent)
			}

			var out dto.Metric
			if err := m.HTTPRequests.WithLabelValues("/send", http.MethodPost, strconv.Itoa(tc.code)).Write(&out); err != nil {
				t.Fatalf("write metric: %v", err)
			}
			if got := out.GetCounter().GetValue(); got != 1 {
				t.Fatalf("http_requests_total{/send,%d} = %v, want 1", tc.code, got)
			}
		})
	}
}

func TestSendChannel(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	s, _ := newTestService(t, Deps{Transport: fakeTransport{up: true}, Sender: snd})
	_, body := do(t, s.Handler(""), http.MethodPost, "/send", `{"text":"hola","channel":3}`)
	if body["channel"] != float64(3) || snd.sent[0].ch != 3 {
		t.Fatalf("body = %v, sent = %+v", body, snd.sent)
	}
}

func TestSchedules(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)
	sched := fakeScheduler{byOwner: map[string][]*schedule.Schedule{
		"!abc": {{
			ID: 1, OwnerID: "!abc",
			At:         schedule.Clock{Hour: 8, Minute: 30},
			Content:    schedule.ParseContent("/ping"),
			Recurrence: schedule.EveryDay(),
			Active:     true,
			CreatedAt:  created,
		}},
	}}
	s, _ := newTestService(t, Deps{
		Scheduler: sched,
		Location:  func() *time.Location { return time.UTC },
		Now:       func() time.Time { return time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC) },
	})
	h := s.Handler("")

	for _, target := range []string{"/schedules?owner=!abc", "/schedules/!abc"} {
		rec, body := do(t, h, http.MethodGet, target, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", target, rec.Code)
		}
		list, _ := body["schedules"].([]any)
		if len(list) != 1 {
			t.Fatalf("%s: schedules = %v", target, body["schedules"])
		}
		item := list[0].(map[string]any)
		if item["time"] != "08:30" || item["is_command"] != true || item["is_recurring"] != true {
			t.Fatalf("%s: item = %v", target, item)
		}
		if item["next_run"] != "2024-01-01T08:30:00Z" {
			t.Fatalf("%s: next_run = %v", target, item["next_run"])
		}
	}

	rec, body := do(t, h, http.MethodGet, "/schedules", "")
	if rec.Code != http.StatusBadRequest || body["error"] == nil {
		t.Fatalf("missing owner: status = %d body = %v", rec.Code, body)
	}

	_, body = do(t, h, http.MethodGet, "/schedules?owner=!nobody", "")
	if list, ok := body["schedules"].([]any); !ok || len(list) != 0 {
		t.Fatalf("unknown owner should get an empty list, got %v", body["schedules"])
	}
}

func TestAuth(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	s, _ := newTestService(t, Deps{Transport: fakeTransport{up: true}, Sender: snd})
	h := s.Handler("secret")

	rec, _ := do(t, h, http.MethodPost, "/send", `{"text":"x"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", rec.Code)
	}
	rec, _ = do(t, h, http.MethodPost, "/send?token=wrong", `{"text":"x"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(`{"text":"x"}`))
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("bearer token: status = %d", rr.Code)
	}

	rec, _ = do(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("/health should stay open, status = %d", rec.Code)
	}
}

func TestMetricsAndInfo(t *testing.T) {
	t.Parallel()
	s, m := newTestService(t, Deps{})
	h := s.Handler("")

	m.MessageSent(0, nil)
	rec, _ := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", rec.Code)
	}
	text := rec.Body.String()
	for _, want := range []string{"meshmate_bot_info", `meshmate_messages_sent_total{channel="channel_0"} 1`} {
		if !strings.Contains(text, want) {
			t.Fatalf("/metrics missing %q", want)
		}
	}

	rec, body := do(t, h, http.MethodGet, "/info", "")
	if rec.Code != http.StatusOK || body["name"] != "MeshMate" || body["version"] != "test" {
		t.Fatalf("/info = %d %v", rec.Code, body)
	}

	rec, _ = do(t, h, http.MethodGet, "/send", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /send status = %d", rec.Code)
	}
	rec, _ = do(t, h, http.MethodGet, "/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("/nope status = %d", rec.Code)
	}
}

func TestStartStop(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Deps{Transport: fakeTransport{up: true}}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	if s.Addr() != "" {
		t.Fatal("listener still bound after Stop")
	}
}

func TestRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	if isLoopbackAddr("0.0.0.0:8080") || isLoopbackAddr(":8080") {
		t.Fatal("wildcard addresses are not loopback")
	}
	if !isLoopbackAddr("127.0.0.1:8080") || !isLoopbackAddr("localhost:1") || !isLoopbackAddr("[::1]:80") {
		t.Fatal("loopback addresses not recognised")
	}
}
