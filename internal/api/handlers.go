package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meshmate/internal/registry"
	"meshmate/internal/schedule"
	kit "meshmate/internal/transport"
	rtsup "meshmate/internal/runtime/supervisor"
	logx "meshmate/pkg/logx"
)

const maxBodyBytes = 64 << 10

// Scheduler is the read side of the registry used by the API.
type Scheduler interface {
	List(owner string) []*schedule.Schedule
	Stats() registry.Stats
	Degraded() error
}

// RequestObserver counts served requests.
type RequestObserver interface {
	HTTPRequest(endpoint, method string, status int)
}

type nopObserver struct{}

func (nopObserver) HTTPRequest(string, string, int) {}

// Deps are the collaborators behind the endpoints. Nil fields degrade the
// matching endpoint instead of panicking.
type Deps struct {
	Version   string
	Transport interface{ Connected() bool }
	Sender    kit.Sender
	Scheduler Scheduler
	// Location is the scheduler zone used for next_run.
	Location func() *time.Location
	Gatherer prometheus.Gatherer
	Observer RequestObserver
	// Runtime reports background goroutine counters for /health.
	Runtime func() rtsup.Counters
	Now     func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Version == "" {
		d.Version = "dev"
	}
	if d.Location == nil {
		d.Location = func() *time.Location { return time.Local }
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	if d.Observer == nil {
		d.Observer = nopObserver{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

type errorBody struct {
	Error string `json:"error"`
}

type healthBody struct {
	Status        string          `json:"status"`
	Connected     bool            `json:"transport_connected"`
	StoreDegraded bool            `json:"store_degraded"`
	StoreError    string          `json:"store_error,omitempty"`
	Scheduler     *registry.Stats `json:"scheduler,omitempty"`
	Goroutines    *rtsup.Counters `json:"goroutines,omitempty"`
	Version       string          `json:"version"`
}

type sendRequest struct {
	Text    string          `json:"text"`
	Channel json.RawMessage `json:"channel"`
}

// channel defaults to 0 and rejects anything but a non-negative integer.
func (r sendRequest) channel() (int, bool) {
	raw := strings.TrimSpace(string(r.Channel))
	if raw == "" || raw == "null" {
		return 0, true
	}
	var ch int
	if err := json.Unmarshal(r.Channel, &ch); err != nil || ch < 0 {
		return 0, false
	}
	return ch, true
}

type sendResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Channel int    `json:"channel"`
}

type scheduleView struct {
	ID        int       `json:"id"`
	Time      string    `json:"time"`
	Content   string    `json:"content"`
	IsCommand bool      `json:"is_command"`
	Channel   int       `json:"channel"`
	Recurring bool      `json:"is_recurring"`
	Weekdays  []string  `json:"weekday_names,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	NextRun   string    `json:"next_run,omitempty"`
}

type schedulesBody struct {
	Owner     string         `json:"owner"`
	Schedules []scheduleView `json:"schedules"`
}

type infoBody struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

// Handler builds the routed handler. token, when set, guards /send and
// /schedules; /metrics, /health and /info stay open for scrapers.
func (s *Service) Handler(token string) http.Handler {
	d := s.deps
	r := mux.NewRouter()
	r.Use(s.countRequests)

	r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	r.Handle("/send", withAuth(token, http.HandlerFunc(s.handleSend))).Methods(http.MethodPost)
	r.Handle("/schedules", withAuth(token, http.HandlerFunc(s.handleSchedules))).Methods(http.MethodGet)
	r.Handle("/schedules/{owner}", withAuth(token, http.HandlerFunc(s.handleSchedules))).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})
	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	d := s.deps
	body := healthBody{Version: d.Version}
	if d.Transport != nil {
		body.Connected = d.Transport.Connected()
	}
	if d.Scheduler != nil {
		st := d.Scheduler.Stats()
		body.Scheduler = &st
		if err := d.Scheduler.Degraded(); err != nil {
			body.StoreDegraded = true
			body.StoreError = err.Error()
		}
	}
	if d.Runtime != nil {
		c := d.Runtime()
		body.Goroutines = &c
	}
	body.Status = "healthy"
	if !body.Connected || body.StoreDegraded {
		body.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Service) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, infoBody{
		Name:    "MeshMate",
		Version: s.deps.Version,
		Endpoints: map[string]string{
			"/metrics":   "Prometheus metrics (GET)",
			"/health":    "Health check (GET)",
			"/send":      "Send message (POST)",
			"/schedules": "List schedules of an owner (GET, ?owner=ID)",
			"/info":      "Bot information (GET)",
		},
	})
}

func (s *Service) handleSend(w http.ResponseWriter, r *http.Request) {
	d := s.deps
	if d.Sender == nil || (d.Transport != nil && !d.Transport.Connected()) {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "radio transport not available"})
		return
	}

	var req sendRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "No JSON data provided"})
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Missing required field: text"})
		return
	}
	ch, ok := req.channel()
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Channel must be a non-negative integer"})
		return
	}

	if err := d.Sender.SendText(r.Context(), ch, req.Text); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.log.Error("send via api failed", logx.Int("channel", ch), logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Failed to send message: " + err.Error()})
		return
	}
	s.log.Info("message sent via api", logx.Int("channel", ch))
	writeJSON(w, http.StatusOK, sendResponse{Success: true, Message: "Message sent successfully", Channel: ch})
}

func (s *Service) handleSchedules(w http.ResponseWriter, r *http.Request) {
	d := s.deps
	owner := mux.Vars(r)["owner"]
	if owner == "" {
		owner = strings.TrimSpace(r.URL.Query().Get("owner"))
	}
	if owner == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Missing required parameter: owner"})
		return
	}
	if d.Scheduler == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "scheduler not available"})
		return
	}

	now := d.Now().In(d.Location())
	list := d.Scheduler.List(owner)
	out := schedulesBody{Owner: owner, Schedules: make([]scheduleView, 0, len(list))}
	for _, sc := range list {
		v := scheduleView{
			ID:        sc.ID,
			Time:      sc.At.String(),
			Content:   sc.Content.Text,
			IsCommand: sc.Content.IsCommand(),
			Channel:   sc.Channel,
			Recurring: !sc.Recurrence.IsOneTime(),
			Weekdays:  sc.WeekdayNames,
			CreatedAt: sc.CreatedAt,
		}
		if next := sc.NextRun(now); !next.IsZero() {
			v.NextRun = next.Format(time.RFC3339)
		}
		out.Schedules = append(out.Schedules, v)
	}
	writeJSON(w, http.StatusOK, out)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// countRequests labels requests by route template so owner ids do not
// become label values.
func (s *Service) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		s.deps.Observer.HTTPRequest(endpoint, r.Method, rec.status)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
