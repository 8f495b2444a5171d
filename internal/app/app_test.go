package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func writeConfig(t *testing.T, path, dir string, maxPerUser int) {
	t.Helper()
	body := fmt.Sprintf(`mesh:
  driver: console
  channels: [LongFast, iberia]
logging:
  level: error
  console: true
scheduler:
  enabled: true
  timezone: UTC
  max_per_user: %d
storage:
  driver: file
  path: %s
api:
  enabled: true
  addr: 127.0.0.1:0
`, maxPerUser, filepath.Join(dir, "schedules.json"))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestAppEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeConfig(t, cfgPath, dir, 2)

	pr, pw := io.Pipe()
	out := &syncBuffer{}
	a, err := New(cfgPath, Options{Version: "test", In: pr, Out: out})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fmt.Fprintln(pw, "!alice 0 /schedule add 23:59 hola")
	waitFor(t, "add reply", func() bool {
		return strings.Contains(out.String(), "Schedule #1 creado para 23:59 (una vez)")
	})

	fmt.Fprintln(pw, "!alice 1 /ping")
	waitFor(t, "pong", func() bool { return strings.Contains(out.String(), "[ch 1] @alice pong") })

	waitFor(t, "api listener", func() bool { return a.APIAddr() != "" })
	resp, err := http.Get("http://" + a.APIAddr() + "/schedules?owner=!alice")
	if err != nil {
		t.Fatalf("GET /schedules: %v", err)
	}
	var body struct {
		Schedules []struct {
			ID      int    `json:"id"`
			Content string `json:"content"`
			NextRun string `json:"next_run"`
		} `json:"schedules"`
	}
	err = json.NewDecoder(resp.Body).Decode(&body)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Schedules) != 1 || body.Schedules[0].Content != "hola" || body.Schedules[0].NextRun == "" {
		t.Fatalf("schedules = %+v", body.Schedules)
	}

	// Quota is applied live on reload.
	writeConfig(t, cfgPath, dir, 1)
	waitFor(t, "quota reload", func() bool { return a.sched.Stats().MaxPerUser == 1 })

	fmt.Fprintln(pw, "!alice 0 /schedule add 10:00 otra")
	waitFor(t, "quota reply", func() bool { return strings.Contains(out.String(), "Límite alcanzado (1 schedules máximo)") })

	_ = pw.Close()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "schedules.json"))
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if !strings.Contains(string(raw), `"content": "hola"`) {
		t.Fatalf("store missing schedule: %s", raw)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte("scheduler:\n  timezone: Mars/Olympus\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(p, Options{In: strings.NewReader(""), Out: io.Discard}); err == nil {
		t.Fatal("expected config error")
	}
	if _, err := New(filepath.Join(dir, "missing.yaml"), Options{}); err == nil {
		t.Fatal("expected missing file error")
	}
}
