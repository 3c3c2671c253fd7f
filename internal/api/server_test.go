package api

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"

	"github.com/smazurov/hdrnode/internal/aec"
	"github.com/smazurov/hdrnode/internal/api/models"
	"github.com/smazurov/hdrnode/internal/camera"
	"github.com/smazurov/hdrnode/internal/events"
	"github.com/smazurov/hdrnode/internal/session"
	"github.com/smazurov/hdrnode/internal/shutter"
)

type mockSession struct {
	mu         sync.Mutex
	m          *shutter.Map
	modes      session.Modes
	rebuildErr error
	rebuilds   int
}

func newMockSession(t *testing.T) *mockSession {
	t.Helper()
	m, err := shutter.NewMap([]shutter.Entry{
		{Code: 0, Abs: 0.0001},
		{Code: 1, Abs: 0.0002},
		{Code: 2, Abs: 0.0004},
		{Code: 3, Abs: 0.0008},
	})
	if err != nil {
		t.Fatal(err)
	}
	return &mockSession{m: m}
}

func (m *mockSession) CameraID() string { return "cam0" }

func (m *mockSession) Snapshot() session.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return session.Snapshot{
		RunID:    "run-1",
		CameraID: "cam0",
		Modes:    m.modes,
		Bracket:  [4]uint32{0, 0, 3, 3},
		Exposure: aec.State{Under: 0.0001, Over: 0.0008, Direction: aec.Over},
		Tuning:   aec.DefaultTuning(),
		Bounds:   aec.Bounds{Min: 0.0001, Max: 0.0008},
		Cycle:    7,
	}
}

func (m *mockSession) RequestModes(modes session.Modes) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modes = modes
}

func (m *mockSession) Map() *shutter.Map { return m.m }

func (m *mockSession) Rebuild(context.Context) (*shutter.Map, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rebuilds++
	if m.rebuildErr != nil {
		return nil, m.rebuildErr
	}
	return m.m, nil
}

func newTestServer(t *testing.T, sess SessionService) (*Server, humatest.TestAPI) {
	t.Helper()
	server := NewServer(&Options{
		AuthUsername: "test",
		AuthPassword: "secret",
		Session:      sess,
		EventBus:     events.New(),
		PrometheusHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("hdrnode_cycles_total 7\n"))
		}),
	})
	return server, humatest.Wrap(t, server.GetAPI())
}

func authHeader(user, pass string) string {
	return "Authorization: Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestHealthWithoutAuth(t *testing.T) {
	_, api := newTestServer(t, newMockSession(t))

	resp := api.Get("/api/health")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.Code, http.StatusOK)
	}
	var body models.HealthData
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestBasicAuth(t *testing.T) {
	_, api := newTestServer(t, newMockSession(t))

	tests := []struct {
		name string
		path string
		args []any
		want int
	}{
		{"missing", "/api/session", nil, http.StatusUnauthorized},
		{"wrong password", "/api/session", []any{authHeader("test", "nope")}, http.StatusUnauthorized},
		{"wrong scheme", "/api/session", []any{"Authorization: Bearer abc"}, http.StatusUnauthorized},
		{"bad encoding", "/api/session", []any{"Authorization: Basic !!!"}, http.StatusUnauthorized},
		{"header", "/api/session", []any{authHeader("test", "secret")}, http.StatusOK},
		{"query", "/api/session?auth=" + base64.StdEncoding.EncodeToString([]byte("test:secret")), nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := api.Get(tt.path, tt.args...)
			if resp.Code != tt.want {
				t.Errorf("status = %d, want %d", resp.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && resp.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestGetSession(t *testing.T) {
	_, api := newTestServer(t, newMockSession(t))

	resp := api.Get("/api/session", authHeader("test", "secret"))
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}

	var body models.SessionData
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.CameraID != "cam0" || body.Cycle != 7 {
		t.Errorf("session = %+v", body)
	}
	if len(body.Bracket) != 4 || body.Bracket[2] != 3 {
		t.Errorf("bracket = %v, want [0 0 3 3]", body.Bracket)
	}
	if body.Exposure.Direction != "over" {
		t.Errorf("direction = %q, want over", body.Exposure.Direction)
	}
}

func TestSetModes(t *testing.T) {
	sess := newMockSession(t)
	_, api := newTestServer(t, sess)

	resp := api.Put("/api/session/modes", authHeader("test", "secret"), map[string]any{
		"hdr":          true,
		"aec":          true,
		"auto_shutter": false,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}

	got := sess.Snapshot().Modes
	if !got.HDR || !got.AEC || got.AutoShutter {
		t.Errorf("requested modes = %+v", got)
	}
}

func TestShutterMap(t *testing.T) {
	_, api := newTestServer(t, newMockSession(t))

	tests := []struct {
		name        string
		path        string
		wantEntries int
	}{
		{"summary", "/api/shutter", 0},
		{"with table", "/api/shutter?entries=true", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := api.Get(tt.path, authHeader("test", "secret"))
			if resp.Code != http.StatusOK {
				t.Fatalf("status = %d", resp.Code)
			}
			var body models.ShutterMapData
			if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Entries != 4 || body.MinCode != 0 || body.MaxCode != 3 {
				t.Errorf("summary = %+v", body)
			}
			if len(body.Table) != tt.wantEntries {
				t.Errorf("table entries = %d, want %d", len(body.Table), tt.wantEntries)
			}
		})
	}
}

func TestShutterLookup(t *testing.T) {
	_, api := newTestServer(t, newMockSession(t))

	tests := []struct {
		name     string
		query    string
		want     int
		wantCode uint32
		wantAbs  float64
	}{
		{"code to abs", "code=2", http.StatusOK, 2, 0.0004},
		{"abs to code", "abs=0.0003", http.StatusOK, 2, 0.0004},
		{"exact abs", "abs=0.0002", http.StatusOK, 1, 0.0002},
		{"abs beyond map", "abs=0.5", http.StatusNotFound, 0, 0},
		{"code beyond map", "code=9", http.StatusNotFound, 0, 0},
		{"code beyond 32 bits", "code=4294967298", http.StatusUnprocessableEntity, 0, 0},
		{"largest 32-bit code", "code=4294967295", http.StatusNotFound, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := api.Get("/api/shutter/lookup?"+tt.query, authHeader("test", "secret"))
			if resp.Code != tt.want {
				t.Fatalf("status = %d, want %d, body = %s", resp.Code, tt.want, resp.Body.String())
			}
			if tt.want != http.StatusOK {
				return
			}
			var body models.ShutterLookupData
			if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Code != tt.wantCode || body.Abs != tt.wantAbs {
				t.Errorf("lookup = %+v, want code %d abs %g", body, tt.wantCode, tt.wantAbs)
			}
		})
	}
}

func TestShutterRebuild(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, http.StatusOK},
		{"protocol failure", camera.ProtocolError("SetShutter", fmt.Errorf("link down")), http.StatusBadGateway},
		{"configuration", camera.ConfigurationError("Build", "empty code range"), http.StatusConflict},
		{"cancelled", context.Canceled, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newMockSession(t)
			sess.rebuildErr = tt.err
			_, api := newTestServer(t, sess)

			resp := api.Post("/api/shutter/rebuild", authHeader("test", "secret"))
			if resp.Code != tt.want {
				t.Errorf("status = %d, want %d", resp.Code, tt.want)
			}
			if sess.rebuilds != 1 {
				t.Errorf("rebuilds = %d, want 1", sess.rebuilds)
			}
		})
	}
}

func TestMetricsEndpointWithoutAuth(t *testing.T) {
	server, _ := newTestServer(t, newMockSession(t))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	server.GetMux().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "hdrnode_cycles_total") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	server, _ := newTestServer(t, newMockSession(t))

	req := httptest.NewRequest(http.MethodOptions, "/api/session/modes", nil)
	w := httptest.NewRecorder()
	server.GetMux().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestSSEStreamsBusEvents(t *testing.T) {
	bus := events.New()
	server := NewServer(&Options{
		AuthUsername: "test",
		AuthPassword: "secret",
		Session:      newMockSession(t),
		EventBus:     bus,
	})

	ts := httptest.NewServer(server.GetMux())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	credentials := base64.StdEncoding.EncodeToString([]byte("test:secret"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events?auth="+credentials, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to connect to SSE: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("Content-Type = %s", resp.Header.Get("Content-Type"))
	}

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	waitFor := func(prefix string) string {
		t.Helper()
		timeout := time.After(2 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed before %q", prefix)
				}
				if strings.HasPrefix(line, prefix) {
					return line
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	if got := waitFor("event:"); !strings.Contains(got, "modes-changed") {
		t.Errorf("first event = %q, want modes-changed", got)
	}
	waitFor("data:")

	bus.Publish(events.CaptureFailedEvent{CameraID: "cam0", Cycle: 3, Code: camera.ErrCodeProtocol})

	if got := waitFor("event:"); !strings.Contains(got, "capture-failed") {
		t.Errorf("event = %q, want capture-failed", got)
	}
	if got := waitFor("data:"); !strings.Contains(got, camera.ErrCodeProtocol) {
		t.Errorf("data = %q", got)
	}
}
