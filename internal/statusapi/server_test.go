package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flemzord/cronloop/internal/health"
	"github.com/flemzord/cronloop/internal/history"
	"github.com/flemzord/cronloop/internal/lockfile"
	"github.com/flemzord/cronloop/internal/schedule"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testHarness struct {
	engine *schedule.Engine
	store  history.Store
	server *Server
}

func newHarness(t *testing.T, token string) *testHarness {
	t.Helper()

	store := history.NewMemoryStore()
	engine := schedule.New(schedule.Config{
		Locks:   lockfile.NewManager(t.TempDir(), discardLogger()),
		History: store,
		Logger:  discardLogger(),
	})
	srv := New(Config{
		Engine:    engine,
		Monitor:   health.NewMonitor(engine, store, nil, discardLogger()),
		Gatherer:  prometheus.NewRegistry(),
		AuthToken: token,
		Logger:    discardLogger(),
	})
	return &testHarness{engine: engine, store: store, server: srv}
}

func noop(context.Context) error { return nil }

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	h.engine.RegisterFunc("probe", noop)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var resp healthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "healthy" || resp.Events != 1 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestHealthEndpointUnhealthyIs503(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	h.engine.RegisterFunc("broken", func(context.Context) error {
		return errors.New("boom")
	})
	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		h.engine.RunDueEvents(context.Background(), base.Add(time.Duration(i)*time.Minute))
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	h.engine.RegisterFunc("export", noop).Daily().Description("nightly export")
	h.engine.RunDueEvents(context.Background(), time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp statusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(resp.Events))
	}
	ev := resp.Events[0]
	if ev.ID != "export" || ev.Expression != "0 0 * * *" || ev.Successes != 1 {
		t.Fatalf("event = %+v", ev)
	}
}

func TestBearerAuth(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "secret-token")

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"status without token", "/status", "", http.StatusUnauthorized},
		{"status with wrong token", "/status", "Bearer nope", http.StatusUnauthorized},
		{"status with token", "/status", "Bearer secret-token", http.StatusOK},
		{"metrics without token", "/metrics", "", http.StatusUnauthorized},
		{"report with token", "/report", "Bearer secret-token", http.StatusOK},
		{"health is public", "/health", "", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rr := httptest.NewRecorder()
		h.server.Handler().ServeHTTP(rr, req)
		if rr.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, rr.Code, tc.want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	store := history.NewMemoryStore()
	reg := prometheus.NewRegistry()
	engine := schedule.New(schedule.Config{
		Locks:   lockfile.NewManager(t.TempDir(), discardLogger()),
		History: store,
		Logger:  discardLogger(),
		Metrics: schedule.NewMetrics(reg),
	})
	srv := New(Config{
		Engine:   engine,
		Monitor:  health.NewMonitor(engine, store, nil, discardLogger()),
		Gatherer: reg,
		Logger:   discardLogger(),
	})

	engine.RegisterFunc("measured", noop)
	engine.RunDueEvents(context.Background(), time.Now())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "cronloop_runs_total") {
		t.Fatalf("metrics output is missing the run counter:\n%s", body)
	}
}

func TestEventStreamDeliversRuns(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	h.engine.RegisterFunc("streamed", noop)

	ts := httptest.NewServer(h.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Give the handler goroutine time to register its subscription.
	time.Sleep(100 * time.Millisecond)
	h.engine.RunDueEvents(context.Background(), time.Now())

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var entry history.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	if entry.EventID != "streamed" || !entry.Success {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestStreamDropsSlowSubscribers(t *testing.T) {
	t.Parallel()

	s := newStream(discardLogger())
	ch, ok := s.subscribe()
	if !ok {
		t.Fatal("subscribe refused")
	}

	// Fill the buffer without reading; the next publish evicts.
	for i := 0; i < 17; i++ {
		s.publish(history.Entry{EventID: "flood"})
	}

	// A closed channel drains then yields !open.
	open := true
	for open {
		_, open = <-ch
	}
}

func TestMCPScheduleListTool(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	h.engine.RegisterFunc("export", noop).Daily().Description("nightly export")
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	h.engine.RunDueEvents(context.Background(), now)

	res, err := h.server.mcpScheduleList(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("mcpScheduleList: %v", err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("content blocks = %d, want 1", len(res.Content))
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want mcp.TextContent", res.Content[0])
	}

	var stats schedule.Stats
	if err := json.Unmarshal([]byte(text.Text), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(stats.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(stats.Events))
	}
	ev := stats.Events[0]
	if ev.ID != "export" || ev.Expression != "0 0 * * *" || ev.Successes != 1 {
		t.Fatalf("event = %+v", ev)
	}
	if !ev.LastRun.Equal(now) {
		t.Fatalf("LastRun = %v, want %v", ev.LastRun, now)
	}
}
