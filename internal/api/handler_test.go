package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/hawatch/internal/action"
	"github.com/gyaneshwarpardhi/hawatch/internal/config"
	"github.com/gyaneshwarpardhi/hawatch/internal/engine"
	"github.com/gyaneshwarpardhi/hawatch/internal/notify"
	"github.com/gyaneshwarpardhi/hawatch/internal/rules"
)

const csvReport = "# pxname,svname,stot,check_status\nhttp-in,FRONTEND,42,\nweb,s1,5,L4OK\n"

type stubFetcher struct {
	mu    sync.Mutex
	body  string
	err   error
	gate  chan struct{} // when set, Fetch blocks until closed
	calls atomic.Int32
}

func (f *stubFetcher) set(body string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.body, f.err = body, err
}

func (f *stubFetcher) Fetch(ctx context.Context) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.body, f.err
}

type fixture struct {
	group   *engine.Group
	fetcher *stubFetcher
	bus     *notify.Bus
	stream  *Stream
	handler http.Handler
}

// newFixture adds an "edge" engine to group (a new one when nil) and
// serves it.
func newFixture(t *testing.T, group *engine.Group, loader *config.Loader, reloader *engine.Reloader) *fixture {
	t.Helper()
	if group == nil {
		group = engine.NewGroup(nil)
	}
	f := &fixture{group: group, fetcher: &stubFetcher{body: csvReport}, bus: notify.NewBus(nil)}
	set, err := rules.NewSet(rules.Defaults()...)
	require.NoError(t, err)

	require.NoError(t, f.group.Add(engine.New(f.fetcher, set, f.bus, engine.Options{Target: "edge", Interval: time.Hour, Aggregate: "http-in"})))

	f.stream = NewStream(f.bus)
	t.Cleanup(f.stream.Close)
	f.handler = New(f.group, loader, reloader, f.stream)
	return f
}

func (f *fixture) do(t *testing.T, method, path string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	var body map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func TestTargetsAndPoll(t *testing.T) {
	f := newFixture(t, nil, nil, nil)

	code, body := f.do(t, http.MethodGet, "/v1/targets/edge/snapshot")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "no snapshot yet", body["error"])

	code, body = f.do(t, http.MethodPost, "/v1/targets/edge/poll")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "matches", body["kind"])
	assert.Equal(t, "edge", body["target"])
	matches := body["matches"].([]interface{})
	require.Len(t, matches, 1)
	assert.Equal(t, rules.ServerOK, matches[0].(map[string]interface{})["rule_id"])

	code, body = f.do(t, http.MethodGet, "/v1/targets/edge/snapshot")
	require.Equal(t, http.StatusOK, code)
	snap := body["snapshot"].(map[string]interface{})
	assert.Equal(t, []interface{}{"pxname", "svname", "stot", "check_status"}, snap["headers"])
	recs := snap["records"].([]interface{})
	require.Len(t, recs, 2)
	assert.Equal(t, float64(42), recs[0].(map[string]interface{})["stot"])

	// a failed cycle keeps the last good snapshot
	f.fetcher.set("", errors.New("refused"))
	code, body = f.do(t, http.MethodPost, "/v1/targets/edge/poll")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "fetch_error", body["kind"])
	assert.Equal(t, "fetch failed: refused", body["error"])
	code, _ = f.do(t, http.MethodGet, "/v1/targets/edge/snapshot")
	assert.Equal(t, http.StatusOK, code)

	code, body = f.do(t, http.MethodGet, "/v1/targets")
	require.Equal(t, http.StatusOK, code)
	targets := body["targets"].([]interface{})
	require.Len(t, targets, 1)
	tv := targets[0].(map[string]interface{})
	assert.Equal(t, "edge", tv["name"])
	assert.Equal(t, float64(3), tv["rules"])
	assert.Equal(t, float64(42), tv["state"].(map[string]interface{})["last_total_sessions"])
	assert.Equal(t, "fetch_error", tv["last"].(map[string]interface{})["kind"])

	code, body = f.do(t, http.MethodPost, "/v1/targets/nope/poll")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, `unknown target "nope"`, body["error"])
}

func TestPoll_Conflict(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	gate := make(chan struct{})
	f.fetcher.mu.Lock()
	f.fetcher.gate = gate
	f.fetcher.mu.Unlock()

	e, _ := f.group.Get("edge")
	done := make(chan struct{})
	go func() {
		_, _ = e.RunCycle(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return f.fetcher.calls.Load() == 1 }, 5*time.Second, time.Millisecond)

	code, body := f.do(t, http.MethodPost, "/v1/targets/edge/poll")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "cycle already in progress", body["error"])

	close(gate)
	<-done
}

func TestListRules(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	code, body := f.do(t, http.MethodGet, "/v1/rules")
	require.Equal(t, http.StatusOK, code)
	edge := body["targets"].(map[string]interface{})["edge"].([]interface{})
	require.Len(t, edge, 3)
	first := edge[0].(map[string]interface{})
	assert.Equal(t, rules.ServerOK, first["id"])
	assert.Equal(t, []interface{}{`svname ne "FRONTEND"`, `svname ne "BACKEND"`, `check_status in ["L4OK"]`}, first["criteria"])
	assert.NotContains(t, body, "version")
}

func TestReload(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	code, _ := f.do(t, http.MethodPost, "/v1/rules/reload")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	const base = `
version: v2
targets:
  - name: edge
    url: http://lb.invalid/stats
`
	path := filepath.Join(t.TempDir(), "hawatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(base), 0o644))
	loader, err := config.NewLoader(path)
	require.NoError(t, err)

	reg := action.NewRegistry()
	reg.Register(action.NewLog(nil))
	group := engine.NewGroup(nil)
	reloader := engine.NewReloader(group, reg)
	loader.OnChange(reloader.Apply)

	f = newFixture(t, group, loader, reloader)

	require.NoError(t, os.WriteFile(path, []byte(base+`rules:
  - id: busy
    criteria:
      - header: stot
        op: gt
        value: 10
    handler:
      type: log
`), 0o644))
	code, body := f.do(t, http.MethodPost, "/v1/rules/reload")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["reloaded"])
	assert.Equal(t, map[string]interface{}{"edge": []interface{}{"busy"}}, body["added"])

	code, body = f.do(t, http.MethodGet, "/v1/rules")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "v2", body["version"])
	edge := body["targets"].(map[string]interface{})["edge"].([]interface{})
	require.Len(t, edge, 4)
	assert.Equal(t, "log", edge[3].(map[string]interface{})["handler"])

	require.NoError(t, os.WriteFile(path, []byte(base+`rules:
  - id: broken
    handler:
      type: pager
`), 0o644))
	code, body = f.do(t, http.MethodPost, "/v1/rules/reload")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, body["error"], `no handler registered for type "pager"`)

	require.NoError(t, os.WriteFile(path, []byte("version: v3\ntargets: []\n"), 0o644))
	code, body = f.do(t, http.MethodPost, "/v1/rules/reload")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, body["error"], "at least one target is required")
	_, body = f.do(t, http.MethodGet, "/v1/rules")
	assert.Equal(t, "v2", body["version"], "an invalid file is never served")

	require.NoError(t, os.WriteFile(path, []byte("version: ["), 0o644))
	code, _ = f.do(t, http.MethodPost, "/v1/rules/reload")
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestHealthAndReadiness(t *testing.T) {
	f := newFixture(t, nil, nil, nil)

	code, body := f.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = f.do(t, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, []interface{}{"edge"}, body["pending"])

	f.do(t, http.MethodPost, "/v1/targets/edge/poll")
	code, _ = f.do(t, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hawatch_cycles_total")
}

func TestStream(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream?target=edge"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return f.stream.Clients() == 1 }, 5*time.Second, 5*time.Millisecond)

	// other targets are filtered out
	f.bus.Emit(context.Background(), notify.Notification{Name: notify.Error, Target: "other", Err: errors.New("x")})

	e, _ := f.group.Get("edge")
	_, err = e.RunCycle(context.Background())
	require.NoError(t, err)

	var names []string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for len(names) < 2 {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var n map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &n))
		assert.Equal(t, "edge", n["target"])
		names = append(names, n["name"].(string))
	}
	assert.Equal(t, []string{rules.ServerOK, notify.Update}, names)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return f.stream.Clients() == 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestStream_NotAWebsocket(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
