package engine_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/hawatch/internal/action"
	"github.com/gyaneshwarpardhi/hawatch/internal/condition"
	"github.com/gyaneshwarpardhi/hawatch/internal/config"
	"github.com/gyaneshwarpardhi/hawatch/internal/engine"
	"github.com/gyaneshwarpardhi/hawatch/internal/notify"
	"github.com/gyaneshwarpardhi/hawatch/internal/rules"
	"github.com/gyaneshwarpardhi/hawatch/internal/stats"
)

// scriptFetcher returns its responses in order, repeating the last one.
type scriptFetcher struct {
	mu        sync.Mutex
	responses []response
	calls     int
}

type response struct {
	body string
	err  error
}

func (f *scriptFetcher) Fetch(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.responses[min(f.calls, len(f.responses)-1)]
	f.calls++
	return r.body, r.err
}

func (f *scriptFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func report(stot int) string {
	return fmt.Sprintf("# pxname,svname,stot,check_status\nhttp-in,FRONTEND,%d,\nweb,s1,5,L4OK\nweb,s2,0,L4CON\n", stot)
}

func fixture(t *testing.T) string {
	t.Helper()
	raw, err := os.ReadFile("../stats/testdata/lbstats.csv")
	require.NoError(t, err)
	return string(raw)
}

func newEngine(t *testing.T, f engine.Fetcher, rec notify.Emitter, rs ...*rules.Rule) *engine.Engine {
	t.Helper()
	if rs == nil {
		rs = rules.Defaults()
	}
	set, err := rules.NewSet(rs...)
	require.NoError(t, err)
	return engine.New(f, set, rec, engine.Options{Target: "edge", Interval: 10 * time.Millisecond, Aggregate: "http-in"})
}

func TestRunCycle_Matches(t *testing.T) {
	rec := &notify.Recorder{}
	e := newEngine(t, &scriptFetcher{responses: []response{{body: fixture(t)}}}, rec)

	out, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeMatches, out.Kind)
	assert.False(t, out.Restarted)
	assert.NotEmpty(t, out.ID)
	require.NotNil(t, out.Snapshot)
	assert.Len(t, out.Snapshot.Records, 5)

	assert.Equal(t, []string{rules.ServerOK, rules.ServerOK, rules.ServerDown, notify.Update}, rec.Names())
	assert.Equal(t, []engine.MatchRef{
		{RuleID: rules.ServerOK, Event: rules.ServerOK, Aggregate: "blog-servers", Member: "blog1"},
		{RuleID: rules.ServerOK, Event: rules.ServerOK, Aggregate: "blog-servers", Member: "blog2"},
		{RuleID: rules.ServerDown, Event: rules.ServerDown, Aggregate: "blog-servers", Member: "blog3"},
	}, out.Matches)

	for _, n := range rec.Events {
		assert.Equal(t, "edge", n.Target)
		assert.Equal(t, out.ID, n.CycleID)
	}
	down := rec.Events[2]
	assert.Equal(t, stats.Text("L4CON"), down.Record.Get("check_status"))
	assert.Same(t, out.Snapshot, rec.Events[3].Snapshot)

	assert.Equal(t, engine.State{LastTotalSessions: 1162881, TrackedAggregate: "http-in"}, e.State())
	assert.Same(t, out, e.Last())
}

func TestRunCycle_FetchError(t *testing.T) {
	rec := &notify.Recorder{}
	cause := errors.New("connection refused")
	e := newEngine(t, &scriptFetcher{responses: []response{{err: cause}}}, rec)

	out, err := e.RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrFetch)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, engine.OutcomeFetchError, out.Kind)
	assert.Equal(t, "fetch failed: connection refused", out.Error)

	require.Equal(t, []string{notify.Error}, rec.Names(), "one error, no update")
	assert.ErrorIs(t, rec.Events[0].Err, cause)
	assert.Equal(t, engine.State{TrackedAggregate: "http-in"}, e.State())
}

func TestRunCycle_LastGoodSurvivesFailure(t *testing.T) {
	rec := &notify.Recorder{}
	e := newEngine(t, &scriptFetcher{responses: []response{
		{body: report(10)},
		{err: errors.New("timeout")},
	}}, rec)
	assert.Nil(t, e.Last())
	assert.Nil(t, e.LastGood())

	good, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	bad, err := e.RunCycle(context.Background())
	require.Error(t, err)

	assert.Same(t, bad, e.Last())
	assert.Same(t, good, e.LastGood())
	assert.Equal(t, int64(10), e.State().LastTotalSessions, "failed cycle leaves state alone")
}

func TestRunCycle_DecodeError(t *testing.T) {
	rec := &notify.Recorder{}
	e := newEngine(t, &scriptFetcher{responses: []response{{body: "http-in,FRONTEND,1\n"}}}, rec)

	out, err := e.RunCycle(context.Background())
	assert.ErrorIs(t, err, engine.ErrDecode)
	assert.ErrorIs(t, err, stats.ErrNoHeader)
	assert.Equal(t, engine.OutcomeDecodeError, out.Kind)
	assert.Nil(t, out.Snapshot)
	assert.Equal(t, []string{notify.Error}, rec.Names())
}

func TestRunCycle_RestartSequence(t *testing.T) {
	rec := &notify.Recorder{}
	f := &scriptFetcher{responses: []response{{body: report(1000)}, {body: report(900)}, {body: report(1200)}}}
	e := newEngine(t, f, rec)

	out, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Restarted)
	assert.NotContains(t, rec.Names(), rules.ProxyRestart)
	assert.EqualValues(t, 1000, e.State().LastTotalSessions)

	rec.Reset()
	out, err = e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Restarted)
	assert.Equal(t, []string{rules.ProxyRestart, rules.ServerOK, rules.ServerDown, notify.Update}, rec.Names())
	assert.EqualValues(t, 900, e.State().LastTotalSessions)

	rec.Reset()
	out, err = e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Restarted)
	assert.NotContains(t, rec.Names(), rules.ProxyRestart)
	assert.EqualValues(t, 1200, e.State().LastTotalSessions)
}

func TestRunCycle_EventThenHandlerThenUpdate(t *testing.T) {
	var mu sync.Mutex
	var seq []string
	bus := notify.NewBus(nil)
	bus.OnAny(func(_ context.Context, n notify.Notification) {
		mu.Lock()
		defer mu.Unlock()
		seq = append(seq, "emit:"+n.Name)
	})
	handler := func(_ context.Context, r stats.Record) {
		mu.Lock()
		defer mu.Unlock()
		seq = append(seq, "handle:"+r.Member())
	}
	servers := []condition.Criterion{{Header: "check_status", Op: condition.OpNe, Value: condition.Literal(stats.Empty)}}

	e := newEngine(t, &scriptFetcher{responses: []response{{body: report(1)}}}, bus,
		&rules.Rule{ID: "both", Criteria: servers, Event: "server", Handler: handler},
		&rules.Rule{ID: "inert", Criteria: servers},
		&rules.Rule{ID: "quiet", Criteria: servers, Handler: handler},
	)
	_, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"emit:server", "handle:s1", "handle:s1",
		"emit:server", "handle:s2", "handle:s2",
		"emit:update",
	}, seq)
}

func TestRunCycle_HandlerPanicDoesNotAbortCycle(t *testing.T) {
	rec := &notify.Recorder{}
	var after atomic.Int32
	e := newEngine(t, &scriptFetcher{responses: []response{{body: report(10)}}}, rec,
		&rules.Rule{ID: "boom", Event: "boom", Handler: func(context.Context, stats.Record) { panic("handler bug") }},
		&rules.Rule{ID: "next", Handler: func(context.Context, stats.Record) { after.Add(1) }},
	)

	var (
		out *engine.Outcome
		err error
	)
	require.NotPanics(t, func() { out, err = e.RunCycle(context.Background()) })
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeMatches, out.Kind)
	assert.Len(t, out.Matches, 6)
	assert.Equal(t, int32(3), after.Load(), "later handlers still run")
	assert.Equal(t, []string{"boom", "boom", "boom", notify.Update}, rec.Names())
	assert.Equal(t, int64(10), e.State().LastTotalSessions)
}

func TestRunCycle_DropsOverlappingCall(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	f := fetcherFunc(func(ctx context.Context) (string, error) {
		close(entered)
		<-release
		return report(1), nil
	})
	rec := &notify.Recorder{}
	e := newEngine(t, f, rec)

	done := make(chan error, 1)
	go func() {
		_, err := e.RunCycle(context.Background())
		done <- err
	}()
	<-entered

	out, err := e.RunCycle(context.Background())
	assert.Nil(t, out)
	assert.ErrorIs(t, err, engine.ErrCycleInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, countNames(rec.Names(), notify.Update))
}

type fetcherFunc func(ctx context.Context) (string, error)

func (f fetcherFunc) Fetch(ctx context.Context) (string, error) { return f(ctx) }

func countNames(names []string, want string) int {
	n := 0
	for _, name := range names {
		if name == want {
			n++
		}
	}
	return n
}

func TestRun_ContinuesAfterErrors(t *testing.T) {
	var updates, errs atomic.Int32
	bus := notify.NewBus(nil)
	bus.On(notify.Update, func(context.Context, notify.Notification) { updates.Add(1) })
	bus.On(notify.Error, func(context.Context, notify.Notification) { errs.Add(1) })

	f := &scriptFetcher{responses: []response{
		{err: errors.New("refused")},
		{body: "garbage before header"},
		{body: report(10)},
	}}
	e := newEngine(t, f, bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return updates.Load() >= 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	assert.EqualValues(t, 2, errs.Load())
	calls := f.Calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, f.Calls(), "no cycles after cancel")
}

func TestRun_NeverOverlaps(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	var cycles atomic.Int32
	f := fetcherFunc(func(context.Context) (string, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond) // longer than the interval
		inFlight.Add(-1)
		cycles.Add(1)
		return report(1), nil
	})
	e := newEngine(t, f, &notify.Recorder{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)
	go func() {
		for ctx.Err() == nil {
			_, _ = e.RunCycle(ctx)
			time.Sleep(time.Millisecond)
		}
	}()

	require.Eventually(t, func() bool { return cycles.Load() >= 5 }, 5*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, maxInFlight.Load())
}

func TestCheckRestart(t *testing.T) {
	snap, err := stats.Decode("# pxname,svname,stot,status\nhttp-in,FRONTEND,900,OPEN\nhttp-in,BACKEND,,UP\n")
	require.NoError(t, err)

	cases := []struct {
		name      string
		state     engine.State
		member    string
		counter   string
		want      engine.State
		restarted bool
	}{
		{"decrease", engine.State{1000, "http-in"}, "", "", engine.State{900, "http-in"}, true},
		{"increase", engine.State{800, "http-in"}, "", "", engine.State{900, "http-in"}, false},
		{"equal", engine.State{900, "http-in"}, "FRONTEND", "stot", engine.State{900, "http-in"}, false},
		{"first cycle", engine.State{0, "http-in"}, "", "", engine.State{900, "http-in"}, false},
		{"unconfigured", engine.State{1000, ""}, "", "", engine.State{1000, ""}, false},
		{"absent aggregate", engine.State{1000, "other"}, "", "", engine.State{1000, "other"}, false},
		{"absent member", engine.State{1000, "http-in"}, "web1", "", engine.State{1000, "http-in"}, false},
		{"empty counter", engine.State{1000, "http-in"}, "BACKEND", "", engine.State{1000, "http-in"}, false},
		{"text counter", engine.State{1000, "http-in"}, "", "status", engine.State{1000, "http-in"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, restarted := engine.CheckRestart(snap, tc.state, tc.member, tc.counter)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.restarted, restarted)
		})
	}
}

func TestGroup_FromConfigAndReload(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if u, p, _ := r.BasicAuth(); u != "admin" || p != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(report(50)))
	}))
	defer srv.Close()

	base := fmt.Sprintf(`
version: v1
targets:
  - name: edge
    url: %s
    username: admin
    password: pw
    interval_ms: 20
    restart:
      aggregate: http-in
  - name: quiet
    url: %s
    default_rules: false
rules:
  - id: busy
    criteria:
      - header: stot
        op: gt
        value: 1
    event: busy
`, srv.URL, srv.URL)
	cfg, err := config.Parse([]byte(base))
	require.NoError(t, err)
	require.NoError(t, config.Validate(cfg))

	reg := action.NewRegistry()
	reg.Register(action.NewLog(nil))
	rec := &notify.Recorder{}
	g, err := engine.FromConfig(cfg, reg, rec, nil)
	require.NoError(t, err)

	require.Len(t, g.Engines(), 2)
	edge, ok := g.Get("edge")
	require.True(t, ok)
	assert.Equal(t, 4, edge.Rules().Len())
	assert.Equal(t, 20*time.Millisecond, edge.Interval())
	quiet, _ := g.Get("quiet")
	assert.Equal(t, 1, quiet.Rules().Len())

	out, err := edge.RunCycle(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 50, edge.State().LastTotalSessions)
	assert.NotEmpty(t, out.Matches)

	_, err = quiet.RunCycle(context.Background())
	assert.ErrorIs(t, err, engine.ErrFetch, "quiet has no credentials")

	next, err := config.Parse([]byte(base + `  - id: extra
    criteria: []
    handler:
      type: log
  - id: busy2
    event: busy2
`))
	require.NoError(t, err)
	next.Rules[0].Event = "renamed"
	rep, err := g.Reload(next, reg)
	require.NoError(t, err)
	assert.Equal(t, []string{"extra", "busy2"}, rep.Added["edge"])
	assert.Equal(t, []string{"extra", "busy2"}, rep.Added["quiet"])
	assert.Contains(t, rep.Ignored, "target edge: rule busy changed; rules cannot be replaced")
	assert.Equal(t, 6, edge.Rules().Len())

	// unknown handler type: nothing is added anywhere
	bad, err := config.Parse([]byte(base + `  - id: paged
    handler:
      type: pager
`))
	require.NoError(t, err)
	_, err = g.Reload(bad, reg)
	require.Error(t, err)
	assert.Equal(t, 6, edge.Rules().Len())
	assert.False(t, edge.Rules().Has("paged"))

	ctx, cancel := context.WithCancel(context.Background())
	g.Start(ctx)
	require.Eventually(t, func() bool { return hits.Load() >= 6 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	g.Wait()
}

func TestReloader_InvalidConfigChangesNothing(t *testing.T) {
	cfg, err := config.Parse([]byte(`
version: v1
targets:
  - name: edge
    url: http://lb.invalid/stats
`))
	require.NoError(t, err)
	reg := action.NewRegistry()
	g, err := engine.FromConfig(cfg, reg, &notify.Recorder{}, nil)
	require.NoError(t, err)
	r := engine.NewReloader(g, reg)

	bad, err := config.Parse([]byte(`
version: v1
targets:
  - name: edge
    url: http://lb.invalid/stats
rules:
  - id: r
    criteria:
      - header: a
        op: like
        value: 1
`))
	require.NoError(t, err)
	r.Apply(bad)
	_, err = r.Last()
	assert.ErrorContains(t, err, `unknown operator "like"`)
	edge, _ := g.Get("edge")
	assert.Equal(t, 3, edge.Rules().Len())

	good, err := config.Parse([]byte(`
version: v1
targets:
  - name: edge
    url: http://lb.invalid/stats
rules:
  - id: r
    event: row
`))
	require.NoError(t, err)
	r.Apply(good)
	rep, err := r.Last()
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"edge": {"r"}}, rep.Added)
	assert.Equal(t, 4, edge.Rules().Len())
}
