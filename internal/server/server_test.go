package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/playground/internal/monitoring"
	"github.com/michaelbrown/playground/internal/playground"
	"github.com/michaelbrown/playground/internal/sandbox/sandboxtest"
	"github.com/michaelbrown/playground/internal/storage"
	"github.com/michaelbrown/playground/internal/storage/sqlite"
)

type testEnv struct {
	rt      *sandboxtest.Runtime
	log     *playground.OutputLog
	session *playground.Session
	store   storage.Store
	srv     *Server
}

func newEnv(t *testing.T, rt *sandboxtest.Runtime) *testEnv {
	t.Helper()

	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := playground.NewOutputLog(playground.StaleInterleave)
	metrics := monitoring.NewMetrics()
	session := playground.NewSession(rt, log, nil, metrics)
	orch := playground.NewOrchestrator(session, log, playground.Options{
		Backend: "fake",
		Store:   store,
		Metrics: metrics,
	})
	srv := New(Options{
		Session:      session,
		Log:          log,
		Orchestrator: orch,
		Store:        store,
		Metrics:      metrics,
		Backend:      "fake",
		InitialCode:  `console.log("hi")`,
	})
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	return &testEnv{rt: rt, log: log, session: session, store: store, srv: srv}
}

func (e *testEnv) boot(t *testing.T) {
	t.Helper()
	e.session.Initialize(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.session.Wait(ctx))
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func nextProcess(t *testing.T, h *sandboxtest.Handle) *sandboxtest.Process {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := h.NextProcess(ctx)
	require.NoError(t, err)
	return p
}

func TestStatusLifecycle(t *testing.T) {
	rt := sandboxtest.Gated()
	env := newEnv(t, rt)

	st := decode[statusResponse](t, env.do(t, http.MethodGet, "/api/status", nil))
	assert.Equal(t, playground.StateUninitialized, st.State)
	assert.False(t, st.CanRun)
	assert.Equal(t, "fake", st.Backend)

	env.session.Initialize(context.Background())
	st = decode[statusResponse](t, env.do(t, http.MethodGet, "/api/status", nil))
	assert.Equal(t, playground.StatePending, st.State)
	assert.False(t, st.Ready)

	rt.Release()
	env.boot(t)
	st = decode[statusResponse](t, env.do(t, http.MethodGet, "/api/status", nil))
	assert.Equal(t, playground.StateReady, st.State)
	assert.True(t, st.Ready)
	assert.True(t, st.CanRun)
}

func TestConfigEndpoint(t *testing.T) {
	env := newEnv(t, sandboxtest.NewRuntime())

	rec := env.do(t, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decode[configResponse](t, rec)
	assert.Equal(t, `console.log("hi")`, cfg.InitialCode)
	assert.Equal(t, "/index.js", cfg.EntryFile)
}

func TestOutputPlaceholder(t *testing.T) {
	env := newEnv(t, sandboxtest.NewRuntime())

	out := decode[outputResponse](t, env.do(t, http.MethodGet, "/api/output", nil))
	assert.Empty(t, out.Output)
	assert.Equal(t, playground.Placeholder, out.Display)
}

func TestRunNotReady(t *testing.T) {
	env := newEnv(t, sandboxtest.Gated())
	env.session.Initialize(context.Background())

	rec := env.do(t, http.MethodPost, "/api/run", runRequest{Code: "x"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, env.log.String())
}

func TestRunAfterBootFailure(t *testing.T) {
	rt := sandboxtest.NewRuntime()
	rt.BootErr = errors.New("no sandbox")
	env := newEnv(t, rt)
	env.boot(t)

	st := decode[statusResponse](t, env.do(t, http.MethodGet, "/api/status", nil))
	assert.True(t, st.Ready)
	assert.False(t, st.CanRun)
	assert.Equal(t, "no sandbox", st.Error)

	rec := env.do(t, http.MethodPost, "/api/run", runRequest{Code: "x"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, playground.FallbackMessage, env.log.String())
}

func TestRunAccepted(t *testing.T) {
	env := newEnv(t, sandboxtest.NewRuntime())
	env.boot(t)

	rec := env.do(t, http.MethodPost, "/api/run", runRequest{Code: `console.log("hello")`})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[runResponse](t, rec)
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, uint64(1), resp.Generation)

	h := env.rt.Handle()
	src, ok := h.File("/index.js")
	require.True(t, ok)
	assert.Equal(t, `console.log("hello")`, src)

	proc := nextProcess(t, h)
	proc.Emit("hello")
	proc.Exit(0)

	require.Eventually(t, func() bool {
		out := decode[outputResponse](t, env.do(t, http.MethodGet, "/api/output", nil))
		return out.Output == "Executing...\nhello\n"
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/api/runs/"+resp.RunID, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		return decode[storage.Run](t, rec).Status == storage.StatusExited
	}, 5*time.Second, 10*time.Millisecond)

	runs := decode[[]storage.Run](t, env.do(t, http.MethodGet, "/api/runs", nil))
	require.Len(t, runs, 1)
	assert.Equal(t, "hello\n", runs[0].Output)
	assert.Equal(t, "fake", runs[0].Backend)
}

func TestRunWriteFailure(t *testing.T) {
	env := newEnv(t, sandboxtest.NewRuntime())
	env.boot(t)
	env.rt.Handle().WriteErr = errors.New("disk full")

	rec := env.do(t, http.MethodPost, "/api/run", runRequest{Code: "x"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "Error: disk full", decode[map[string]string](t, rec)["error"])
	assert.Equal(t, "Error: disk full", env.log.String())
}

func TestRunBadJSON(t *testing.T) {
	env := newEnv(t, sandboxtest.NewRuntime())
	req := httptest.NewRequest(http.MethodPost, "/api/run", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRunNotFound(t *testing.T) {
	env := newEnv(t, sandboxtest.NewRuntime())
	rec := env.do(t, http.MethodGet, "/api/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSPA(t *testing.T) {
	env := newEnv(t, sandboxtest.NewRuntime())

	for _, path := range []string{"/", "/some/page"} {
		rec := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Body.String(), playground.Placeholder, path)
		assert.Contains(t, rec.Body.String(), "Initializing...", path)
	}

	rec := env.do(t, http.MethodGet, "/app.js", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/missing.js", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newEnv(t, sandboxtest.NewRuntime())
	env.boot(t)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "playground_sandbox_ready 1")
}

// --- WebSocket ---

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(env.srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads messages until match returns true.
func readUntil(t *testing.T, conn *websocket.Conn, match func(wsOutgoing) bool) wsOutgoing {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg wsOutgoing
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func TestWebSocketRun(t *testing.T) {
	env := newEnv(t, sandboxtest.NewRuntime())
	env.boot(t)
	conn := dialWS(t, env)

	st := readUntil(t, conn, func(m wsOutgoing) bool { return m.Type == "status" })
	require.NotNil(t, st.Status)
	assert.True(t, st.Status.CanRun)

	require.NoError(t, conn.WriteJSON(wsIncoming{Type: "run", Content: `console.log("ws")`}))

	reset := readUntil(t, conn, func(m wsOutgoing) bool {
		return m.Type == "reset" && m.Content != ""
	})
	assert.Equal(t, playground.ExecutingMarker, reset.Content)

	proc := nextProcess(t, env.rt.Handle())
	proc.Emit("ws")
	proc.Exit(0)

	appended := readUntil(t, conn, func(m wsOutgoing) bool { return m.Type == "append" })
	assert.Equal(t, "ws\n", appended.Content)
	assert.Equal(t, reset.Generation, appended.Generation)
}

func TestWebSocketStatusAfterBoot(t *testing.T) {
	rt := sandboxtest.Gated()
	env := newEnv(t, rt)
	env.session.Initialize(context.Background())
	conn := dialWS(t, env)

	first := readUntil(t, conn, func(m wsOutgoing) bool { return m.Type == "status" })
	assert.False(t, first.Status.Ready)

	require.NoError(t, conn.WriteJSON(wsIncoming{Type: "run", Content: "x"}))
	notReady := readUntil(t, conn, func(m wsOutgoing) bool { return m.Type == "error" })
	assert.Equal(t, playground.ErrNotReady.Error(), notReady.Content)

	rt.Release()
	ready := readUntil(t, conn, func(m wsOutgoing) bool { return m.Type == "status" })
	assert.True(t, ready.Status.Ready)
	assert.True(t, ready.Status.CanRun)
}

func TestWebSocketRejectsUnknownMessage(t *testing.T) {
	env := newEnv(t, sandboxtest.NewRuntime())
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(wsIncoming{Type: "message", Content: "x"}))
	msg := readUntil(t, conn, func(m wsOutgoing) bool { return m.Type == "error" })
	assert.Equal(t, "invalid message", msg.Content)
}
