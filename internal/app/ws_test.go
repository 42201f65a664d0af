package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devqa/api/internal/store"
)

type socketFixture struct {
	server *HTTPServer
	svc    *Service
	ts     *httptest.Server
	token  string
	exec   store.TestExecution
}

func newSocketFixture(t *testing.T) *socketFixture {
	t.Helper()
	server, svc := newTestHTTPServer(t, newFakeStore())
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	user := registerViaHTTP(t, server, "viewer@example.com")
	exec := seedExecution(t, svc, user.User)
	return &socketFixture{server: server, svc: svc, ts: ts, token: user.Token, exec: exec}
}

func (f *socketFixture) dial(t *testing.T, executionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/api/ws/test-execution/" + executionID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (f *socketFixture) waitForViewers(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return f.svc.Registry().Len() == n }, 2*time.Second, 10*time.Millisecond)
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(v))
}

func TestSocketViewerReceivesPatchedRecord(t *testing.T) {
	f := newSocketFixture(t)
	conn := f.dial(t, f.exec.ID)
	f.waitForViewers(t, 1)

	rr := doJSON(t, f.server, http.MethodPatch, "/api/test-executions/"+f.exec.ID, f.token, map[string]any{"status": "completed", "result": "all green"})
	assertStatus(t, rr, http.StatusOK)

	var msg struct {
		Type string              `json:"type"`
		Data store.TestExecution `json:"data"`
	}
	readJSON(t, conn, &msg)

	stored, err := f.svc.GetExecution(context.Background(), f.exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "update", msg.Type)
	assert.Equal(t, stored.ID, msg.Data.ID)
	assert.Equal(t, stored.Status, msg.Data.Status)
	require.NotNil(t, msg.Data.Result)
	assert.Equal(t, "all green", *msg.Data.Result)
	require.NotNil(t, msg.Data.EndTime)
	assert.True(t, stored.EndTime.Equal(*msg.Data.EndTime))
}

func TestSocketLogFrameIsAppendedAndEchoed(t *testing.T) {
	f := newSocketFixture(t)
	conn := f.dial(t, f.exec.ID)
	f.waitForViewers(t, 1)

	frame := map[string]string{"type": "log", "content": "step 1 passed"}
	require.NoError(t, conn.WriteJSON(frame))

	var echoed map[string]string
	readJSON(t, conn, &echoed)
	assert.Equal(t, frame, echoed)

	stored, err := f.svc.GetExecution(context.Background(), f.exec.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"step 1 passed"}, stored.Logs)
}

func TestSocketLogFramesAppendInOrder(t *testing.T) {
	f := newSocketFixture(t)
	conn := f.dial(t, f.exec.ID)
	f.waitForViewers(t, 1)

	for _, line := range []string{"one", "two"} {
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "log", "content": line}))
		var echoed map[string]string
		readJSON(t, conn, &echoed)
	}

	stored, err := f.svc.GetExecution(context.Background(), f.exec.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, stored.Logs)
}

func TestSocketIgnoresOtherJSON(t *testing.T) {
	f := newSocketFixture(t)
	conn := f.dial(t, f.exec.ID)
	f.waitForViewers(t, 1)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`[1,2,3]`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"log","content":"after"}`)))

	var echoed map[string]string
	readJSON(t, conn, &echoed)
	assert.Equal(t, "after", echoed["content"])

	stored, err := f.svc.GetExecution(context.Background(), f.exec.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"after"}, stored.Logs)
}

func TestSocketInvalidJSONEndsSession(t *testing.T) {
	f := newSocketFixture(t)
	conn := f.dial(t, f.exec.ID)
	f.waitForViewers(t, 1)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	f.waitForViewers(t, 0)
}

func TestSocketReplacementKeepsNewestViewer(t *testing.T) {
	f := newSocketFixture(t)
	first := f.dial(t, f.exec.ID)
	f.waitForViewers(t, 1)
	second := f.dial(t, f.exec.ID)

	// A socket registers before it reads, so an echo on the second socket
	// proves it replaced the first.
	require.NoError(t, second.WriteJSON(map[string]string{"type": "log", "content": "from second"}))
	var echoed map[string]string
	readJSON(t, second, &echoed)
	assert.Equal(t, "from second", echoed["content"])

	require.NoError(t, first.Close())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, f.svc.Registry().Len())

	rr := doJSON(t, f.server, http.MethodPatch, "/api/test-executions/"+f.exec.ID, f.token, map[string]any{"status": "running"})
	assertStatus(t, rr, http.StatusOK)
	var msg struct {
		Type string `json:"type"`
	}
	readJSON(t, second, &msg)
	assert.Equal(t, "update", msg.Type)
}

func TestSocketLogFrameForUnknownExecutionIsStillEchoed(t *testing.T) {
	f := newSocketFixture(t)
	conn := f.dial(t, "missing")
	f.waitForViewers(t, 1)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "log", "content": "orphan"}))
	var echoed map[string]string
	readJSON(t, conn, &echoed)
	assert.Equal(t, "orphan", echoed["content"])
}

func TestParseFrame(t *testing.T) {
	frame, err := parseFrame([]byte(`{"type":"log","content":"x"}`))
	require.NoError(t, err)
	assert.True(t, frame.IsLog)

	frame, err = parseFrame([]byte(`{"type":"log","content":42}`))
	require.NoError(t, err)
	assert.False(t, frame.IsLog)

	_, err = parseFrame([]byte(`{"type":`))
	assert.Error(t, err)

	raw, _ := json.Marshal("just a string")
	frame, err = parseFrame(raw)
	require.NoError(t, err)
	assert.False(t, frame.IsLog)
}
