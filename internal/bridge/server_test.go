package bridge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cmdcenter/internal/failure"
	"github.com/dshills/cmdcenter/internal/sandbox"
)

type serverFixture struct {
	*harness
	hub    *Hub
	server *Server
	srv    *httptest.Server
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	h := newHarness(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	hub := NewHub(h.bridge, nil, metrics)
	h.bridge.deps.Events = hub

	policy := sandbox.NewPolicy(h.plugins, "/bridge.js", sandbox.WithServices(h.services))
	s := NewServer("127.0.0.1:0", hub, h.plugins, policy, WithGatherer(reg))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &serverFixture{harness: h, hub: hub, server: s, srv: srv}
}

func (f *serverFixture) bridgeURL(query url.Values) string {
	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/bridge"
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// dialToken opens /bridge with token and waits for the hub to register it.
func (f *serverFixture) dialToken(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	before := f.hub.Count()
	ws, _, err := websocket.DefaultDialer.Dial(f.bridgeURL(url.Values{"token": {token}}), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	require.Eventually(t, func() bool { return f.hub.Count() > before }, time.Second, 5*time.Millisecond)
	return ws
}

// dialShell connects as the UI shell.
func (f *serverFixture) dialShell(t *testing.T) *websocket.Conn {
	t.Helper()
	return f.dialToken(t, f.server.ShellToken())
}

// dialSurface attaches origin through the shell and connects with the token
// it was granted.
func (f *serverFixture) dialSurface(t *testing.T, origin string) *websocket.Conn {
	t.Helper()
	att, status := f.attach(t, f.server.ShellToken(), origin)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, att.Token)
	return f.dialToken(t, att.Token)
}

func (f *serverFixture) attach(t *testing.T, shellToken, origin string) (Attachment, int) {
	t.Helper()
	body := strings.NewReader(`{"origin":` + string(mustJSON(t, origin)) + `}`)
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/surfaces/attach", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if shellToken != "" {
		req.Header.Set("Authorization", "Bearer "+shellToken)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var att Attachment
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&att))
	}
	return att, resp.StatusCode
}

func clockOrigin(f *serverFixture) string {
	return "file://" + filepath.ToSlash(filepath.Join(f.dir, "clock", "index.html"))
}

func call(t *testing.T, ws *websocket.Conn, id string, op Op, payload any) Response {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(Request{ID: id, Op: op, Payload: raw}))
	return readResponse(t, ws, id)
}

func readResponse(t *testing.T, ws *websocket.Conn, id string) Response {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		var resp Response
		require.NoError(t, json.Unmarshal(data, &resp))
		if resp.ID == id {
			return resp
		}
	}
}

func readEvent(t *testing.T, ws *websocket.Conn, name string) Event {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		var ev Event
		require.NoError(t, json.Unmarshal(data, &ev))
		if ev.Event == name {
			return ev
		}
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	f := newServerFixture(t)
	ws := f.dialShell(t)

	resp := call(t, ws, "1", OpPluginCall, map[string]any{
		"pluginId": "notes-plugin", "method": "addNote", "params": map[string]any{"content": "over the wire"},
	})
	require.True(t, resp.OK, "%+v", resp.Error)
	assert.Equal(t, map[string]any{"id": float64(1)}, resp.Result)

	resp = call(t, ws, "2", OpDBAll, map[string]any{"pluginId": "clock", "sql": "SELECT * FROM plugin_notes_plugin_notes"})
	require.False(t, resp.OK)
	assert.Equal(t, string(failure.AccessDenied), resp.Error.Code)
}

func TestWebSocketMalformedEnvelope(t *testing.T) {
	f := newServerFixture(t)
	ws := f.dialShell(t)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"id":"x1"}`)))
	resp := readResponse(t, ws, "x1")
	require.False(t, resp.OK)
	assert.Equal(t, string(failure.InvalidRequest), resp.Error.Code)
}

func TestWebSocketBoundSurface(t *testing.T) {
	f := newServerFixture(t)
	ws := f.dialSurface(t, clockOrigin(f))

	resp := call(t, ws, "1", OpPluginSettingsGet, map[string]any{"pluginId": "notes-plugin", "key": "k"})
	require.False(t, resp.OK)
	assert.Equal(t, string(failure.AccessDenied), resp.Error.Code)

	resp = call(t, ws, "2", OpPluginSettingsGet, map[string]any{"pluginId": "clock", "key": "k"})
	assert.True(t, resp.OK)
}

func TestHubEvents(t *testing.T) {
	f := newServerFixture(t)
	shell := f.dialShell(t)
	clock := f.dialSurface(t, clockOrigin(f))
	require.Eventually(t, func() bool { return f.hub.Count() == 2 }, time.Second, 5*time.Millisecond)

	resp := call(t, clock, "t1", OpToast, map[string]any{"message": "Alarm set", "type": "success"})
	require.True(t, resp.OK)
	ev := readEvent(t, shell, EventToast)
	assert.Equal(t, map[string]any{"pluginId": "clock", "message": "Alarm set", "type": "success"}, ev.Payload)

	require.NoError(t, f.hub.Send("clock", "tick", map[string]any{"n": 1}))
	assert.Equal(t, map[string]any{"n": float64(1)}, readEvent(t, clock, "tick").Payload)
	assert.Equal(t, "tick", readEvent(t, shell, "tick").Event)
}

func TestAttachEndpoint(t *testing.T) {
	f := newServerFixture(t)

	shell := f.server.ShellToken()

	att, status := f.attach(t, shell, filepath.Join(f.dir, "notes-plugin", "index.html"))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, sandbox.BranchService, att.Branch)
	assert.Equal(t, "notes-plugin", att.PluginID)
	assert.True(t, att.InjectBridge)
	assert.Equal(t, "/bridge.js", att.BridgeScript)
	assert.NotEmpty(t, att.Token)

	att, status = f.attach(t, shell, "https://example.com")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, sandbox.BranchUnresolved, att.Branch)
	assert.Empty(t, att.Token)

	_, status = f.attach(t, "", clockOrigin(f))
	assert.Equal(t, http.StatusUnauthorized, status)
	_, status = f.attach(t, "guess", clockOrigin(f))
	assert.Equal(t, http.StatusUnauthorized, status)

	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/surfaces/attach", strings.NewReader("not json"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+shell)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBridgeRequiresToken(t *testing.T) {
	f := newServerFixture(t)
	origin := clockOrigin(f)

	// A page served by the host itself still carries no token.
	header := http.Header{"Origin": {f.srv.URL}}
	_, resp, err := websocket.DefaultDialer.Dial(f.bridgeURL(nil), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(f.bridgeURL(url.Values{"origin": {origin}}), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(f.bridgeURL(url.Values{"token": {"made-up"}}), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, f.hub.Count())

	ws, _, err := websocket.DefaultDialer.Dial(f.bridgeURL(nil),
		http.Header{"Authorization": {"Bearer " + f.server.ShellToken()}})
	require.NoError(t, err)
	_ = ws.Close()
}

func TestAttachTokenIsSingleUse(t *testing.T) {
	f := newServerFixture(t)

	att, status := f.attach(t, f.server.ShellToken(), clockOrigin(f))
	require.Equal(t, http.StatusOK, status)
	ws := f.dialToken(t, att.Token)

	_, resp, err := websocket.DefaultDialer.Dial(f.bridgeURL(url.Values{"token": {att.Token}}), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	listed := call(t, ws, "1", OpPluginsList, nil)
	require.True(t, listed.OK)
	views := listed.Result.([]any)
	require.Len(t, views, 1)
	assert.Equal(t, "clock", views[0].(map[string]any)["id"])
}

func TestBoundSurfaceCannotReachOtherPlugins(t *testing.T) {
	f := newServerFixture(t)
	// The origin of the connection is ignored; the token decides the binding.
	att, status := f.attach(t, f.server.ShellToken(), clockOrigin(f))
	require.Equal(t, http.StatusOK, status)
	ws, _, err := websocket.DefaultDialer.Dial(f.bridgeURL(url.Values{"token": {att.Token}}),
		http.Header{"Origin": {f.srv.URL}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	denied := []struct {
		op      Op
		payload map[string]any
	}{
		{OpPluginSettingsSet, map[string]any{"pluginId": "notes-plugin", "key": "k", "value": "v"}},
		{OpPluginSettingsGet, map[string]any{"pluginId": "notes-plugin", "key": "k"}},
		{OpPluginCall, map[string]any{"pluginId": "notes-plugin", "method": "getNotes"}},
		{OpTablesDrop, map[string]any{"tableName": "plugin_notes_plugin_notes"}},
		{OpTablesContent, map[string]any{"tableName": "plugin_notes_plugin_notes"}},
	}
	for _, tt := range denied {
		resp := call(t, ws, tt.op.String(), tt.op, tt.payload)
		require.False(t, resp.OK, "%s", tt.op)
		assert.Equal(t, string(failure.AccessDenied), resp.Error.Code, "%s", tt.op)
	}

	tables, err := f.store.ListTables(context.Background())
	require.NoError(t, err)
	assert.Contains(t, tables, "plugin_notes_plugin_notes")
}

func TestStaticHealthAndMetrics(t *testing.T) {
	f := newServerFixture(t)

	body, status := get(t, f.srv.URL+"/plugins/clock/index.html")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "<html></html>", body)

	_, status = get(t, f.srv.URL+"/plugins/ghost/index.html")
	assert.Equal(t, http.StatusNotFound, status)

	_, status = get(t, f.srv.URL+"/plugins/clock/../notes-plugin/service.lua")
	assert.NotEqual(t, http.StatusOK, status)

	body, status = get(t, f.srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok","plugins":2,"connections":0}`, body)

	f.dialShell(t)
	assert.Eventually(t, func() bool {
		body, status := get(t, f.srv.URL+"/metrics")
		return status == http.StatusOK && strings.Contains(body, "cmdcenter_bridge_connections 1")
	}, time.Second, 10*time.Millisecond)
}

func TestServerRunShutsDown(t *testing.T) {
	h := newHarness(t)
	hub := NewHub(h.bridge, nil, nil)
	s := NewServer("127.0.0.1:0", hub, h.plugins, sandbox.NewPolicy(h.plugins, ""), WithShellToken("fixed"))
	assert.Equal(t, "fixed", s.ShellToken())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestLocalOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"null", true},
		{"file://", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:7777", true},
		{"http://[::1]:7777", true},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/bridge", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, localOrigin(r), tt.origin)
	}
}

func get(t *testing.T, u string) (string, int) {
	t.Helper()
	resp, err := http.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b), resp.StatusCode
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
