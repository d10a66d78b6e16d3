package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chenyang-zz/quickcapture/internal/app"
	"github.com/chenyang-zz/quickcapture/pkg/events"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend 记录桥接调用
type fakeBackend struct {
	bus      *events.EventBus
	status   *events.StatusBus
	captures atomic.Int32
	toggles  atomic.Int32
}

func newFakeBackend(t *testing.T) *fakeBackend {
	bus := events.NewEventBus()
	t.Cleanup(func() { _ = bus.Stop(time.Second) })
	return &fakeBackend{bus: bus, status: events.NewStatusBus(bus)}
}

func (b *fakeBackend) InvokeCapture() { b.captures.Add(1) }
func (b *fakeBackend) ToggleWindow()  { b.toggles.Add(1) }

func (b *fakeBackend) Status() app.Snapshot {
	return app.Snapshot{Text: "Ready", Shortcut: "⌘⇧1"}
}

func (b *fakeBackend) StatusBus() *events.StatusBus { return b.status }
func (b *fakeBackend) EventBus() *events.EventBus   { return b.bus }

func newTestServer(t *testing.T) (*Server, *fakeBackend, *httptest.Server) {
	t.Helper()
	backend := newFakeBackend(t)
	srv := New(backend, "127.0.0.1:0")
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Close(context.Background())
		httpSrv.Close()
	})
	return srv, backend, httpSrv
}

func dial(t *testing.T, httpSrv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil 读取消息直到出现指定类型
func readUntil(t *testing.T, conn *websocket.Conn, typ string) Message {
	t.Helper()
	for i := 0; i < 20; i++ {
		msg := readMessage(t, conn)
		if msg.Type == typ {
			return msg
		}
	}
	t.Fatalf("没有收到 %s 消息", typ)
	return Message{}
}

// TestServer_REST 测试 HTTP 接口
func TestServer_REST(t *testing.T) {
	_, backend, httpSrv := newTestServer(t)

	t.Run("查询状态", func(t *testing.T) {
		resp, err := http.Get(httpSrv.URL + "/status")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var snap app.Snapshot
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
		assert.Equal(t, "Ready", snap.Text)
		assert.Equal(t, "⌘⇧1", snap.Shortcut)
	})

	t.Run("健康检查", func(t *testing.T) {
		resp, err := http.Get(httpSrv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body map[string]bool
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.True(t, body["ok"])
	})

	t.Run("触发截图", func(t *testing.T) {
		resp, err := http.Post(httpSrv.URL+"/capture", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Equal(t, int32(1), backend.captures.Load())
	})

	t.Run("切换窗口", func(t *testing.T) {
		resp, err := http.Post(httpSrv.URL+"/window/toggle", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int32(1), backend.toggles.Load())
	})

	t.Run("截图只接受 POST", func(t *testing.T) {
		resp, err := http.Get(httpSrv.URL + "/capture")
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		assert.Equal(t, int32(1), backend.captures.Load())
	})
}

// TestServer_WebSocketSnapshot 测试连接后首先收到快照
func TestServer_WebSocketSnapshot(t *testing.T) {
	_, _, httpSrv := newTestServer(t)
	conn := dial(t, httpSrv, nil)

	msg := readMessage(t, conn)
	assert.Equal(t, TypeSnapshot, msg.Type)
	require.NotNil(t, msg.Snapshot)
	assert.Equal(t, "Ready", msg.Snapshot.Text)
}

// TestServer_WebSocketStatusStream 测试状态事件按顺序推送
func TestServer_WebSocketStatusStream(t *testing.T) {
	_, backend, httpSrv := newTestServer(t)
	conn := dial(t, httpSrv, nil)
	readUntil(t, conn, TypeSnapshot)

	backend.status.Started("c1")
	backend.status.Message("c1", "Uploading screenshot…")
	backend.status.Completed("c1")

	var kinds []events.StatusKind
	for len(kinds) < 3 {
		msg := readUntil(t, conn, TypeStatus)
		require.NotNil(t, msg.Status)
		assert.Equal(t, "c1", msg.Status.CaptureID)
		kinds = append(kinds, msg.Status.Kind)
	}
	assert.Equal(t, []events.StatusKind{events.StatusStarted, events.StatusMessage, events.StatusCompleted}, kinds)
}

// TestServer_WebSocketActions 测试界面发来的动作
func TestServer_WebSocketActions(t *testing.T) {
	_, backend, httpSrv := newTestServer(t)
	conn := dial(t, httpSrv, nil)
	readUntil(t, conn, TypeSnapshot)

	t.Run("截图", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(map[string]string{"action": "capture"}))
		require.Eventually(t, func() bool { return backend.captures.Load() == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("切换窗口", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(map[string]string{"action": "toggle_window"}))
		require.Eventually(t, func() bool { return backend.toggles.Load() == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("未知动作返回错误", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(map[string]string{"action": "reboot"}))
		msg := readUntil(t, conn, TypeError)
		assert.Contains(t, msg.Error, "unknown action")
	})
}

// TestServer_ForwardsBusEvents 测试窗口与快捷键事件转发
func TestServer_ForwardsBusEvents(t *testing.T) {
	_, backend, httpSrv := newTestServer(t)
	conn := dial(t, httpSrv, nil)
	readUntil(t, conn, TypeSnapshot)

	event := events.NewEvent(events.EventTypeShortcut, events.ShortcutEventData{Label: "⌘⇧2", Persisted: true}.Map())
	require.NoError(t, backend.bus.Publish(string(events.EventTypeShortcut), *event))

	msg := readUntil(t, conn, TypeShortcut)
	assert.Equal(t, "⌘⇧2", msg.Data["label"])
	assert.Equal(t, true, msg.Data["persisted"])
}

// TestServer_RejectsForeignOrigin 测试拒绝非本机来源
func TestServer_RejectsForeignOrigin(t *testing.T) {
	_, _, httpSrv := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn := dial(t, httpSrv, http.Header{"Origin": []string{"http://localhost:5173"}})
	assert.Equal(t, TypeSnapshot, readMessage(t, conn).Type)
}

// TestServer_RESTRejectsForeignOrigin 测试其他网页不能触发截图或切换窗口
func TestServer_RESTRejectsForeignOrigin(t *testing.T) {
	_, backend, httpSrv := newTestServer(t)

	post := func(t *testing.T, path, origin string) int {
		t.Helper()
		req, err := http.NewRequest(http.MethodPost, httpSrv.URL+path, strings.NewReader("a=1"))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	t.Run("外部来源的表单请求被拒绝", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, post(t, "/capture", "https://evil.example"))
		assert.Equal(t, http.StatusForbidden, post(t, "/window/toggle", "https://evil.example"))
		assert.Equal(t, http.StatusForbidden, post(t, "/capture", "null"))
		assert.Equal(t, int32(0), backend.captures.Load())
		assert.Equal(t, int32(0), backend.toggles.Load())
	})

	t.Run("本机来源和非浏览器请求放行", func(t *testing.T) {
		assert.Equal(t, http.StatusAccepted, post(t, "/capture", "http://localhost:5173"))
		assert.Equal(t, http.StatusAccepted, post(t, "/capture", ""))
		assert.Equal(t, int32(2), backend.captures.Load())
	})
}

// TestParseAction 测试动作解析
func TestParseAction(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Action
		wantErr bool
	}{
		{"截图", `{"action":"capture"}`, ActionCapture, false},
		{"切换窗口", `{"action":"toggle_window"}`, ActionToggleWindow, false},
		{"未知动作", `{"action":"quit"}`, "", true},
		{"缺少字段", `{}`, "", true},
		{"非 JSON", `capture`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAction([]byte(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestServer_StartAndClose 测试监听与关闭
func TestServer_StartAndClose(t *testing.T) {
	backend := newFakeBackend(t)
	srv := New(backend, "127.0.0.1:0")
	require.NoError(t, srv.Start())
	assert.Error(t, srv.Start(), "重复启动应失败")

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Close(context.Background()))
	assert.NoError(t, srv.Close(context.Background()))
	assert.Error(t, srv.Start(), "关闭后不能再启动")
}

// TestServer_ConcurrentClose 测试并发关闭只取消一次订阅
func TestServer_ConcurrentClose(t *testing.T) {
	backend := newFakeBackend(t)
	srv := New(backend, "127.0.0.1:0")
	require.NoError(t, srv.Start())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = srv.Close(context.Background())
		}()
	}
	wg.Wait()

	srv.mu.Lock()
	assert.Empty(t, srv.subs, "关闭后不应保留订阅")
	srv.mu.Unlock()
}
