/**
 * Package bridge 提供本地界面桥接服务
 *
 * 外部界面通过 HTTP 调用截图入口和窗口切换，通过 WebSocket 接收状态总线事件。
 * 服务只监听本机地址。WebSocket 连接和改变状态的请求只接受本机来源，
 * 其他网页不能借浏览器发起截图。
 */
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/chenyang-zz/quickcapture/internal/app"
	"github.com/chenyang-zz/quickcapture/pkg/events"
	"github.com/chenyang-zz/quickcapture/pkg/logger"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	sendBuffer    = 64
)

// Backend 桥接服务调用的代理能力
//
// app.App 满足该接口。
type Backend interface {
	InvokeCapture()
	ToggleWindow()
	Status() app.Snapshot
	StatusBus() *events.StatusBus
	EventBus() *events.EventBus
}

// Server 桥接服务
type Server struct {
	backend  Backend
	addr     string
	upgrader websocket.Upgrader

	clients   map[*client]struct{}
	clientsMu sync.RWMutex

	subs []string

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
	closed   bool
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
	log    *zap.Logger
}

// New 创建桥接服务并订阅状态总线
//
// Parameters:
//   - backend: 代理
//   - addr: 监听地址，如 127.0.0.1:8765
func New(backend Backend, addr string) *Server {
	s := &Server{
		backend: backend,
		addr:    addr,
		clients: make(map[*client]struct{}),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: localOrigin}

	s.subs = append(s.subs,
		backend.StatusBus().Subscribe(s.onStatus),
		backend.EventBus().SubscribeWithFilter("*", s.forward, forwarded),
	)
	return s
}

// forwardTypes 转发给界面的总线事件类型
var forwardTypes = map[events.EventType]string{
	events.EventTypeWindow:     TypeWindow,
	events.EventTypeShortcut:   TypeShortcut,
	events.EventTypePermission: TypePermission,
}

func forwarded(event events.Event) bool {
	_, ok := forwardTypes[event.Type]
	return ok
}

// Handler 返回配置好全部路由的 http.Handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /capture", localOnly(s.handleCapture))
	mux.HandleFunc("POST /window/toggle", localOnly(s.handleToggleWindow))

	return mux
}

// Start 开始监听，不阻塞
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("bridge server closed")
	}
	if s.httpSrv != nil {
		return errors.New("bridge server already started")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("桥接服务异常退出", zap.String("component", "bridge"), zap.Error(err))
		}
	}(s.httpSrv)

	logger.Info("桥接服务已启动", zap.String("component", "bridge"), zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr 实际监听地址，未启动时返回配置地址
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Close 停止服务、断开全部连接并取消订阅，可以重复调用
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	srv := s.httpSrv
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, id := range subs {
		s.backend.EventBus().Unsubscribe(id)
	}

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	// Shutdown 不处理已升级的连接
	s.clientsMu.RLock()
	for c := range s.clients {
		c.conn.Close()
	}
	s.clientsMu.RUnlock()
	return err
}

// ========== HTTP ==========

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	s.backend.InvokeCapture()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleToggleWindow(w http.ResponseWriter, r *http.Request) {
	s.backend.ToggleWindow()
	writeJSON(w, http.StatusOK, map[string]string{"status": "toggled"})
}

// localOnly 拒绝其他网页发来的请求
//
// 表单 POST 属于简单请求，浏览器不做预检，只能依靠 Origin 判断来源。
func localOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !localOrigin(r) {
			logger.Warn("拒绝非本机来源的请求",
				zap.String("component", "bridge"),
				zap.String("path", r.URL.Path),
				zap.String("origin", r.Header.Get("Origin")),
			)
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "origin not allowed"})
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ========== WebSocket ==========

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket 升级失败", zap.String("component", "bridge"), zap.Error(err))
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		server: s,
		log:    logger.With(zap.String("component", "bridge"), zap.String("remote", r.RemoteAddr)),
	}

	// 先发快照再加入广播，客户端看到的第一条消息总是当前状态
	snap := s.backend.Status()
	if data, err := encode(Message{Type: TypeSnapshot, Snapshot: &snap}); err == nil {
		c.send <- data
	}

	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()

	c.log.Debug("界面已连接")

	go c.writePump()
	go c.readPump()
}

// readPump 读取客户端动作
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("WebSocket 读取错误", zap.Error(err))
			}
			return
		}
		c.server.handleMessage(c, raw)
	}
}

// writePump 写出消息并定期发送 ping
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("WebSocket 写入失败", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// removeClient 移除断开的客户端
//
// 在写锁内关闭 send，broadcast 持读锁发送，不会向已关闭的通道写入。
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.send)
}

func (s *Server) handleMessage(c *client, raw []byte) {
	action, err := ParseAction(raw)
	if err != nil {
		s.sendTo(c, Message{Type: TypeError, Error: err.Error()})
		return
	}

	switch action {
	case ActionCapture:
		s.backend.InvokeCapture()
	case ActionToggleWindow:
		s.backend.ToggleWindow()
	}
}

func (s *Server) onStatus(ev events.StatusEvent) {
	s.broadcast(Message{Type: TypeStatus, Status: &ev})
}

// forward 把总线事件原样转发给所有客户端
func (s *Server) forward(event events.Event) error {
	s.broadcast(Message{Type: forwardTypes[event.Type], Data: event.Data})
	return nil
}

// broadcast 发送给所有客户端，缓冲区满的客户端跳过该消息
func (s *Server) broadcast(msg Message) {
	data, err := encode(msg)
	if err != nil {
		logger.Warn("编码桥接消息失败", zap.String("component", "bridge"), zap.Error(err))
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for c := range s.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

func (s *Server) sendTo(c *client, msg Message) {
	data, err := encode(msg)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	if _, ok := s.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// localOrigin 只接受没有 Origin 或来自本机的连接
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
