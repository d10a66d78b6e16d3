/**
 * Package app 提供截图代理的组合根
 *
 * App 层职责：
 * - 装配配置、偏好存储、快捷键注册表、触发监听、截图控制器和上传客户端
 * - 提供唯一的截图入口 InvokeCapture，快捷键、托盘菜单和桥接服务都走这一个入口
 * - 快捷键变更时通知监听器重新注册
 * - 跟踪状态总线，为托盘和桥接服务提供最新状态快照
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chenyang-zz/quickcapture/internal/capture"
	"github.com/chenyang-zz/quickcapture/internal/domain/shortcut"
	"github.com/chenyang-zz/quickcapture/internal/infrastructure/config"
	"github.com/chenyang-zz/quickcapture/internal/infrastructure/platform"
	"github.com/chenyang-zz/quickcapture/internal/infrastructure/storage"
	"github.com/chenyang-zz/quickcapture/internal/monitor"
	"github.com/chenyang-zz/quickcapture/internal/runloop"
	"github.com/chenyang-zz/quickcapture/internal/services"
	"github.com/chenyang-zz/quickcapture/internal/upload"
	"github.com/chenyang-zz/quickcapture/pkg/events"
	"github.com/chenyang-zz/quickcapture/pkg/logger"
	"go.uber.org/zap"
)

const (
	// MsgShortcutUnavailable 两条监听途径都不可用时的状态文本
	MsgShortcutUnavailable = "Shortcut unavailable. Use the menu to capture."

	// permissionPromptKey 辅助功能授权提示是否已弹出过
	permissionPromptKey = "permission.accessibility.prompted"

	healthProbeTimeout = 3 * time.Second
	shutdownTimeout    = 5 * time.Second
)

var (
	// ErrNotStarted Startup 之前调用了依赖运行状态的方法
	ErrNotStarted = errors.New("app not started")

	// ErrAlreadyStarted Startup 被重复调用
	ErrAlreadyStarted = errors.New("app already started")
)

/**
 * Presenter 主窗口的显示切换
 *
 * 窗口本身不在代理内实现，由外部界面提供。
 */
type Presenter interface {
	ToggleWindow()
}

/**
 * Options 组合根的可替换依赖
 *
 * 为空的字段使用生产实现。
 */
type Options struct {
	// Config 应用配置，为 nil 时使用 config.Default()
	Config *config.Config

	// ConfigPath 非空时监听该文件并在修改后重新加载
	ConfigPath string

	// Shortcut 命令行指定的快捷键，如 "Cmd+Shift+2"，通过注册表更新路径生效
	Shortcut string

	// Sources 触发监听途径，默认是系统级钩子加进程内钩子
	Sources []monitor.TriggerSource

	// Runner 截图进程启动器
	Runner capture.Runner

	// Permissions 系统权限检查器
	Permissions platform.PermissionChecker

	// Presenter 主窗口，为 nil 时只发布 window 事件
	Presenter Presenter
}

/**
 * Snapshot 最新状态快照
 */
type Snapshot struct {
	Text      string    `json:"text"`
	Busy      bool      `json:"busy"`
	CaptureID string    `json:"capture_id,omitempty"`
	Shortcut  string    `json:"shortcut"`
	UpdatedAt time.Time `json:"updated_at"`
}

/**
 * App 截图代理的组合根
 *
 * 包含了代理运行所需的全部组件，通过 Options 注入外部边界。
 */
type App struct {
	opts Options

	// cfg 当前生效的配置，配置重新加载时整体替换
	cfg atomic.Pointer[config.Config]

	// eventBus 内部事件总线，status 是其上的类型化封装
	eventBus *events.EventBus
	status   *events.StatusBus

	// loop 协调循环，截图控制器和注册表更新都在其中执行
	loop *runloop.Loop

	client      *upload.Client
	controller  *capture.Controller
	listener    *monitor.Listener
	permissions *services.PermissionManager

	// 以下字段在 Startup 中初始化
	registry   *shortcut.Registry
	closePrefs func() error
	watcher    *config.Watcher
	cancel     context.CancelFunc
	statusSub  string

	snapMu   sync.RWMutex
	snapshot Snapshot
	active   map[string]struct{}

	mu           sync.Mutex
	started      bool
	shutdownOnce sync.Once
	shutdownErr  error
}

/**
 * New 创建 App 实例
 *
 * 只做装配，不触碰文件系统和系统钩子，这些在 Startup 中完成。
 *
 * Parameters:
 *   - opts: 可替换依赖
 *
 * Returns:
 *   - *App: 装配好的实例
 *   - error: 配置无效
 */
func New(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Sources == nil {
		opts.Sources = monitor.DefaultSources()
	}
	if opts.Runner == nil {
		opts.Runner = capture.ExecRunner{}
	}
	if opts.Permissions == nil {
		opts.Permissions = platform.NewPermissionChecker()
	}

	a := &App{
		opts:   opts,
		active: make(map[string]struct{}),
	}
	a.cfg.Store(cfg)

	a.eventBus = events.NewEventBus()
	a.eventBus.Use(events.RecoveryMiddleware())
	a.eventBus.Use(events.LoggingMiddleware(func(event events.Event) {
		logger.Debug("处理事件",
			zap.String("component", "app"),
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID),
		)
	}))
	a.status = events.NewStatusBus(a.eventBus)
	a.loop = runloop.New(0)

	a.client = upload.NewClient(cfg.Backend.URL, cfg.Backend.Timeout, a.credentials)
	a.controller = capture.NewController(capture.Config{
		Tool:       cfg.Capture.Tool,
		Args:       cfg.Capture.Args,
		TempDir:    cfg.Capture.TempDir,
		ResetDelay: cfg.Status.ResetDelay,
	}, opts.Runner, a.loop, a.status, a.client)
	a.listener = monitor.NewListener(a.loop, a.eventBus, opts.Sources...)

	a.snapshot = Snapshot{Text: capture.MsgReady, UpdatedAt: time.Now()}
	return a, nil
}

/**
 * Startup 启动代理
 *
 * 负责：
 * 1. 打开偏好存储并加载快捷键
 * 2. 启动协调循环
 * 3. 检查辅助功能权限后注册快捷键
 * 4. 应用配置或命令行指定的快捷键
 * 5. 探测后端、启动配置监听
 *
 * 快捷键注册失败不会导致启动失败，菜单和桥接入口仍然可用。
 *
 * Parameters:
 *   - ctx: 启动阶段的上下文，权限提示和后端探测使用，取消不会停止代理
 *
 * Returns:
 *   - error: 重复启动
 */
func (a *App) Startup(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.started = true
	a.mu.Unlock()

	cfg := a.cfg.Load()

	var store shortcut.Store
	var memo services.PromptMemo
	prefs, closePrefs, err := storage.OpenPreferenceStore(cfg.Storage.PreferencesPath)
	if err != nil {
		// 没有存储时快捷键只保存在内存中
		logger.Warn("打开偏好存储失败，快捷键不会持久化",
			zap.String("component", "app"),
			zap.String("path", cfg.Storage.PreferencesPath),
			zap.Error(err),
		)
	} else {
		a.closePrefs = closePrefs
		store = prefs.Key(storage.ShortcutKey)
		memo = prefs.Key(permissionPromptKey)
	}

	a.registry = shortcut.NewRegistry(store, cfg.DefaultShortcut())
	a.permissions = services.NewPermissionManager(a.opts.Permissions, a.eventBus, memo)
	a.statusSub = a.status.Subscribe(a.track)
	a.status.Message("", capture.MsgReady)

	// 协调循环只由 Shutdown 停止，收到信号时仍要在循环中关闭截图控制器
	loopCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go a.loop.Run(loopCtx)

	a.registry.OnChange(a.onShortcutChanged)
	if err := a.loop.Do(ctx, func() { a.registerShortcut(ctx) }); err != nil {
		logger.Warn("快捷键注册未执行", zap.String("component", "app"), zap.Error(err))
	}
	// 缺少屏幕录制权限时截图工具仍能运行，只是拍不到其他应用的内容
	_ = a.permissions.EnsurePermission(platform.PermissionScreenCapture)
	a.applyInitialBinding(ctx)

	if a.opts.ConfigPath != "" {
		a.watcher = config.NewWatcher(a.opts.ConfigPath, a.applyConfig)
		if err := a.watcher.Start(); err != nil {
			logger.Warn("配置文件监听启动失败", zap.String("component", "app"), zap.Error(err))
			a.watcher = nil
		}
	}

	go a.probeBackend(ctx)

	logger.Info("截图代理已启动",
		zap.String("component", "app"),
		zap.String("shortcut", shortcut.DisplayLabel(a.registry.Current())),
		zap.Strings("sources", a.listener.Active()),
		zap.String("backend", a.client.BaseURL()),
	)
	return nil
}

/**
 * Shutdown 停止代理
 *
 * 卸载钩子、终止存活的截图进程、停止总线并关闭存储。可以重复调用。
 *
 * Returns:
 *   - error: 各步骤错误的合并
 */
func (a *App) Shutdown() error {
	a.shutdownOnce.Do(func() {
		a.mu.Lock()
		started := a.started
		a.mu.Unlock()

		var errs []error
		if a.watcher != nil {
			errs = append(errs, a.watcher.Close())
		}
		errs = append(errs, a.listener.Close())

		if started {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			err := a.loop.Do(ctx, a.controller.Close)
			cancel()
			a.cancel()
			<-a.loop.Done()

			switch {
			case errors.Is(err, runloop.ErrClosed):
				// 循环已退出，控制器状态不再有其他访问者
				a.controller.Close()
			case err != nil:
				errs = append(errs, fmt.Errorf("close capture controller: %w", err))
			}
		}

		if a.statusSub != "" {
			a.status.Unsubscribe(a.statusSub)
		}
		errs = append(errs, a.eventBus.Stop(shutdownTimeout))
		if a.closePrefs != nil {
			errs = append(errs, a.closePrefs())
		}

		a.shutdownErr = errors.Join(errs...)
		logger.Info("截图代理已停止", zap.String("component", "app"))
	})
	return a.shutdownErr
}

// ========== 导出方法（托盘与桥接调用） ==========

/**
 * InvokeCapture 开始一次截图
 *
 * 快捷键、托盘菜单和桥接服务使用同一个入口，截图在协调循环中开始。
 */
func (a *App) InvokeCapture() {
	if !a.loop.Post(a.controller.Trigger) {
		logger.Warn("协调循环已退出，忽略截图请求", zap.String("component", "app"))
	}
}

/**
 * CaptureAndWait 开始一次截图并等待其完成
 *
 * 用于单次模式。返回该会话最后一条状态文本。
 */
func (a *App) CaptureAndWait(ctx context.Context) (string, error) {
	done := make(chan string, 1)

	var mu sync.Mutex
	var id, last string
	sub := a.status.Subscribe(func(ev events.StatusEvent) {
		mu.Lock()
		defer mu.Unlock()

		switch ev.Kind {
		case events.StatusStarted:
			if id == "" {
				id = ev.CaptureID
			}
		case events.StatusMessage:
			if id != "" && ev.CaptureID == id {
				last = ev.Text
			}
		case events.StatusCompleted:
			if id != "" && ev.CaptureID == id {
				select {
				case done <- last:
				default:
				}
			}
		}
	})
	defer a.status.Unsubscribe(sub)

	a.InvokeCapture()

	select {
	case text := <-done:
		return text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

/**
 * ToggleWindow 切换主窗口显示
 *
 * 同时发布 window 事件，桥接服务把它转发给外部界面。
 */
func (a *App) ToggleWindow() {
	if a.opts.Presenter != nil {
		a.opts.Presenter.ToggleWindow()
	}
	event := events.NewEvent(events.EventTypeWindow, map[string]interface{}{"action": "toggle"})
	_ = a.eventBus.Publish(string(events.EventTypeWindow), *event)
}

/**
 * UpdateShortcut 替换快捷键
 *
 * 在协调循环中更新注册表，注册表通知监听器重新注册。
 *
 * Returns:
 *   - shortcut.PersistResult: 持久化结果，失败时新组合在本次会话中仍然生效
 *   - error: 组合无效或代理未启动
 */
func (a *App) UpdateShortcut(ctx context.Context, c shortcut.Combination) (shortcut.PersistResult, error) {
	if a.registry == nil {
		return shortcut.PersistResult{}, ErrNotStarted
	}

	var result shortcut.PersistResult
	var updateErr error
	if err := a.loop.Do(ctx, func() {
		result, updateErr = a.updateShortcut(c)
	}); err != nil {
		return shortcut.PersistResult{}, err
	}
	return result, updateErr
}

// CurrentShortcut 当前生效的快捷键
func (a *App) CurrentShortcut() shortcut.Combination {
	if a.registry == nil {
		return a.cfg.Load().DefaultShortcut()
	}
	return a.registry.Current()
}

// Status 最新状态快照
func (a *App) Status() Snapshot {
	a.snapMu.RLock()
	snap := a.snapshot
	a.snapMu.RUnlock()

	snap.Shortcut = shortcut.DisplayLabel(a.CurrentShortcut())
	return snap
}

// Busy 是否有截图会话未完成
func (a *App) Busy() bool {
	a.snapMu.RLock()
	defer a.snapMu.RUnlock()
	return len(a.active) > 0
}

// StatusBus 状态总线，供托盘和桥接订阅
func (a *App) StatusBus() *events.StatusBus {
	return a.status
}

// EventBus 内部事件总线
func (a *App) EventBus() *events.EventBus {
	return a.eventBus
}

// Config 当前生效的配置
func (a *App) Config() *config.Config {
	return a.cfg.Load()
}

// ========== 私有方法 ==========

// credentials 每次上传时读取最新配置中的凭据
func (a *App) credentials() upload.Credentials {
	c := a.cfg.Load().Credentials
	return upload.Credentials{
		NotionAPIKey: c.NotionAPIKey,
		NotionPageID: c.NotionPageID,
		GoogleTokens: c.GoogleTokens,
	}
}

// registerShortcut 检查权限并以当前组合注册监听，在协调循环中执行
func (a *App) registerShortcut(ctx context.Context) {
	if !a.permissions.CheckAndPrompt(ctx, platform.PermissionAccessibility) {
		logger.Warn("缺少辅助功能权限，系统级快捷键可能不可用，应用获得焦点时仍可触发",
			zap.String("component", "app"),
		)
	}

	err := a.listener.Register(a.registry.Current(), a.controller.Trigger)
	a.reportRegistration(err)
}

// applyInitialBinding 命令行或配置文件指定的快捷键通过注册表更新生效
func (a *App) applyInitialBinding(ctx context.Context) {
	binding := a.opts.Shortcut
	source := "flag"
	if binding == "" {
		binding = a.cfg.Load().Shortcut.Binding
		source = "config"
	}
	if binding == "" {
		return
	}

	combo, err := shortcut.ParseCombination(binding)
	if err != nil {
		logger.Warn("忽略无效的快捷键设置",
			zap.String("component", "app"),
			zap.String("source", source),
			zap.String("shortcut", binding),
			zap.Error(err),
		)
		return
	}
	if combo == a.registry.Current() {
		return
	}
	if _, err := a.UpdateShortcut(ctx, combo); err != nil {
		logger.Warn("应用快捷键设置失败",
			zap.String("component", "app"),
			zap.String("source", source),
			zap.Error(err),
		)
	}
}

// updateShortcut 在协调循环中执行
func (a *App) updateShortcut(c shortcut.Combination) (shortcut.PersistResult, error) {
	result, err := a.registry.Update(c)
	if err != nil {
		return result, err
	}

	data := events.ShortcutEventData{Label: shortcut.DisplayLabel(c), Persisted: result.Persisted}
	event := events.NewEvent(events.EventTypeShortcut, data.Map())
	_ = a.eventBus.Publish(string(events.EventTypeShortcut), *event)
	return result, nil
}

// onShortcutChanged 注册表变更后重新注册监听
func (a *App) onShortcutChanged(c shortcut.Combination) {
	// 用户可能已在系统设置中授权，重新查询而不是沿用缓存
	a.permissions.InvalidatePermissionCache(platform.PermissionAccessibility)
	if a.permissions.CheckPermission(platform.PermissionAccessibility) == platform.PermissionStatusDenied {
		logger.Warn("缺少辅助功能权限，新快捷键只在应用获得焦点时生效", zap.String("component", "app"))
	}
	a.reportRegistration(a.listener.Reregister(c))
}

func (a *App) reportRegistration(err error) {
	switch {
	case err == nil:
	case errors.Is(err, monitor.ErrListenerClosed):
	case errors.Is(err, monitor.ErrNoTriggerSource):
		logger.Error("快捷键注册失败，所有监听途径均不可用",
			zap.String("component", "app"),
			zap.Error(err),
		)
		a.status.Message("", MsgShortcutUnavailable)
	default:
		logger.Warn("快捷键重新注册时出现错误",
			zap.String("component", "app"),
			zap.Strings("sources", a.listener.Active()),
			zap.Error(err),
		)
	}
}

// applyConfig 配置文件重新加载后调用
//
// 后端地址和凭据立即生效，快捷键通过注册表更新路径生效。
// 截图工具和日志配置需要重启。
func (a *App) applyConfig(cfg *config.Config) {
	a.cfg.Store(cfg)
	a.client.SetBaseURL(cfg.Backend.URL)

	combo, ok, err := cfg.Binding()
	if err != nil || !ok {
		return
	}
	a.loop.Post(func() {
		if combo == a.registry.Current() {
			return
		}
		if _, err := a.updateShortcut(combo); err != nil {
			logger.Warn("应用配置中的快捷键失败", zap.String("component", "app"), zap.Error(err))
		}
	})
}

// track 根据状态事件维护快照
func (a *App) track(ev events.StatusEvent) {
	a.snapMu.Lock()
	defer a.snapMu.Unlock()

	switch ev.Kind {
	case events.StatusStarted:
		a.active[ev.CaptureID] = struct{}{}
		a.snapshot.CaptureID = ev.CaptureID
	case events.StatusCompleted:
		delete(a.active, ev.CaptureID)
	case events.StatusMessage:
		a.snapshot.Text = ev.Text
	}
	a.snapshot.Busy = len(a.active) > 0
	a.snapshot.UpdatedAt = ev.Time
}

// probeBackend 启动时探测后端是否在运行
func (a *App) probeBackend(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	if err := a.client.Ping(ctx); err != nil {
		logger.Warn("截图服务不可用，上传会失败直到服务启动",
			zap.String("component", "app"),
			zap.String("backend", a.client.BaseURL()),
			zap.Error(err),
		)
		return
	}
	logger.Info("截图服务可用", zap.String("component", "app"), zap.String("backend", a.client.BaseURL()))
}
