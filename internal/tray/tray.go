/**
 * Package tray 提供菜单栏图标和菜单动作分发
 *
 * 菜单项点击后调用与快捷键相同的截图入口；状态总线上的文本显示在菜单首行。
 * systray.Run 需要占用主线程，在 macOS 上它同时驱动应用的事件循环，
 * 进程内按键监听依赖这个事件循环。
 */
package tray

import (
	"sync"

	"github.com/chenyang-zz/quickcapture/internal/domain/shortcut"
	"github.com/chenyang-zz/quickcapture/pkg/events"
	"github.com/chenyang-zz/quickcapture/pkg/logger"
	"github.com/getlantern/systray"
	"go.uber.org/zap"
)

const (
	trayTitle   = "◉"
	trayTooltip = "QuickCapture"
)

// Dispatcher 菜单动作的目标
//
// app.App 满足该接口。
type Dispatcher interface {
	InvokeCapture()
	ToggleWindow()
	CurrentShortcut() shortcut.Combination
	StatusBus() *events.StatusBus
	EventBus() *events.EventBus
}

// menuItem 菜单项
type menuItem interface {
	SetTitle(title string)
	Disable()
	Clicked() <-chan struct{}
}

// systrayItem 适配 systray.MenuItem
type systrayItem struct {
	*systray.MenuItem
}

func (i systrayItem) Clicked() <-chan struct{} {
	return i.ClickedCh
}

func addSystrayItem(title, tooltip string) menuItem {
	return systrayItem{systray.AddMenuItem(title, tooltip)}
}

// Tray 菜单栏图标
type Tray struct {
	d      Dispatcher
	onExit func()

	// quit 退出菜单项的动作，默认结束 systray.Run
	quit func()

	status  menuItem
	capture menuItem
	window  menuItem
	exit    menuItem

	statusSub   string
	shortcutSub string

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New 创建菜单栏图标
//
// Parameters:
//   - d: 菜单动作的目标
//   - onExit: systray 退出后调用，用于关闭代理
func New(d Dispatcher, onExit func()) *Tray {
	return &Tray{
		d:      d,
		onExit: onExit,
		quit:   systray.Quit,
		stop:   make(chan struct{}),
	}
}

// Run 显示菜单栏图标并阻塞，直到 Quit 被调用
//
// 必须在主线程中调用。
func (t *Tray) Run() {
	systray.Run(t.ready, t.exited)
}

// Quit 结束 Run
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) ready() {
	systray.SetTitle(trayTitle)
	systray.SetTooltip(trayTooltip)
	t.build(addSystrayItem, systray.AddSeparator)
	logger.Info("菜单栏图标已就绪", zap.String("component", "tray"))
}

func (t *Tray) exited() {
	t.Close()
	if t.onExit != nil {
		t.onExit()
	}
}

// build 创建菜单项并开始分发点击
func (t *Tray) build(add func(title, tooltip string) menuItem, separator func()) {
	t.status = add("Ready", "Current status")
	t.status.Disable()
	separator()
	t.capture = add(captureTitle(t.d.CurrentShortcut()), "Select a region and send it for analysis")
	t.window = add("Show/Hide Window", "Toggle the main window")
	separator()
	t.exit = add("Quit", "Quit QuickCapture")

	t.statusSub = t.d.StatusBus().Subscribe(func(ev events.StatusEvent) {
		if ev.Kind == events.StatusMessage {
			t.status.SetTitle(ev.Text)
		}
	})
	t.shortcutSub = t.d.EventBus().Subscribe(string(events.EventTypeShortcut), func(events.Event) error {
		t.capture.SetTitle(captureTitle(t.d.CurrentShortcut()))
		return nil
	})

	t.wg.Add(1)
	go t.serve()
}

// serve 把菜单点击分发到截图入口
func (t *Tray) serve() {
	defer t.wg.Done()

	for {
		select {
		case <-t.stop:
			return
		case <-t.capture.Clicked():
			logger.Debug("菜单触发截图", zap.String("component", "tray"))
			t.d.InvokeCapture()
		case <-t.window.Clicked():
			t.d.ToggleWindow()
		case <-t.exit.Clicked():
			logger.Info("用户从菜单退出", zap.String("component", "tray"))
			t.quit()
			return
		}
	}
}

// Close 停止分发并取消订阅，可以重复调用
func (t *Tray) Close() {
	t.stopOnce.Do(func() {
		close(t.stop)
		t.wg.Wait()
		if t.statusSub != "" {
			t.d.StatusBus().Unsubscribe(t.statusSub)
		}
		if t.shortcutSub != "" {
			t.d.EventBus().Unsubscribe(t.shortcutSub)
		}
	})
}

func captureTitle(c shortcut.Combination) string {
	return "Capture Screenshot  " + shortcut.DisplayLabel(c)
}
