package monitor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chenyang-zz/quickcapture/internal/domain/shortcut"
	"github.com/chenyang-zz/quickcapture/internal/platform"
	"github.com/chenyang-zz/quickcapture/pkg/events"
	"github.com/chenyang-zz/quickcapture/pkg/logger"
	"go.uber.org/zap"
)

var (
	// ErrNoTriggerSource 没有任何监听途径安装成功
	ErrNoTriggerSource = errors.New("no trigger source available")

	// ErrListenerClosed 监听器已关闭
	ErrListenerClosed = errors.New("trigger listener closed")
)

// TriggerSource 一条按键监听途径
//
// platform.Hook 直接满足该接口。
type TriggerSource interface {
	Name() string
	Install(handler platform.KeyHandler) error
	Uninstall() error
}

// Poster 把回调投递到协调上下文
//
// runloop.Loop 满足该接口。TryPost 不阻塞，队列满时返回 false。
type Poster interface {
	TryPost(fn func()) bool
}

// Listener 全局触发监听器
//
// 同时安装多条监听途径，任一途径命中当前组合即把触发回调投递到协调上下文。
// 两条途径对同一次按键各触发一次时不做去重，由截图控制器的单会话规则吸收。
type Listener struct {
	sources  []TriggerSource
	poster   Poster
	eventBus *events.EventBus

	// combo 钩子线程上读取，更新时整体替换
	combo   atomic.Pointer[shortcut.Combination]
	trigger atomic.Pointer[func()]

	mu        sync.Mutex
	installed []TriggerSource
	closed    bool
}

// NewListener 创建监听器
//
// eventBus 可以为 nil，非 nil 时每次命中发布一条 trigger 事件。
func NewListener(poster Poster, eventBus *events.EventBus, sources ...TriggerSource) *Listener {
	return &Listener{
		sources:  sources,
		poster:   poster,
		eventBus: eventBus,
	}
}

// Register 以组合 c 安装全部监听途径
//
// 部分途径失败时记录警告并继续使用其余途径，全部失败时返回 ErrNoTriggerSource。
// 已注册时等同于 Reregister，并替换触发回调。
func (l *Listener) Register(c shortcut.Combination, onTrigger func()) error {
	if onTrigger == nil {
		return errors.New("trigger callback is nil")
	}
	l.trigger.Store(&onTrigger)
	return l.Reregister(c)
}

// Reregister 卸载全部途径后以新组合重新安装
//
// 卸载总会执行，即使随后的安装失败，也不会残留旧组合的钩子。
func (l *Listener) Reregister(c shortcut.Combination) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrListenerClosed
	}

	unregErr := l.uninstallLocked()
	l.combo.Store(&c)
	regErr := l.installLocked()

	if err := errors.Join(unregErr, regErr); err != nil {
		return err
	}

	logger.Info("快捷键已注册",
		zap.String("component", "listener"),
		zap.String("shortcut", c.String()),
		zap.Strings("sources", l.activeLocked()),
	)
	return nil
}

// Unregister 卸载全部监听途径，未注册时直接返回
func (l *Listener) Unregister() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.uninstallLocked()
}

// Close 卸载全部途径并拒绝后续注册，可以重复调用
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.uninstallLocked()
}

// Active 返回当前已安装的途径名称
func (l *Listener) Active() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activeLocked()
}

// Combination 返回当前匹配的组合
func (l *Listener) Combination() (shortcut.Combination, bool) {
	c := l.combo.Load()
	if c == nil {
		return shortcut.Combination{}, false
	}
	return *c, true
}

func (l *Listener) installLocked() error {
	if len(l.sources) == 0 {
		return ErrNoTriggerSource
	}

	var errs []error
	for _, src := range l.sources {
		if err := src.Install(l.handlerFor(src.Name())); err != nil {
			logger.Warn("监听途径安装失败，使用其余途径",
				zap.String("component", "listener"),
				zap.String("source", src.Name()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("install %s: %w", src.Name(), err))
			continue
		}
		l.installed = append(l.installed, src)
	}

	if len(l.installed) == 0 {
		return errors.Join(append([]error{ErrNoTriggerSource}, errs...)...)
	}
	return nil
}

func (l *Listener) uninstallLocked() error {
	var errs []error
	for _, src := range l.installed {
		if err := src.Uninstall(); err != nil {
			errs = append(errs, fmt.Errorf("uninstall %s: %w", src.Name(), err))
		}
	}
	l.installed = nil
	return errors.Join(errs...)
}

func (l *Listener) activeLocked() []string {
	names := make([]string, 0, len(l.installed))
	for _, src := range l.installed {
		names = append(names, src.Name())
	}
	return names
}

// handlerFor 生成途径的按键回调
//
// 在系统钩子线程上调用，只做匹配和投递，不加锁。
func (l *Listener) handlerFor(source string) platform.KeyHandler {
	return func(ev platform.KeyEvent) bool {
		c := l.combo.Load()
		if c == nil || !c.Matches(ev.KeyCode, ev.Flags) {
			return false
		}
		l.fire(source, *c)
		return true
	}
}

func (l *Listener) fire(source string, c shortcut.Combination) {
	fn := l.trigger.Load()
	if fn == nil {
		return
	}
	if !l.poster.TryPost(*fn) {
		logger.Warn("协调队列已满，丢弃触发",
			zap.String("component", "listener"),
			zap.String("source", source),
		)
		return
	}

	if l.eventBus != nil {
		data := events.TriggerEventData{Source: source, KeyCode: c.KeyCode}
		event := events.NewEvent(events.EventTypeTrigger, data.Map()).WithMetadata("shortcut", c.String())
		_ = l.eventBus.Publish(string(events.EventTypeTrigger), *event)
	}
}
