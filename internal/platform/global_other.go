//go:build !darwin

package platform

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/chenyang-zz/quickcapture/pkg/logger"
	gohook "github.com/robotn/gohook"
	"go.uber.org/zap"
)

// uioKeyCodes uiohook 键码到 macOS 虚拟键码
var uioKeyCodes = buildKeyCodeTable(gohook.Keycode)

// hookStartTimeout libuiohook 启动后发出 HookEnabled 的最长等待时间
const hookStartTimeout = 2 * time.Second

// awaitEnabled 等待事件流中的 HookEnabled
//
// libuiohook 启动失败（无权限或无显示服务）时通道保持静默，超时即视为权限不足。
func awaitEnabled(events <-chan gohook.Event, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return ErrPermissionDenied
			}
			if ev.Kind == gohook.HookEnabled {
				return nil
			}
		case <-timer.C:
			return ErrPermissionDenied
		}
	}
}

// globalHook 基于 libuiohook 的系统级钩子
//
// 键码与修饰键在进入回调前统一转换为 macOS 语义，
// 上层匹配逻辑与 macOS 平台保持一致。
type globalHook struct {
	mu        sync.Mutex
	installed bool
	done      chan struct{}
	handler   atomic.Pointer[KeyHandler]
}

// NewGlobalHook 创建系统级键盘钩子
func NewGlobalHook() Hook {
	return &globalHook{}
}

func (h *globalHook) Name() string { return "global" }

func (h *globalHook) Install(handler KeyHandler) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.installed {
		return ErrAlreadyInstalled
	}

	events := gohook.Start()
	if err := awaitEnabled(events, hookStartTimeout); err != nil {
		gohook.End()
		logger.Warn("全局键盘钩子未能启动", zap.String("component", "platform"), zap.Duration("timeout", hookStartTimeout))
		return err
	}
	h.handler.Store(&handler)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("全局钩子事件循环异常", zap.String("component", "platform"), zap.Any("panic", r))
			}
		}()

		for ev := range events {
			if ev.Kind != gohook.KeyDown {
				continue
			}
			code, ok := uioKeyCodes[ev.Keycode]
			if !ok {
				continue
			}
			if fn := h.handler.Load(); fn != nil {
				(*fn)(KeyEvent{KeyCode: code, Flags: translateMask(ev.Mask)})
			}
		}
	}()

	h.done = done
	h.installed = true
	logger.Info("全局键盘钩子已安装", zap.String("component", "platform"))
	return nil
}

func (h *globalHook) Uninstall() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.installed {
		return nil
	}

	h.handler.Store(nil)
	gohook.End()
	<-h.done

	h.installed = false
	logger.Info("全局键盘钩子已卸载", zap.String("component", "platform"))
	return nil
}
