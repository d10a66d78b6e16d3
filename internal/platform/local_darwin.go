//go:build darwin

package platform

/*
#cgo CFLAGS: -x objective-c -fobjc-arc
#cgo LDFLAGS: -framework Cocoa

#import <Cocoa/Cocoa.h>

int goLocalKeyDown(int keyCode, unsigned long long flags);

static id localMonitor = nil;

// installLocalMonitor 在主线程注册 NSEvent 本地监听
// 回调返回非 0 时吞掉事件，返回 nil 阻止其继续分发
static void installLocalMonitor() {
    dispatch_async(dispatch_get_main_queue(), ^{
        if (localMonitor != nil) {
            return;
        }
        localMonitor = [NSEvent addLocalMonitorForEventsMatchingMask:NSEventMaskKeyDown
                                                             handler:^NSEvent *(NSEvent *event) {
            int consumed = goLocalKeyDown((int)[event keyCode],
                                          (unsigned long long)[event modifierFlags]);
            return consumed ? nil : event;
        }];
    });
}

static void removeLocalMonitor() {
    dispatch_async(dispatch_get_main_queue(), ^{
        if (localMonitor != nil) {
            [NSEvent removeMonitor:localMonitor];
            localMonitor = nil;
        }
    });
}
*/
import "C"

import (
	"sync"
	"sync/atomic"

	"github.com/chenyang-zz/quickcapture/pkg/logger"
	"go.uber.org/zap"
)

// activeLocal 当前接收 NSEvent 回调的进程内钩子
var activeLocal atomic.Pointer[localHook]

//export goLocalKeyDown
func goLocalKeyDown(keyCode C.int, flags C.ulonglong) C.int {
	h := activeLocal.Load()
	if h == nil {
		return 0
	}
	handler := h.handler.Load()
	if handler == nil {
		return 0
	}
	if (*handler)(KeyEvent{KeyCode: int(keyCode), Flags: uint64(flags)}) {
		return 1
	}
	return 0
}

// localHook 基于 NSEvent 本地监听的进程内钩子
//
// 只在本进程窗口获得键盘焦点时触发，不需要辅助功能权限。
// 注册与移除被派发到主线程执行，需要主线程运行 NSApplication 事件循环。
type localHook struct {
	mu        sync.Mutex
	installed bool
	handler   atomic.Pointer[KeyHandler]
}

// NewLocalHook 创建进程内键盘钩子
func NewLocalHook() Hook {
	return &localHook{}
}

func (h *localHook) Name() string { return "local" }

func (h *localHook) Install(handler KeyHandler) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.installed {
		return ErrAlreadyInstalled
	}
	if !activeLocal.CompareAndSwap(nil, h) {
		return ErrAlreadyInstalled
	}

	h.handler.Store(&handler)
	C.installLocalMonitor()
	h.installed = true

	logger.Debug("进程内键盘钩子已安装", zap.String("component", "platform"))
	return nil
}

func (h *localHook) Uninstall() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.installed {
		return nil
	}

	h.handler.Store(nil)
	C.removeLocalMonitor()
	activeLocal.CompareAndSwap(h, nil)
	h.installed = false

	logger.Debug("进程内键盘钩子已卸载", zap.String("component", "platform"))
	return nil
}
