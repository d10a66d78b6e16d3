//go:build darwin

package platform

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework CoreGraphics -framework CoreFoundation

#include <CoreFoundation/CoreFoundation.h>
#include <CoreGraphics/CoreGraphics.h>

int goGlobalKeyDown(int keyCode, unsigned long long flags);

static CFMachPortRef globalTap = NULL;
static CFRunLoopRef globalLoop = NULL;
static volatile int globalStopRequested = 0;

// tapCallback 只监听，不修改事件
static CGEventRef tapCallback(CGEventTapProxy proxy, CGEventType type,
                              CGEventRef event, void *refcon) {
    if (type == kCGEventTapDisabledByTimeout || type == kCGEventTapDisabledByUserInput) {
        // 系统在回调过慢时会关闭 tap，重新启用
        if (globalTap != NULL) {
            CGEventTapEnable(globalTap, true);
        }
        return event;
    }
    if (type == kCGEventKeyDown) {
        CGKeyCode keycode = (CGKeyCode)CGEventGetIntegerValueField(event, kCGKeyboardEventKeycode);
        CGEventFlags flags = CGEventGetFlags(event);
        goGlobalKeyDown((int)keycode, (unsigned long long)flags);
    }
    return event;
}

// installGlobalTap 在当前线程创建 tap 并挂到当前线程的 run loop
// 返回 0 成功，-1 创建失败（通常是缺少权限）
static int installGlobalTap() {
    globalStopRequested = 0;
    CGEventMask mask = CGEventMaskBit(kCGEventKeyDown);
    globalTap = CGEventTapCreate(
        kCGSessionEventTap,
        kCGHeadInsertEventTap,
        kCGEventTapOptionListenOnly,
        mask,
        tapCallback,
        NULL
    );
    if (globalTap == NULL) {
        return -1;
    }

    CFRunLoopSourceRef src = CFMachPortCreateRunLoopSource(kCFAllocatorDefault, globalTap, 0);
    globalLoop = CFRunLoopGetCurrent();
    CFRetain(globalLoop);
    CFRunLoopAddSource(globalLoop, src, kCFRunLoopCommonModes);
    CFRelease(src);
    CGEventTapEnable(globalTap, true);
    return 0;
}

// runGlobalLoop 阻塞运行当前线程的 run loop，直到 stopGlobalTap
// 分段运行，避免 stop 早于 run loop 启动时错过停止信号
static void runGlobalLoop() {
    while (!globalStopRequested) {
        CFRunLoopRunInMode(kCFRunLoopDefaultMode, 0.25, false);
    }
}

static void stopGlobalTap() {
    globalStopRequested = 1;
    if (globalTap != NULL) {
        CGEventTapEnable(globalTap, false);
    }
    if (globalLoop != NULL) {
        CFRunLoopStop(globalLoop);
    }
}

// releaseGlobalTap 在 run loop 线程退出后释放资源
static void releaseGlobalTap() {
    if (globalTap != NULL) {
        CFMachPortInvalidate(globalTap);
        CFRelease(globalTap);
        globalTap = NULL;
    }
    if (globalLoop != NULL) {
        CFRelease(globalLoop);
        globalLoop = NULL;
    }
}
*/
import "C"

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chenyang-zz/quickcapture/pkg/logger"
	"go.uber.org/zap"
)

// activeGlobal 当前接收 C 回调的全局钩子
//
// C 回调无法携带 Go 指针，同一时刻只允许一个全局钩子。
var activeGlobal atomic.Pointer[globalHook]

//export goGlobalKeyDown
func goGlobalKeyDown(keyCode C.int, flags C.ulonglong) C.int {
	h := activeGlobal.Load()
	if h == nil {
		return 0
	}
	if handler := h.handler.Load(); handler != nil {
		(*handler)(KeyEvent{KeyCode: int(keyCode), Flags: uint64(flags)})
	}
	return 0
}

// globalHook 基于 CGEventTap 的系统级钩子
//
// tap 在专用的、锁定 OS 线程的 goroutine 中创建并运行，
// 保证 tap 的 run loop source 挂在实际运行 CFRunLoop 的线程上。
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

// Install 创建 CGEventTap
//
// 缺少辅助功能权限时返回 ErrPermissionDenied。
func (h *globalHook) Install(handler KeyHandler) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.installed {
		return ErrAlreadyInstalled
	}
	if !activeGlobal.CompareAndSwap(nil, h) {
		return ErrAlreadyInstalled
	}
	h.handler.Store(&handler)

	result := make(chan C.int, 1)
	done := make(chan struct{})
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(done)

		if rc := C.installGlobalTap(); rc != 0 {
			result <- rc
			return
		}
		result <- 0

		C.runGlobalLoop()
		C.releaseGlobalTap()
	}()

	if rc := <-result; rc != 0 {
		<-done
		h.handler.Store(nil)
		activeGlobal.CompareAndSwap(h, nil)
		return ErrPermissionDenied
	}

	h.done = done
	h.installed = true
	logger.Info("全局键盘钩子已安装", zap.String("component", "platform"))
	return nil
}

// Uninstall 停止 run loop 并释放 tap
func (h *globalHook) Uninstall() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.installed {
		return nil
	}

	h.handler.Store(nil)
	C.stopGlobalTap()

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		logger.Warn("等待全局钩子线程退出超时", zap.String("component", "platform"))
	}

	activeGlobal.CompareAndSwap(h, nil)
	h.installed = false
	logger.Info("全局键盘钩子已卸载", zap.String("component", "platform"))
	return nil
}
