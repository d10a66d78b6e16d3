/**
 * Package platform 提供系统级键盘钩子
 *
 * 两种钩子：
 *   - 全局钩子：系统范围监听，不依赖焦点，需要辅助功能权限
 *   - 进程内钩子：只在本进程窗口获得焦点时触发，可以吞掉命中的按键
 *
 * 事件中的键码与修饰键统一使用 macOS 虚拟键码和 CGEventFlags 位。
 */
package platform

import "errors"

var (
	// ErrUnsupported 当前平台不支持该钩子
	ErrUnsupported = errors.New("keyboard hook not supported on this platform")

	// ErrPermissionDenied 系统拒绝创建全局钩子（通常是缺少辅助功能权限）
	ErrPermissionDenied = errors.New("keyboard hook denied: accessibility permission required")

	// ErrAlreadyInstalled 钩子已安装
	ErrAlreadyInstalled = errors.New("keyboard hook already installed")
)

// KeyEvent 按键按下事件
type KeyEvent struct {
	// KeyCode macOS 虚拟键码
	KeyCode int

	// Flags 修饰键标志位（CGEventFlags 语义）
	Flags uint64
}

// KeyHandler 按键回调
//
// 在系统钩子线程上同步调用，不能阻塞。
// 返回 true 表示事件已被处理，进程内钩子会吞掉该事件。
type KeyHandler func(ev KeyEvent) bool

// Hook 键盘钩子
type Hook interface {
	// Name 钩子名称，用于日志
	Name() string

	// Install 安装钩子，已安装时返回 ErrAlreadyInstalled
	Install(handler KeyHandler) error

	// Uninstall 卸载钩子，未安装时直接返回 nil
	Uninstall() error
}

// 修饰键标志位，与 CGEventFlags / NSEventModifierFlags 一致
const (
	flagShift   uint64 = 0x20000
	flagControl uint64 = 0x40000
	flagOption  uint64 = 0x80000
	flagCommand uint64 = 0x100000
)
