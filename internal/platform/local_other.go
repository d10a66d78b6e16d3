//go:build !darwin

package platform

// localHook 非 macOS 平台没有进程内按键监听
type localHook struct{}

// NewLocalHook 创建进程内键盘钩子
func NewLocalHook() Hook {
	return localHook{}
}

func (localHook) Name() string { return "local" }

func (localHook) Install(KeyHandler) error { return ErrUnsupported }

func (localHook) Uninstall() error { return nil }
