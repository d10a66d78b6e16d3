/**
 * Package monitor 监听截图快捷键
 *
 * Listener 把系统级钩子和进程内钩子组合为一个逻辑触发，
 * 命中当前组合时把回调投递到协调上下文串行执行。
 */
package monitor

import "github.com/chenyang-zz/quickcapture/internal/platform"

// DefaultSources 当前平台的两条监听途径：系统级钩子在前，进程内钩子兜底
func DefaultSources() []TriggerSource {
	return []TriggerSource{
		platform.NewGlobalHook(),
		platform.NewLocalHook(),
	}
}
