/**
 * Package shortcut 定义截图快捷键
 *
 * 包含按键组合的值类型、持久化编解码、显示标签，
 * 以及持有当前生效组合的 Registry。
 */
package shortcut

import (
	"errors"
	"fmt"
)

// Modifier 修饰键标志位（macOS CGEventFlags）
//
// 使用位掩码表示多个修饰键的组合。
type Modifier uint64

const (
	// ModifierCommand Command 键（⌘），对应 kCGEventFlagMaskCommand
	ModifierCommand Modifier = 0x100000

	// ModifierShift Shift 键（⇧），对应 kCGEventFlagMaskShift
	ModifierShift Modifier = 0x20000

	// ModifierControl Control 键（⌃），对应 kCGEventFlagMaskControl
	ModifierControl Modifier = 0x40000

	// ModifierOption Option 键（⌥），对应 kCGEventFlagMaskAlternate
	ModifierOption Modifier = 0x80000

	// TrackedMask 参与匹配的四个修饰键，其余标志位（Caps Lock、Fn 等）一律忽略
	TrackedMask = ModifierCommand | ModifierShift | ModifierControl | ModifierOption
)

// maxKeyCode 虚拟键码上限
const maxKeyCode = 0xFFFF

var (
	// ErrNoModifier 组合中没有任何受跟踪的修饰键
	ErrNoModifier = errors.New("shortcut requires at least one of command, shift, option, control")

	// ErrInvalidKeyCode 键码超出范围
	ErrInvalidKeyCode = errors.New("invalid key code")
)

// Combination 按键组合
//
// 不可变值类型：更新时整体替换，不在原地修改。
type Combination struct {
	// KeyCode 物理按键的虚拟键码，如 18 = "1"
	KeyCode int

	// Modifiers 修饰键掩码，只包含 TrackedMask 中的位
	Modifiers Modifier
}

// Default 内置默认组合：⌘⇧1
func Default() Combination {
	return Combination{KeyCode: 18, Modifiers: ModifierCommand | ModifierShift}
}

// NewCombination 创建并校验按键组合
//
// 未跟踪的修饰位会被去掉；去掉后没有修饰键时返回 ErrNoModifier。
func NewCombination(keyCode int, modifiers Modifier) (Combination, error) {
	c := Combination{KeyCode: keyCode, Modifiers: modifiers & TrackedMask}
	if err := c.Validate(); err != nil {
		return Combination{}, err
	}
	return c, nil
}

// Validate 检查组合是否可以被接受为用户输入
func (c Combination) Validate() error {
	if c.KeyCode < 0 || c.KeyCode > maxKeyCode {
		return fmt.Errorf("%w: %d", ErrInvalidKeyCode, c.KeyCode)
	}
	if c.Modifiers&TrackedMask == 0 {
		return ErrNoModifier
	}
	return nil
}

// Matches 判断一个按键事件是否命中该组合
//
// 键码相等，且事件修饰键与 TrackedMask 的交集恰好等于组合的掩码。
// 额外的未跟踪修饰键不影响匹配。
func (c Combination) Matches(keyCode int, flags uint64) bool {
	if keyCode != c.KeyCode {
		return false
	}
	return Modifier(flags)&TrackedMask == c.Modifiers&TrackedMask
}

// Has 是否包含指定修饰键
func (c Combination) Has(m Modifier) bool {
	return c.Modifiers&m == m
}
