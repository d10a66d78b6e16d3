package shortcut

import (
	"fmt"
	"strings"
)

// keyNameToKeyCode 按键名称到 macOS 虚拟键码的映射表
//
// 支持：
//   - 字母 A-Z
//   - 数字 0-9
//   - 功能键 F1-F20
//   - 方向键与常用特殊键
var keyNameToKeyCode = map[string]int{
	// 字母键
	"a": 0, "b": 11, "c": 8, "d": 2, "e": 14, "f": 3, "g": 5, "h": 4,
	"i": 34, "j": 38, "k": 40, "l": 37, "m": 46, "n": 45, "o": 31, "p": 35,
	"q": 12, "r": 15, "s": 1, "t": 17, "u": 32, "v": 9, "w": 13, "x": 7,
	"y": 16, "z": 6,

	// 数字键
	"0": 29, "1": 18, "2": 19, "3": 20, "4": 21, "5": 23, "6": 22,
	"7": 26, "8": 28, "9": 25,

	// 功能键
	"f1": 122, "f2": 120, "f3": 99, "f4": 118, "f5": 96, "f6": 97,
	"f7": 98, "f8": 100, "f9": 101, "f10": 109, "f11": 103, "f12": 111,
	"f13": 105, "f14": 107, "f15": 113, "f16": 106, "f17": 64, "f18": 79,
	"f19": 80, "f20": 90,

	// 方向键
	"up": 126, "down": 125, "left": 123, "right": 124,

	// 特殊键
	"space":         49,
	"enter":         36,
	"return":        36,
	"tab":           48,
	"escape":        53,
	"esc":           53,
	"delete":        51,
	"backspace":     51,
	"home":          115,
	"end":           119,
	"pageup":        116,
	"pagedown":      121,
	"forwarddelete": 117,

	// 符号键
	"-": 27, "=": 24, "[": 33, "]": 30, ";": 41, "'": 39,
	",": 43, ".": 47, "/": 44, "\\": 42, "`": 50,
}

// keyCodeLabels 键码到显示名称
//
// 没有条目的键码显示为数字占位符。
var keyCodeLabels = func() map[int]string {
	labels := make(map[int]string, len(keyNameToKeyCode))
	for name, code := range keyNameToKeyCode {
		if len(name) == 1 || (name[0] == 'f' && len(name) <= 3) {
			labels[code] = strings.ToUpper(name)
		}
	}

	// 特殊键使用 macOS 菜单中的符号
	special := map[int]string{
		126: "↑", 125: "↓", 123: "←", 124: "→",
		49: "Space", 36: "↩", 48: "⇥", 53: "⎋", 51: "⌫",
		115: "↖", 119: "↘", 116: "⇞", 121: "⇟", 117: "⌦",
	}
	for code, label := range special {
		labels[code] = label
	}
	return labels
}()

// modifierNameToFlag 修饰键名称到标志位（不区分大小写）
var modifierNameToFlag = map[string]Modifier{
	"cmd":     ModifierCommand,
	"command": ModifierCommand,
	"⌘":       ModifierCommand,
	"shift":   ModifierShift,
	"⇧":       ModifierShift,
	"ctrl":    ModifierControl,
	"control": ModifierControl,
	"⌃":       ModifierControl,
	"opt":     ModifierOption,
	"option":  ModifierOption,
	"alt":     ModifierOption,
	"⌥":       ModifierOption,
}

// modifierOrder 显示顺序：command, shift, option, control
var modifierOrder = []struct {
	flag   Modifier
	symbol string
	name   string
}{
	{ModifierCommand, "⌘", "Cmd"},
	{ModifierShift, "⇧", "Shift"},
	{ModifierOption, "⌥", "Option"},
	{ModifierControl, "⌃", "Ctrl"},
}

// KeyName 返回键码的显示名称，未知键码返回 false
func KeyName(keyCode int) (string, bool) {
	name, ok := keyCodeLabels[keyCode]
	return name, ok
}

// KeyCodeForName 按名称查找 macOS 虚拟键码（不区分大小写）
func KeyCodeForName(name string) (int, bool) {
	code, ok := keyNameToKeyCode[strings.ToLower(name)]
	return code, ok
}

// ParseCombination 解析快捷键字符串
//
// 支持的格式：
//   - "Cmd+Shift+1" -> KeyCode=18, Modifiers=⌘⇧
//   - "Control+Option+M" -> KeyCode=46, Modifiers=⌃⌥
//
// 最后一段是按键名称，前面各段是修饰键名称。
// 按键名称也可以是 "#<键码>" 形式，用于没有名称的按键。
func ParseCombination(s string) (Combination, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Combination{}, fmt.Errorf("快捷键字符串不能为空")
	}

	parts := strings.Split(s, "+")
	keyPart := strings.ToLower(strings.TrimSpace(parts[len(parts)-1]))
	if keyPart == "" && len(parts) >= 3 {
		// "Cmd++" 表示加号键
		keyPart = "="
		parts = parts[:len(parts)-1]
	}

	var modifiers Modifier
	for _, part := range parts[:len(parts)-1] {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		flag, ok := modifierNameToFlag[name]
		if !ok {
			return Combination{}, fmt.Errorf("未知的修饰键：%s", part)
		}
		modifiers |= flag
	}

	keyCode, ok := keyNameToKeyCode[keyPart]
	if !ok {
		var n int
		if _, err := fmt.Sscanf(keyPart, "#%d", &n); err != nil {
			return Combination{}, fmt.Errorf("未知的按键：%s", parts[len(parts)-1])
		}
		keyCode = n
	}

	c, err := NewCombination(keyCode, modifiers)
	if err != nil {
		return Combination{}, fmt.Errorf("解析快捷键 %q: %w", s, err)
	}
	return c, nil
}

// String 返回可被 ParseCombination 解析的字符串形式，如 "Cmd+Shift+1"
func (c Combination) String() string {
	var b strings.Builder
	for _, m := range modifierOrder {
		if c.Has(m.flag) {
			b.WriteString(m.name)
			b.WriteByte('+')
		}
	}

	name := ""
	for n, code := range keyNameToKeyCode {
		if code != c.KeyCode {
			continue
		}
		// 同一键码有多个名称时取最短且字典序最小的，保证输出稳定
		if name == "" || len(n) < len(name) || (len(n) == len(name) && n < name) {
			name = n
		}
	}
	if name == "" {
		name = fmt.Sprintf("#%d", c.KeyCode)
	} else if len(name) == 1 {
		name = strings.ToUpper(name)
	} else {
		name = strings.ToUpper(name[:1]) + name[1:]
	}
	b.WriteString(name)
	return b.String()
}
