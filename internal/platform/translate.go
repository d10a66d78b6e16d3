package platform

import "github.com/chenyang-zz/quickcapture/internal/domain/shortcut"

// uiohook 修饰键掩码（左右两侧分别占位）
const (
	uioShiftL uint16 = 1 << 0
	uioCtrlL  uint16 = 1 << 1
	uioMetaL  uint16 = 1 << 2
	uioAltL   uint16 = 1 << 3
	uioShiftR uint16 = 1 << 4
	uioCtrlR  uint16 = 1 << 5
	uioMetaR  uint16 = 1 << 6
	uioAltR   uint16 = 1 << 7
)

// translateMask 把 uiohook 修饰键掩码转换为 CGEventFlags 语义
//
// 非 macOS 平台上 Meta（Win/Super）键映射为 Command。
func translateMask(mask uint16) uint64 {
	var flags uint64
	if mask&(uioShiftL|uioShiftR) != 0 {
		flags |= flagShift
	}
	if mask&(uioCtrlL|uioCtrlR) != 0 {
		flags |= flagControl
	}
	if mask&(uioAltL|uioAltR) != 0 {
		flags |= flagOption
	}
	if mask&(uioMetaL|uioMetaR) != 0 {
		flags |= flagCommand
	}
	return flags
}

// buildKeyCodeTable 用按键名称把本机键码表映射到 macOS 虚拟键码
//
// names 为名称到本机键码的映射，名称不在快捷键键表中的条目被忽略。
func buildKeyCodeTable(names map[string]uint16) map[uint16]int {
	table := make(map[uint16]int, len(names))
	for name, native := range names {
		if code, ok := shortcut.KeyCodeForName(name); ok {
			table[native] = code
		}
	}
	return table
}
