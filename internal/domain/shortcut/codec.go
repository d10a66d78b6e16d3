package shortcut

import (
	"encoding/json"
	"fmt"
	"strings"
)

// record 持久化格式：{"keyCode":18,"modifierMask":1179648}
//
// 字段使用指针以区分缺失与零值。
type record struct {
	KeyCode      *int    `json:"keyCode"`
	ModifierMask *uint64 `json:"modifierMask"`
}

// Encode 序列化按键组合
func Encode(c Combination) []byte {
	keyCode := c.KeyCode
	mask := uint64(c.Modifiers & TrackedMask)

	// 两个整数字段的结构体序列化不会失败
	data, _ := json.Marshal(record{KeyCode: &keyCode, ModifierMask: &mask})
	return data
}

// Decode 反序列化按键组合
//
// 任何格式错误（非 JSON、字段缺失、键码越界、没有受跟踪的修饰键）都返回 false，
// 调用方回退到默认组合。
func Decode(data []byte) (Combination, bool) {
	if len(data) == 0 {
		return Combination{}, false
	}

	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return Combination{}, false
	}
	if r.KeyCode == nil || r.ModifierMask == nil {
		return Combination{}, false
	}

	c, err := NewCombination(*r.KeyCode, Modifier(*r.ModifierMask))
	if err != nil {
		return Combination{}, false
	}
	return c, true
}

// DisplayLabel 渲染显示标签，如 "⌘⇧1"
//
// 修饰键顺序固定为 command, shift, option, control；
// 没有已知名称的按键显示为 "[键码]"。
func DisplayLabel(c Combination) string {
	var b strings.Builder
	for _, m := range modifierOrder {
		if c.Has(m.flag) {
			b.WriteString(m.symbol)
		}
	}

	if name, ok := KeyName(c.KeyCode); ok {
		b.WriteString(name)
	} else {
		fmt.Fprintf(&b, "[%d]", c.KeyCode)
	}
	return b.String()
}
