package shortcut

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEncodeDecodeRoundTrip 测试所有合法组合编码后可以原样解码
func TestEncodeDecodeRoundTrip(t *testing.T) {
	flags := []Modifier{ModifierCommand, ModifierShift, ModifierOption, ModifierControl}

	for keyCode := 0; keyCode < 128; keyCode++ {
		// 遍历四个修饰键的全部非空子集
		for subset := 1; subset < 16; subset++ {
			var mask Modifier
			for i, f := range flags {
				if subset&(1<<i) != 0 {
					mask |= f
				}
			}

			c := Combination{KeyCode: keyCode, Modifiers: mask}
			got, ok := Decode(Encode(c))
			require.True(t, ok, "keyCode=%d mask=%#x", keyCode, mask)
			require.Equal(t, c, got)
		}
	}
}

// TestEncodeFormat 测试持久化格式
func TestEncodeFormat(t *testing.T) {
	assert.JSONEq(t, `{"keyCode":18,"modifierMask":1179648}`, string(Encode(Default())))
}

// TestDecodeMalformed 测试格式错误的输入返回 false 且不会 panic
func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"nil", nil},
		{"空字节", []byte{}},
		{"非 JSON", []byte("not json")},
		{"截断", []byte(`{"keyCode":18,"modif`)},
		{"null", []byte("null")},
		{"数组", []byte("[18,1179648]")},
		{"缺少 modifierMask", []byte(`{"keyCode":18}`)},
		{"缺少 keyCode", []byte(`{"modifierMask":1179648}`)},
		{"键码类型错误", []byte(`{"keyCode":"18","modifierMask":1179648}`)},
		{"键码为小数", []byte(`{"keyCode":18.5,"modifierMask":1179648}`)},
		{"负键码", []byte(`{"keyCode":-1,"modifierMask":1179648}`)},
		{"键码越界", []byte(`{"keyCode":70000,"modifierMask":1179648}`)},
		{"负掩码", []byte(`{"keyCode":18,"modifierMask":-1}`)},
		{"没有修饰键", []byte(`{"keyCode":18,"modifierMask":0}`)},
		{"只有未跟踪的修饰键", []byte(`{"keyCode":18,"modifierMask":8388608}`)},
		{"尾随数据", []byte(`{"keyCode":18,"modifierMask":1179648}x`)},
		{"二进制", []byte{0xff, 0xfe, 0x00, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				_, ok := Decode(tt.input)
				assert.False(t, ok)
			})
		})
	}
}

// TestDecodeMasksUntrackedModifiers 测试未跟踪的修饰位被忽略
func TestDecodeMasksUntrackedModifiers(t *testing.T) {
	// Command | Fn | Caps Lock
	got, ok := Decode([]byte(`{"keyCode":0,"modifierMask":9502720}`))
	require.True(t, ok)
	assert.Equal(t, Combination{KeyCode: 0, Modifiers: ModifierCommand}, got)
}

// TestDisplayLabel 测试显示标签
func TestDisplayLabel(t *testing.T) {
	tests := []struct {
		name     string
		c        Combination
		expected string
	}{
		{"默认组合", Default(), "⌘⇧1"},
		{"固定顺序", Combination{KeyCode: 0, Modifiers: ModifierControl | ModifierOption | ModifierShift | ModifierCommand}, "⌘⇧⌥⌃A"},
		{"Control+Option", Combination{KeyCode: 46, Modifiers: ModifierControl | ModifierOption}, "⌥⌃M"},
		{"功能键", Combination{KeyCode: 111, Modifiers: ModifierCommand}, "⌘F12"},
		{"空格", Combination{KeyCode: 49, Modifiers: ModifierOption}, "⌥Space"},
		{"方向键", Combination{KeyCode: 126, Modifiers: ModifierShift}, "⇧↑"},
		{"未知键码", Combination{KeyCode: 200, Modifiers: ModifierCommand}, "⌘[200]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DisplayLabel(tt.c))
		})
	}
}

// TestParseCombination 测试快捷键字符串解析
func TestParseCombination(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Combination
		wantErr  error
	}{
		{"默认组合", "Cmd+Shift+1", Default(), nil},
		{"大小写与空格", " command + SHIFT + 1 ", Default(), nil},
		{"Control+Option+M", "Control+Option+M", Combination{KeyCode: 46, Modifiers: ModifierControl | ModifierOption}, nil},
		{"Alt 别名", "Alt+Space", Combination{KeyCode: 49, Modifiers: ModifierOption}, nil},
		{"符号形式", "⌘+⇧+4", Combination{KeyCode: 21, Modifiers: ModifierCommand | ModifierShift}, nil},
		{"数字键码", "Cmd+#200", Combination{KeyCode: 200, Modifiers: ModifierCommand}, nil},
		{"没有修饰键", "A", Combination{}, ErrNoModifier},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCombination(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	invalid := []string{"", "Cmd+", "Hyper+A", "Cmd+Unknown", "Cmd+#-1"}
	for _, s := range invalid {
		_, err := ParseCombination(s)
		assert.Error(t, err, "输入 %q 应解析失败", s)
	}
}

// TestCombinationString 测试字符串形式可以重新解析
func TestCombinationString(t *testing.T) {
	combos := []Combination{
		Default(),
		{KeyCode: 46, Modifiers: ModifierControl | ModifierOption},
		{KeyCode: 36, Modifiers: ModifierCommand},
		{KeyCode: 200, Modifiers: ModifierShift},
	}

	assert.Equal(t, "Cmd+Shift+1", Default().String())
	for _, c := range combos {
		got, err := ParseCombination(c.String())
		require.NoError(t, err, c.String())
		assert.Equal(t, c, got)
	}
}

// TestMatches 测试匹配规则
func TestMatches(t *testing.T) {
	c := Default()
	const capsLock uint64 = 0x10000
	const fn uint64 = 0x800000

	tests := []struct {
		name    string
		keyCode int
		flags   uint64
		want    bool
	}{
		{"完全匹配", 18, uint64(ModifierCommand | ModifierShift), true},
		{"额外的未跟踪修饰键", 18, uint64(ModifierCommand|ModifierShift) | capsLock | fn, true},
		{"键码不同", 19, uint64(ModifierCommand | ModifierShift), false},
		{"缺少修饰键", 18, uint64(ModifierCommand), false},
		{"多出受跟踪修饰键", 18, uint64(ModifierCommand | ModifierShift | ModifierOption), false},
		{"没有修饰键", 18, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Matches(tt.keyCode, tt.flags))
		})
	}
}

// TestNewCombination 测试组合校验
func TestNewCombination(t *testing.T) {
	_, err := NewCombination(18, 0)
	assert.ErrorIs(t, err, ErrNoModifier)

	_, err = NewCombination(-1, ModifierCommand)
	assert.ErrorIs(t, err, ErrInvalidKeyCode)

	c, err := NewCombination(18, ModifierCommand|0x800000)
	require.NoError(t, err)
	assert.Equal(t, ModifierCommand, c.Modifiers)
}
