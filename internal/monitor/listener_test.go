package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chenyang-zz/quickcapture/internal/domain/shortcut"
	"github.com/chenyang-zz/quickcapture/internal/platform"
	"github.com/chenyang-zz/quickcapture/internal/runloop"
	"github.com/chenyang-zz/quickcapture/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource 模拟的监听途径
type fakeSource struct {
	name         string
	installErr   error
	uninstallErr error

	mu         sync.Mutex
	handler    platform.KeyHandler
	installs   int
	uninstalls int
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Install(handler platform.KeyHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.installErr != nil {
		return s.installErr
	}
	if s.handler != nil {
		return platform.ErrAlreadyInstalled
	}
	s.handler = handler
	s.installs++
	return nil
}

func (s *fakeSource) Uninstall() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler == nil {
		return nil
	}
	s.handler = nil
	s.uninstalls++
	return s.uninstallErr
}

// press 模拟按键，返回事件是否被吞掉；未安装时返回 false
func (s *fakeSource) press(keyCode int, mods shortcut.Modifier) bool {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return false
	}
	return h(platform.KeyEvent{KeyCode: keyCode, Flags: uint64(mods)})
}

func (s *fakeSource) isInstalled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler != nil
}

// inlinePoster 立即执行回调
type inlinePoster struct{ full bool }

func (p inlinePoster) TryPost(fn func()) bool {
	if p.full {
		return false
	}
	fn()
	return true
}

var cmdShift = shortcut.ModifierCommand | shortcut.ModifierShift

// TestListener_Register 测试注册与匹配
func TestListener_Register(t *testing.T) {
	global := &fakeSource{name: "global"}
	local := &fakeSource{name: "local"}
	l := NewListener(inlinePoster{}, nil, global, local)

	var fired int
	require.NoError(t, l.Register(shortcut.Default(), func() { fired++ }))
	assert.Equal(t, []string{"global", "local"}, l.Active())

	tests := []struct {
		name    string
		keyCode int
		mods    shortcut.Modifier
		match   bool
	}{
		{"完全命中", 18, cmdShift, true},
		{"额外的 Caps Lock 不影响匹配", 18, cmdShift | 0x10000, true},
		{"缺少 Shift", 18, shortcut.ModifierCommand, false},
		{"多出 Option", 18, cmdShift | shortcut.ModifierOption, false},
		{"键码不同", 19, cmdShift, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := fired
			assert.Equal(t, tt.match, local.press(tt.keyCode, tt.mods), "命中时进程内途径吞掉事件")
			if tt.match {
				assert.Equal(t, before+1, fired)
			} else {
				assert.Equal(t, before, fired)
			}
		})
	}
}

// TestListener_BothSourcesFire 测试两条途径各自触发，不做去重
func TestListener_BothSourcesFire(t *testing.T) {
	global := &fakeSource{name: "global"}
	local := &fakeSource{name: "local"}
	l := NewListener(inlinePoster{}, nil, global, local)

	var fired int
	require.NoError(t, l.Register(shortcut.Default(), func() { fired++ }))

	global.press(18, cmdShift)
	local.press(18, cmdShift)
	assert.Equal(t, 2, fired)
}

// TestListener_PartialFailure 测试系统级途径被拒绝时静默回退
func TestListener_PartialFailure(t *testing.T) {
	global := &fakeSource{name: "global", installErr: platform.ErrPermissionDenied}
	local := &fakeSource{name: "local"}
	l := NewListener(inlinePoster{}, nil, global, local)

	var fired int
	require.NoError(t, l.Register(shortcut.Default(), func() { fired++ }))
	assert.Equal(t, []string{"local"}, l.Active())

	local.press(18, cmdShift)
	assert.Equal(t, 1, fired)
}

// TestListener_AllSourcesFail 测试全部途径失败
func TestListener_AllSourcesFail(t *testing.T) {
	global := &fakeSource{name: "global", installErr: platform.ErrPermissionDenied}
	local := &fakeSource{name: "local", installErr: platform.ErrUnsupported}
	l := NewListener(inlinePoster{}, nil, global, local)

	err := l.Register(shortcut.Default(), func() {})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoTriggerSource)
	assert.ErrorIs(t, err, platform.ErrPermissionDenied)
	assert.ErrorIs(t, err, platform.ErrUnsupported)
	assert.Empty(t, l.Active())
}

// TestListener_NoSources 测试没有途径
func TestListener_NoSources(t *testing.T) {
	l := NewListener(inlinePoster{}, nil)
	assert.ErrorIs(t, l.Register(shortcut.Default(), func() {}), ErrNoTriggerSource)
}

// TestListener_Reregister 测试更新组合后新组合生效、旧组合失效
func TestListener_Reregister(t *testing.T) {
	global := &fakeSource{name: "global"}
	local := &fakeSource{name: "local"}
	l := NewListener(inlinePoster{}, nil, global, local)

	var fired int
	require.NoError(t, l.Register(shortcut.Default(), func() { fired++ }))

	next := shortcut.Combination{KeyCode: 21, Modifiers: shortcut.ModifierControl | shortcut.ModifierOption}
	require.NoError(t, l.Reregister(next))

	assert.Equal(t, 2, global.installs)
	assert.Equal(t, 1, global.uninstalls)

	assert.False(t, global.press(18, cmdShift))
	assert.Equal(t, 0, fired, "旧组合不再触发")

	assert.True(t, local.press(21, shortcut.ModifierControl|shortcut.ModifierOption))
	assert.Equal(t, 1, fired, "新组合触发")

	c, ok := l.Combination()
	require.True(t, ok)
	assert.Equal(t, next, c)
}

// TestListener_RegistryUpdate 测试通过注册表更新快捷键
func TestListener_RegistryUpdate(t *testing.T) {
	global := &fakeSource{name: "global"}
	local := &fakeSource{name: "local"}
	l := NewListener(inlinePoster{}, nil, global, local)
	registry := shortcut.NewRegistry(nil, shortcut.Default())

	var fired int
	require.NoError(t, l.Register(registry.Current(), func() { fired++ }))
	registry.OnChange(func(c shortcut.Combination) {
		assert.NoError(t, l.Reregister(c))
	})

	next, err := shortcut.ParseCombination("Ctrl+Option+M")
	require.NoError(t, err)
	_, err = registry.Update(next)
	require.NoError(t, err)

	global.press(18, cmdShift)
	assert.Equal(t, 0, fired)
	global.press(46, shortcut.ModifierControl|shortcut.ModifierOption)
	assert.Equal(t, 1, fired)
}

// TestListener_ReregisterUninstallFailure 测试卸载失败时仍会重新安装
func TestListener_ReregisterUninstallFailure(t *testing.T) {
	uninstallErr := errors.New("tap busy")
	global := &fakeSource{name: "global", uninstallErr: uninstallErr}
	local := &fakeSource{name: "local"}
	l := NewListener(inlinePoster{}, nil, global, local)

	require.NoError(t, l.Register(shortcut.Default(), func() {}))

	next := shortcut.Combination{KeyCode: 0, Modifiers: shortcut.ModifierCommand}
	err := l.Reregister(next)
	assert.ErrorIs(t, err, uninstallErr)
	assert.Equal(t, []string{"global", "local"}, l.Active())
	assert.False(t, local.press(18, cmdShift))
	assert.True(t, local.press(0, shortcut.ModifierCommand))
}

// TestListener_ReregisterInstallFailure 测试重新安装失败时不残留旧钩子
func TestListener_ReregisterInstallFailure(t *testing.T) {
	global := &fakeSource{name: "global"}
	l := NewListener(inlinePoster{}, nil, global)
	require.NoError(t, l.Register(shortcut.Default(), func() {}))

	global.mu.Lock()
	global.installErr = platform.ErrPermissionDenied
	global.mu.Unlock()

	err := l.Reregister(shortcut.Combination{KeyCode: 0, Modifiers: shortcut.ModifierCommand})
	assert.ErrorIs(t, err, ErrNoTriggerSource)
	assert.False(t, global.isInstalled())
	assert.Equal(t, 1, global.uninstalls)
}

// TestListener_Close 测试关闭的幂等性
func TestListener_Close(t *testing.T) {
	global := &fakeSource{name: "global"}
	local := &fakeSource{name: "local"}
	l := NewListener(inlinePoster{}, nil, global, local)

	// 未注册时关闭
	require.NoError(t, l.Unregister())

	require.NoError(t, l.Register(shortcut.Default(), func() {}))
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.False(t, global.isInstalled())
	assert.False(t, local.isInstalled())
	assert.Equal(t, 1, global.uninstalls)
	assert.ErrorIs(t, l.Reregister(shortcut.Default()), ErrListenerClosed)
}

// TestListener_QueueFull 测试协调队列满时丢弃触发但仍吞掉事件
func TestListener_QueueFull(t *testing.T) {
	local := &fakeSource{name: "local"}
	l := NewListener(inlinePoster{full: true}, nil, local)

	var fired int
	require.NoError(t, l.Register(shortcut.Default(), func() { fired++ }))
	assert.True(t, local.press(18, cmdShift))
	assert.Equal(t, 0, fired)
}

// TestListener_RunLoopSerializes 测试回调在协调上下文上串行执行
func TestListener_RunLoopSerializes(t *testing.T) {
	loop := runloop.New(64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	global := &fakeSource{name: "global"}
	local := &fakeSource{name: "local"}
	l := NewListener(loop, nil, global, local)

	var running, maxRunning, fired atomic.Int32
	require.NoError(t, l.Register(shortcut.Default(), func() {
		n := running.Add(1)
		if n > maxRunning.Load() {
			maxRunning.Store(n)
		}
		time.Sleep(time.Millisecond)
		running.Add(-1)
		fired.Add(1)
	}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); global.press(18, cmdShift) }()
		go func() { defer wg.Done(); local.press(18, cmdShift) }()
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return fired.Load() == 20 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), maxRunning.Load())
}

// TestListener_PublishesTriggerEvent 测试命中时发布 trigger 事件
func TestListener_PublishesTriggerEvent(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop(time.Second)

	received := make(chan events.Event, 1)
	bus.Subscribe(string(events.EventTypeTrigger), func(event events.Event) error {
		received <- event
		return nil
	})

	local := &fakeSource{name: "local"}
	l := NewListener(inlinePoster{}, bus, local)
	require.NoError(t, l.Register(shortcut.Default(), func() {}))
	local.press(18, cmdShift)

	select {
	case event := <-received:
		assert.Equal(t, "local", event.Data["source"])
		assert.Equal(t, 18, event.Data["keycode"])
		assert.Equal(t, shortcut.Default().String(), event.Metadata["shortcut"])
	case <-time.After(time.Second):
		t.Fatal("没有收到 trigger 事件")
	}
}
