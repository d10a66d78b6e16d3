package shortcut

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore 内存存储，可模拟读写失败
type memoryStore struct {
	mu      sync.Mutex
	data    []byte
	loadErr error
	saveErr error
	loads   int
	saves   int
}

func (s *memoryStore) Load(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.data, nil
}

func (s *memoryStore) Save(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.data = append([]byte(nil), data...)
	return nil
}

// TestRegistryCurrent 测试首次访问时的加载行为
func TestRegistryCurrent(t *testing.T) {
	stored := Combination{KeyCode: 0, Modifiers: ModifierControl}

	t.Run("存储为空时写回默认组合", func(t *testing.T) {
		store := &memoryStore{}
		r := NewRegistry(store, Default())

		assert.Equal(t, Default(), r.Current())
		assert.Equal(t, 1, store.saves)

		got, ok := Decode(store.data)
		require.True(t, ok)
		assert.Equal(t, Default(), got)

		// 新的注册表读到同样的结果
		assert.Equal(t, Default(), NewRegistry(store, stored).Current())
	})

	t.Run("读取已存储的组合", func(t *testing.T) {
		store := &memoryStore{data: Encode(stored)}
		r := NewRegistry(store, Default())

		assert.Equal(t, stored, r.Current())
		assert.Equal(t, 0, store.saves)
	})

	t.Run("只加载一次", func(t *testing.T) {
		store := &memoryStore{data: Encode(stored)}
		r := NewRegistry(store, Default())

		for i := 0; i < 5; i++ {
			r.Current()
		}
		assert.Equal(t, 1, store.loads)
	})

	t.Run("记录损坏时回退默认组合", func(t *testing.T) {
		store := &memoryStore{data: []byte("garbage")}
		r := NewRegistry(store, Default())

		assert.Equal(t, Default(), r.Current())
		got, ok := Decode(store.data)
		require.True(t, ok, "损坏的记录应被默认组合覆盖")
		assert.Equal(t, Default(), got)
	})

	t.Run("读取失败时使用默认组合", func(t *testing.T) {
		store := &memoryStore{loadErr: errors.New("disk gone")}
		r := NewRegistry(store, Default())

		assert.Equal(t, Default(), r.Current())
		assert.Equal(t, 0, store.saves, "读取失败时不写回")
	})

	t.Run("没有存储", func(t *testing.T) {
		assert.Equal(t, stored, NewRegistry(nil, stored).Current())
	})

	t.Run("非法的回退组合替换为内置默认", func(t *testing.T) {
		assert.Equal(t, Default(), NewRegistry(nil, Combination{KeyCode: 1}).Current())
	})
}

// TestRegistryUpdate 测试更新行为
func TestRegistryUpdate(t *testing.T) {
	next := Combination{KeyCode: 21, Modifiers: ModifierCommand | ModifierShift}

	t.Run("更新并持久化", func(t *testing.T) {
		store := &memoryStore{}
		r := NewRegistry(store, Default())

		result, err := r.Update(next)
		require.NoError(t, err)
		assert.True(t, result.Persisted)
		assert.NoError(t, result.Err)
		assert.Equal(t, next, r.Current())

		got, ok := Decode(store.data)
		require.True(t, ok)
		assert.Equal(t, next, got)
	})

	t.Run("持久化失败时内存值仍然生效", func(t *testing.T) {
		saveErr := errors.New("read-only")
		store := &memoryStore{saveErr: saveErr}
		r := NewRegistry(store, Default())

		var notified []Combination
		r.OnChange(func(c Combination) { notified = append(notified, c) })

		result, err := r.Update(next)
		require.NoError(t, err, "持久化失败不应作为错误返回")
		assert.False(t, result.Persisted)
		assert.ErrorIs(t, result.Err, saveErr)
		assert.Equal(t, next, r.Current())
		assert.Equal(t, []Combination{next}, notified)
	})

	t.Run("拒绝没有修饰键的组合", func(t *testing.T) {
		store := &memoryStore{data: Encode(Default())}
		r := NewRegistry(store, Default())

		called := false
		r.OnChange(func(Combination) { called = true })

		_, err := r.Update(Combination{KeyCode: 0})
		assert.ErrorIs(t, err, ErrNoModifier)
		assert.Equal(t, Default(), r.Current())
		assert.False(t, called)
		assert.Equal(t, 0, store.saves)
	})

	t.Run("同步通知所有监听者", func(t *testing.T) {
		r := NewRegistry(&memoryStore{}, Default())

		var first, second Combination
		r.OnChange(func(c Combination) { first = c })
		r.OnChange(func(c Combination) { second = c })

		_, err := r.Update(next)
		require.NoError(t, err)
		assert.Equal(t, next, first)
		assert.Equal(t, next, second)
	})

	t.Run("未跟踪的修饰位被去掉", func(t *testing.T) {
		r := NewRegistry(nil, Default())

		_, err := r.Update(Combination{KeyCode: 21, Modifiers: ModifierCommand | 0x800000})
		require.NoError(t, err)
		assert.Equal(t, ModifierCommand, r.Current().Modifiers)
	})
}
