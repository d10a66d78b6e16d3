package shortcut

import (
	"context"
	"fmt"
	"sync"

	"github.com/chenyang-zz/quickcapture/pkg/logger"
	"go.uber.org/zap"
)

// Store 持久化存储
//
// Load 在没有存储任何内容时返回 (nil, nil)。
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// PersistResult 持久化结果
//
// 持久化是尽力而为的：失败时内存中的组合仍然生效，Err 仅供调用方展示或测试。
type PersistResult struct {
	// Persisted 是否成功写入存储
	Persisted bool

	// Err 写入失败的原因
	Err error
}

// ChangeListener 组合变更回调
type ChangeListener func(c Combination)

// Registry 持有当前生效的快捷键
//
// 首次访问时从存储加载，存储为空时写回默认组合。
// 更新时整体替换、尽力持久化，并同步通知所有监听者重新注册。
type Registry struct {
	store    Store
	fallback Combination

	mu        sync.RWMutex
	current   Combination
	loaded    bool
	listeners []ChangeListener
}

// NewRegistry 创建快捷键注册表
//
// Parameters:
//   - store: 持久化存储，为 nil 时只保存在内存中
//   - fallback: 存储为空或损坏时使用的组合
func NewRegistry(store Store, fallback Combination) *Registry {
	if fallback.Validate() != nil {
		fallback = Default()
	}
	return &Registry{store: store, fallback: fallback}
}

// Current 返回当前生效的组合
func (r *Registry) Current() Combination {
	r.mu.RLock()
	if r.loaded {
		c := r.current
		r.mu.RUnlock()
		return c
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		r.current = r.load()
		r.loaded = true
	}
	return r.current
}

// load 从存储读取组合，调用方持有写锁
func (r *Registry) load() Combination {
	if r.store == nil {
		return r.fallback
	}

	ctx := context.Background()
	data, err := r.store.Load(ctx)
	if err != nil {
		logger.Warn("读取快捷键失败，使用默认组合",
			zap.String("component", "shortcut"),
			zap.Error(err),
		)
		return r.fallback
	}

	if c, ok := Decode(data); ok {
		logger.Debug("已加载快捷键",
			zap.String("component", "shortcut"),
			zap.String("shortcut", DisplayLabel(c)),
		)
		return c
	}

	if len(data) > 0 {
		logger.Warn("快捷键记录损坏，重置为默认组合",
			zap.String("component", "shortcut"),
			zap.ByteString("record", data),
		)
	}

	// 写回默认值，之后的加载结果保持稳定
	if err := r.store.Save(ctx, Encode(r.fallback)); err != nil {
		logger.Warn("写入默认快捷键失败",
			zap.String("component", "shortcut"),
			zap.Error(err),
		)
	}
	return r.fallback
}

// Update 替换当前组合
//
// 组合没有受跟踪的修饰键时返回 ErrNoModifier，不做任何修改。
// 否则先更新内存，再尽力持久化，最后同步通知所有监听者。
func (r *Registry) Update(c Combination) (PersistResult, error) {
	c, err := NewCombination(c.KeyCode, c.Modifiers)
	if err != nil {
		return PersistResult{}, fmt.Errorf("update shortcut: %w", err)
	}

	r.mu.Lock()
	r.current = c
	r.loaded = true
	listeners := make([]ChangeListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	result := r.persist(c)

	logger.Info("快捷键已更新",
		zap.String("component", "shortcut"),
		zap.String("shortcut", DisplayLabel(c)),
		zap.Bool("persisted", result.Persisted),
	)

	for _, fn := range listeners {
		fn(c)
	}
	return result, nil
}

func (r *Registry) persist(c Combination) PersistResult {
	if r.store == nil {
		return PersistResult{}
	}
	if err := r.store.Save(context.Background(), Encode(c)); err != nil {
		logger.Warn("保存快捷键失败，本次会话仍使用新组合",
			zap.String("component", "shortcut"),
			zap.Error(err),
		)
		return PersistResult{Err: err}
	}
	return PersistResult{Persisted: true}
}

// OnChange 注册变更监听者
func (r *Registry) OnChange(fn ChangeListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}
