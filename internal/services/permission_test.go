package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chenyang-zz/quickcapture/internal/infrastructure/platform"
	"github.com/chenyang-zz/quickcapture/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockPermissionChecker 模拟的权限检查器
type MockPermissionChecker struct {
	mu          sync.Mutex
	permissions map[platform.PermissionType]platform.PermissionStatus
	checks      int
	requests    int
	grantOnAsk  bool
}

func NewMockPermissionChecker() *MockPermissionChecker {
	return &MockPermissionChecker{
		permissions: make(map[platform.PermissionType]platform.PermissionStatus),
	}
}

func (m *MockPermissionChecker) SetPermission(permType platform.PermissionType, status platform.PermissionStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permissions[permType] = status
}

func (m *MockPermissionChecker) CheckPermission(permType platform.PermissionType) platform.PermissionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
	if status, ok := m.permissions[permType]; ok {
		return status
	}
	return platform.PermissionStatusDenied
}

func (m *MockPermissionChecker) RequestPermission(permType platform.PermissionType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	if m.grantOnAsk {
		m.permissions[permType] = platform.PermissionStatusGranted
		return nil
	}
	return errors.New("not granted yet")
}

func (m *MockPermissionChecker) OpenSystemSettings(platform.PermissionType) error {
	return nil
}

func (m *MockPermissionChecker) counts() (checks, requests int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checks, m.requests
}

// memoStore 内存中的授权提示记录
type memoStore struct {
	mu   sync.Mutex
	data []byte
	err  error
}

func (s *memoStore) Load(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data, s.err
}

func (s *memoStore) Save(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	return nil
}

// TestPermissionManager_CheckPermissionCached 测试结果缓存
func TestPermissionManager_CheckPermissionCached(t *testing.T) {
	checker := NewMockPermissionChecker()
	checker.SetPermission(platform.PermissionAccessibility, platform.PermissionStatusGranted)
	pm := NewPermissionManager(checker, nil, nil)

	assert.Equal(t, platform.PermissionStatusGranted, pm.CheckPermission(platform.PermissionAccessibility))
	assert.Equal(t, platform.PermissionStatusGranted, pm.CheckPermission(platform.PermissionAccessibility))

	checks, _ := checker.counts()
	assert.Equal(t, 1, checks, "第二次应命中缓存")

	pm.InvalidatePermissionCache(platform.PermissionAccessibility)
	pm.CheckPermission(platform.PermissionAccessibility)
	checks, _ = checker.counts()
	assert.Equal(t, 2, checks)
}

// TestPermissionManager_CacheExpires 测试缓存过期
func TestPermissionManager_CacheExpires(t *testing.T) {
	checker := NewMockPermissionChecker()
	pm := NewPermissionManager(checker, nil, nil)
	pm.cacheDuration = time.Millisecond

	pm.CheckPermission(platform.PermissionAccessibility)
	time.Sleep(5 * time.Millisecond)
	pm.CheckPermission(platform.PermissionAccessibility)

	checks, _ := checker.counts()
	assert.Equal(t, 2, checks)
}

// TestPermissionManager_EnsurePermission 测试权限判定
func TestPermissionManager_EnsurePermission(t *testing.T) {
	tests := []struct {
		name    string
		status  platform.PermissionStatus
		wantErr bool
	}{
		{"已授权", platform.PermissionStatusGranted, false},
		{"被拒绝", platform.PermissionStatusDenied, true},
		{"未知状态视为可用", platform.PermissionStatusUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewMockPermissionChecker()
			checker.SetPermission(platform.PermissionAccessibility, tt.status)
			pm := NewPermissionManager(checker, nil, nil)

			err := pm.EnsurePermission(platform.PermissionAccessibility)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrPermissionMissing)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestPermissionManager_PublishesEvent 测试权限缺失时发布事件
func TestPermissionManager_PublishesEvent(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop(time.Second)

	received := make(chan events.Event, 1)
	bus.Subscribe(string(events.EventTypePermission), func(event events.Event) error {
		received <- event
		return nil
	})

	pm := NewPermissionManager(NewMockPermissionChecker(), bus, nil)
	require.Error(t, pm.EnsurePermission(platform.PermissionAccessibility))

	select {
	case event := <-received:
		assert.Equal(t, "accessibility", event.Data["type"])
		assert.Equal(t, "denied", event.Data["status"])
		assert.NotEmpty(t, event.Data["hint"])
	case <-time.After(time.Second):
		t.Fatal("没有收到权限事件")
	}
}

// TestPermissionManager_CheckAndPrompt 测试首次运行才弹提示
func TestPermissionManager_CheckAndPrompt(t *testing.T) {
	ctx := context.Background()

	t.Run("已授权不弹提示", func(t *testing.T) {
		checker := NewMockPermissionChecker()
		checker.SetPermission(platform.PermissionAccessibility, platform.PermissionStatusGranted)
		memo := &memoStore{}
		pm := NewPermissionManager(checker, nil, memo)

		assert.True(t, pm.CheckAndPrompt(ctx, platform.PermissionAccessibility))
		_, requests := checker.counts()
		assert.Zero(t, requests)
		assert.Nil(t, memo.data)
	})

	t.Run("首次缺失时弹提示并记录", func(t *testing.T) {
		checker := NewMockPermissionChecker()
		memo := &memoStore{}
		pm := NewPermissionManager(checker, nil, memo)

		assert.False(t, pm.CheckAndPrompt(ctx, platform.PermissionAccessibility))
		_, requests := checker.counts()
		assert.Equal(t, 1, requests)
		assert.NotEmpty(t, memo.data)

		// 第二次启动不再弹提示
		pm = NewPermissionManager(checker, nil, memo)
		assert.False(t, pm.CheckAndPrompt(ctx, platform.PermissionAccessibility))
		_, requests = checker.counts()
		assert.Equal(t, 1, requests)
	})

	t.Run("提示后立即授权", func(t *testing.T) {
		checker := NewMockPermissionChecker()
		checker.grantOnAsk = true
		pm := NewPermissionManager(checker, nil, &memoStore{})

		assert.True(t, pm.CheckAndPrompt(ctx, platform.PermissionAccessibility))
	})

	t.Run("读取记录失败时不弹提示", func(t *testing.T) {
		checker := NewMockPermissionChecker()
		pm := NewPermissionManager(checker, nil, &memoStore{err: errors.New("db closed")})

		assert.False(t, pm.CheckAndPrompt(ctx, platform.PermissionAccessibility))
		_, requests := checker.counts()
		assert.Zero(t, requests)
	})
}
