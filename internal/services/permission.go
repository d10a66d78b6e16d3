package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chenyang-zz/quickcapture/internal/infrastructure/cache"
	"github.com/chenyang-zz/quickcapture/internal/infrastructure/platform"
	"github.com/chenyang-zz/quickcapture/pkg/events"
	"github.com/chenyang-zz/quickcapture/pkg/logger"
	"go.uber.org/zap"
)

// ErrPermissionMissing 权限未授予
var ErrPermissionMissing = errors.New("permission missing")

// PromptMemo 记录是否已经弹出过系统授权提示
//
// 与 shortcut.Store 同形，偏好库的 KeyStore 可以直接使用。
// Load 在未记录时返回 (nil, nil)。
type PromptMemo interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// PermissionManager 权限管理器
//
// 对平台检查结果做短期缓存，权限缺失时发布 permission 事件。
type PermissionManager struct {
	checker  platform.PermissionChecker
	eventBus *events.EventBus
	memo     PromptMemo

	// cache 按权限名缓存检查结果
	cache         cache.Cache
	cacheDuration time.Duration
}

// NewPermissionManager 创建权限管理器
//
// eventBus 与 memo 可以为 nil。
func NewPermissionManager(checker platform.PermissionChecker, eventBus *events.EventBus, memo PromptMemo) *PermissionManager {
	return &PermissionManager{
		checker:       checker,
		eventBus:      eventBus,
		memo:          memo,
		cache:         cache.NewMemoryCache(len(platform.AllPermissions)),
		cacheDuration: 5 * time.Minute,
	}
}

// CheckPermission 查询权限状态，优先使用缓存
func (pm *PermissionManager) CheckPermission(permType platform.PermissionType) platform.PermissionStatus {
	if cached, ok := pm.cache.Get(permType.String()); ok {
		return cached.(platform.PermissionStatus)
	}

	status := pm.checker.CheckPermission(permType)
	pm.cache.Set(permType.String(), status, pm.cacheDuration)

	logger.Debug("权限状态",
		zap.String("component", "permission"),
		zap.String("permission", permType.String()),
		zap.String("status", status.String()),
	)
	return status
}

// EnsurePermission 权限未授予时返回 ErrPermissionMissing
//
// Unknown 视为可用：非 macOS 平台无法查询，由钩子安装结果决定。
func (pm *PermissionManager) EnsurePermission(permType platform.PermissionType) error {
	status := pm.CheckPermission(permType)
	if status != platform.PermissionStatusDenied {
		return nil
	}

	hint := permissionHint(permType)
	logger.Warn("权限检查失败",
		zap.String("component", "permission"),
		zap.String("permission", permType.String()),
		zap.String("hint", hint),
	)
	pm.publishPermissionEvent(permType, status, hint)
	return fmt.Errorf("%w: %s", ErrPermissionMissing, permType)
}

// CheckAndPrompt 检查权限，缺失时在首次运行弹出系统授权提示
//
// 返回权限当前是否可用。提示只弹一次，之后只记录日志和事件，
// 避免每次启动都打断用户。
func (pm *PermissionManager) CheckAndPrompt(ctx context.Context, permType platform.PermissionType) bool {
	if err := pm.EnsurePermission(permType); err == nil {
		return true
	}

	if pm.alreadyPrompted(ctx) {
		return false
	}
	if err := pm.RequestPermission(permType); err != nil {
		logger.Info("已弹出系统授权提示，等待用户授权",
			zap.String("component", "permission"),
			zap.String("permission", permType.String()),
		)
	}
	pm.markPrompted(ctx)

	return pm.CheckPermission(permType) == platform.PermissionStatusGranted
}

// RequestPermission 请求系统授权并清除缓存
func (pm *PermissionManager) RequestPermission(permType platform.PermissionType) error {
	err := pm.checker.RequestPermission(permType)
	pm.InvalidatePermissionCache(permType)
	if err != nil {
		return fmt.Errorf("request %s permission: %w", permType, err)
	}
	return nil
}

// OpenSystemSettings 打开系统设置中对应的隐私页面
func (pm *PermissionManager) OpenSystemSettings(permType platform.PermissionType) error {
	if err := pm.checker.OpenSystemSettings(permType); err != nil {
		logger.Error("打开系统设置失败",
			zap.String("component", "permission"),
			zap.String("permission", permType.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// InvalidatePermissionCache 清除指定权限的缓存
func (pm *PermissionManager) InvalidatePermissionCache(permType platform.PermissionType) {
	pm.cache.Delete(permType.String())
}

func (pm *PermissionManager) alreadyPrompted(ctx context.Context) bool {
	if pm.memo == nil {
		return false
	}
	data, err := pm.memo.Load(ctx)
	if err != nil {
		// 读取失败时不弹提示，宁可少提示一次
		logger.Warn("读取授权提示记录失败", zap.String("component", "permission"), zap.Error(err))
		return true
	}
	return len(data) > 0
}

func (pm *PermissionManager) markPrompted(ctx context.Context) {
	if pm.memo == nil {
		return
	}
	stamp := []byte(time.Now().UTC().Format(time.RFC3339))
	if err := pm.memo.Save(ctx, stamp); err != nil {
		logger.Warn("保存授权提示记录失败", zap.String("component", "permission"), zap.Error(err))
	}
}

func (pm *PermissionManager) publishPermissionEvent(permType platform.PermissionType, status platform.PermissionStatus, hint string) {
	if pm.eventBus == nil {
		return
	}

	data := events.PermissionEventData{
		Type:   permType.String(),
		Status: status.String(),
		Hint:   hint,
	}
	event := events.NewEvent(events.EventTypePermission, data.Map())
	if err := pm.eventBus.Publish(string(events.EventTypePermission), *event); err != nil {
		logger.Debug("权限事件未发布", zap.String("component", "permission"), zap.Error(err))
	}
}

// permissionHint 面向用户的授权指引
func permissionHint(permType platform.PermissionType) string {
	switch permType {
	case platform.PermissionAccessibility:
		return "需要辅助功能权限才能在任意应用中响应截图快捷键。" +
			"请在【系统设置 > 隐私与安全性 > 辅助功能】中启用此应用。" +
			"未授权时快捷键只在本应用获得焦点时生效，菜单栏截图不受影响。"
	case platform.PermissionScreenCapture:
		return "需要屏幕录制权限才能截取其他应用的窗口内容。" +
			"请在【系统设置 > 隐私与安全性 > 屏幕录制】中启用此应用。"
	default:
		return "需要相关权限才能正常工作。"
	}
}
