/**
 * Package platform 封装截图代理依赖的系统权限
 *
 * 全局快捷键需要辅助功能权限，截图工具需要屏幕录制权限。
 * 非 macOS 平台上两者均返回 Unknown。
 */
package platform

import "errors"

// ErrUnknownPermission 未知的权限类型
var ErrUnknownPermission = errors.New("unknown permission type")

// PermissionType 权限类型
type PermissionType int

const (
	// PermissionAccessibility 辅助功能权限，全局键盘钩子依赖它
	PermissionAccessibility PermissionType = iota

	// PermissionScreenCapture 屏幕录制权限，截图工具依赖它
	PermissionScreenCapture
)

// AllPermissions 启动时需要检查的权限
var AllPermissions = []PermissionType{PermissionAccessibility, PermissionScreenCapture}

func (p PermissionType) String() string {
	switch p {
	case PermissionAccessibility:
		return "accessibility"
	case PermissionScreenCapture:
		return "screen_capture"
	default:
		return "unknown"
	}
}

// PermissionStatus 权限状态
type PermissionStatus int

const (
	PermissionStatusGranted PermissionStatus = iota
	PermissionStatusDenied
	PermissionStatusUnknown
)

func (s PermissionStatus) String() string {
	switch s {
	case PermissionStatusGranted:
		return "granted"
	case PermissionStatusDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// PermissionChecker 权限检查器
type PermissionChecker interface {
	// CheckPermission 查询权限状态，不弹出任何提示
	CheckPermission(permType PermissionType) PermissionStatus

	// RequestPermission 触发系统授权提示
	RequestPermission(permType PermissionType) error

	// OpenSystemSettings 打开系统设置中对应的隐私页面
	OpenSystemSettings(permType PermissionType) error
}

// PermissionResult 权限检查结果
type PermissionResult struct {
	Type    PermissionType
	Status  PermissionStatus
	Message string
}

// IsGranted 权限是否已授予
func (r *PermissionResult) IsGranted() bool {
	return r.Status == PermissionStatusGranted
}

// IsDenied 权限是否被明确拒绝
func (r *PermissionResult) IsDenied() bool {
	return r.Status == PermissionStatusDenied
}

// settingsURL 系统设置隐私页面
func settingsURL(permType PermissionType) (string, error) {
	switch permType {
	case PermissionAccessibility:
		return "x-apple.systempreferences:com.apple.preference.security?Privacy_Accessibility", nil
	case PermissionScreenCapture:
		return "x-apple.systempreferences:com.apple.preference.security?Privacy_ScreenCapture", nil
	default:
		return "", ErrUnknownPermission
	}
}
