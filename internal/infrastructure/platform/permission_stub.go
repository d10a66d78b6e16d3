//go:build !darwin

package platform

import "errors"

// errDarwinOnly 权限管理只在 macOS 上可用
var errDarwinOnly = errors.New("permission management is only available on macOS")

// StubPermissionChecker 非 macOS 平台的权限检查器
type StubPermissionChecker struct{}

// NewPermissionChecker 创建当前平台的权限检查器
func NewPermissionChecker() PermissionChecker {
	return &StubPermissionChecker{}
}

// CheckPermission 始终返回 Unknown
func (c *StubPermissionChecker) CheckPermission(PermissionType) PermissionStatus {
	return PermissionStatusUnknown
}

func (c *StubPermissionChecker) RequestPermission(PermissionType) error {
	return errDarwinOnly
}

func (c *StubPermissionChecker) OpenSystemSettings(permType PermissionType) error {
	if _, err := settingsURL(permType); err != nil {
		return err
	}
	return errDarwinOnly
}
