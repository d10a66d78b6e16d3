//go:build darwin

package platform

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework ApplicationServices -framework CoreGraphics -framework Foundation

#include <ApplicationServices/ApplicationServices.h>
#include <CoreGraphics/CoreGraphics.h>
#import <Foundation/Foundation.h>

static int accessibilityTrusted() {
    return AXIsProcessTrusted() ? 1 : 0;
}

// promptAccessibility 弹出辅助功能授权对话框，返回当前是否已信任
static int promptAccessibility() {
    @autoreleasepool {
        NSDictionary *options = @{(__bridge id)kAXTrustedCheckOptionPrompt: @YES};
        return AXIsProcessTrustedWithOptions((__bridge CFDictionaryRef)options) ? 1 : 0;
    }
}

static int screenCaptureGranted() {
    return CGPreflightScreenCaptureAccess() ? 1 : 0;
}

// requestScreenCapture 首次调用时系统会弹出授权提示
static int requestScreenCapture() {
    return CGRequestScreenCaptureAccess() ? 1 : 0;
}
*/
import "C"

import (
	"fmt"
	"os/exec"
)

// DarwinPermissionChecker macOS 权限检查器
type DarwinPermissionChecker struct{}

// NewPermissionChecker 创建当前平台的权限检查器
func NewPermissionChecker() PermissionChecker {
	return &DarwinPermissionChecker{}
}

func (c *DarwinPermissionChecker) CheckPermission(permType PermissionType) PermissionStatus {
	var granted C.int
	switch permType {
	case PermissionAccessibility:
		granted = C.accessibilityTrusted()
	case PermissionScreenCapture:
		granted = C.screenCaptureGranted()
	default:
		return PermissionStatusUnknown
	}
	if granted == 1 {
		return PermissionStatusGranted
	}
	return PermissionStatusDenied
}

// RequestPermission 弹出系统授权提示
//
// 用户尚未授权时返回错误，授权结果需要重新调用 CheckPermission 获取。
func (c *DarwinPermissionChecker) RequestPermission(permType PermissionType) error {
	var granted C.int
	switch permType {
	case PermissionAccessibility:
		granted = C.promptAccessibility()
	case PermissionScreenCapture:
		granted = C.requestScreenCapture()
	default:
		return fmt.Errorf("%w: %v", ErrUnknownPermission, permType)
	}
	if granted != 1 {
		return fmt.Errorf("%s permission not granted yet", permType)
	}
	return nil
}

func (c *DarwinPermissionChecker) OpenSystemSettings(permType PermissionType) error {
	url, err := settingsURL(permType)
	if err != nil {
		return err
	}

	// 不等待 open 退出
	if err := exec.Command("open", url).Start(); err != nil {
		return fmt.Errorf("打开系统设置失败: %w", err)
	}
	return nil
}
