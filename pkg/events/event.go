/**
 * Package events 提供事件系统的核心类型定义
 *
 * 事件系统是 QuickCapture 的内部通信机制，用于：
 * - 截图流程发布状态事件（开始 / 消息 / 完成）
 * - 托盘、桥接服务订阅状态并展示给用户
 * - 权限检查、快捷键变更等系统通知
 */

package events

import (
	"time"

	"github.com/google/uuid"
)

/**
 * EventType 事件类型枚举
 */
type EventType string

/**
 * 所有事件类型常量
 */
const (
	// 截图流程事件
	EventTypeStatus  EventType = "status"  // 状态总线事件（Started / Message / Completed）
	EventTypeTrigger EventType = "trigger" // 快捷键触发

	// 系统事件
	EventTypeShortcut   EventType = "shortcut"   // 快捷键变更
	EventTypeWindow     EventType = "window"     // 窗口显示切换
	EventTypePermission EventType = "permission" // 权限事件
	EventTypeError      EventType = "error"      // 错误事件
)

/**
 * Event 统一事件结构
 */
type Event struct {
	// ID 事件唯一标识符
	ID string `json:"id"`

	// Type 事件类型
	Type EventType `json:"type"`

	// Timestamp 事件发生时间
	Timestamp time.Time `json:"timestamp"`

	// Data 事件数据（类型特定的数据）
	Data map[string]interface{} `json:"data"`

	// Metadata 事件元数据（可选的额外信息）
	Metadata map[string]string `json:"metadata,omitempty"`
}

/**
 * NewEvent 创建新事件
 *
 * Parameters:
 *   - eventType: 事件类型
 *   - data: 事件数据
 *
 * Returns:
 *   - *Event: 新创建的事件
 */
func NewEvent(eventType EventType, data map[string]interface{}) *Event {
	return &Event{
		ID:        generateEventID(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Metadata:  make(map[string]string),
	}
}

/**
 * WithMetadata 添加元数据
 *
 * Returns:
 *   - *Event: 返回自身，支持链式调用
 */
func (e *Event) WithMetadata(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// generateEventID 使用 UUID v4 生成事件 ID
func generateEventID() string {
	return uuid.New().String()
}

/**
 * TriggerEventData 快捷键触发数据
 */
type TriggerEventData struct {
	Source  string `json:"source"`  // 触发来源（global / local / tray / bridge）
	KeyCode int    `json:"keycode"` // 按键代码
}

/**
 * ShortcutEventData 快捷键变更数据
 */
type ShortcutEventData struct {
	Label     string `json:"label"`     // 显示标签，如 ⌘⇧1
	Persisted bool   `json:"persisted"` // 是否已写入持久化存储
}

/**
 * PermissionEventData 权限事件数据
 */
type PermissionEventData struct {
	Type   string `json:"type"`   // 权限类型
	Status string `json:"status"` // granted / denied
	Hint   string `json:"hint"`   // 引导提示
}

// Map 转换为事件数据
func (d TriggerEventData) Map() map[string]interface{} {
	return map[string]interface{}{"source": d.Source, "keycode": d.KeyCode}
}

// Map 转换为事件数据
func (d ShortcutEventData) Map() map[string]interface{} {
	return map[string]interface{}{"label": d.Label, "persisted": d.Persisted}
}

// Map 转换为事件数据
func (d PermissionEventData) Map() map[string]interface{} {
	return map[string]interface{}{"type": d.Type, "status": d.Status, "hint": d.Hint}
}
