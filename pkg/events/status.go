package events

import (
	"time"
)

// StatusKind 状态事件种类
type StatusKind string

const (
	// StatusStarted 一次截图会话开始
	StatusStarted StatusKind = "started"
	// StatusMessage 面向用户的状态文本
	StatusMessage StatusKind = "message"
	// StatusCompleted 会话结束（成功、取消或失败）
	StatusCompleted StatusKind = "completed"
)

// StatusEvent 状态总线上的事件
//
// CaptureID 标识所属截图会话；"Ready" 复位等与会话无关的消息为空。
type StatusEvent struct {
	Kind      StatusKind `json:"kind"`
	CaptureID string     `json:"capture_id,omitempty"`
	Text      string     `json:"text,omitempty"`
	Time      time.Time  `json:"time"`
}

// StatusBus 状态总线
//
// 基于 EventBus 的类型化封装。所有事件都以 EventTypeStatus 发布，
// 对同一订阅者按发布顺序交付。
type StatusBus struct {
	bus *EventBus
}

// NewStatusBus 创建状态总线
func NewStatusBus(bus *EventBus) *StatusBus {
	return &StatusBus{bus: bus}
}

// Started 发布会话开始事件
func (s *StatusBus) Started(captureID string) {
	s.Publish(StatusEvent{Kind: StatusStarted, CaptureID: captureID})
}

// Message 发布状态文本
func (s *StatusBus) Message(captureID, text string) {
	s.Publish(StatusEvent{Kind: StatusMessage, CaptureID: captureID, Text: text})
}

// Completed 发布会话完成事件
func (s *StatusBus) Completed(captureID string) {
	s.Publish(StatusEvent{Kind: StatusCompleted, CaptureID: captureID})
}

// Publish 发布状态事件
//
// 总线停止后的发布被忽略。
func (s *StatusBus) Publish(ev StatusEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	event := NewEvent(EventTypeStatus, map[string]interface{}{
		"kind":       string(ev.Kind),
		"capture_id": ev.CaptureID,
		"text":       ev.Text,
		"status":     ev,
	})
	_ = s.bus.Publish(string(EventTypeStatus), *event)
}

// Subscribe 订阅状态事件，返回订阅者 ID
func (s *StatusBus) Subscribe(fn func(StatusEvent)) string {
	return s.bus.Subscribe(string(EventTypeStatus), func(event Event) error {
		if ev, ok := StatusFromEvent(event); ok {
			fn(ev)
		}
		return nil
	})
}

// Unsubscribe 取消订阅
func (s *StatusBus) Unsubscribe(id string) {
	s.bus.Unsubscribe(id)
}

// StatusFromEvent 从通用事件中取出状态事件
func StatusFromEvent(event Event) (StatusEvent, bool) {
	if event.Type != EventTypeStatus {
		return StatusEvent{}, false
	}
	ev, ok := event.Data["status"].(StatusEvent)
	return ev, ok
}
