/**
 * Package events 提供事件总线实现
 *
 * EventBus 是发布-订阅模式的核心实现，支持：
 * - 按事件类型订阅与通配符订阅
 * - 每个订阅者独立的异步交付队列，不丢弃、不乱序
 * - 中间件链
 * - 优雅关闭
 */

package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chenyang-zz/quickcapture/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrBusStopped 事件总线已停止
var ErrBusStopped = errors.New("event bus is stopped")

/**
 * EventHandler 事件处理函数类型
 */
type EventHandler func(event Event) error

/**
 * EventFilter 事件过滤器函数类型
 *
 * 返回 true 表示事件应该被处理，false 表示跳过
 */
type EventFilter func(event Event) bool

/**
 * Middleware 中间件类型
 *
 * 中间件可以包装事件处理函数，添加日志、恢复等功能
 */
type Middleware func(EventHandler) EventHandler

/**
 * Subscriber 订阅者信息
 */
type Subscriber struct {
	// ID 订阅者唯一标识
	ID string

	// Handler 事件处理函数
	Handler EventHandler

	// Filter 事件过滤器（可选）
	Filter EventFilter

	// mu 保护 queue 和 closed
	mu sync.Mutex

	// queue 待处理事件，不设上限，慢订阅者只会落后不会丢事件
	queue []Event

	// ready 有新事件或订阅已关闭时发出信号
	ready chan struct{}

	// closed 已取消订阅，之后的发送直接丢弃
	closed bool
}

// send 追加事件到订阅者队列，已关闭时返回 false
func (s *Subscriber) send(event Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	s.signal()
	return true
}

// take 取出队列中的全部事件
func (s *Subscriber) take() ([]Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.queue
	s.queue = nil
	return batch, s.closed
}

// close 标记订阅者关闭，已入队的事件仍会处理完，可重复调用
func (s *Subscriber) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.signal()
}

func (s *Subscriber) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

/**
 * EventBus 事件总线
 */
type EventBus struct {
	// subscribers 订阅者映射：事件类型 -> 订阅者列表
	subscribers map[string][]*Subscriber

	// mutex 保护 subscribers 的读写锁
	mutex sync.RWMutex

	// wg 等待组，用于优雅关闭
	wg sync.WaitGroup

	// stopChan 停止信号通道
	stopChan chan struct{}

	// stopOnce 保证 stopChan 只关闭一次
	stopOnce sync.Once

	// middleware 中间件链
	middleware []Middleware

	// stopped 原子标志，标记总线是否已停止
	stopped atomic.Bool

	// asyncEnabled 是否启用异步交付；禁用时 Publish 在调用方 goroutine 中直接执行处理函数
	asyncEnabled bool
}

/**
 * NewEventBus 创建新的事件总线
 *
 * Parameters:
 *   - opts: 配置选项（可选）
 *
 * Returns:
 *   - *EventBus: 新创建的事件总线
 */
func NewEventBus(opts ...Option) *EventBus {
	bus := &EventBus{
		subscribers:  make(map[string][]*Subscriber),
		stopChan:     make(chan struct{}),
		middleware:   make([]Middleware, 0),
		asyncEnabled: true,
	}

	for _, opt := range opts {
		opt(bus)
	}

	return bus
}

/**
 * Option 配置选项类型
 */
type Option func(*EventBus)

/**
 * WithAsyncDisabled 禁用异步交付
 *
 * Publish 返回时所有匹配的处理函数都已执行完毕，主要用于测试。
 */
func WithAsyncDisabled() Option {
	return func(bus *EventBus) {
		bus.asyncEnabled = false
	}
}

/**
 * Subscribe 订阅事件
 *
 * Parameters:
 *   - eventType: 事件类型，使用 "*" 订阅所有事件
 *   - handler: 事件处理函数
 *
 * Returns:
 *   - string: 订阅者 ID，用于取消订阅
 */
func (bus *EventBus) Subscribe(eventType string, handler EventHandler) string {
	return bus.SubscribeWithFilter(eventType, handler, nil)
}

/**
 * SubscribeWithFilter 带过滤器订阅事件
 *
 * filter 为 nil 时接收该类型的全部事件
 */
func (bus *EventBus) SubscribeWithFilter(eventType string, handler EventHandler, filter EventFilter) string {
	subscriber := &Subscriber{
		ID:      uuid.NewString(),
		Handler: handler,
		Filter:  filter,
		ready:   make(chan struct{}, 1),
	}

	bus.mutex.Lock()
	bus.subscribers[eventType] = append(bus.subscribers[eventType], subscriber)
	bus.mutex.Unlock()

	logger.Debug("订阅事件",
		zap.String("component", "events"),
		zap.String("event_type", eventType),
		zap.String("subscriber_id", subscriber.ID),
	)

	if bus.asyncEnabled {
		bus.wg.Add(1)
		go bus.processSubscriber(subscriber)
	}

	return subscriber.ID
}

/**
 * Unsubscribe 取消订阅
 *
 * 未知 ID 被忽略。
 */
func (bus *EventBus) Unsubscribe(subscriberID string) {
	sub := bus.remove(subscriberID)
	if sub == nil {
		logger.Debug("订阅者不存在，无法取消订阅", zap.String("subscriber_id", subscriberID))
		return
	}
	sub.close()
}

// remove 从订阅表中移除订阅者并返回它
func (bus *EventBus) remove(subscriberID string) *Subscriber {
	bus.mutex.Lock()
	defer bus.mutex.Unlock()

	for eventType, subscribers := range bus.subscribers {
		for i, sub := range subscribers {
			if sub.ID != subscriberID {
				continue
			}
			rest := make([]*Subscriber, 0, len(subscribers)-1)
			rest = append(rest, subscribers[:i]...)
			rest = append(rest, subscribers[i+1:]...)
			if len(rest) == 0 {
				delete(bus.subscribers, eventType)
			} else {
				bus.subscribers[eventType] = rest
			}
			return sub
		}
	}
	return nil
}

/**
 * Publish 发布事件
 *
 * 异步模式下事件追加到每个订阅者的队列，不阻塞发布方；
 * 同步模式下在当前 goroutine 中依次执行处理函数。
 *
 * Parameters:
 *   - eventType: 事件类型
 *   - event: 事件对象
 *
 * Returns:
 *   - error: 总线已停止时返回 ErrBusStopped
 */
func (bus *EventBus) Publish(eventType string, event Event) error {
	if bus.stopped.Load() {
		return fmt.Errorf("publish %s: %w", eventType, ErrBusStopped)
	}

	bus.mutex.RLock()
	subscribers := bus.getSubscribers(eventType)
	bus.mutex.RUnlock()

	delivered := 0
	for _, subscriber := range subscribers {
		if subscriber.Filter != nil && !subscriber.Filter(event) {
			continue
		}

		if !bus.asyncEnabled {
			bus.dispatch(subscriber, event)
			delivered++
			continue
		}

		if subscriber.send(event) {
			delivered++
		}
	}

	logger.Debug("事件已发送",
		zap.String("event_type", eventType),
		zap.String("event_id", event.ID),
		zap.Int("subscriber_count", delivered),
	)

	return nil
}

/**
 * Use 添加中间件
 *
 * 中间件按添加顺序执行，应在订阅之前调用
 */
func (bus *EventBus) Use(middleware Middleware) {
	bus.mutex.Lock()
	defer bus.mutex.Unlock()
	bus.middleware = append(bus.middleware, middleware)
}

/**
 * Stop 优雅停止事件总线
 *
 * 会等待所有订阅者的处理 goroutine 退出
 *
 * Parameters:
 *   - timeout: 超时时间
 *
 * Returns:
 *   - error: 超时返回错误
 */
func (bus *EventBus) Stop(timeout time.Duration) error {
	bus.stopped.Store(true)
	bus.stopOnce.Do(func() { close(bus.stopChan) })

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		bus.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for event bus to stop")
	}
}

/**
 * processSubscriber 处理订阅者事件
 *
 * 在独立的 goroutine 中运行，按入队顺序处理事件。
 * 取消订阅后先处理完已入队的事件再退出。
 */
func (bus *EventBus) processSubscriber(subscriber *Subscriber) {
	defer bus.wg.Done()

	for {
		select {
		case <-subscriber.ready:
			batch, closed := subscriber.take()
			for _, event := range batch {
				bus.dispatch(subscriber, event)
			}
			if closed {
				return
			}

		case <-bus.stopChan:
			return
		}
	}
}

// dispatch 通过中间件链执行订阅者的处理函数
func (bus *EventBus) dispatch(subscriber *Subscriber, event Event) {
	bus.mutex.RLock()
	handler := bus.applyMiddleware(subscriber.Handler)
	bus.mutex.RUnlock()

	if err := handler(event); err != nil {
		logger.Error("事件处理错误",
			zap.String("component", "events"),
			zap.String("subscriber_id", subscriber.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
	}
}

/**
 * getSubscribers 获取事件类型的所有订阅者，包括通配符订阅者
 */
func (bus *EventBus) getSubscribers(eventType string) []*Subscriber {
	subscribers := make([]*Subscriber, 0)

	if subs, ok := bus.subscribers[eventType]; ok {
		subscribers = append(subscribers, subs...)
	}
	if eventType != "*" {
		if wildcardSubs, ok := bus.subscribers["*"]; ok {
			subscribers = append(subscribers, wildcardSubs...)
		}
	}

	return subscribers
}

// applyMiddleware 按洋葱模型包装处理函数
func (bus *EventBus) applyMiddleware(handler EventHandler) EventHandler {
	for i := len(bus.middleware) - 1; i >= 0; i-- {
		handler = bus.middleware[i](handler)
	}
	return handler
}

/**
 * RecoveryMiddleware 恢复中间件
 *
 * 防止事件处理函数中的 panic 导致程序崩溃
 */
func RecoveryMiddleware() Middleware {
	return func(next EventHandler) EventHandler {
		return func(event Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic recovered: %v", r)
				}
			}()
			return next(event)
		}
	}
}

/**
 * LoggingMiddleware 日志中间件
 *
 * 每个事件处理前调用 fn
 */
func LoggingMiddleware(fn func(event Event)) Middleware {
	return func(next EventHandler) EventHandler {
		return func(event Event) error {
			if fn != nil {
				fn(event)
			}
			return next(event)
		}
	}
}
