/**
 * Package runloop 提供单线程协调循环
 *
 * 所有截图流程的状态（当前会话、快捷键、复位计时器）只在循环 goroutine 中读写，
 * 钩子回调、进程退出、上传结果都通过 Post 投递回循环执行。
 */
package runloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chenyang-zz/quickcapture/pkg/logger"
	"go.uber.org/zap"
)

// ErrClosed 循环已退出，任务不会再被执行
var ErrClosed = errors.New("run loop closed")

// Loop 单线程任务循环
type Loop struct {
	tasks   chan func()
	done    chan struct{}
	started chan struct{}

	startOnce sync.Once
	doneOnce  sync.Once
}

// New 创建任务循环
//
// Parameters:
//   - buffer: 任务队列容量，<= 0 时使用 64
func New(buffer int) *Loop {
	if buffer <= 0 {
		buffer = 64
	}
	return &Loop{
		tasks:   make(chan func(), buffer),
		done:    make(chan struct{}),
		started: make(chan struct{}),
	}
}

// Run 在当前 goroutine 中执行任务，直到 ctx 取消
//
// 单个任务 panic 会被恢复并记录，不会终止循环。
func (l *Loop) Run(ctx context.Context) error {
	l.startOnce.Do(func() { close(l.started) })
	defer l.doneOnce.Do(func() { close(l.done) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("任务执行 panic",
				zap.String("component", "runloop"),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	fn()
}

// Post 投递任务，队列满时阻塞直到有空位或循环退出
//
// Returns: bool - 循环已退出时返回 false
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// TryPost 非阻塞投递，队列满或循环已退出时丢弃
//
// 供系统钩子回调使用，回调线程不能被阻塞。
func (l *Loop) TryPost(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.tasks <- fn:
		return true
	default:
		logger.Warn("任务队列已满，丢弃任务", zap.String("component", "runloop"))
		return false
	}
}

// Do 投递任务并等待其执行完成
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AfterFunc 在 d 之后将 fn 投递到循环
//
// 返回的 Timer 可用于取消尚未触发的投递。
func (l *Loop) AfterFunc(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() {
		l.Post(fn)
	})
}

// Started 循环开始运行后关闭
func (l *Loop) Started() <-chan struct{} {
	return l.started
}

// Done 循环退出后关闭
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
