/**
 * Package capture 管理外部截图进程
 *
 * Controller 保证同一时刻最多只有一个截图进程存活：新的触发会先终止并等待旧进程退出。
 * 进程退出后检查输出文件，区分成功、用户取消和失败，成功时交给上传流水线。
 * 所有状态只在协调循环中读写，进程退出和上传结果都投递回循环处理。
 */
package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/chenyang-zz/quickcapture/internal/upload"
	"github.com/chenyang-zz/quickcapture/pkg/events"
	"github.com/chenyang-zz/quickcapture/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 状态文本
const (
	MsgSelectRegion = "Select a region to capture…"
	MsgUploading    = "Uploading screenshot…"
	MsgCancelled    = "Capture cancelled"
	MsgReady        = "Ready"
)

// Scheduler 协调上下文
//
// runloop.Loop 满足该接口。
type Scheduler interface {
	Post(fn func()) bool
	AfterFunc(d time.Duration, fn func()) *time.Timer
}

// Uploader 上传流水线
type Uploader interface {
	Submit(ctx context.Context, image []byte) upload.Outcome
}

// Config 截图配置
type Config struct {
	// Tool 截图工具路径
	Tool string

	// Args 输出路径之前的参数，默认 -i -x（交互选区、静音）
	Args []string

	// TempDir 临时输出目录，为空时使用系统临时目录
	TempDir string

	// ResetDelay 终态消息之后恢复 Ready 的延迟
	ResetDelay time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Tool:       "/usr/sbin/screencapture",
		Args:       []string{"-i", "-x"},
		ResetDelay: 3 * time.Second,
	}
}

// session 一次截图会话
type session struct {
	id   string
	gen  uint64
	proc Process
	path string

	// exited 进程退出后关闭
	exited chan struct{}
}

// Controller 截图进程控制器
type Controller struct {
	cfg      Config
	runner   Runner
	sched    Scheduler
	status   *events.StatusBus
	uploader Uploader

	ctx    context.Context
	cancel context.CancelFunc

	// 以下字段只在协调循环中访问
	live       *session
	generation uint64
	uploading  int
	timers     []*time.Timer
	closed     bool

	// open 正在上传、尚未发布 Completed 的会话
	open map[*session]struct{}
}

// NewController 创建控制器
func NewController(cfg Config, runner Runner, sched Scheduler, status *events.StatusBus, uploader Uploader) *Controller {
	def := DefaultConfig()
	if cfg.Tool == "" {
		cfg.Tool = def.Tool
	}
	if cfg.Args == nil {
		cfg.Args = def.Args
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.ResetDelay <= 0 {
		cfg.ResetDelay = def.ResetDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:      cfg,
		runner:   runner,
		sched:    sched,
		status:   status,
		uploader: uploader,
		ctx:      ctx,
		cancel:   cancel,
		open:     make(map[*session]struct{}),
	}
}

// Trigger 开始一次截图，必须在协调循环中调用
//
// 有存活会话时先终止并等待其退出，为旧会话发布 Completed，再开始新会话。
// 仍在上传的旧会话也在新会话的 Started 之前收到 Completed，上传结果之后只发布消息。
func (c *Controller) Trigger() {
	if c.closed {
		return
	}

	if c.live != nil {
		c.supersede()
	}
	c.closeOpen()

	c.generation++
	s := &session{
		id:     uuid.NewString(),
		gen:    c.generation,
		exited: make(chan struct{}),
	}
	s.path = filepath.Join(c.cfg.TempDir, "quickcapture-"+s.id+".png")

	// 先让忙碌指示出现，再启动进程
	c.status.Started(s.id)
	c.status.Message(s.id, MsgSelectRegion)

	args := append(append([]string(nil), c.cfg.Args...), s.path)
	proc, err := c.runner.Start(c.ctx, c.cfg.Tool, args...)
	if err != nil {
		logger.Error("启动截图工具失败",
			zap.String("component", "capture"),
			zap.String("capture_id", s.id),
			zap.String("tool", c.cfg.Tool),
			zap.Error(err),
		)
		c.finish(s, spawnErrorMessage(c.cfg.Tool, err))
		return
	}

	s.proc = proc
	c.live = s
	logger.Info("截图进程已启动",
		zap.String("component", "capture"),
		zap.String("capture_id", s.id),
	)

	go func() {
		err := proc.Wait()
		close(s.exited)
		c.sched.Post(func() { c.onExit(s, err) })
	}()
}

// Busy 是否有存活的截图进程或进行中的上传，必须在协调循环中调用
func (c *Controller) Busy() bool {
	return c.live != nil || c.uploading > 0
}

// Close 终止存活会话并取消进行中的上传，必须在协调循环中调用
func (c *Controller) Close() {
	if c.closed {
		return
	}
	c.closed = true

	if c.live != nil {
		c.supersede()
	}
	c.closeOpen()
	for _, t := range c.timers {
		t.Stop()
	}
	c.timers = nil
	c.cancel()
}

// supersede 终止存活会话并同步等待退出
//
// 旧会话的退出回调会因为会话不匹配被丢弃。
func (c *Controller) supersede() {
	old := c.live
	c.live = nil

	if err := old.proc.Kill(); err != nil {
		logger.Warn("终止截图进程失败",
			zap.String("component", "capture"),
			zap.String("capture_id", old.id),
			zap.Error(err),
		)
	}
	<-old.exited

	removeQuietly(old.path)
	c.status.Completed(old.id)

	logger.Info("旧截图会话已终止",
		zap.String("component", "capture"),
		zap.String("capture_id", old.id),
	)
}

// onExit 处理进程退出
func (c *Controller) onExit(s *session, waitErr error) {
	if c.live != s {
		logger.Debug("丢弃过期会话的退出回调",
			zap.String("component", "capture"),
			zap.String("capture_id", s.id),
		)
		return
	}
	c.live = nil

	if waitErr != nil {
		removeQuietly(s.path)
		logger.Warn("截图进程异常退出",
			zap.String("component", "capture"),
			zap.String("capture_id", s.id),
			zap.Error(waitErr),
		)
		c.finish(s, fmt.Sprintf("Capture failed: %v", waitErr))
		return
	}

	data, err := os.ReadFile(s.path)
	removeQuietly(s.path)

	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Info("用户取消截图", zap.String("component", "capture"), zap.String("capture_id", s.id))
		c.finish(s, MsgCancelled)
	case err != nil:
		logger.Error("读取截图失败",
			zap.String("component", "capture"),
			zap.String("capture_id", s.id),
			zap.Error(err),
		)
		c.finish(s, "Could not read screenshot")
	case len(data) == 0:
		c.finish(s, MsgCancelled)
	default:
		c.startUpload(s, data)
	}
}

// startUpload 在独立 goroutine 中上传，结果投递回协调循环
func (c *Controller) startUpload(s *session, data []byte) {
	if c.uploader == nil {
		c.finish(s, "Screenshot captured")
		return
	}

	c.status.Message(s.id, MsgUploading)
	c.uploading++
	c.open[s] = struct{}{}

	logger.Info("开始上传截图",
		zap.String("component", "capture"),
		zap.String("capture_id", s.id),
		zap.Int("bytes", len(data)),
	)

	ctx := c.ctx
	go func() {
		outcome := c.uploader.Submit(ctx, data)
		c.sched.Post(func() {
			c.uploading--
			if _, ok := c.open[s]; ok {
				delete(c.open, s)
				c.finish(s, outcome.Message)
				return
			}
			// 会话已被更新的截图结束，结果仍然告知用户
			c.status.Message(s.id, outcome.Message)
		})
	}()
}

// closeOpen 为仍在上传的会话发布 Completed
//
// 上传本身不取消，结果到达时只发布消息。
func (c *Controller) closeOpen() {
	for s := range c.open {
		delete(c.open, s)
		c.status.Completed(s.id)
		logger.Debug("上传中的会话被新截图结束",
			zap.String("component", "capture"),
			zap.String("capture_id", s.id),
		)
	}
}

// finish 发布终态消息和 Completed，并安排延迟复位
func (c *Controller) finish(s *session, text string) {
	c.status.Message(s.id, text)
	c.status.Completed(s.id)
	c.scheduleReset(s.gen)
}

// scheduleReset 延迟发布 Ready
//
// 触发时已有更新的会话开始，或仍有截图在进行，则丢弃本次复位。
func (c *Controller) scheduleReset(gen uint64) {
	if c.closed {
		return
	}

	var timer *time.Timer
	timer = c.sched.AfterFunc(c.cfg.ResetDelay, func() {
		c.dropTimer(timer)
		if gen != c.generation || c.live != nil || c.closed {
			return
		}
		c.status.Message("", MsgReady)
	})
	c.timers = append(c.timers, timer)
}

func (c *Controller) dropTimer(t *time.Timer) {
	for i, existing := range c.timers {
		if existing == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}

func spawnErrorMessage(tool string, err error) string {
	if errors.Is(err, ErrToolMissing) {
		return fmt.Sprintf("Capture tool not found: %s", tool)
	}
	return fmt.Sprintf("Could not start capture: %v", err)
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("删除临时截图失败",
			zap.String("component", "capture"),
			zap.String("path", path),
			zap.Error(err),
		)
	}
}
