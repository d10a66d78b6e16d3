package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/chenyang-zz/quickcapture/pkg/logger"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounceInterval 编辑器保存时会连续产生多个事件
const debounceInterval = 200 * time.Millisecond

// ChangeFunc 配置重新加载成功后的回调
type ChangeFunc func(cfg *Config)

// Watcher 监听配置文件变化并重新加载
//
// 监听的是所在目录，编辑器用重命名方式替换文件时也能收到事件。
// 重新加载失败时保留旧配置，只记录警告。
type Watcher struct {
	path     string
	onChange ChangeFunc

	mu      sync.Mutex
	fs      *fsnotify.Watcher
	timer   *time.Timer
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewWatcher 创建配置监听器
func NewWatcher(path string, onChange ChangeFunc) *Watcher {
	return &Watcher{path: filepath.Clean(path), onChange: onChange}
}

// Start 开始监听
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New("config watcher already running")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	w.fs = fsw
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	w.running = true

	go w.loop(fsw, w.stop, w.done)

	logger.Info("配置监听已启动", zap.String("component", "config"), zap.String("path", w.path))
	return nil
}

// Close 停止监听，可以重复调用
func (w *Watcher) Close() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stop)
	if w.timer != nil {
		w.timer.Stop()
	}
	fsw, done := w.fs, w.done
	w.mu.Unlock()

	err := fsw.Close()
	<-done
	return err
}

func (w *Watcher) loop(fsw *fsnotify.Watcher, stop, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.schedule()

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			logger.Warn("配置监听错误", zap.String("component", "config"), zap.Error(err))
		}
	}
}

// schedule 防抖：最后一个事件之后 debounceInterval 再加载
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceInterval, w.reload)
}

func (w *Watcher) reload() {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()
	if !running {
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		logger.Warn("配置重新加载失败，保留旧配置",
			zap.String("component", "config"),
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}

	logger.Info("配置已重新加载", zap.String("component", "config"), zap.String("path", w.path))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
