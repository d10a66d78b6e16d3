/**
 * QuickCapture 主入口文件
 *
 * 菜单栏常驻的截图代理，负责：
 * 1. 加载配置并初始化日志
 * 2. 创建 App 实例并启动快捷键监听
 * 3. 启动本地桥接服务
 * 4. 在主线程运行菜单栏图标，直到用户退出或收到信号
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/chenyang-zz/quickcapture/internal/app"
	"github.com/chenyang-zz/quickcapture/internal/bridge"
	"github.com/chenyang-zz/quickcapture/internal/infrastructure/config"
	"github.com/chenyang-zz/quickcapture/internal/tray"
	"github.com/chenyang-zz/quickcapture/pkg/logger"
	"go.uber.org/zap"
)

// onceTimeout 单次模式等待截图和上传完成的上限
const onceTimeout = 5 * time.Minute

func init() {
	// 菜单栏和 macOS 事件循环必须运行在主线程
	runtime.LockOSThread()
}

/**
 * 主函数
 *
 * 应用的入口点，负责初始化并启动截图代理
 */
func main() {
	configPath := flag.String("config", "", "配置文件路径（默认 ~/.quickcapture/config.yaml）")
	once := flag.Bool("once", false, "截图并上传一次后退出")
	shortcutFlag := flag.String("shortcut", "", "覆盖快捷键，如 Cmd+Shift+2")
	flag.Parse()

	if err := run(*configPath, *once, *shortcutFlag); err != nil {
		fmt.Fprintf(os.Stderr, "quickcapture: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, once bool, shortcutFlag string) error {
	if configPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return fmt.Errorf("resolve config path: %w", err)
		}
		configPath = p
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Configure(cfg.Logging.Options()); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	defer logger.Sync()

	capturer, err := app.New(app.Options{
		Config:     cfg,
		ConfigPath: configPath,
		Shortcut:   shortcutFlag,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := capturer.Startup(ctx); err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	if once {
		return runOnce(ctx, capturer)
	}

	var br *bridge.Server
	if cfg.Bridge.Enabled {
		br = bridge.New(capturer, cfg.Bridge.Addr)
		if err := br.Start(); err != nil {
			// 端口被占用时代理仍可通过快捷键和菜单使用
			logger.Warn("桥接服务启动失败", zap.String("component", "main"), zap.Error(err))
			br = nil
		}
	}

	t := tray.New(capturer, func() {
		shutdown(capturer, br)
	})
	go func() {
		<-ctx.Done()
		logger.Info("收到退出信号", zap.String("component", "main"))
		t.Quit()
	}()

	t.Run()
	return nil
}

// runOnce 截图一次并等待上传结束
func runOnce(ctx context.Context, capturer *app.App) error {
	ctx, cancel := context.WithTimeout(ctx, onceTimeout)
	defer cancel()

	text, err := capturer.CaptureAndWait(ctx)
	shutdownErr := capturer.Shutdown()
	if err != nil {
		return errors.Join(fmt.Errorf("capture: %w", err), shutdownErr)
	}

	fmt.Println(text)
	return shutdownErr
}

func shutdown(capturer *app.App, br *bridge.Server) {
	if br != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := br.Close(ctx); err != nil {
			logger.Warn("关闭桥接服务失败", zap.String("component", "main"), zap.Error(err))
		}
		cancel()
	}
	if err := capturer.Shutdown(); err != nil {
		logger.Warn("关闭截图代理时出现错误", zap.String("component", "main"), zap.Error(err))
	}
}
