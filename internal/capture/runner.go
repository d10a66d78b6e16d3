package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// ErrToolMissing 截图工具不存在或不可执行
var ErrToolMissing = errors.New("capture tool not found")

// Process 正在运行的截图进程
type Process interface {
	// Wait 阻塞直到进程退出，退出码为 0 时返回 nil
	Wait() error

	// Kill 终止进程，进程已退出时返回 nil
	Kill() error
}

// Runner 启动外部截图工具
type Runner interface {
	Start(ctx context.Context, name string, args ...string) (Process, error)
}

// ExecRunner 基于 os/exec 的 Runner
type ExecRunner struct{}

// Start 启动进程，不等待退出
func (ExecRunner) Start(ctx context.Context, name string, args ...string) (Process, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrToolMissing, name, err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}

func (p *execProcess) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
