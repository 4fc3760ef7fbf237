// Package command 以 argv 数组执行外部程序，从不经过 shell，密钥通过环境变量传递
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Result 命令执行结果
type Result struct {
	Command  string        `json:"command"`
	Output   string        `json:"output"`
	Error    string        `json:"error"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Options 单次调用的参数
type Options struct {
	// Env 追加到继承的环境变量之后
	Env   []string
	Dir   string
	Stdin string
}

// Runner 执行程序并等待结束，非零退出码同时体现在 Result.ExitCode 和返回的错误中
type Runner interface {
	Run(ctx context.Context, opts *Options, name string, args ...string) (*Result, error)
}

// ExecRunner 通过 os/exec 在本机执行程序
type ExecRunner struct{}

// NewExecRunner 返回默认的本地执行器
func NewExecRunner() *ExecRunner { return &ExecRunner{} }

func (ExecRunner) Run(ctx context.Context, opts *Options, name string, args ...string) (*Result, error) {
	start := time.Now()
	res := &Result{Command: Join(name, args...)}

	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if opts != nil {
		if len(opts.Env) > 0 {
			cmd.Env = append(os.Environ(), opts.Env...)
		}
		cmd.Dir = opts.Dir
		if opts.Stdin != "" {
			cmd.Stdin = strings.NewReader(opts.Stdin)
		}
	}

	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Output = out.String()
	if err != nil {
		res.Error = err.Error()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		return res, fmt.Errorf("%s: %w", res.Command, err)
	}
	return res, nil
}

// Join 渲染用于日志的 argv
func Join(name string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, name)
	for _, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}
