// Package service 包含两条导入流程及其共用部分：步骤执行器、进程锁和导入后钩子
package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Journal 记录运行和步骤结果，记录失败只告警
type Journal interface {
	StartRun(tool string) (string, error)
	AddStep(runID string, seq int, name string, d time.Duration, err error) error
	FinishRun(runID string, err error) error
}

// StepRunner 按顺序执行命名步骤，并为每一步输出控制台协议行
type StepRunner struct {
	Out     io.Writer
	Log     logrus.FieldLogger
	Journal Journal
	Tool    string

	runID string
	seq   int
}

// NewStepRunner 创建步骤执行器，journal 可以为 nil
func NewStepRunner(tool string, out io.Writer, journal Journal, log logrus.FieldLogger) *StepRunner {
	if out == nil {
		out = io.Discard
	}
	return &StepRunner{Out: out, Log: log, Journal: journal, Tool: tool}
}

// Begin 开始一次运行记录
func (r *StepRunner) Begin() {
	r.seq = 0
	r.runID = ""
	if r.Journal == nil {
		return
	}
	id, err := r.Journal.StartRun(r.Tool)
	if err != nil {
		r.Log.Warnf("journal: %v", err)
		return
	}
	r.runID = id
	r.Log = r.Log.WithField("run", id)
}

// RunID 返回当前运行的记录 id，无运行记录时为空
func (r *StepRunner) RunID() string { return r.runID }

// Step 执行 fn 并输出 "<msg> ... [Success!]" 或 "[Failed!]"
func (r *StepRunner) Step(ctx context.Context, msg string, fn func(ctx context.Context) error) error {
	r.seq++
	fmt.Fprintf(r.Out, "%s ... ", msg)
	start := time.Now()

	err := ctx.Err()
	if err == nil {
		err = fn(ctx)
	}
	if err != nil {
		fmt.Fprintln(r.Out, "[Failed!]")
		r.Log.Errorf("%s: %v", msg, err)
	} else {
		fmt.Fprintln(r.Out, "[Success!]")
		r.Log.Info(msg)
	}

	if r.Journal != nil && r.runID != "" {
		if jerr := r.Journal.AddStep(r.runID, r.seq, msg, time.Since(start), err); jerr != nil {
			r.Log.Warnf("journal: %v", jerr)
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return nil
}

// End 以流程结果结束运行记录
func (r *StepRunner) End(err error) {
	if r.Journal == nil || r.runID == "" {
		return
	}
	if jerr := r.Journal.FinishRun(r.runID, err); jerr != nil {
		r.Log.Warnf("journal: %v", jerr)
	}
}
