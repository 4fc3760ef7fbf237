package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/linuxmuster/linuxmuster-base/pkg/logger"
)

// Systemctl 按停止、启动、等待、检查的顺序重启服务
type Systemctl struct {
	Runner Runner
	Binary string
	Settle time.Duration
	Log    logrus.FieldLogger
}

// NewSystemctl 使用给定执行器创建控制器
func NewSystemctl(r Runner, binary string, settle time.Duration, log logrus.FieldLogger) *Systemctl {
	if binary == "" {
		binary = "systemctl"
	}
	return &Systemctl{Runner: r, Binary: binary, Settle: settle, Log: log}
}

// Restart 停止并启动 unit，等待 Settle 后检查其是否处于 active 状态
func (s *Systemctl) Restart(ctx context.Context, unit string) error {
	for _, verb := range []string{"stop", "start"} {
		if err := s.run(ctx, verb, unit); err != nil && verb == "start" {
			return err
		}
	}

	if s.Settle > 0 {
		t := time.NewTimer(s.Settle)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	res, err := s.Runner.Run(ctx, nil, s.Binary, "is-active", unit)
	if err != nil {
		out := ""
		if res != nil {
			out = strings.TrimSpace(res.Output)
		}
		return fmt.Errorf("service %s is not active (%s): %w", unit, out, err)
	}
	return nil
}

func (s *Systemctl) run(ctx context.Context, verb string, unit string) error {
	res, err := s.Runner.Run(ctx, nil, s.Binary, verb, unit)
	if res != nil {
		logger.CommandOutput(s.Log, res.Command, res.Output, err != nil)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", verb, unit, err)
	}
	return nil
}
