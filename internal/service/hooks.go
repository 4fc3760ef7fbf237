package service

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/linuxmuster/linuxmuster-base/pkg/command"
	"github.com/linuxmuster/linuxmuster-base/pkg/logger"
)

// Hooks 按名称顺序列出 dir 中的可执行普通文件，目录不存在时没有钩子
func Hooks(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		st, err := os.Stat(path)
		if err != nil || !st.Mode().IsRegular() || st.Mode().Perm()&0o111 == 0 {
			continue
		}
		out = append(out, path)
	}
	sort.Strings(out)
	return out, nil
}

// RunHooks 以 "-s <school>" 执行 dir 中的每个钩子，第一个失败的钩子终止执行
func RunHooks(ctx context.Context, runner command.Runner, dir string, school string, log logrus.FieldLogger) error {
	hooks, err := Hooks(dir)
	if err != nil {
		return err
	}
	for _, h := range hooks {
		res, err := runner.Run(ctx, nil, h, "-s", school)
		if res != nil {
			logger.CommandOutput(log, res.Command, res.Output, err != nil)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
