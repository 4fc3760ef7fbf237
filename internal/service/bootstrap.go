package service

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/linuxmuster/linuxmuster-base/internal/config"
	"github.com/linuxmuster/linuxmuster-base/internal/database"
	"github.com/linuxmuster/linuxmuster-base/pkg/logger"
)

// NewLogger 初始化日志，写入 <logdir>/<tool>.log
func NewLogger(cfg *config.Config, tool string) (*logrus.Logger, error) {
	return logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.LogFile(tool),
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
}

// OpenJournal 打开运行记录，未启用或打开失败时返回 nil，导入本身不依赖运行记录
func OpenJournal(cfg *config.Config, log logrus.FieldLogger) (Journal, func()) {
	if !cfg.Journal.Enabled {
		return nil, func() {}
	}
	j, err := database.Open(cfg.Journal.Path, log)
	if err != nil {
		log.Warnf("journal disabled: %v", err)
		return nil, func() {}
	}
	return j, func() { _ = j.Close() }
}

// History 输出 tool 最近 limit 次运行记录，最新的在前
func History(cfg *config.Config, tool string, limit int, out io.Writer, log logrus.FieldLogger) error {
	j, err := database.Open(cfg.Journal.Path, log)
	if err != nil {
		return err
	}
	defer j.Close()

	runs, err := j.RecentRuns(tool, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintf(out, "no %s runs recorded\n", tool)
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(out, "%s  %s  %-7s  %2d steps  %s",
			r.StartTime.Format("2006-01-02 15:04:05"), r.ID, r.Status, r.Steps,
			time.Duration(r.Duration)*time.Millisecond)
		if r.ErrorMsg != "" {
			fmt.Fprintf(out, "  %s", r.ErrorMsg)
		}
		fmt.Fprintln(out)
	}
	return nil
}
