package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/linuxmuster/linuxmuster-base/internal/model"
)

// Journal 在 SQLite 中记录导入运行及其步骤
type Journal struct {
	db *gorm.DB
}

// Open 初始化SQLite数据库
func Open(path string, log logrus.FieldLogger) (*Journal, error) {
	// 确保数据库目录存在
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	gormConfig := &gorm.Config{
		Logger: gormLogger.New(
			log,
			gormLogger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  gormLogger.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
		SkipDefaultTransaction: true,
	}

	// 使用modernc.org/sqlite驱动
	dsn := path + "?_pragma=busy_timeout(15000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        dsn,
	}, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	// 单连接，确保 PRAGMA 在唯一连接上生效
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&model.ImportRun{}, &model.StepLog{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}
	return &Journal{db: db}, nil
}

// IsBusyError 判断是否为 SQLite 并发锁相关错误
func IsBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy")
}

// withRetry 在数据库锁冲突时重试 fn，例如租约钩子和导入工具同时写入
func (j *Journal) withRetry(fn func(*gorm.DB) error) error {
	sleep := 50 * time.Millisecond
	var err error
	for i := 0; i < 5; i++ {
		if err = fn(j.db); err == nil || !IsBusyError(err) {
			return err
		}
		time.Sleep(sleep)
		if sleep < 500*time.Millisecond {
			sleep *= 2
		}
	}
	return err
}

// StartRun 创建运行记录并返回其 id
func (j *Journal) StartRun(tool string) (string, error) {
	run := model.ImportRun{
		ID:        uuid.NewString(),
		Tool:      tool,
		Status:    model.RunStatusRunning,
		StartTime: time.Now(),
	}
	if err := j.withRetry(func(db *gorm.DB) error { return db.Create(&run).Error }); err != nil {
		return "", err
	}
	return run.ID, nil
}

// AddStep 记录一次运行中某一步的结果
func (j *Journal) AddStep(runID string, seq int, name string, d time.Duration, stepErr error) error {
	step := model.StepLog{
		RunID:    runID,
		Seq:      seq,
		Name:     name,
		Status:   model.RunStatusSuccess,
		Duration: d.Milliseconds(),
	}
	if stepErr != nil {
		step.Status = model.RunStatusFailed
		step.ErrorMsg = stepErr.Error()
	}
	return j.withRetry(func(db *gorm.DB) error { return db.Create(&step).Error })
}

// FinishRun 结束运行记录
func (j *Journal) FinishRun(runID string, runErr error) error {
	return j.withRetry(func(db *gorm.DB) error {
		var run model.ImportRun
		if err := db.First(&run, "id = ?", runID).Error; err != nil {
			return err
		}
		var steps int64
		if err := db.Model(&model.StepLog{}).Where("run_id = ?", runID).Count(&steps).Error; err != nil {
			return err
		}
		run.EndTime = time.Now()
		run.Duration = run.EndTime.Sub(run.StartTime).Milliseconds()
		run.Steps = int(steps)
		run.Status = model.RunStatusSuccess
		if runErr != nil {
			run.Status = model.RunStatusFailed
			run.ErrorMsg = runErr.Error()
		}
		return db.Save(&run).Error
	})
}

// Run 按顺序返回一次运行及其步骤
func (j *Journal) Run(runID string) (*model.ImportRun, []model.StepLog, error) {
	var run model.ImportRun
	if err := j.db.First(&run, "id = ?", runID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, nil, err
	}
	var steps []model.StepLog
	if err := j.db.Where("run_id = ?", runID).Order("seq").Find(&steps).Error; err != nil {
		return nil, nil, err
	}
	return &run, steps, nil
}

// RecentRuns 列出 tool 最近的运行，最新的在前
func (j *Journal) RecentRuns(tool string, limit int) ([]model.ImportRun, error) {
	var runs []model.ImportRun
	err := j.db.Where("tool = ?", tool).Order("start_time desc").Limit(limit).Find(&runs).Error
	return runs, err
}

// Close 关闭数据库连接
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
