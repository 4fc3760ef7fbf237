package model

import (
	"time"
)

// ImportRun 一次导入运行
type ImportRun struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Tool      string    `json:"tool" gorm:"type:varchar(32);not null;index"`
	Status    string    `json:"status" gorm:"type:varchar(16);not null;default:'running'"`
	ErrorMsg  string    `json:"error_msg" gorm:"type:text"`
	Steps     int       `json:"steps"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  int64     `json:"duration"` // 执行时长，毫秒
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (ImportRun) TableName() string {
	return "import_runs"
}

// RunStatus 运行状态枚举
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// StepLog 流程中一步的执行结果
type StepLog struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RunID     string    `json:"run_id" gorm:"type:varchar(64);not null;index"`
	Seq       int       `json:"seq" gorm:"not null"`
	Name      string    `json:"name" gorm:"type:varchar(128);not null"`
	Status    string    `json:"status" gorm:"type:varchar(16);not null"`
	ErrorMsg  string    `json:"error_msg" gorm:"type:text"`
	Duration  int64     `json:"duration"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (StepLog) TableName() string {
	return "step_logs"
}
