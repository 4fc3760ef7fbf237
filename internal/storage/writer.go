// Package storage 以原子方式写入生成的文件，并为即将被替换的文件保留带时间戳的备份
package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// StoredObject 描述一次写入的结果
type StoredObject struct {
	Path     string
	Size     int64
	Checksum string
	// Changed 为 false 表示磁盘上的内容与新内容一致，未发生写入
	Changed bool
}

// Writer 抽象输出写入器
type Writer interface {
	Write(path string, content []byte, mode os.FileMode) (StoredObject, error)
}

// LocalWriter 先写入目标目录下的临时文件再重命名，内容未变时不写入
type LocalWriter struct{}

// NewWriter 返回本地原子写入器
func NewWriter() *LocalWriter { return &LocalWriter{} }

func (LocalWriter) Write(path string, content []byte, mode os.FileMode) (StoredObject, error) {
	return WriteFile(path, content, mode)
}

// WriteFile LocalWriter.Write 的包级形式
func WriteFile(path string, content []byte, mode os.FileMode) (StoredObject, error) {
	obj := StoredObject{Path: path, Size: int64(len(content)), Checksum: Checksum(content)}

	if old, err := os.ReadFile(path); err == nil && bytes.Equal(old, content) {
		return obj, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return obj, fmt.Errorf("failed to create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return obj, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		cleanup()
		return obj, fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return obj, fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		cleanup()
		return obj, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return obj, fmt.Errorf("failed to replace %s: %w", path, err)
	}
	obj.Changed = true
	return obj, nil
}

// Checksum 计算内容校验
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Backup 将 path 复制为 "<path>-<YYYYMMDDHHMMSS>" 并返回副本名
func Backup(path string, now time.Time) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	st, err := src.Stat()
	if err != nil {
		return "", err
	}
	name := path + "-" + now.Format("20060102150405")
	dst, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, st.Mode().Perm())
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return "", fmt.Errorf("backup %s: %w", path, err)
	}
	return name, dst.Close()
}

// Restore 用 Backup 生成的备份恢复原文件
func Restore(backup string, path string) error {
	data, err := os.ReadFile(backup)
	if err != nil {
		return err
	}
	st, err := os.Stat(backup)
	if err != nil {
		return err
	}
	_, err = WriteFile(path, data, st.Mode().Perm())
	return err
}

// PruneExcept 删除文件名去掉 suffix 后不在 keep 中的文件，返回被删除的名称
func PruneExcept(files []string, suffix string, keep []string) ([]string, error) {
	wanted := make(map[string]bool, len(keep))
	for _, k := range keep {
		wanted[k] = true
	}
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	var dropped []string
	for _, f := range sorted {
		name := strings.TrimSuffix(filepath.Base(f), suffix)
		if wanted[name] {
			continue
		}
		if err := os.Remove(f); err != nil {
			return dropped, fmt.Errorf("remove %s: %w", f, err)
		}
		dropped = append(dropped, name)
	}
	return dropped, nil
}
