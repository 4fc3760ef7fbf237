package logger

import (
	"bytes"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

const mask = "******"

var (
	secretsMu sync.RWMutex
	secrets   []string
)

// Redact 登记不得出现在日志中的值
func Redact(values ...string) {
	secretsMu.Lock()
	defer secretsMu.Unlock()
	for _, v := range values {
		if len(v) < 3 {
			continue
		}
		dup := false
		for _, s := range secrets {
			if s == v {
				dup = true
				break
			}
		}
		if !dup {
			secrets = append(secrets, v)
		}
	}
	// 长的优先，包含其他密钥的密钥整体脱敏
	sort.Slice(secrets, func(i, j int) bool { return len(secrets[i]) > len(secrets[j]) })
}

// ResetRedactions 清空已登记的密钥
func ResetRedactions() {
	secretsMu.Lock()
	secrets = nil
	secretsMu.Unlock()
}

// RedactString 将 s 中所有已登记的密钥替换掉
func RedactString(s string) string {
	return string(redactBytes([]byte(s)))
}

func redactBytes(b []byte) []byte {
	secretsMu.RLock()
	defer secretsMu.RUnlock()
	for _, s := range secrets {
		b = bytes.ReplaceAll(b, []byte(s), []byte(mask))
	}
	return b
}

// RedactingFormatter 在内部格式化器渲染后脱敏，字段、消息和错误字符串都会覆盖
type RedactingFormatter struct {
	Inner logrus.Formatter
}

func (f *RedactingFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	out, err := f.Inner.Format(entry)
	if err != nil {
		return nil, err
	}
	return redactBytes(out), nil
}
