package inventory

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/linuxmuster/linuxmuster-base/internal/util"
)

// ErrInvalidRow 标记单个格式错误的清单行，此类行记录日志后丢弃，不会中止运行
var ErrInvalidRow = errors.New("invalid inventory row")

type row struct {
	line   int
	fields []string
}

// readRows 读取分号分隔的文件，首字节不是 ASCII 字母或数字的行视为注释（空行同理）
func readRows(path string) ([]row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	text := util.EnsureUTF8Bytes(data)

	var rows []row
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || !isAlnum(line[0]) {
			continue
		}
		fields := strings.Split(line, ";")
		for j := range fields {
			fields[j] = strings.TrimSpace(fields[j])
		}
		rows = append(rows, row{line: i + 1, fields: fields})
	}
	return rows, nil
}

func isAlnum(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func field(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}

func rowError(path string, line int, format string, args ...any) error {
	return fmt.Errorf("%s:%d: %w: %s", path, line, ErrInvalidRow, fmt.Sprintf(format, args...))
}
