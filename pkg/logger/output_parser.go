package logger

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// OutputLines 表示命令输出的头部和尾部行
type OutputLines struct {
	HeadLines []string `json:"head_lines"`
	TailLines []string `json:"tail_lines"`
}

// ParseOutputLines 解析命令输出，提取头部和尾部行
// maxLines: head 和 tail 各自的最大行数
func ParseOutputLines(output string, maxLines int) OutputLines {
	if maxLines <= 0 {
		maxLines = 5
	}

	output = strings.ReplaceAll(output, "\r\n", "\n")
	output = strings.ReplaceAll(output, "\r", "\n")
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return OutputLines{}
	}

	lines := strings.Split(output, "\n")
	total := len(lines)

	headCount := maxLines
	if headCount > total {
		headCount = total
	}
	head := make([]string, headCount)
	copy(head, lines[:headCount])

	if total <= maxLines {
		tail := make([]string, len(head))
		copy(tail, head)
		return OutputLines{HeadLines: head, TailLines: tail}
	}

	tail := make([]string, maxLines)
	copy(tail, lines[total-maxLines:])
	return OutputLines{HeadLines: head, TailLines: tail}
}

// FormatOutputLines 格式化输出行为字符串，用于日志记录
func FormatOutputLines(lines OutputLines) string {
	var parts []string

	if len(lines.HeadLines) > 0 {
		parts = append(parts, "head-lines: ["+strings.Join(lines.HeadLines, " ⟩ ")+"]")
	}

	if len(lines.TailLines) > 0 && !areSlicesEqual(lines.HeadLines, lines.TailLines) {
		parts = append(parts, "tail-lines: ["+strings.Join(lines.TailLines, " ⟩ ")+"]")
	}

	return strings.Join(parts, ", ")
}

func areSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CommandOutput 记录外部命令的输出
// 成功时只在 debug 级别记录头尾几行，失败时在 error 级别记录完整输出
func CommandOutput(log logrus.FieldLogger, command string, output string, failed bool) {
	if strings.TrimSpace(output) == "" {
		return
	}
	if failed {
		log.WithField("command", command).Errorf("command output:\n%s", strings.TrimRight(output, "\n"))
		return
	}
	lines := ParseOutputLines(output, 5)
	log.WithField("command", command).Debugf("command echo: %s", FormatOutputLines(lines))
}
