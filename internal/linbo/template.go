package linbo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/linuxmuster/linuxmuster-base/templates"
)

// ErrTemplate 模板不可读或占位符未解析
var ErrTemplate = errors.New("template error")

// 模板目录下的模板名
const (
	TplGlobal        = "grub.cfg.global"
	TplOS            = "grub.cfg.os"
	TplISO           = "grub.cfg.iso"
	TplForcedNetboot = "grub.cfg.forced_netboot"
	TplStartConf     = "start.conf"
)

var placeholderRe = regexp.MustCompile(`@@[A-Za-z0-9_]+@@`)

// Templates 先在 Dir 中查找模板，找不到时使用 Embedded（如 "linbo"）下的内置模板
type Templates struct {
	Dir      string
	Embedded string
}

// Load 返回模板内容
func (t Templates) Load(name string) (string, error) {
	if t.Dir != "" {
		data, err := os.ReadFile(filepath.Join(t.Dir, name))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: read %s: %v", ErrTemplate, name, err)
		}
	}
	data, err := fs.ReadFile(templates.FS, t.Embedded+"/"+name)
	if err != nil {
		return "", fmt.Errorf("%w: no template %s", ErrTemplate, name)
	}
	return string(data), nil
}

// Render 一次性替换 tpl 中的所有 @@key@@
// tpl 中没有对应值的占位符报错，值中包含的占位符原样保留
func Render(tpl string, values map[string]string) (string, error) {
	seen := map[string]bool{}
	var missing []string
	for _, m := range placeholderRe.FindAllString(tpl, -1) {
		if _, ok := values[strings.Trim(m, "@")]; ok || seen[m] {
			continue
		}
		seen[m] = true
		missing = append(missing, m)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("%w: unresolved %s", ErrTemplate, strings.Join(missing, ", "))
	}

	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "@@"+k+"@@", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl), nil
}

// RenderFile 加载并渲染模板
func (t Templates) RenderFile(name string, values map[string]string) (string, error) {
	tpl, err := t.Load(name)
	if err != nil {
		return "", err
	}
	out, err := Render(tpl, values)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}
