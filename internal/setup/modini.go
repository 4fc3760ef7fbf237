package setup

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

// ModIni 在 path 指定的 INI 文件中写入 section/option=value
// 保留注释和其他键；文件不存在时以 0600 权限新建，仅包含该段
func ModIni(path string, section string, option string, value string) error {
	var f *ini.File
	mode := os.FileMode(0o600)

	st, err := os.Stat(path)
	switch {
	case err == nil:
		mode = st.Mode().Perm()
		f, err = ini.LoadSources(ini.LoadOptions{PreserveSurroundedQuote: true}, path)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	case os.IsNotExist(err):
		f = ini.Empty()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
	default:
		return err
	}

	sec, err := f.GetSection(section)
	if err != nil {
		sec, err = f.NewSection(section)
		if err != nil {
			return err
		}
	}
	sec.Key(option).SetValue(value)

	tmp := path + ".tmp"
	if err := f.SaveTo(tmp); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Chmod(tmp, mode); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
