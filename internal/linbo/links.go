package linbo

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/linuxmuster/linuxmuster-base/internal/inventory"
	"github.com/linuxmuster/linuxmuster-base/internal/storage"
)

const manifestSuffix = ".linbo-links.csv"

// Link 一个符号链接：Target 为链接路径，Source 为指向的目标
type Link struct {
	Source string
	Target string
}

// HostCfgDir 每台主机 grub 配置链接所在目录
func (s *Synthesizer) HostCfgDir() string {
	return filepath.Join(s.GrubDir, "hostcfg")
}

// ManifestPath 返回学校的链接清单
func (s *Synthesizer) ManifestPath(school string) string {
	return filepath.Join(s.CacheDir, school+manifestSuffix)
}

// HostLinks 返回 PXE 设备的两个链接
func (s *Synthesizer) HostLinks(d inventory.Device) []Link {
	return []Link{
		{Source: "start.conf." + d.Group, Target: filepath.Join(s.LinboDir, "start.conf-"+d.Identity())},
		{Source: "../" + d.Group + ".cfg", Target: filepath.Join(s.HostCfgDir(), d.Hostname+".cfg")},
	}
}

// WriteLinksManifest 记录学校内所有 PXE 设备的链接，返回排序后的组名
func (s *Synthesizer) WriteLinksManifest(school string, devices []inventory.Device) ([]string, error) {
	var buf bytes.Buffer
	groups := map[string]bool{}
	for _, d := range devices {
		if !d.IsPXE() || d.Group == "" {
			continue
		}
		groups[d.Group] = true
		for _, l := range s.HostLinks(d) {
			fmt.Fprintf(&buf, "%s;%s\n", l.Source, l.Target)
		}
	}
	if _, err := s.Writer.Write(s.ManifestPath(school), buf.Bytes(), 0o644); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(groups))
	for g := range groups {
		out = append(out, g)
	}
	sort.Strings(out)
	return out, nil
}

// RemoveHostLinks 删除 LINBO 根目录下的 start.conf-* 链接和 hostcfg 下的 *.cfg 链接
// 普通文件不受影响
func (s *Synthesizer) RemoveHostLinks() (int, error) {
	var removed int
	for _, pattern := range []string{
		filepath.Join(s.LinboDir, "start.conf-*"),
		filepath.Join(s.HostCfgDir(), "*.cfg"),
	} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return removed, err
		}
		for _, m := range matches {
			st, err := os.Lstat(m)
			if err != nil || st.Mode()&os.ModeSymlink == 0 {
				continue
			}
			if err := os.Remove(m); err != nil {
				return removed, fmt.Errorf("remove %s: %w", m, err)
			}
			removed++
		}
	}
	return removed, nil
}

// ReadManifest 解析一个链接清单
func ReadManifest(path string) ([]Link, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var links []Link
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		source, target, ok := strings.Cut(line, ";")
		if !ok || source == "" || target == "" {
			continue
		}
		links = append(links, Link{Source: source, Target: target})
	}
	return links, sc.Err()
}

// PruneManifests 删除不在 keep 中的学校的清单，返回被删除的学校
func (s *Synthesizer) PruneManifests(keep []string) ([]string, error) {
	manifests, err := filepath.Glob(filepath.Join(s.CacheDir, "*"+manifestSuffix))
	if err != nil {
		return nil, err
	}
	return storage.PruneExcept(manifests, manifestSuffix, keep)
}

// ReplayManifests 按清单名顺序创建所有学校清单中的链接
// 同一链接出现多次时以最后一次为准
func (s *Synthesizer) ReplayManifests() (int, error) {
	manifests, err := filepath.Glob(filepath.Join(s.CacheDir, "*"+manifestSuffix))
	if err != nil {
		return 0, err
	}
	sort.Strings(manifests)

	var created int
	for _, m := range manifests {
		links, err := ReadManifest(m)
		if err != nil {
			return created, fmt.Errorf("read %s: %w", m, err)
		}
		for _, l := range links {
			if err := s.link(l); err != nil {
				return created, err
			}
			created++
		}
	}
	return created, nil
}

func (s *Synthesizer) link(l Link) error {
	if err := os.MkdirAll(filepath.Dir(l.Target), 0o755); err != nil {
		return err
	}
	if st, err := os.Lstat(l.Target); err == nil {
		if st.Mode()&os.ModeSymlink == 0 {
			s.Log.Warnf("%s exists and is not a link, skipping", l.Target)
			return nil
		}
		if err := os.Remove(l.Target); err != nil {
			return err
		}
	}
	if err := os.Symlink(l.Source, l.Target); err != nil {
		return fmt.Errorf("link %s -> %s: %w", l.Target, l.Source, err)
	}
	return nil
}
