package linbo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/linuxmuster/linuxmuster-base/internal/config"
	"github.com/linuxmuster/linuxmuster-base/internal/storage"
)

// Synthesizer 渲染分组 grub 配置并维护主机符号链接
type Synthesizer struct {
	LinboDir  string
	GrubDir   string
	CacheDir  string
	ServerIP  string
	Templates Templates
	Writer    storage.Writer
	Log       logrus.FieldLogger
}

// NewSynthesizer 根据引擎路径创建 Synthesizer
func NewSynthesizer(paths config.PathsConfig, serverIP string, log logrus.FieldLogger) *Synthesizer {
	return &Synthesizer{
		LinboDir:  paths.LinboDir,
		GrubDir:   paths.LinboGrubDir,
		CacheDir:  paths.CacheDir,
		ServerIP:  serverIP,
		Templates: Templates{Dir: paths.LinboTplDir, Embedded: "linbo"},
		Writer:    storage.NewWriter(),
		Log:       log,
	}
}

// StartConfPath 返回组的 start.conf 路径
func (s *Synthesizer) StartConfPath(group string) string {
	return filepath.Join(s.LinboDir, "start.conf."+group)
}

// GroupConfigPath 返回组的 grub 配置路径
func (s *Synthesizer) GroupConfigPath(group string) string {
	return filepath.Join(s.GrubDir, group+".cfg")
}

var (
	serverLineRe = regexp.MustCompile(`(?im)^([ \t]*server[ \t]*=).*$`)
	groupLineRe  = regexp.MustCompile(`(?im)^([ \t]*group[ \t]*=).*$`)
)

// EnsureStartConf 组的 start.conf 不存在时由默认配置创建，返回是否新建
func (s *Synthesizer) EnsureStartConf(group string) (bool, error) {
	path := s.StartConfPath(group)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}

	var tpl string
	if data, err := os.ReadFile(filepath.Join(s.LinboDir, TplStartConf)); err == nil {
		tpl = string(data)
	} else {
		if tpl, err = s.Templates.Load(TplStartConf); err != nil {
			return false, err
		}
	}
	tpl = serverLineRe.ReplaceAllString(tpl, "${1} "+s.ServerIP)
	tpl = groupLineRe.ReplaceAllString(tpl, "${1} "+group)

	if _, err := s.Writer.Write(path, []byte(tpl), 0o644); err != nil {
		return false, err
	}
	s.Log.Warnf("group %s is not yet configured, created %s from the default", group, path)
	return true, nil
}

// WriteGroupConfig 由组的 start.conf 渲染 <group>.cfg
// 已存在但不带管理标记的配置保持不变
func (s *Synthesizer) WriteGroupConfig(group string) (storage.StoredObject, error) {
	out := s.GroupConfigPath(group)
	if _, err := s.EnsureStartConf(group); err != nil {
		return storage.StoredObject{Path: out}, err
	}
	if data, err := os.ReadFile(out); err == nil && !strings.Contains(string(data), config.GRUBMARKER) {
		s.Log.Infof("%s is not managed, keeping it", out)
		return storage.StoredObject{Path: out, Size: int64(len(data)), Checksum: storage.Checksum(data)}, nil
	}

	conf, err := ParseStartConf(s.StartConfPath(group))
	if err != nil {
		return storage.StoredObject{Path: out}, err
	}

	content, err := s.renderGroup(group, conf)
	if err != nil {
		return storage.StoredObject{Path: out}, fmt.Errorf("group %s: %w", group, err)
	}
	obj, err := s.Writer.Write(out, []byte(content), 0o644)
	if err != nil {
		return obj, err
	}
	if obj.Changed {
		s.Log.Infof("wrote %s", out)
	}
	return obj, nil
}

func (s *Synthesizer) renderGroup(group string, conf *StartConf) (string, error) {
	kopts := conf.KernelOptions

	cachePart, _, found := conf.Partition(conf.Cache)
	cacheRoot, _, mapErr := GrubPartition(conf.Cache)
	if conf.Cache == "" || !found || mapErr != nil {
		s.Log.Warnf("group %s has no usable cache partition, writing forced netboot config", group)
		return s.Templates.RenderFile(TplForcedNetboot, map[string]string{
			"group": group,
			"kopts": kopts,
		})
	}

	var b strings.Builder
	global, err := s.Templates.RenderFile(TplGlobal, map[string]string{
		"group":      group,
		"cachelabel": cachePart.Label,
		"cacheroot":  cacheRoot,
		"kopts":      kopts,
	})
	if err != nil {
		return "", err
	}
	b.WriteString(global)

	for i, o := range conf.OS {
		block, err := s.renderOS(i+1, o, conf, cacheRoot, kopts)
		if err != nil {
			return "", err
		}
		b.WriteString(block)
	}
	return b.String(), nil
}

func (s *Synthesizer) renderOS(osnr int, o OS, conf *StartConf, cacheRoot string, kopts string) (string, error) {
	root, partnr, _ := conf.Partition(o.Root)
	osRoot, _, err := GrubPartition(o.Root)
	if err != nil {
		osRoot = cacheRoot
	}

	appendLine := strings.TrimSpace(o.Append)
	if !o.IsISO() && !strings.Contains(appendLine, "root=") {
		if root.Label != "" {
			appendLine += " root=LABEL=" + root.Label
		} else {
			appendLine += " root=" + o.Root
		}
		appendLine = strings.TrimSpace(appendLine)
	}

	tpl := TplOS
	if o.IsISO() {
		tpl = TplISO
	}
	return s.Templates.RenderFile(tpl, map[string]string{
		"osname":    o.Name,
		"osnr":      strconv.Itoa(osnr),
		"ostype":    OSType(o.Name),
		"oslabel":   root.Label,
		"osroot":    osRoot,
		"partnr":    strconv.Itoa(partnr),
		"kernel":    strings.TrimPrefix(o.Kernel, "/"),
		"initrd":    strings.TrimPrefix(o.Initrd, "/"),
		"baseimage": o.BaseImage,
		"append":    appendLine,
		"kopts":     kopts,
		"cacheroot": cacheRoot,
	})
}
