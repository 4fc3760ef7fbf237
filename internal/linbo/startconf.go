// Package linbo 生成 LINBO 引导目录：由 start.conf 渲染的分组 grub 配置以及每台主机的符号链接
package linbo

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// Partition 一个 [Partition] 段
type Partition struct {
	Dev   string
	Label string
}

// OS 一个 [OS] 段
type OS struct {
	Name      string
	BaseImage string
	Boot      string
	Root      string
	Kernel    string
	Initrd    string
	Append    string
}

// IsISO 是否从 iso 镜像引导
func (o OS) IsISO() bool {
	return strings.HasSuffix(strings.ToLower(o.BaseImage), ".iso")
}

// StartConf 一个组解析后的引导配置
type StartConf struct {
	Server        string
	Group         string
	KernelOptions string
	Cache         string
	Partitions    []Partition
	OS            []OS
}

// Partition 返回 Dev 等于 dev 的分区
func (c *StartConf) Partition(dev string) (Partition, int, bool) {
	for i, p := range c.Partitions {
		if p.Dev == dev {
			return p, i + 1, true
		}
	}
	return Partition{}, 0, false
}

// ParseStartConf 读取 start.conf，段名和键名不区分大小写
// Partition 和 OS 段保持文件中的顺序
func ParseStartConf(path string) (*StartConf, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		Insensitive:              true,
		AllowNonUniqueSections:   true,
		SpaceBeforeInlineComment: true,
	}, path)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	val := func(sec *ini.Section, key string) string {
		if sec == nil || !sec.HasKey(key) {
			return ""
		}
		return strings.TrimSpace(sec.Key(key).String())
	}

	c := &StartConf{}
	if secs, err := f.SectionsByName("linbo"); err == nil && len(secs) > 0 {
		g := secs[0]
		c.Server = val(g, "server")
		c.Group = val(g, "group")
		c.KernelOptions = val(g, "kerneloptions")
		c.Cache = val(g, "cache")
	}
	if secs, err := f.SectionsByName("partition"); err == nil {
		for _, s := range secs {
			c.Partitions = append(c.Partitions, Partition{Dev: val(s, "dev"), Label: val(s, "label")})
		}
	}
	if secs, err := f.SectionsByName("os"); err == nil {
		for _, s := range secs {
			c.OS = append(c.OS, OS{
				Name:      val(s, "name"),
				BaseImage: val(s, "baseimage"),
				Boot:      val(s, "boot"),
				Root:      val(s, "root"),
				Kernel:    val(s, "kernel"),
				Initrd:    val(s, "initrd"),
				Append:    val(s, "append"),
			})
		}
	}
	return c, nil
}

var (
	sdRe   = regexp.MustCompile(`^(?:/dev/)?(?:[hsv]d|xvd)([a-z])([0-9]+)$`)
	mmcRe  = regexp.MustCompile(`^(?:/dev/)?mmcblk([0-9]+)p([0-9]+)$`)
	nvmeRe = regexp.MustCompile(`^(?:/dev/)?nvme0n([0-9]+)p([0-9]+)$`)
)

// GrubPartition 将 Linux 分区设备映射为 grub 的 "(hdD,P)" 写法
func GrubPartition(dev string) (string, int, error) {
	dev = strings.TrimSpace(dev)
	var disk, part int

	switch {
	case sdRe.MatchString(dev):
		m := sdRe.FindStringSubmatch(dev)
		disk = int(m[1][0] - 'a')
		part, _ = strconv.Atoi(m[2])
	case mmcRe.MatchString(dev):
		m := mmcRe.FindStringSubmatch(dev)
		disk, _ = strconv.Atoi(m[1])
		part, _ = strconv.Atoi(m[2])
	case nvmeRe.MatchString(dev):
		m := nvmeRe.FindStringSubmatch(dev)
		disk, _ = strconv.Atoi(m[1])
		disk--
		part, _ = strconv.Atoi(m[2])
	default:
		return "", 0, fmt.Errorf("unsupported partition device %q", dev)
	}
	if disk < 0 {
		return "", 0, fmt.Errorf("unsupported partition device %q", dev)
	}
	return fmt.Sprintf("(hd%d,%d)", disk, part), part, nil
}

var (
	osPrefixes = []struct{ prefix, ostype string }{
		{"windows 10", "win10"},
		{"windows", "win"},
		{"mint", "linuxmint"},
	}
	osKeywords = []string{
		"win10", "win", "kubuntu", "lubuntu", "xubuntu", "ubuntu", "centos", "arch",
		"linuxmint", "fedora", "gentoo", "debian", "opensuse", "suse", "linux",
	}
)

// OSType 根据系统名推导 grub 菜单类别
func OSType(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, p := range osPrefixes {
		if strings.HasPrefix(n, p.prefix) {
			return p.ostype
		}
	}
	for _, k := range osKeywords {
		if strings.Contains(n, k) {
			return k
		}
	}
	return "unknown"
}
