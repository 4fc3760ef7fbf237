// Package dhcp 生成 isc-dhcp-server 的子网和主机声明
package dhcp

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/linuxmuster/linuxmuster-base/internal/inventory"
	"github.com/linuxmuster/linuxmuster-base/internal/storage"
	"github.com/linuxmuster/linuxmuster-base/pkg/command"
)

// Generator 写入 dhcpd 包含文件
type Generator struct {
	Writer storage.Writer
	Log    logrus.FieldLogger
}

// NewGenerator 返回使用原子写入器的 Generator
func NewGenerator(log logrus.FieldLogger) *Generator {
	return &Generator{Writer: storage.NewWriter(), Log: log}
}

// RenderSubnets 为每个子网渲染一条声明
func RenderSubnets(subnets []inventory.Subnet, serverIP string) []byte {
	var b bytes.Buffer
	b.WriteString("# generated by import-subnets, do not edit\n\n")
	for _, s := range subnets {
		fmt.Fprintf(&b, "# Subnet %s\n", s.CIDR)
		fmt.Fprintf(&b, "subnet %s netmask %s {\n", s.Network(), s.Netmask())
		fmt.Fprintf(&b, "  option routers %s;\n", s.Router)
		fmt.Fprintf(&b, "  option subnet-mask %s;\n", s.Netmask())
		fmt.Fprintf(&b, "  option broadcast-address %s;\n", s.Broadcast())
		if s.Nameserver != "" {
			fmt.Fprintf(&b, "  option domain-name-servers %s;\n", s.Nameserver)
		} else {
			fmt.Fprintf(&b, "  option netbios-name-servers %s;\n", serverIP)
		}
		if s.NextServer != "" {
			fmt.Fprintf(&b, "  next-server %s;\n", s.NextServer)
		}
		if s.HasRange() {
			fmt.Fprintf(&b, "  range %s %s;\n", s.RangeStart, s.RangeEnd)
		}
		b.WriteString("  option host-name pxeclient;\n")
		b.WriteString("}\n\n")
	}
	return b.Bytes()
}

// WriteSubnets 写入子网声明文件
func (g *Generator) WriteSubnets(path string, subnets []inventory.Subnet, serverIP string) (storage.StoredObject, error) {
	obj, err := g.Writer.Write(path, RenderSubnets(subnets, serverIP), 0o644)
	if err != nil {
		return obj, err
	}
	g.Log.WithField("changed", obj.Changed).Infof("wrote %d subnets to %s", len(subnets), path)
	return obj, nil
}

// RenderHost 渲染一条主机声明
func RenderHost(d inventory.Device) string {
	var b strings.Builder
	fmt.Fprintf(&b, "host %s {\n", d.Hostname)
	fmt.Fprintf(&b, "  option host-name \"%s\";\n", d.Hostname)
	fmt.Fprintf(&b, "  hardware ethernet %s;\n", d.MAC)
	if !d.IsDynamic() {
		fmt.Fprintf(&b, "  fixed-address %s;\n", d.IP)
	}
	if d.IsPXE() {
		fmt.Fprintf(&b, "  option extensions-path \"%s\";\n", d.Group)
		fmt.Fprintf(&b, "  option nis-domain \"%s\";\n", d.Group)
		if len(d.DHCPOptions) > 4 {
			for _, o := range d.Options() {
				fmt.Fprintf(&b, "  %s;\n", strings.TrimSuffix(o, ";"))
			}
		}
	}
	b.WriteString("}\n")
	return b.String()
}

// RenderDevices 按 subnets.csv 顺序分子网输出设备，最后是动态设备
// 不在任何子网内的静态设备跳过
func RenderDevices(school string, devices []inventory.Device, subnets []inventory.Subnet, log logrus.FieldLogger) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# dhcp host declarations of school %s, generated by import-devices\n", school)

	seen := make(map[int]bool, len(devices))
	emit := func(label string, filter string) {
		header := false
		for i, d := range devices {
			if seen[i] || len(inventory.FilterDevices([]inventory.Device{d}, filter, "")) == 0 {
				continue
			}
			seen[i] = true
			if !header {
				fmt.Fprintf(&b, "\n# Subnet %s\n", label)
				header = true
			}
			b.WriteString(RenderHost(d))
		}
	}
	for _, s := range subnets {
		emit(s.CIDR, s.CIDR)
	}
	emit(inventory.DHCP, inventory.DHCP)

	for i, d := range devices {
		if !seen[i] {
			log.Warnf("%s: %s is not inside any subnet, no dhcp declaration", d.Hostname, d.IP)
		}
	}
	return b.Bytes()
}

// SchoolFile 返回 dir 下该学校的设备文件
func SchoolFile(dir string, school string) string {
	return filepath.Join(dir, school+".conf")
}

// WriteSchoolDevices 写入 <dir>/<school>.conf
func (g *Generator) WriteSchoolDevices(dir string, school string, devices []inventory.Device, subnets []inventory.Subnet) (storage.StoredObject, error) {
	path := SchoolFile(dir, school)
	obj, err := g.Writer.Write(path, RenderDevices(school, devices, subnets, g.Log), 0o644)
	if err != nil {
		return obj, err
	}
	g.Log.WithField("changed", obj.Changed).Infof("wrote %d devices of %s to %s", len(devices), school, path)
	return obj, nil
}

// PruneSchoolFiles 删除 dir 中不在 keep 内的学校的设备文件
func PruneSchoolFiles(dir string, keep []string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.conf"))
	if err != nil {
		return nil, err
	}
	return storage.PruneExcept(files, ".conf", keep)
}

// WriteDeviceIncludes 写入按名称排序包含各学校文件的汇总文件
func (g *Generator) WriteDeviceIncludes(path string, dir string) (storage.StoredObject, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.conf"))
	if err != nil {
		return storage.StoredObject{Path: path}, err
	}
	sort.Strings(files)

	var b bytes.Buffer
	b.WriteString("# generated by import-devices, do not edit\n")
	for _, f := range files {
		fmt.Fprintf(&b, "include \"%s\";\n", f)
	}
	return g.Writer.Write(path, b.Bytes(), 0o644)
}

// Service 重启 dhcp 服务
type Service struct {
	Ctl  *command.Systemctl
	Unit string
}

// Restart 停止并启动服务，并检查是否启动成功
func (s *Service) Restart(ctx context.Context) error {
	return s.Ctl.Restart(ctx, s.Unit)
}
