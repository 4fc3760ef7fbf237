package inventory

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/linuxmuster/linuxmuster-base/internal/config"
)

// DHCP 动态地址设备的 ip 列取值
const DHCP = "DHCP"

// devices.csv 列索引
const (
	ColRoom = iota
	ColHostname
	ColGroup
	ColMAC
	ColIP
	ColField5
	ColField6
	ColDHCPOptions
	ColComputerType
	ColField9
	ColPXEFlag
	deviceColumns
)

// Device devices.csv 中一条已校验的记录
type Device struct {
	Room         string
	Hostname     string
	Group        string
	MAC          string
	IP           string
	Field5       string
	Field6       string
	DHCPOptions  string
	ComputerType string
	Field9       string
	PXEFlag      int
	Line         int
}

// IsDynamic 设备是否从地址池获取地址
func (d Device) IsDynamic() bool { return d.IP == DHCP }

// IsPXE 设备是否通过 LINBO 引导
func (d Device) IsPXE() bool { return d.PXEFlag != 0 }

// Identity 返回 start.conf 链接键：静态设备为 IPv4 地址，动态设备为小写 MAC
func (d Device) Identity() string {
	if d.IsDynamic() {
		return strings.ToLower(d.MAC)
	}
	return d.IP
}

// Options 将 dhcp 选项列拆分为原样条目
func (d Device) Options() []string {
	var out []string
	for _, o := range strings.Split(d.DHCPOptions, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Fields 按列顺序返回整行
func (d Device) Fields() []string {
	return []string{
		d.Room, d.Hostname, d.Group, d.MAC, d.IP, d.Field5, d.Field6,
		d.DHCPOptions, d.ComputerType, d.Field9, strconv.Itoa(d.PXEFlag),
	}
}

// ReadDevices 解析 devices.csv，非默认学校的主机名加前缀 "<school>-"
// 无效行记录日志后丢弃，只返回 I/O 错误
func ReadDevices(path string, school string, log logrus.FieldLogger) ([]Device, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}

	var devices []Device
	for _, r := range rows {
		d, err := parseDevice(path, r, school)
		if err != nil {
			log.Warn(err.Error())
			continue
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func parseDevice(path string, r row, school string) (Device, error) {
	f := r.fields
	if len(f) <= ColIP {
		return Device{}, rowError(path, r.line, "expected at least %d fields, got %d", ColIP+1, len(f))
	}

	d := Device{
		Room:         field(f, ColRoom),
		Hostname:     field(f, ColHostname),
		Group:        field(f, ColGroup),
		MAC:          field(f, ColMAC),
		IP:           field(f, ColIP),
		Field5:       field(f, ColField5),
		Field6:       field(f, ColField6),
		DHCPOptions:  field(f, ColDHCPOptions),
		ComputerType: field(f, ColComputerType),
		Field9:       field(f, ColField9),
		Line:         r.line,
	}

	if school != "" && school != config.DEFAULTSCHOOL {
		d.Hostname = school + "-" + d.Hostname
	}
	if !IsValidHostname(d.Hostname) {
		return Device{}, rowError(path, r.line, "invalid hostname %q", d.Hostname)
	}
	if !IsValidMAC(d.MAC) {
		return Device{}, rowError(path, r.line, "invalid mac %q for %s", d.MAC, d.Hostname)
	}
	if strings.EqualFold(d.IP, DHCP) {
		d.IP = DHCP
	} else if !IsValidHostIPv4(d.IP) {
		return Device{}, rowError(path, r.line, "invalid ip %q for %s", d.IP, d.Hostname)
	}

	if pxe := field(f, ColPXEFlag); pxe != "" {
		n, err := strconv.Atoi(pxe)
		if err != nil || n < 0 || n > 3 {
			return Device{}, rowError(path, r.line, "invalid pxe flag %q for %s", pxe, d.Hostname)
		}
		d.PXEFlag = n
	}
	if d.IsPXE() && d.Group == "" {
		return Device{}, rowError(path, r.line, "pxe device %s has no group", d.Hostname)
	}
	return d, nil
}

// FilterDevices 按子网和 pxe 标志筛选设备
// subnet 为 "" 表示全部，"DHCP" 表示动态设备，否则为匹配静态地址的 CIDR
// pxeflags 为 "" 或逗号分隔的白名单，如 "1,2,3"
func FilterDevices(devices []Device, subnet string, pxeflags string) []Device {
	var allowed map[string]bool
	if strings.TrimSpace(pxeflags) != "" {
		allowed = map[string]bool{}
		for _, p := range strings.Split(pxeflags, ",") {
			allowed[strings.TrimSpace(p)] = true
		}
	}

	var out []Device
	for _, d := range devices {
		switch {
		case subnet == "":
		case subnet == DHCP:
			if !d.IsDynamic() {
				continue
			}
		default:
			if d.IsDynamic() || !IPInNetwork(d.IP, subnet) {
				continue
			}
		}
		if allowed != nil && !allowed[strconv.Itoa(d.PXEFlag)] {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Project 返回每台设备的指定列，fields 为 "" 时返回整行
// 否则为逗号分隔的从 0 开始的索引，未知索引忽略
func Project(devices []Device, fields string) [][]string {
	whole := strings.TrimSpace(fields) == ""
	var idx []int
	if !whole {
		for _, s := range strings.Split(fields, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil || n < 0 || n >= deviceColumns {
				continue
			}
			idx = append(idx, n)
		}
	}

	out := make([][]string, 0, len(devices))
	for _, d := range devices {
		all := d.Fields()
		if whole {
			out = append(out, all)
			continue
		}
		sel := make([]string, 0, len(idx))
		for _, i := range idx {
			sel = append(sel, all[i])
		}
		out = append(out, sel)
	}
	return out
}

// DevicesPath 返回学校的设备清单文件
func DevicesPath(sophosysdir string, school string) string {
	if school == "" || school == config.DEFAULTSCHOOL {
		return filepath.Join(sophosysdir, config.DEFAULTSCHOOL, "devices.csv")
	}
	return filepath.Join(sophosysdir, school, school+".devices.csv")
}

// Schools 列出有设备清单的学校，默认学校在前，其余按名称排序
func Schools(sophosysdir string) ([]string, error) {
	entries, err := os.ReadDir(sophosysdir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == config.DEFAULTSCHOOL {
			continue
		}
		if _, err := os.Stat(DevicesPath(sophosysdir, e.Name())); err == nil {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	if _, err := os.Stat(DevicesPath(sophosysdir, config.DEFAULTSCHOOL)); err == nil {
		out = append([]string{config.DEFAULTSCHOOL}, out...)
	}
	return out, nil
}
