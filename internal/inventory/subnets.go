package inventory

import (
	"net"

	"github.com/sirupsen/logrus"

	"github.com/linuxmuster/linuxmuster-base/internal/util"
)

// Subnet subnets.csv 中一条已校验的记录
type Subnet struct {
	// CIDR 规范化为 "<network>/<bits>"
	CIDR       string
	Router     string
	RangeStart string
	RangeEnd   string
	Nameserver string
	NextServer string
	Line       int

	net *net.IPNet
}

// Network 返回网络地址
func (s Subnet) Network() string { return s.ipnet().IP.String() }

// Netmask 返回点分十进制掩码
func (s Subnet) Netmask() string { return util.MaskString(s.ipnet().Mask) }

// Broadcast 返回广播地址
func (s Subnet) Broadcast() string { return util.Broadcast(s.ipnet()).String() }

// HasRange 地址池上下界是否都已设置
func (s Subnet) HasRange() bool { return s.RangeStart != "" && s.RangeEnd != "" }

// Contains ip 是否在子网内
func (s Subnet) Contains(ip string) bool {
	addr := net.ParseIP(ip)
	return addr != nil && s.ipnet().Contains(addr)
}

func (s Subnet) ipnet() *net.IPNet {
	if s.net == nil {
		_, n, _ := util.ParseCIDR4(s.CIDR)
		return n
	}
	return s.net
}

// ReadSubnets 解析 subnets.csv，路由器不在网络内或可选地址格式错误的行记录日志后丢弃
func ReadSubnets(path string, log logrus.FieldLogger) ([]Subnet, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}

	var subnets []Subnet
	for _, r := range rows {
		s, err := parseSubnet(path, r)
		if err != nil {
			log.Error(err.Error())
			continue
		}
		subnets = append(subnets, s)
	}
	return subnets, nil
}

func parseSubnet(path string, r row) (Subnet, error) {
	f := r.fields
	_, n, err := util.ParseCIDR4(field(f, 0))
	if err != nil {
		return Subnet{}, rowError(path, r.line, "invalid network %q", field(f, 0))
	}
	s := Subnet{
		CIDR:       n.String(),
		Router:     field(f, 1),
		RangeStart: field(f, 2),
		RangeEnd:   field(f, 3),
		Nameserver: field(f, 4),
		NextServer: field(f, 5),
		Line:       r.line,
		net:        n,
	}

	if !IsValidIPv4(s.Router) || !s.Contains(s.Router) {
		return Subnet{}, rowError(path, r.line, "router %q is not inside %s", s.Router, s.CIDR)
	}
	for _, bound := range []string{s.RangeStart, s.RangeEnd} {
		if bound == "" {
			continue
		}
		if !IsValidIPv4(bound) || !s.Contains(bound) {
			return Subnet{}, rowError(path, r.line, "range bound %q is not inside %s", bound, s.CIDR)
		}
	}
	for _, addr := range []string{s.Nameserver, s.NextServer} {
		if addr != "" && !IsValidIPv4(addr) {
			return Subnet{}, rowError(path, r.line, "invalid address %q", addr)
		}
	}
	return s, nil
}

// ServerSubnet 返回包含 serverIP 的子网
func ServerSubnet(subnets []Subnet, serverIP string) (Subnet, bool) {
	for _, s := range subnets {
		if s.Contains(serverIP) {
			return s, true
		}
	}
	return Subnet{}, false
}
