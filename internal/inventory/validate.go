package inventory

import (
	"net"
	"regexp"
	"strings"

	"github.com/linuxmuster/linuxmuster-base/internal/util"
)

var (
	hostnameRe = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)
	macRe      = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)
)

// IsValidHostname 按 RFC 952/1123 校验主机名
func IsValidHostname(name string) bool {
	return hostnameRe.MatchString(name)
}

// IsValidMAC 只接受冒号分隔的 48 位地址
func IsValidMAC(mac string) bool {
	return macRe.MatchString(mac)
}

// IsValidIPv4 是否为点分十进制地址
func IsValidIPv4(s string) bool {
	_, err := util.ParseIPv4(s)
	return err == nil && strings.Count(s, ".") == 3
}

// IsValidHostIPv4 在 IsValidIPv4 基础上要求首尾字节在 1..254 之间
// 排除网络地址、广播地址和零网络
func IsValidHostIPv4(s string) bool {
	ip, err := util.ParseIPv4(s)
	if err != nil || strings.Count(s, ".") != 3 {
		return false
	}
	return ip[0] >= 1 && ip[0] <= 254 && ip[3] >= 1 && ip[3] <= 254
}

// IPInNetwork ip 是否在 cidr 内
func IPInNetwork(ip string, cidr string) bool {
	addr := net.ParseIP(strings.TrimSpace(ip))
	if addr == nil {
		return false
	}
	_, n, err := util.ParseCIDR4(cidr)
	if err != nil {
		return false
	}
	return n.Contains(addr)
}
