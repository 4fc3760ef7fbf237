package util

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ParseIPv4 解析点分十进制地址，拒绝非 IPv4
func ParseIPv4(s string) (net.IP, error) {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return nil, fmt.Errorf("invalid ip address %q", s)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("not an ipv4 address %q", s)
	}
	return ip4, nil
}

// ParseCIDR4 解析 CIDR 格式的 IPv4 网络
func ParseCIDR4(s string) (net.IP, *net.IPNet, error) {
	ip, n, err := net.ParseCIDR(strings.TrimSpace(s))
	if err != nil {
		return nil, nil, err
	}
	if ip.To4() == nil {
		return nil, nil, fmt.Errorf("not an ipv4 network %q", s)
	}
	return ip.To4(), n, nil
}

// MaskString 将 IPv4 掩码转为点分十进制
func MaskString(mask net.IPMask) string {
	if len(mask) != 4 {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d.%d", mask[0], mask[1], mask[2], mask[3])
}

// Broadcast 返回 IPv4 网络的广播地址
func Broadcast(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	out := make(net.IP, 4)
	for i := range out {
		out[i] = ip[i] | ^n.Mask[i]
	}
	return out
}

// Octets 拆分点分十进制地址，调用方需先校验
func Octets(ip string) []string {
	return strings.Split(strings.TrimSpace(ip), ".")
}

// ReverseZone 返回 ip 所在 /24 的反向区 "<o3>.<o2>.<o1>.in-addr.arpa"
func ReverseZone(ip string) string {
	o := Octets(ip)
	if len(o) != 4 {
		return ""
	}
	return o[2] + "." + o[1] + "." + o[0] + ".in-addr.arpa"
}

// NetworkInfo 由地址和前缀长度推导出的地址规划
type NetworkInfo struct {
	Network   string
	Netmask   string
	Broadcast string
	Bitmask   int
}

// DeriveNetwork 计算 ip/bitmask 的网络地址、掩码和广播地址
func DeriveNetwork(ip string, bitmask string) (NetworkInfo, error) {
	bits, err := strconv.Atoi(strings.TrimSpace(bitmask))
	if err != nil || bits < 0 || bits > 32 {
		return NetworkInfo{}, fmt.Errorf("invalid bitmask %q", bitmask)
	}
	_, n, err := ParseCIDR4(strings.TrimSpace(ip) + "/" + strconv.Itoa(bits))
	if err != nil {
		return NetworkInfo{}, err
	}
	return NetworkInfo{
		Network:   n.IP.String(),
		Netmask:   MaskString(n.Mask),
		Broadcast: Broadcast(n).String(),
		Bitmask:   bits,
	}, nil
}
