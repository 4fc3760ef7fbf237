package dns

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
)

// DefaultResolvConf 未配置解析器地址时读取的文件
const DefaultResolvConf = "/etc/resolv.conf"

// Resolver 在修改记录前回答更新器的正向和反向查询
type Resolver interface {
	LookupA(ctx context.Context, fqdn string) ([]string, error)
	LookupPTR(ctx context.Context, ip string) ([]string, error)
}

// DNSResolver 直接查询一个名称服务器，绕过本地缓存
type DNSResolver struct {
	Server string
	client *mdns.Client
}

// NewResolver 使用 addr（"host" 或 "host:port"），为空时取 resolvConf 中第一个 nameserver
func NewResolver(addr string, resolvConf string, timeout time.Duration) (*DNSResolver, error) {
	if addr == "" {
		if resolvConf == "" {
			resolvConf = DefaultResolvConf
		}
		cc, err := mdns.ClientConfigFromFile(resolvConf)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", resolvConf, err)
		}
		if len(cc.Servers) == 0 {
			return nil, fmt.Errorf("no nameserver in %s", resolvConf)
		}
		addr = net.JoinHostPort(cc.Servers[0], cc.Port)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "53")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DNSResolver{Server: addr, client: &mdns.Client{Timeout: timeout}}, nil
}

func (r *DNSResolver) query(ctx context.Context, name string, qtype uint16) ([]mdns.RR, error) {
	m := new(mdns.Msg)
	m.SetQuestion(mdns.Fqdn(name), qtype)
	m.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, m, r.Server)
	if err != nil {
		return nil, err
	}
	switch in.Rcode {
	case mdns.RcodeSuccess:
		return in.Answer, nil
	case mdns.RcodeNameError:
		return nil, nil
	default:
		return nil, fmt.Errorf("%s %s: %s", mdns.TypeToString[qtype], name, mdns.RcodeToString[in.Rcode])
	}
}

// LookupA 返回 fqdn 的 IPv4 地址，未知名称返回空
func (r *DNSResolver) LookupA(ctx context.Context, fqdn string) ([]string, error) {
	answer, err := r.query(ctx, fqdn, mdns.TypeA)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, rr := range answer {
		if a, ok := rr.(*mdns.A); ok {
			out = append(out, a.A.String())
		}
	}
	return out, nil
}

// LookupPTR 返回 ip 反向解析出的名称，不带末尾的点
func (r *DNSResolver) LookupPTR(ctx context.Context, ip string) ([]string, error) {
	rev, err := mdns.ReverseAddr(ip)
	if err != nil {
		return nil, err
	}
	answer, err := r.query(ctx, rev, mdns.TypePTR)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, rr := range answer {
		if p, ok := rr.(*mdns.PTR); ok {
			out = append(out, strings.TrimSuffix(p.Ptr, "."))
		}
	}
	return out, nil
}
