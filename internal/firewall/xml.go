// Package firewall 使 OPNsense 防火墙与子网清单保持一致：
// 托管网关和出站 NAT 规则位于 config.xml，静态路由通过 REST API 管理
package firewall

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
)

// Creator 写入新 NAT 规则 <created> 元素的信息
type Creator struct {
	Username    string
	Description string
}

// LoadConfig 读取 config.xml
func LoadConfig(path string) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc.Root() == nil || doc.Root().Tag != "opnsense" {
		return nil, fmt.Errorf("%s is not an opnsense configuration", path)
	}
	return doc, nil
}

func text(el *etree.Element, tag string) string {
	if el == nil {
		return ""
	}
	c := el.SelectElement(tag)
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Text())
}

func child(parent *etree.Element, tag string) *etree.Element {
	if c := parent.SelectElement(tag); c != nil {
		return c
	}
	return parent.CreateElement(tag)
}

func addText(parent *etree.Element, tag string, value string) {
	parent.CreateElement(tag).SetText(value)
}

// SetManagedGateway 确保 lan 接口上恰好有一个名为 name、指向 ip 的托管网关
// 返回文档是否有变化
func SetManagedGateway(doc *etree.Document, descr string, name string, ip string) bool {
	gateways := child(doc.Root(), "gateways")

	var managed []*etree.Element
	for _, item := range gateways.SelectElements("gateway_item") {
		if text(item, "descr") == descr {
			managed = append(managed, item)
		}
	}
	if len(managed) == 1 {
		m := managed[0]
		if text(m, "name") == name && text(m, "gateway") == ip && text(m, "interface") == "lan" {
			return false
		}
	}

	for _, m := range managed {
		gateways.RemoveChild(m)
	}
	item := gateways.CreateElement("gateway_item")
	addText(item, "interface", "lan")
	addText(item, "gateway", ip)
	addText(item, "name", name)
	addText(item, "weight", "1")
	addText(item, "ipprotocol", "inet")
	addText(item, "interval", "")
	addText(item, "descr", descr)
	addText(item, "monitor_disable", "1")
	return true
}

// NATDescription 返回 cidr 对应托管规则的描述
func NATDescription(prefix string, cidr string) string {
	return prefix + " " + cidr
}

// SetManagedNAT 为每个 cidr 保留一条托管出站 NAT 规则
// 合规规则保持不变，其余带托管前缀的规则删除，返回文档是否有变化
func SetManagedNAT(doc *etree.Document, prefix string, cidrs []string, creator Creator, now time.Time) bool {
	outbound := child(child(doc.Root(), "nat"), "outbound")

	want := map[string]bool{}
	for _, c := range cidrs {
		want[c] = true
	}

	changed := false
	have := map[string]bool{}
	for _, rule := range outbound.SelectElements("rule") {
		descr := text(rule, "descr")
		if !strings.HasPrefix(descr, prefix) {
			continue
		}
		src := text(rule.SelectElement("source"), "network")
		compliant := want[src] && !have[src] &&
			descr == NATDescription(prefix, src) &&
			text(rule, "interface") == "wan" &&
			rule.FindElement("destination/any") != nil
		if compliant {
			have[src] = true
			continue
		}
		outbound.RemoveChild(rule)
		changed = true
	}

	for _, c := range cidrs {
		if have[c] {
			continue
		}
		have[c] = true
		rule := outbound.CreateElement("rule")
		addText(rule.CreateElement("source"), "network", c)
		addText(rule.CreateElement("destination"), "any", "1")
		addText(rule, "descr", NATDescription(prefix, c))
		addText(rule, "interface", "wan")
		addText(rule, "ipprotocol", "inet")
		addText(rule, "target", "")
		addText(rule, "targetip_subnet", "0")
		addText(rule, "sourceport", "")
		created := rule.CreateElement("created")
		addText(created, "username", creator.Username)
		addText(created, "time", fmt.Sprintf("%d.%04d", now.Unix(), now.Nanosecond()/100000))
		addText(created, "description", creator.Description)
		changed = true
	}
	return changed
}

// ManagedNATSources 按文档顺序列出托管 NAT 规则的源地址
func ManagedNATSources(doc *etree.Document, prefix string) []string {
	var out []string
	for _, rule := range doc.FindElements("/opnsense/nat/outbound/rule") {
		if strings.HasPrefix(text(rule, "descr"), prefix) {
			out = append(out, text(rule.SelectElement("source"), "network"))
		}
	}
	return out
}

// ManagedGateways 列出托管网关的 ip 地址
func ManagedGateways(doc *etree.Document, descr string) []string {
	var out []string
	for _, item := range doc.FindElements("/opnsense/gateways/gateway_item") {
		if text(item, "descr") == descr {
			out = append(out, text(item, "gateway"))
		}
	}
	return out
}
