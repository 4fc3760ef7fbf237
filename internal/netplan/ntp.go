package netplan

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/linuxmuster/linuxmuster-base/internal/inventory"
	"github.com/linuxmuster/linuxmuster-base/internal/linbo"
	"github.com/linuxmuster/linuxmuster-base/internal/storage"
	"github.com/linuxmuster/linuxmuster-base/pkg/command"
)

// TplNTP ntp.conf 模板名
const TplNTP = "ntp.conf"

// RestrictLines 每个子网渲染一行 restrict
func RestrictLines(subnets []inventory.Subnet) string {
	lines := make([]string, 0, len(subnets))
	for _, s := range subnets {
		lines = append(lines, fmt.Sprintf("restrict %s mask %s notrap nomodify", s.Network(), s.Netmask()))
	}
	return strings.Join(lines, "\n")
}

// WriteNTPConf 将 ntp.conf 模板渲染到 out
func WriteNTPConf(tpl linbo.Templates, out string, firewallIP string, subnets []inventory.Subnet, sockdir string) (storage.StoredObject, error) {
	text, err := tpl.RenderFile(TplNTP, map[string]string{
		"firewallip": firewallIP,
		"ntpsockdir": sockdir,
		"subnets":    RestrictLines(subnets),
	})
	if err != nil {
		return storage.StoredObject{Path: out}, err
	}
	return storage.WriteFile(out, []byte(text), 0o644)
}

// NTP 重新生成 ntp.conf 并重启服务
type NTP struct {
	Templates linbo.Templates
	Path      string
	SockDir   string
	Ctl       *command.Systemctl
	Unit      string
	Log       logrus.FieldLogger
}

// Update 写入配置并重启服务
func (n *NTP) Update(ctx context.Context, firewallIP string, subnets []inventory.Subnet) (storage.StoredObject, error) {
	obj, err := WriteNTPConf(n.Templates, n.Path, firewallIP, subnets, n.SockDir)
	if err != nil {
		return obj, err
	}
	n.Log.Infof("%s written with %d subnets (changed: %v)", n.Path, len(subnets), obj.Changed)
	if err := n.Ctl.Restart(ctx, n.Unit); err != nil {
		return obj, err
	}
	return obj, nil
}
