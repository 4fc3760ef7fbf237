// Package netplan 使服务器静态路由和 ntp restrict 列表与子网清单保持一致
package netplan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/linuxmuster/linuxmuster-base/internal/inventory"
	"github.com/linuxmuster/linuxmuster-base/internal/storage"
	"github.com/linuxmuster/linuxmuster-base/pkg/command"
	"github.com/linuxmuster/linuxmuster-base/pkg/logger"
)

var (
	// ErrApplyFailed 应用失败并已回滚
	ErrApplyFailed = errors.New("netplan apply failed")
	// ErrRollbackFailed 恢复的备份也无法应用
	ErrRollbackFailed = errors.New("netplan rollback failed")
)

// Route 接口 routes 列表中的一项
type Route struct {
	To  string `yaml:"to"`
	Via string `yaml:"via"`
}

// Result 一次更新的结果
type Result struct {
	Backup  string
	Changed bool
	Routes  []Route
}

// Updater 重写单个 netplan 文件并应用
type Updater struct {
	Path   string
	Binary string
	Runner command.Runner
	Log    logrus.FieldLogger
	Now    func() time.Time
}

// NewUpdater 创建 netplan 更新器
func NewUpdater(path string, binary string, runner command.Runner, log logrus.FieldLogger) *Updater {
	if binary == "" {
		binary = "netplan"
	}
	return &Updater{Path: path, Binary: binary, Runner: runner, Log: log, Now: time.Now}
}

// Routes 计算所需路由：经防火墙的默认路由，以及对路由器不是防火墙的其他子网，
// 各一条经服务器子网路由器的路由
func Routes(firewallIP string, server inventory.Subnet, subnets []inventory.Subnet) []Route {
	routes := []Route{{To: "default", Via: firewallIP}}
	for _, s := range subnets {
		if s.CIDR == server.CIDR || s.Router == firewallIP {
			continue
		}
		routes = append(routes, Route{To: s.CIDR, Via: server.Router})
	}
	return routes
}

// Rewrite 替换唯一 ethernets 条目的 gateway4 和 routes，其余键保持不变
func Rewrite(data []byte, routes []Route) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse netplan: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("netplan: empty document")
	}

	network := mapValue(doc.Content[0], "network")
	ethernets := mapValue(network, "ethernets")
	if ethernets == nil || ethernets.Kind != yaml.MappingNode {
		return nil, errors.New("netplan: no network.ethernets mapping")
	}
	if len(ethernets.Content) != 2 {
		return nil, fmt.Errorf("netplan: expected exactly one interface, found %d", len(ethernets.Content)/2)
	}
	iface := ethernets.Content[1]
	if iface.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("netplan: interface %s is not a mapping", ethernets.Content[0].Value)
	}

	removeKey(iface, "gateway4")
	removeKey(iface, "routes")

	var seq yaml.Node
	if err := seq.Encode(routes); err != nil {
		return nil, err
	}
	iface.Content = append(iface.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "routes"},
		&seq,
	)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func mapValue(n *yaml.Node, key string) *yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

func removeKey(n *yaml.Node, key string) {
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			n.Content = append(n.Content[:i], n.Content[i+2:]...)
			return
		}
	}
}

// Update 备份文件、重写路由并应用
// 应用失败时恢复备份并再次应用，两种情况都报告更新失败
func (u *Updater) Update(ctx context.Context, firewallIP string, server inventory.Subnet, subnets []inventory.Subnet) (Result, error) {
	var res Result
	data, err := os.ReadFile(u.Path)
	if err != nil {
		return res, fmt.Errorf("read netplan: %w", err)
	}
	st, err := os.Stat(u.Path)
	if err != nil {
		return res, err
	}

	if res.Backup, err = storage.Backup(u.Path, u.Now()); err != nil {
		return res, fmt.Errorf("backup netplan: %w", err)
	}

	res.Routes = Routes(firewallIP, server, subnets)
	out, err := Rewrite(data, res.Routes)
	if err != nil {
		return res, err
	}
	obj, err := storage.WriteFile(u.Path, out, st.Mode().Perm())
	if err != nil {
		return res, err
	}
	res.Changed = obj.Changed

	if err := u.apply(ctx); err != nil {
		u.Log.Errorf("netplan apply failed, restoring %s", res.Backup)
		if rerr := storage.Restore(res.Backup, u.Path); rerr != nil {
			return res, fmt.Errorf("%w: restore %s: %v", ErrRollbackFailed, res.Backup, rerr)
		}
		if rerr := u.apply(ctx); rerr != nil {
			return res, fmt.Errorf("%w: %v", ErrRollbackFailed, rerr)
		}
		return res, fmt.Errorf("%w: %v", ErrApplyFailed, err)
	}
	u.Log.Infof("netplan updated with %d routes (changed: %v)", len(res.Routes), res.Changed)
	return res, nil
}

func (u *Updater) apply(ctx context.Context) error {
	res, err := u.Runner.Run(ctx, nil, u.Binary, "apply")
	if res != nil {
		logger.CommandOutput(u.Log, res.Command, res.Output, err != nil)
	}
	return err
}
