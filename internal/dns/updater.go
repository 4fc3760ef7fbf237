// Package dns 使 Samba AD 区域中动态地址主机的 A 和 PTR 记录与 DHCP 租约保持一致
package dns

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/linuxmuster/linuxmuster-base/internal/config"
	"github.com/linuxmuster/linuxmuster-base/internal/inventory"
	"github.com/linuxmuster/linuxmuster-base/internal/util"
	"github.com/linuxmuster/linuxmuster-base/pkg/command"
	"github.com/linuxmuster/linuxmuster-base/pkg/logger"
)

// 租约钩子命令
const (
	CmdAdd    = "add"
	CmdDelete = "delete"
)

// PXEClient dhcpd 分配给未知引导客户端的主机名
const PXEClient = "pxeclient"

var (
	// ErrInvalidRequest 命令、地址或主机名无效
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotDynamic 目录中未将该主机标记为 DHCP
	ErrNotDynamic = errors.New("host is not a dynamic ip device")
)

// Request 一次租约事件
type Request struct {
	Cmd      string
	IP       string
	Hostname string
	// SkipAD 为 "yes" 时跳过目录检查
	SkipAD string
}

// Updater 调用 samba-tool
type Updater struct {
	Runner    command.Runner
	Resolver  Resolver
	SambaTool string
	LdbSearch string
	SamLdb    string
	Server    string
	AdminUser string
	Password  string
	Domain    string
	Log       logrus.FieldLogger
}

// NewUpdater 根据引擎配置创建更新器，管理员密码从密钥文件读取并登记脱敏
func NewUpdater(cfg config.DNSConfig, domain string, runner command.Runner, resolver Resolver, log logrus.FieldLogger) (*Updater, error) {
	pw, err := ReadSecret(cfg.SecretFile)
	if err != nil {
		return nil, err
	}
	logger.Redact(pw)
	return &Updater{
		Runner:    runner,
		Resolver:  resolver,
		SambaTool: cfg.SambaTool,
		LdbSearch: cfg.LdbSearch,
		SamLdb:    cfg.SamLdb,
		Server:    cfg.Server,
		AdminUser: cfg.AdminUser,
		Password:  pw,
		Domain:    strings.ToLower(domain),
		Log:       log,
	}, nil
}

// ReadSecret 返回密钥文件的第一行
func ReadSecret(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimSpace(line), nil
}

// FQDN 返回带本地域名的完整主机名
func (u *Updater) FQDN(hostname string) string {
	return strings.ToLower(hostname) + "." + u.Domain
}

// Update 处理一次租约事件
func (u *Updater) Update(ctx context.Context, req Request) error {
	host := strings.ToLower(strings.TrimSpace(req.Hostname))
	if host == PXEClient {
		u.Log.Debug("pxeclient lease, nothing to do")
		return nil
	}
	if req.Cmd != CmdAdd && req.Cmd != CmdDelete {
		return fmt.Errorf("%w: unknown command %q", ErrInvalidRequest, req.Cmd)
	}
	if !inventory.IsValidIPv4(req.IP) {
		return fmt.Errorf("%w: ip %q", ErrInvalidRequest, req.IP)
	}
	if !inventory.IsValidHostname(host) {
		return fmt.Errorf("%w: hostname %q", ErrInvalidRequest, req.Hostname)
	}
	if req.SkipAD != "yes" {
		if err := u.checkDynamic(ctx, host); err != nil {
			return err
		}
	}

	fqdn := u.FQDN(host)
	oldIPs, err := u.Resolver.LookupA(ctx, fqdn)
	if err != nil {
		u.Log.Debugf("forward lookup of %s: %v", fqdn, err)
	}
	names, err := u.Resolver.LookupPTR(ctx, req.IP)
	if err != nil {
		u.Log.Debugf("reverse lookup of %s: %v", req.IP, err)
	}
	if req.Cmd == CmdAdd && contains(oldIPs, req.IP) && contains(names, fqdn) {
		u.Log.Infof("%s is already registered with %s", fqdn, req.IP)
		return nil
	}

	for _, ip := range unique(append(oldIPs, req.IP)) {
		u.deleteRecords(ctx, host, fqdn, ip)
	}
	if req.Cmd == CmdDelete {
		u.Log.Infof("removed dns records of %s", fqdn)
		return nil
	}

	if err := u.samba(ctx, "add", u.Domain, host, "A", req.IP); err != nil {
		return fmt.Errorf("add A record %s: %w", fqdn, err)
	}
	zone := util.ReverseZone(req.IP)
	if err := u.samba(ctx, "zoneinfo", zone); err != nil {
		if err := u.samba(ctx, "zonecreate", zone); err != nil {
			return fmt.Errorf("create reverse zone %s: %w", zone, err)
		}
		u.Log.Infof("created reverse zone %s", zone)
	}
	if err := u.samba(ctx, "add", zone, lastOctet(req.IP), "PTR", fqdn); err != nil {
		return fmt.Errorf("add PTR record %s: %w", req.IP, err)
	}
	u.Log.Infof("registered %s with %s", fqdn, req.IP)
	return nil
}

func (u *Updater) deleteRecords(ctx context.Context, host string, fqdn string, ip string) {
	if err := u.samba(ctx, "delete", u.Domain, host, "A", ip); err != nil {
		u.Log.Debugf("delete A %s %s: %v", fqdn, ip, err)
	}
	if err := u.samba(ctx, "delete", util.ReverseZone(ip), lastOctet(ip), "PTR", fqdn); err != nil {
		u.Log.Debugf("delete PTR %s %s: %v", ip, fqdn, err)
	}
}

// samba 执行 "samba-tool dns <verb> <server> <args...> -U <user>"，密码通过 PASSWD 传递
func (u *Updater) samba(ctx context.Context, verb string, args ...string) error {
	argv := append([]string{"dns", verb, u.Server}, args...)
	argv = append(argv, "-U", u.AdminUser)
	res, err := u.Runner.Run(ctx, &command.Options{Env: []string{"PASSWD=" + u.Password}}, u.SambaTool, argv...)
	if res != nil {
		logger.CommandOutput(u.Log, res.Command, res.Output, false)
	}
	return err
}

func (u *Updater) checkDynamic(ctx context.Context, host string) error {
	filter := fmt.Sprintf("(sAMAccountName=%s$)", strings.ToUpper(host))
	res, err := u.Runner.Run(ctx, nil, u.LdbSearch, "-H", u.SamLdb, filter, "sophomorixComputerIP")
	if err != nil {
		return fmt.Errorf("directory lookup of %s: %w", host, err)
	}
	for _, line := range strings.Split(res.Output, "\n") {
		k, v, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(k), "sophomorixComputerIP") &&
			strings.TrimSpace(v) == inventory.DHCP {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotDynamic, host)
}

func lastOctet(ip string) string {
	o := util.Octets(ip)
	return o[len(o)-1]
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func unique(list []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range list {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
