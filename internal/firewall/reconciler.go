package firewall

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/linuxmuster/linuxmuster-base/internal/config"
	"github.com/linuxmuster/linuxmuster-base/internal/inventory"
	"github.com/linuxmuster/linuxmuster-base/internal/storage"
)

var (
	// ErrVersionMismatch 版本不符，在修改任何内容前中止
	ErrVersionMismatch = errors.New("unsupported firewall version")
	// ErrNotReady 防火墙在就绪超时内未响应
	ErrNotReady = errors.New("firewall not ready")
)

// Input 子网导入传入的参数
type Input struct {
	SkipFW       bool
	ServerSubnet inventory.Subnet
	Subnets      []inventory.Subnet
}

// Result 一次同步的汇总
type Result struct {
	Skipped    bool
	Version    string
	Backup     string
	XMLChanged bool
	Routes     RouteDiff
}

// Reconciler 同步防火墙的两个接口，先 XML 后 REST
type Reconciler struct {
	Dial       Dialer
	API        RouteAPI
	Cfg        config.FirewallConfig
	LocalPath  string
	RemotePath string
	Creator    Creator
	Log        logrus.FieldLogger
	Now        func() time.Time
}

// ManagedCIDRs 返回除服务器子网外所有子网的网络
func ManagedCIDRs(server inventory.Subnet, subnets []inventory.Subnet) []string {
	var out []string
	for _, s := range subnets {
		if s.CIDR == server.CIDR {
			continue
		}
		out = append(out, s.CIDR)
	}
	return out
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Run 同步网关、出站 NAT 和路由，不回滚之前步骤的本地修改
func (r *Reconciler) Run(ctx context.Context, in Input) (Result, error) {
	var res Result
	if in.SkipFW {
		r.Log.Info("skipfw is set, not touching the firewall")
		res.Skipped = true
		return res, nil
	}

	t, version, err := r.waitReady(ctx)
	if err != nil {
		return res, err
	}
	defer t.Close()
	res.Version = version

	major, err := MajorVersion(version)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrVersionMismatch, err)
	}
	if major != r.Cfg.MajorVersion {
		return res, fmt.Errorf("%w: found %d, expected %d", ErrVersionMismatch, major, r.Cfg.MajorVersion)
	}

	if err := t.Download(ctx, r.RemotePath, r.LocalPath); err != nil {
		return res, fmt.Errorf("download %s: %w", r.RemotePath, err)
	}
	if res.Backup, err = storage.Backup(r.LocalPath, r.now()); err != nil {
		return res, fmt.Errorf("backup firewall config: %w", err)
	}

	doc, err := LoadConfig(r.LocalPath)
	if err != nil {
		return res, err
	}
	cidrs := ManagedCIDRs(in.ServerSubnet, in.Subnets)
	gwChanged := SetManagedGateway(doc, config.FWGATEWAYDESCR, config.FWGATEWAYNAME, in.ServerSubnet.Router)
	natChanged := SetManagedNAT(doc, config.FWNATDESCR, cidrs, r.Creator, r.now())
	res.XMLChanged = gwChanged || natChanged

	if res.XMLChanged {
		doc.Indent(2)
		if err := doc.WriteToFile(r.LocalPath); err != nil {
			return res, fmt.Errorf("write %s: %w", r.LocalPath, err)
		}
		if err := t.Upload(ctx, r.LocalPath, r.RemotePath); err != nil {
			return res, fmt.Errorf("upload %s: %w", r.RemotePath, err)
		}
		for _, cmd := range r.Cfg.ReloadCommands {
			out, err := t.Run(ctx, cmd)
			if err != nil {
				return res, fmt.Errorf("reload firewall: %w", err)
			}
			r.Log.WithField("command", cmd).Debug(out)
		}
		r.Log.Infof("firewall configuration updated (gateway changed: %v, nat changed: %v)", gwChanged, natChanged)
	} else {
		r.Log.Info("firewall configuration is up to date")
	}

	res.Routes, err = ReconcileRoutes(ctx, r.API, cidrs, config.FWGATEWAYNAME, config.FWROUTEDESCR, r.Log)
	if err != nil {
		return res, fmt.Errorf("routes: %w", err)
	}
	return res, nil
}

// waitReady 轮询防火墙直到版本探测有响应
func (r *Reconciler) waitReady(ctx context.Context) (Transport, string, error) {
	interval := r.Cfg.ReadyInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	deadline := time.Now().Add(r.Cfg.ReadyTimeout)

	var lastErr error
	for attempt := 1; ; attempt++ {
		t, err := r.Dial(ctx)
		if err == nil {
			out, verr := t.Run(ctx, r.Cfg.VersionCommand)
			if verr == nil {
				return t, out, nil
			}
			_ = t.Close()
			err = verr
		}
		lastErr = err
		r.Log.Debugf("firewall reachability check %d failed: %v", attempt, err)

		if time.Now().Add(interval).After(deadline) {
			return nil, "", fmt.Errorf("%w after %s: %v", ErrNotReady, r.Cfg.ReadyTimeout, lastErr)
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, "", ctx.Err()
		case <-timer.C:
		}
	}
}
