package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/linuxmuster/linuxmuster-base/internal/config"
	"github.com/linuxmuster/linuxmuster-base/internal/dhcp"
	"github.com/linuxmuster/linuxmuster-base/internal/firewall"
	"github.com/linuxmuster/linuxmuster-base/internal/inventory"
	"github.com/linuxmuster/linuxmuster-base/internal/linbo"
	"github.com/linuxmuster/linuxmuster-base/internal/netplan"
	"github.com/linuxmuster/linuxmuster-base/internal/setup"
	"github.com/linuxmuster/linuxmuster-base/pkg/command"
)

// ToolImportSubnets 子网导入在锁、日志和运行记录中的名称
const ToolImportSubnets = "import-subnets"

// FirewallReconciler 子网流程中的防火墙步骤
type FirewallReconciler interface {
	Run(ctx context.Context, in firewall.Input) (firewall.Result, error)
}

// FirewallFactory 在 setup 值已知后创建同步器
type FirewallFactory func(store *setup.Store) (FirewallReconciler, error)

// SubnetImporter 依次将 subnets.csv 推送到 dhcpd、主机路由、ntp 和防火墙
type SubnetImporter struct {
	Cfg         *config.Config
	DHCP        *dhcp.Generator
	DHCPService *dhcp.Service
	Netplan     *netplan.Updater
	NTP         *netplan.NTP
	Firewall    FirewallFactory
	Steps       *StepRunner
	Log         logrus.FieldLogger
}

// NewSubnetImporter 根据引擎配置创建子网导入器
func NewSubnetImporter(cfg *config.Config, runner command.Runner, steps *StepRunner, log logrus.FieldLogger) *SubnetImporter {
	ctl := command.NewSystemctl(runner, cfg.Services.Systemctl, cfg.Services.SettleDelay, log)
	return &SubnetImporter{
		Cfg:         cfg,
		DHCP:        dhcp.NewGenerator(log),
		DHCPService: &dhcp.Service{Ctl: ctl, Unit: cfg.Services.DHCP},
		Netplan:     netplan.NewUpdater(cfg.Paths.NetplanCfg, cfg.Services.Netplan, runner, log),
		NTP: &netplan.NTP{
			Templates: linbo.Templates{Dir: cfg.Paths.TplDir, Embedded: "ntp"},
			Path:      cfg.Paths.NTPConf,
			SockDir:   cfg.Paths.NTPSockDir,
			Ctl:       ctl,
			Unit:      cfg.Services.NTP,
			Log:       log,
		},
		Firewall: NewFirewallFactory(cfg, log),
		Steps:    steps,
		Log:      log,
	}
}

// NewFirewallFactory 连接 setup 值指定的防火墙：
// SSH 连接 firewallip，REST 访问 https://firewall.<domainname>/api（可由配置覆盖）
func NewFirewallFactory(cfg *config.Config, log logrus.FieldLogger) FirewallFactory {
	return func(store *setup.Store) (FirewallReconciler, error) {
		fwCfg := cfg.Firewall
		key, secret, err := firewall.ReadAPIKeys(fwCfg.APIKeys)
		if err != nil {
			return nil, err
		}
		baseURL := fwCfg.BaseURL
		if baseURL == "" {
			baseURL = firewall.BaseURLFor(store.String("domainname"))
		}
		return &firewall.Reconciler{
			Dial:       firewall.SSHDialer(fwCfg, store.String("firewallip")),
			API:        firewall.NewAPIClient(baseURL, key, secret, fwCfg.RequestTimeout),
			Cfg:        fwCfg,
			LocalPath:  cfg.Paths.FWConfLocal,
			RemotePath: cfg.Paths.FWConfRemote,
			Creator: firewall.Creator{
				Username:    "root@" + store.String("serverip"),
				Description: "linuxmuster " + ToolImportSubnets,
			},
			Log: log,
		}, nil
	}
}

// Run 执行子网导入流程
func (s *SubnetImporter) Run(ctx context.Context) error {
	s.Steps.Begin()
	err := s.run(ctx)
	s.Steps.End(err)
	return err
}

func (s *SubnetImporter) run(ctx context.Context) error {
	paths := s.Cfg.Paths
	var (
		store   *setup.Store
		subnets []inventory.Subnet
		server  inventory.Subnet
	)

	if err := s.Steps.Step(ctx, "Reading setup values", func(context.Context) error {
		var err error
		if store, err = LoadSetup(paths); err != nil {
			return err
		}
		for _, key := range []string{"serverip", "firewallip"} {
			if store.String(key) == "" {
				return fmt.Errorf("setup value %s is missing", key)
			}
		}
		return nil
	}); err != nil {
		return err
	}
	serverIP := store.String("serverip")
	firewallIP := store.String("firewallip")

	if err := s.Steps.Step(ctx, "Reading subnets", func(context.Context) error {
		var err error
		if subnets, err = inventory.ReadSubnets(paths.SubnetsCSV, s.Log); err != nil {
			return err
		}
		var ok bool
		if server, ok = inventory.ServerSubnet(subnets, serverIP); !ok {
			return fmt.Errorf("no subnet in %s contains the server address %s", paths.SubnetsCSV, serverIP)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := s.Steps.Step(ctx, "Writing dhcp subnet configuration", func(context.Context) error {
		_, err := s.DHCP.WriteSubnets(paths.DHCPSubConf, subnets, serverIP)
		return err
	}); err != nil {
		return err
	}
	if err := s.Steps.Step(ctx, "Restarting dhcp service", s.DHCPService.Restart); err != nil {
		return err
	}

	if err := s.Steps.Step(ctx, "Updating netplan configuration", func(ctx context.Context) error {
		_, err := s.Netplan.Update(ctx, firewallIP, server, subnets)
		return err
	}); err != nil {
		return err
	}
	if err := s.Steps.Step(ctx, "Updating ntp configuration", func(ctx context.Context) error {
		_, err := s.NTP.Update(ctx, firewallIP, subnets)
		return err
	}); err != nil {
		return err
	}

	if store.Bool("skipfw") {
		s.Log.Info("skipfw is set, leaving the firewall alone")
		return nil
	}
	return s.Steps.Step(ctx, "Updating firewall", func(ctx context.Context) error {
		if s.Firewall == nil {
			return errors.New("no firewall reconciler configured")
		}
		fw, err := s.Firewall(store)
		if err != nil {
			return err
		}
		res, err := fw.Run(ctx, firewall.Input{ServerSubnet: server, Subnets: subnets})
		if err != nil {
			return err
		}
		s.Log.Infof("firewall %s: config changed %v, routes deleted %d added %d",
			res.Version, res.XMLChanged, res.Routes.Deleted, res.Routes.Added)
		return nil
	})
}
