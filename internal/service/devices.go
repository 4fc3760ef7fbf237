package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/linuxmuster/linuxmuster-base/internal/config"
	"github.com/linuxmuster/linuxmuster-base/internal/dhcp"
	"github.com/linuxmuster/linuxmuster-base/internal/inventory"
	"github.com/linuxmuster/linuxmuster-base/internal/linbo"
	"github.com/linuxmuster/linuxmuster-base/internal/setup"
	"github.com/linuxmuster/linuxmuster-base/pkg/command"
	"github.com/linuxmuster/linuxmuster-base/pkg/logger"
)

// ToolImportDevices 设备导入在锁、日志和运行记录中的名称
const ToolImportDevices = "import-devices"

// DeviceImporter 根据设备清单重建 dhcp 主机声明、LINBO 主机链接和分组引导配置
type DeviceImporter struct {
	Cfg    *config.Config
	Runner command.Runner
	DHCP   *dhcp.Generator
	// DHCPService 在运行结束时重启 dhcpd
	DHCPService *dhcp.Service
	Steps       *StepRunner
	Log         logrus.FieldLogger
}

// NewDeviceImporter 根据引擎配置创建设备导入器
func NewDeviceImporter(cfg *config.Config, runner command.Runner, steps *StepRunner, log logrus.FieldLogger) *DeviceImporter {
	ctl := command.NewSystemctl(runner, cfg.Services.Systemctl, cfg.Services.SettleDelay, log)
	return &DeviceImporter{
		Cfg:         cfg,
		Runner:      runner,
		DHCP:        dhcp.NewGenerator(log),
		DHCPService: &dhcp.Service{Ctl: ctl, Unit: cfg.Services.DHCP},
		Steps:       steps,
		Log:         log,
	}
}

// LoadSetup 读取合并后的 setup 值，首次运行时计算派生值
func LoadSetup(paths config.PathsConfig) (*setup.Store, error) {
	store, err := setup.Load(paths.SetupDefaults, paths.PrepIni, paths.SetupIni, paths.CustomIni)
	if err != nil {
		return nil, err
	}
	if _, err := store.EnsureDerived(paths.SetupIni, paths.TmpSetupIni); err != nil {
		return nil, err
	}
	return store, nil
}

// Run 对 schools 执行设备导入流程，schools 为空时处理所有有清单的学校
func (d *DeviceImporter) Run(ctx context.Context, schools []string) error {
	d.Steps.Begin()
	err := d.run(ctx, schools)
	d.Steps.End(err)
	return err
}

func (d *DeviceImporter) run(ctx context.Context, schools []string) error {
	paths := d.Cfg.Paths
	// 未指定学校时以清单为准，清理已撤销学校的产物
	prune := len(schools) == 0
	var (
		store   *setup.Store
		subnets []inventory.Subnet
	)

	if err := d.Steps.Step(ctx, "Reading setup values", func(context.Context) error {
		var err error
		if store, err = LoadSetup(paths); err != nil {
			return err
		}
		if store.String("serverip") == "" {
			return errors.New("setup value serverip is missing")
		}
		if len(schools) == 0 {
			if schools, err = inventory.Schools(paths.SophoSysDir); err != nil {
				return err
			}
		}
		if len(schools) == 0 {
			return fmt.Errorf("no device inventory below %s", paths.SophoSysDir)
		}
		return nil
	}); err != nil {
		return err
	}
	serverIP := store.String("serverip")
	synth := linbo.NewSynthesizer(paths, serverIP, d.Log)

	if len(d.Cfg.Devices.SyncCommand) > 0 {
		argv := d.Cfg.Devices.SyncCommand
		err := d.Steps.Step(ctx, "Running "+strings.Join(argv, " "), func(ctx context.Context) error {
			res, err := d.Runner.Run(ctx, nil, argv[0], argv[1:]...)
			if res != nil {
				logger.CommandOutput(d.Log, res.Command, res.Output, err != nil)
			}
			return err
		})
		if err != nil && d.Cfg.Devices.SyncFatal {
			return err
		}
	}

	if err := d.Steps.Step(ctx, "Reading subnets", func(context.Context) error {
		var err error
		subnets, err = inventory.ReadSubnets(paths.SubnetsCSV, d.Log)
		return err
	}); err != nil {
		return err
	}

	devices := make(map[string][]inventory.Device, len(schools))
	for _, school := range schools {
		if err := d.Steps.Step(ctx, "Writing dhcp configuration of school "+school, func(context.Context) error {
			list, err := inventory.ReadDevices(inventory.DevicesPath(paths.SophoSysDir, school), school, d.Log)
			if err != nil {
				return err
			}
			devices[school] = list
			_, err = d.DHCP.WriteSchoolDevices(paths.DHCPDevDir, school, list, subnets)
			return err
		}); err != nil {
			return err
		}
	}
	if prune {
		if err := d.Steps.Step(ctx, "Removing files of schools without inventory", func(context.Context) error {
			dropped, err := dhcp.PruneSchoolFiles(paths.DHCPDevDir, schools)
			if err != nil {
				return err
			}
			links, err := synth.PruneManifests(schools)
			gone := map[string]bool{}
			for _, school := range append(dropped, links...) {
				if !gone[school] {
					gone[school] = true
					d.Log.Infof("school %s has no inventory any more, removed its dhcp and link files", school)
				}
			}
			return err
		}); err != nil {
			return err
		}
	}
	if err := d.Steps.Step(ctx, "Writing dhcp device includes", func(context.Context) error {
		_, err := d.DHCP.WriteDeviceIncludes(paths.DHCPDevConf, paths.DHCPDevDir)
		return err
	}); err != nil {
		return err
	}

	groupSet := map[string]bool{}
	for _, school := range schools {
		if err := d.Steps.Step(ctx, "Writing linbo links of school "+school, func(context.Context) error {
			groups, err := synth.WriteLinksManifest(school, devices[school])
			for _, g := range groups {
				groupSet[g] = true
			}
			return err
		}); err != nil {
			return err
		}
	}

	if err := d.Steps.Step(ctx, "Removing old host links", func(context.Context) error {
		n, err := synth.RemoveHostLinks()
		d.Log.Debugf("removed %d links", n)
		return err
	}); err != nil {
		return err
	}
	if err := d.Steps.Step(ctx, "Creating host links", func(context.Context) error {
		n, err := synth.ReplayManifests()
		d.Log.Debugf("created %d links", n)
		return err
	}); err != nil {
		return err
	}

	groups := make([]string, 0, len(groupSet))
	for g := range groupSet {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	for _, g := range groups {
		if err := d.Steps.Step(ctx, "Writing boot configuration of group "+g, func(context.Context) error {
			_, err := synth.WriteGroupConfig(g)
			return err
		}); err != nil {
			return err
		}
	}

	for _, school := range schools {
		if err := d.Steps.Step(ctx, "Running post import hooks of school "+school, func(ctx context.Context) error {
			return RunHooks(ctx, d.Runner, paths.PostDevImportDir, school, d.Log)
		}); err != nil {
			return err
		}
	}

	return d.Steps.Step(ctx, "Restarting dhcp service", d.DHCPService.Restart)
}
