// modini 设置 INI 文件中的一个选项，可选地随后重启服务
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/linuxmuster/linuxmuster-base/internal/config"
	"github.com/linuxmuster/linuxmuster-base/internal/setup"
	"github.com/linuxmuster/linuxmuster-base/pkg/command"
	"github.com/linuxmuster/linuxmuster-base/pkg/logger"
)

func main() {
	var (
		path, section, option, value, restart, configPath string
	)
	pflag.StringVarP(&path, "inifile", "i", "", "INI file to modify")
	pflag.StringVarP(&section, "section", "s", "", "section name")
	pflag.StringVarP(&option, "option", "o", "", "option name")
	pflag.StringVarP(&value, "value", "v", "", "new value")
	pflag.StringVarP(&restart, "restart", "r", "", "service to restart after the change")
	pflag.StringVar(&configPath, "config", config.DefaultConfigFile, "engine configuration file")
	pflag.Parse()

	if path == "" || section == "" || option == "" {
		fmt.Fprintln(os.Stderr, "usage: modini -i <file> -s <section> -o <option> -v <value> [-r <service>]")
		os.Exit(1)
	}

	if err := setup.ModIni(path, section, option, value); err != nil {
		fmt.Fprintf(os.Stderr, "modini: %v\n", err)
		os.Exit(1)
	}
	if restart == "" {
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	ctl := command.NewSystemctl(command.NewExecRunner(), cfg.Services.Systemctl, cfg.Services.SettleDelay, log)
	if err := ctl.Restart(context.Background(), restart); err != nil {
		fmt.Fprintf(os.Stderr, "modini: %v\n", err)
		os.Exit(1)
	}
}
