// update-dns 由 dhcpd 租约钩子调用，维护动态地址主机的 A 和 PTR 记录
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/linuxmuster/linuxmuster-base/internal/config"
	"github.com/linuxmuster/linuxmuster-base/internal/dns"
	"github.com/linuxmuster/linuxmuster-base/internal/service"
	"github.com/linuxmuster/linuxmuster-base/internal/setup"
	"github.com/linuxmuster/linuxmuster-base/pkg/command"
)

const tool = "update-dns"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		req        dns.Request
		configPath string
	)
	pflag.StringVarP(&req.Cmd, "command", "c", "", "add or delete")
	pflag.StringVarP(&req.IP, "ip", "i", "", "leased ip address")
	pflag.StringVarP(&req.Hostname, "hostname", "n", "", "client hostname")
	pflag.StringVarP(&req.SkipAD, "skip-ad", "k", "", "\"yes\" skips the directory check")
	pflag.StringVar(&configPath, "config", config.DefaultConfigFile, "engine configuration file")
	pflag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log, err := service.NewLogger(cfg, tool)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	store, err := setup.Load(cfg.SetupFiles()...)
	if err != nil {
		log.Errorf("read setup values: %v", err)
		return 1
	}
	domain := store.String("domainname")
	if domain == "" {
		log.Error("setup value domainname is missing")
		return 1
	}

	resolver, err := dns.NewResolver(cfg.DNS.Resolver, "", cfg.DNS.Timeout)
	if err != nil {
		log.Error(err.Error())
		return 1
	}
	updater, err := dns.NewUpdater(cfg.DNS, domain, command.NewExecRunner(), resolver, log)
	if err != nil {
		log.Error(err.Error())
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := updater.Update(ctx, req); err != nil {
		log.WithField("host", req.Hostname).Errorf("%s %s: %v", req.Cmd, req.IP, err)
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
