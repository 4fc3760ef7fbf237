// fw-keytab 维护防火墙上的代理单点登录 keytab
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/linuxmuster/linuxmuster-base/internal/config"
	"github.com/linuxmuster/linuxmuster-base/internal/dns"
	"github.com/linuxmuster/linuxmuster-base/internal/firewall"
	"github.com/linuxmuster/linuxmuster-base/internal/setup"
	"github.com/linuxmuster/linuxmuster-base/pkg/logger"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: fw-keytab [--config file] [-u admin] [-p password-file] show|create|delete")
	pflag.PrintDefaults()
}

func main() {
	var configPath, admin, pwFile string
	pflag.StringVar(&configPath, "config", config.DefaultConfigFile, "engine configuration file")
	pflag.StringVarP(&admin, "admin", "u", "global-admin", "domain admin used to create the keytab")
	pflag.StringVarP(&pwFile, "password-file", "p", config.SECRETDIR+"/global-admin", "file holding the admin password")
	pflag.Usage = usage
	pflag.Parse()
	if pflag.NArg() != 1 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Output: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	key, secret, err := firewall.ReadAPIKeys(cfg.Firewall.APIKeys)
	if err != nil {
		log.Fatal(err)
	}
	logger.Redact(secret)
	baseURL := cfg.Firewall.BaseURL
	if baseURL == "" {
		store, err := setup.Load(cfg.SetupFiles()...)
		if err != nil {
			log.Fatal(err)
		}
		baseURL = firewall.BaseURLFor(store.String("domainname"))
	}
	api := firewall.NewAPIClient(baseURL, key, secret, cfg.Firewall.RequestTimeout)
	ctx := context.Background()

	var out string
	switch pflag.Arg(0) {
	case "show":
		out, err = api.ShowKeytab(ctx)
	case "create":
		var pw string
		if pw, err = dns.ReadSecret(pwFile); err != nil {
			log.Fatal(err)
		}
		logger.Redact(pw)
		out, err = api.CreateKeytab(ctx, admin, pw)
	case "delete":
		out, err = api.DeleteKeytab(ctx)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(out)
}
