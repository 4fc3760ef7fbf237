package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/linuxmuster/linuxmuster-base/internal/config"
	"github.com/linuxmuster/linuxmuster-base/internal/service"
	"github.com/linuxmuster/linuxmuster-base/pkg/command"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath string
		schools    []string
		history    int
	)
	pflag.StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "engine configuration file")
	pflag.IntVar(&history, "history", 0, "print the last N journaled runs and exit")
	pflag.StringSliceVarP(&schools, "school", "s", nil, "import only these schools (default: all)")
	pflag.Parse()

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log, err := service.NewLogger(cfg, service.ToolImportDevices)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	if history > 0 {
		if err := service.History(cfg, service.ToolImportDevices, history, os.Stdout, log); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}

	lock, err := service.Lock(service.LockPath(cfg.Paths.CacheDir, service.ToolImportDevices))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer lock.Unlock()

	journal, closeJournal := service.OpenJournal(cfg, log)
	defer closeJournal()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	steps := service.NewStepRunner(service.ToolImportDevices, os.Stdout, journal, log)
	importer := service.NewDeviceImporter(cfg, command.NewExecRunner(), steps, log)
	if err := importer.Run(ctx, schools); err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", service.ToolImportDevices, err)
		return 1
	}
	return 0
}
