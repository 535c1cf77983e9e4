// Command portal serves the program portal API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/R3E-Network/program_portal/internal/app/runtime"
	"github.com/R3E-Network/program_portal/internal/config"
	"github.com/R3E-Network/program_portal/pkg/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var configPath, addr string
	flagSet := pflag.NewFlagSet("portal", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the YAML config file (default $PORTAL_CONFIG or "+config.DefaultPath+")")
	flagSet.StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	log := logger.New(cfg.LoggerConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := runtime.NewApplication(ctx, cfg, log)
	if err != nil {
		return err
	}

	runErr := application.Run(ctx)
	log.Info("shutting down")
	if err := application.Shutdown(context.Background()); err != nil {
		log.WithError(err).Error("shutdown incomplete")
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}
