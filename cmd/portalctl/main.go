// Command portalctl is the operator CLI for the program portal. It talks to
// the configured store directly and acts as the system principal.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/R3E-Network/program_portal/internal/app/runtime"
	"github.com/R3E-Network/program_portal/internal/app/storage"
	"github.com/R3E-Network/program_portal/internal/config"
	"github.com/R3E-Network/program_portal/pkg/logger"
)

const usage = `usage: portalctl [--config path] <command> [args]

commands:
  ghosts list                         list open ghost identifiers
  ghosts clear IDENTIFIER...          release ghost identifiers for reuse
  issues                              report live rows pointing at archived or missing parents
  archived [--type TYPE]              list open archive records
  preview COMPANY FACILITY ACTIVITY   show the next application identifier
  token --subject ID --role ROLE      mint a bearer token for the API
  migrate up|down                     apply or roll back the database schema
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, nil); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run parses global flags and dispatches. A nil open uses the store named
// by the configuration.
func run(ctx context.Context, args []string, out io.Writer, open openFunc) error {
	var configPath string
	var verbose bool
	flagSet := pflag.NewFlagSet("portalctl", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	flagSet.Usage = func() { fmt.Fprint(out, usage) }
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		fmt.Fprint(out, usage)
		return fmt.Errorf("missing command")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logCfg := cfg.LoggerConfig()
	if verbose {
		logCfg.Level = "debug"
	}
	logCfg.Output = os.Stderr
	log := logger.New(logCfg)

	if open == nil {
		open = func(ctx context.Context) (storage.Repository, func(), error) {
			repo, db, err := runtime.OpenRepository(ctx, cfg.Database, log)
			if err != nil {
				return nil, nil, err
			}
			return repo, func() {
				if db != nil {
					db.Close()
				}
			}, nil
		}
	}

	c := &cli{cfg: cfg, log: log, out: out, open: open}
	return c.dispatch(ctx, rest[0], rest[1:])
}
