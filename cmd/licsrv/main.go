// licsrv is the license lifecycle server. It issues license keys, binds them
// to a single device on activation, answers validity checks from installed
// clients and collects best-effort usage telemetry.
//
// Configuration is read from a YAML file (--config, LICSRV_CONFIG or the
// well-known locations) and LICSRV_* environment variables, which win.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"licsrv/internal/app"
	"licsrv/internal/config"
	"licsrv/internal/services"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version   = "dev"
	commit    = ""
	buildTime = ""
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath  string
		showVersion bool
		checkOnly   bool
	)
	flagSet := pflag.NewFlagSet("licsrv", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")
	flagSet.BoolVar(&showVersion, "version", false, "print the version and exit")
	flagSet.BoolVar(&checkOnly, "check-config", false, "validate the configuration and exit")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	build := services.BuildInfo{Version: version, Commit: commit, BuildTime: buildTime}
	if showVersion {
		fmt.Printf("licsrv %s", build.Version)
		if build.Commit != "" {
			fmt.Printf(" (%s)", build.Commit)
		}
		fmt.Println()
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if checkOnly {
		fmt.Println("configuration OK")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, build)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer func() {
		if err := application.Close(context.Background()); err != nil {
			application.Logger.Error("shutdown error", slog.String("error", err.Error()))
		}
	}()

	return application.Run(ctx)
}
