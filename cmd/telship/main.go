package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"telship/internal/app"
)

const (
	exitCodeFailure = 1
	exitCodeUsage   = 2
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// run starts the shipper process.
// Params: args command-line arguments without program name.
// Returns: process exit code.
func run(args []string) int {
	flags := pflag.NewFlagSet("telship", pflag.ContinueOnError)

	var (
		configPath string
		showInfo   bool
		demo       bool
	)
	flags.StringVarP(&configPath, "config", "c", "telship.toml", "path to TOML/YAML config file or directory of *.toml files")
	flags.BoolVarP(&showInfo, "version", "v", false, "show build information")
	flags.BoolVar(&demo, "demo", false, "emit the sample telemetry set once and exit")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitCodeUsage
	}

	if showInfo {
		fmt.Printf("telship version=%s commit=%s date=%s\n", version, commit, date)
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := app.Runtime{ConfigPath: configPath}
	var err error
	if demo {
		err = app.RunDemo(ctx, rt)
	} else {
		err = app.Run(ctx, rt)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitCodeFailure
	}

	return 0
}

func main() {
	os.Exit(run(os.Args[1:]))
}
