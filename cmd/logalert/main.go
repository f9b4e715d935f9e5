package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"logalert/internal/app"
	"logalert/internal/clock"
)

// main starts the log alerting service.
// Params: CLI flags (--env-file and --config-file).
// Returns: process exit code by startup/run result.
func main() {
	var (
		envFile    = flag.String("env-file", "", "path to a .env file (defaults to ./.env when present)")
		configFile = flag.String("config-file", "", "path to one TOML config file")
	)
	flag.Parse()

	service, err := app.NewService(*envFile, *configFile, clock.RealClock{})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service init failed:", err.Error())
		os.Exit(1)
	}

	if err := service.Run(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service run failed:", err.Error())
		os.Exit(1)
	}
}
