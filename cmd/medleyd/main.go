// Command medleyd runs the medley daemon in the foreground without the CLI
// wrapper. It exists for service managers that exec a single binary; the
// `medley daemon` subcommand is the equivalent interactive entry point.
package main

import (
	"context"
	"flag"
	"log"

	"medley/internal/config"
	"medley/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	logLevel := flag.String("log-level", "", "override the configured log level")
	development := flag.Bool("dev", false, "enable development logging with source locations")
	flag.Parse()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{
		LogLevel:    *logLevel,
		Development: *development,
	}); err != nil {
		log.Fatalf("medleyd: %v", err)
	}
}
