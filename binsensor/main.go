// Command binsensor measures how full a dumpster is and reports it upstream.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/config"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/logging"
)

const appID = "binsensor"

func main() {
	var (
		configFlag   = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag     = flag.Bool("mock", false, "Use simulated sensors instead of the serial ports")
		onceFlag     = flag.Bool("once", false, "Run a single cycle and exit")
		logLevelFlag = flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *logLevelFlag != "" {
		cfg.Log.Level = *logLevelFlag
	}

	logger, err := logging.New(appID, cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg, logger, *mockFlag, nil)
	if err != nil {
		logger.Fatalf("startup failed: %v", err)
	}
	defer d.close()

	logger.Infof("unit %d reporting to %s:%d every %s", cfg.Upload.UnitID, cfg.Upload.Host, cfg.Upload.Port, cfg.Cycle.Interval)
	if err := d.run(ctx, *onceFlag); err != nil {
		logger.Errorf("%v", err)
		d.close()
		logger.Flush()
		os.Exit(1)
	}
	logger.Infof("stopped")
}
