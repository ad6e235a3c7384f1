package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/core-tools/hsu-renderer/pkg/browser"
	"github.com/core-tools/hsu-renderer/pkg/conversion"
	"github.com/core-tools/hsu-renderer/pkg/logging"
	"github.com/core-tools/hsu-renderer/pkg/metrics"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	ConfigFile string `long:"config" description:"path to YAML configuration file"`
	Listen     string `long:"listen" description:"address for the health and metrics endpoints" default:":8080"`
	LogLevel   string `long:"log-level" description:"log level (debug, info, warn, error)" default:"info"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v", err)
		os.Exit(1)
	}

	baseLogger, err := logging.NewZapLogger(opts.LogLevel)
	if err != nil {
		fmt.Printf("Logger setup failed: %v", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(
		logPrefix("renderer"), logging.LogFuncs{
			Debugf: baseLogger.Debugf,
			Infof:  baseLogger.Infof,
			Warnf:  baseLogger.Warnf,
			Errorf: baseLogger.Errorf,
		})

	logger.Infof("opts: %+v", opts)

	config := conversion.DefaultConfig()
	if opts.ConfigFile != "" {
		config, err = conversion.LoadConfigFromFile(opts.ConfigFile, logger)
		if err != nil {
			logger.Errorf("Failed to load configuration: %v", err)
			os.Exit(1)
		}
		logger.Infof("Configuration loaded from %s", opts.ConfigFile)
	} else {
		logger.Infof("No configuration file given, using defaults")
	}

	logger.Infof("Starting...")

	recorder := metrics.NewRecorder()
	chromium := browser.NewChromium(browser.Options{
		Bin:               config.BrowserBin,
		StartupTimeout:    config.StartupTimeout,
		StopGracePeriod:   config.StopGracePeriod,
		DeviceScaleFactor: config.DeviceScaleFactor,
	}, logger)
	orchestrator := conversion.NewOrchestrator(config, chromium, recorder, logger)

	ctx := context.Background()
	if err := orchestrator.Start(ctx); err != nil {
		logger.Errorf("Failed to start conversion orchestrator: %v", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snapshot := orchestrator.HealthSnapshot()
		w.Header().Set("Content-Type", "application/json")
		if !snapshot.Alive {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(snapshot); err != nil {
			logger.Warnf("Failed to encode health snapshot: %v", err)
		}
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		text, err := orchestrator.MetricsText()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprint(w, text)
	})

	server := &http.Server{
		Addr:    opts.Listen,
		Handler: mux,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", opts.Listen)
		serverErr <- server.ListenAndServe()
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signals:
		logger.Infof("Received signal %v, shutting down...", sig)
	case err := <-serverErr:
		logger.Errorf("HTTP server failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("HTTP server shutdown error: %v", err)
	}
	if err := orchestrator.Stop(shutdownCtx); err != nil {
		logger.Warnf("Orchestrator shutdown error: %v", err)
	}

	logger.Infof("Stopped")
}
