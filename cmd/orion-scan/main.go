// Command orion-scan scans QR product codes from a camera or image files and
// hands the resolved product references off to stdout and MQTT.
//
//	orion-scan [flags] scan           scan the camera (or -synthetic dir) until a code is found
//	orion-scan [flags] decode FILE... decode uploaded image files
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/e7canasta/orion-scan/internal/config"
	"github.com/e7canasta/orion-scan/internal/log"
)

const version = "v0.1.0"

// Options are the command-line settings. Non-empty flags override the file.
type Options struct {
	ConfigPath    string
	Mode          string
	Files         []string
	SyntheticDir  string
	EnvDevice     string
	DefaultDevice string
	SnapshotDir   string
	MetricsAddr   string
	MQTTBroker    string
	Continuous    bool
	StatsInterval time.Duration
	Debug         bool
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log.Configure(log.Config{Level: cfg.Log.Level, Service: "orion-scan"})
	logger := log.WithComponent("main")
	logger.Info().Str("version", version).Str("mode", opts.Mode).Msg("orion-scan starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		go serveMetrics(ctx, cfg.Metrics.Addr, logger)
	}

	switch opts.Mode {
	case "scan":
		err = runScan(ctx, opts, cfg)
	case "decode":
		err = runDecode(ctx, opts, cfg, os.Stdout, os.Stderr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("orion-scan failed")
		os.Exit(1)
	}
	logger.Info().Msg("orion-scan stopped")
}

func parseFlags(args []string) (Options, error) {
	var opts Options
	fs := flag.NewFlagSet("orion-scan", flag.ContinueOnError)

	fs.StringVar(&opts.ConfigPath, "config", "", "YAML config file (hot-reloaded)")
	fs.StringVar(&opts.SyntheticDir, "synthetic", "", "replay images from this directory instead of a camera")
	fs.StringVar(&opts.EnvDevice, "env-device", "", "V4L2 node of the environment-facing camera")
	fs.StringVar(&opts.DefaultDevice, "device", "", "V4L2 node used for unconstrained opens")
	fs.StringVar(&opts.SnapshotDir, "snapshots", "", "save the annotated success frame as PNG into this directory")
	fs.StringVar(&opts.MetricsAddr, "metrics", "", "serve Prometheus metrics on this address")
	fs.StringVar(&opts.MQTTBroker, "mqtt", "", "MQTT broker host:port for hand-offs")
	fs.BoolVar(&opts.Continuous, "continuous", false, "keep scanning after each hand-off")
	fs.DurationVar(&opts.StatsInterval, "stats-interval", 30*time.Second, "statistics logging interval (0 disables)")
	fs.BoolVar(&opts.Debug, "debug", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return opts, fmt.Errorf("missing mode: scan or decode")
	}
	opts.Mode, opts.Files = rest[0], rest[1:]

	switch opts.Mode {
	case "scan":
		if len(opts.Files) > 0 {
			return opts, fmt.Errorf("scan takes no arguments")
		}
	case "decode":
		if len(opts.Files) == 0 {
			return opts, fmt.Errorf("decode needs at least one file")
		}
	default:
		return opts, fmt.Errorf("unknown mode %q (must be scan or decode)", opts.Mode)
	}
	return opts, nil
}

// loadConfig reads the file (or defaults) and applies flag overrides.
func loadConfig(opts Options) (*config.Config, error) {
	var cfg *config.Config
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		def := config.Default()
		cfg = &def
	}

	applyOverrides(cfg, opts)
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config, opts Options) {
	if opts.SyntheticDir != "" {
		cfg.Camera.SyntheticDir = opts.SyntheticDir
	}
	if opts.EnvDevice != "" {
		cfg.Camera.EnvironmentDevice = opts.EnvDevice
	}
	if opts.DefaultDevice != "" {
		cfg.Camera.DefaultDevice = opts.DefaultDevice
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Addr = opts.MetricsAddr
	}
	if opts.MQTTBroker != "" {
		cfg.MQTT.Broker = opts.MQTTBroker
	}
	if opts.Debug {
		cfg.Log.Level = "debug"
	}
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Str("addr", addr).Msg("metrics endpoint failed")
	}
}
