package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/webgis/backend/internal/api"
	"github.com/webgis/backend/internal/auth"
	"github.com/webgis/backend/internal/config"
	"github.com/webgis/backend/internal/influx"
	"github.com/webgis/backend/internal/ingest"
	"github.com/webgis/backend/internal/logging"
	intOtel "github.com/webgis/backend/internal/otel"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

var (
	// SessionStartTime names the log file of this run
	SessionStartTime = time.Now()

	SlogManager *logging.SlogManager
	Logger      *slog.Logger
)

func main() {
	if err := run(); err != nil {
		if Logger != nil {
			Logger.Error("gisserver stopped", "error", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("gisserver", pflag.ExitOnError)
	configDir := flags.String("config", ".", "directory containing "+config.FileName)
	flags.String("addr", "", "listen address, overrides server.addr")
	flags.String("log-level", "", "log level, overrides logLevel")
	_ = flags.Parse(os.Args[1:])

	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(nil, "info", nil)
	Logger = SlogManager.Logger()

	if err := config.Load(*configDir); err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		Logger.Info("Loaded config", "dir", *configDir)
	}
	bindFlag(flags, "addr", "server.addr")
	bindFlag(flags, "log-level", "logLevel")

	closers, err := setupLogging()
	if err != nil {
		return err
	}
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelProvider, err := intOtel.New(intOtel.Config{ServiceName: config.GetOTelConfig().ServiceName})
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	defer func() { _ = otelProvider.Shutdown(context.Background()) }()

	dbManager, backend, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = dbManager.Close() }()

	recorders, closeRecorders, err := setupRecorders(ctx, otelProvider)
	if err != nil {
		return err
	}
	defer closeRecorders()

	ingestCfg := config.GetIngestConfig()
	ingestService := ingest.NewService(backend, ingestCfg, Logger.With("component", "ingest"), recorders...)

	tokens, err := auth.NewManager(config.GetAuthConfig())
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	serverCfg := config.GetServerConfig()
	srv := api.New(api.Dependencies{
		Store:          backend,
		Ingest:         ingestService,
		Auth:           tokens,
		Metrics:        otelProvider.MetricsHandler(),
		Server:         serverCfg,
		MaxUploadBytes: ingestCfg.MaxUploadBytes,
		Logger:         Logger.With("component", "api"),
	})

	httpServer := &http.Server{
		Addr:         serverCfg.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  serverCfg.ReadTimeout,
		WriteTimeout: serverCfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		Logger.Info("HTTP server listening", "addr", serverCfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	Logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := SlogManager.Flush(shutdownCtx); err != nil {
		Logger.Warn("Failed to flush logs", "error", err)
	}
	return nil
}

func bindFlag(flags *pflag.FlagSet, name, key string) {
	if f := flags.Lookup(name); f != nil && f.Changed {
		viper.Set(key, f.Value.String())
	}
}

// setupLogging switches logging to the session log file, with optional OTel
// log export and Graylog shipping.
func setupLogging() ([]io.Closer, error) {
	var closers []io.Closer
	logsDir := viper.GetString("logsDir")
	level := viper.GetString("logLevel")

	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}
	logPath := logging.LogFilePath(logsDir, logging.ServiceName, SessionStartTime)
	logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", logPath, err)
	}
	closers = append(closers, logFile)
	Logger.Info("Begin logging in logs directory", "path", logPath)

	var otelLogProvider *sdklog.LoggerProvider
	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		provider, err := intOtel.New(intOtel.Config{
			Enabled:      true,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    logFile,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			otelLogProvider = provider.LoggerProvider()
			closers = append(closers, closerFunc(func() error { return provider.Shutdown(context.Background()) }))
			Logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
		}
	}

	var extra []slog.Handler
	if gl := config.GetGraylogConfig(); gl.Enabled {
		h, c, err := logging.NewGraylogHandler(gl.Address, level)
		if err != nil {
			Logger.Error("Failed to connect to Graylog", "error", err, "address", gl.Address)
		} else {
			extra = append(extra, h)
			closers = append(closers, c)
		}
	}

	SlogManager.Setup(logFile, level, otelLogProvider, extra...)
	Logger = SlogManager.Logger()
	return closers, nil
}

// setupRecorders builds the upload statistics sinks: OTel metrics always,
// InfluxDB when enabled.
func setupRecorders(ctx context.Context, provider *intOtel.Provider) ([]ingest.Recorder, func(), error) {
	metrics, err := intOtel.NewIngestMetrics(provider.Meter("github.com/webgis/backend/internal/ingest"))
	if err != nil {
		return nil, nil, fmt.Errorf("ingest metrics: %w", err)
	}
	recorders := []ingest.Recorder{metrics}

	influxCfg := config.GetInfluxConfig()
	if !influxCfg.Enabled {
		return recorders, func() {}, nil
	}
	backupPath := filepath.Join(viper.GetString("logsDir"),
		fmt.Sprintf("influx_backup_%s.lp.gz", SessionStartTime.Format("20060102_150405")))
	influxManager := influx.NewManager(logging.NewZerolog(os.Stdout, viper.GetString("logLevel")), influxCfg, backupPath)
	if err := influxManager.Connect(ctx); err != nil {
		Logger.Error("Failed to set up InfluxDB", "error", err)
		return recorders, func() {}, nil
	}
	return append(recorders, influxManager), func() { _ = influxManager.Close() }, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
