package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"pkt.systems/pageblob"
	"pkt.systems/pageblob/internal/correlation"
	"pkt.systems/pageblob/internal/loggingutil"
)

// backendOpener matches pageblob.OpenBackend; tests swap in a shared store.
type backendOpener func(ctx context.Context, cfg pageblob.Config, logger pslog.Logger) (pageblob.Backend, error)

type app struct {
	baseLogger pslog.Logger
	logger     pslog.Logger
	v          *viper.Viper
	open       backendOpener
	cfg        pageblob.Config
	telemetry  *pageblob.Telemetry
}

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("PAGEBLOB_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "pageblob")
	cmd := newRootCommand(baseLogger, pageblob.OpenBackend)
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

func newRootCommand(baseLogger pslog.Logger, open backendOpener) *cobra.Command {
	a := &app{
		baseLogger: loggingutil.EnsureLogger(baseLogger),
		v:          viper.New(),
		open:       open,
	}
	a.logger = a.baseLogger

	cmd := &cobra.Command{
		Use:           "pageblob",
		Short:         "pageblob manages Azure page blobs: 512-byte aligned, randomly writable, resizable blobs",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # Create a 1 MiB page blob in an Azure container using Shared Key credentials
  PAGEBLOB_STORE=azure://myaccount/journals PAGEBLOB_AZURE_KEY=... pageblob create --blob node-1 --size 1MiB

  # Append a file at page 8, growing the blob in 1 MiB steps when needed
  pageblob write --store azure://myaccount/journals --blob node-1 --start 8 --auto-resize --in record.bin

  # Inspect a blob as YAML
  pageblob info --blob node-1 --output yaml
`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.prepare(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.finish()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringP("config", "c", "", "path to YAML config file (defaults to $HOME/.pageblob/"+pageblob.DefaultConfigFileName+")")
	flags.String("store", pageblob.DefaultStore, "storage backend URL (mem://, azure://account[/container])")
	flags.String("container", "", "container name (overrides the container in --store)")
	flags.StringP("blob", "b", "", "page blob name")
	flags.String("azure-account", "", "Azure storage account (overrides the account in --store)")
	flags.String("azure-key", "", "Azure Shared Key credential")
	flags.String("azure-endpoint", "", "Azure Blob endpoint (default "+pageblob.DefaultAzureEndpointHelp+")")
	flags.String("azure-sas-token", "", "Azure SAS token")
	flags.Int("max-pages", pageblob.DefaultMaxPagesPerRoundTrip, "maximum pages per write round trip")
	flags.Int("resize-ratio", pageblob.DefaultResizeRatio, "page multiple used when auto-resizing")
	flags.Int("storage-retry-attempts", pageblob.DefaultStorageRetryMaxAttempts, "attempts for transient storage errors (1 disables retries)")
	flags.Duration("storage-retry-base-delay", pageblob.DefaultStorageRetryBaseDelay, "base delay between storage retries")
	flags.Duration("storage-retry-max-delay", pageblob.DefaultStorageRetryMaxDelay, "maximum delay between storage retries")
	flags.Float64("storage-retry-multiplier", pageblob.DefaultStorageRetryMultiplier, "backoff multiplier between storage retries")
	flags.Bool("disable-storage-tracing", false, "skip spans, metrics and debug logs around backend calls")
	flags.String("otlp-endpoint", "", "OTLP collector endpoint (e.g. grpc://localhost:4317)")
	flags.String("metrics-listen", "", "Prometheus scrape address (empty disables)")
	flags.Bool("enable-runtime-metrics", false, "export Go runtime metrics on the Prometheus endpoint")
	flags.String("log-level", "warn", "log level (trace, debug, info, warn, error)")
	flags.String("correlation-id", "", "correlation id attached to logs and spans (generated when empty)")

	a.v.SetEnvPrefix("PAGEBLOB")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	flags.VisitAll(func(flag *pflag.Flag) {
		if err := a.v.BindPFlag(flag.Name, flag); err != nil {
			panic(err)
		}
	})

	cmd.AddCommand(
		a.newContainerCommand(),
		a.newCreateCommand(),
		a.newResizeCommand(),
		a.newInfoCommand(),
		a.newReadCommand(),
		a.newWriteCommand(),
		a.newDownloadCommand(),
		a.newDeleteCommand(),
		a.newVerifyCommand(),
		newVersionCommand(),
	)
	return cmd
}

// prepare loads configuration, applies the log level, attaches a correlation
// id and starts telemetry before any subcommand runs.
func (a *app) prepare(cmd *cobra.Command) error {
	configFile, err := a.loadConfigFile()
	if err != nil {
		return err
	}
	if err := a.bindConfig(); err != nil {
		return err
	}
	logger := a.baseLogger
	if level, ok := pslog.ParseLevel(strings.TrimSpace(a.v.GetString("log-level"))); ok {
		logger = logger.LogLevel(level)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if id := strings.TrimSpace(a.v.GetString("correlation-id")); id != "" {
		normalized, ok := correlation.Normalize(id)
		if !ok {
			return fmt.Errorf("invalid correlation id %q", id)
		}
		ctx = correlation.With(ctx, normalized)
	}
	ctx, cid := correlation.Ensure(ctx)
	a.logger = logger.With("cid", cid)
	cliLogger := loggingutil.WithSubsystem(a.logger, "cli", cmd.Name())
	if configFile != "" {
		cliLogger.Debug("cli.config.loaded", "path", configFile)
	}
	cliLogger.Trace("cli.command.start", "store", a.cfg.Store, "container", a.cfg.Container, "blob", a.cfg.Blob)
	a.telemetry, err = pageblob.StartTelemetry(ctx, a.cfg, loggingutil.WithSubsystem(logger, "telemetry"))
	if err != nil {
		return err
	}
	cmd.SetContext(pslog.ContextWithLogger(ctx, a.logger))
	return nil
}

func (a *app) finish() error {
	if a.telemetry == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := a.telemetry.Shutdown(ctx)
	a.telemetry = nil
	return err
}

func (a *app) bindConfig() error {
	a.cfg = pageblob.Config{
		Store:                   a.v.GetString("store"),
		Container:               strings.TrimSpace(a.v.GetString("container")),
		Blob:                    strings.TrimSpace(a.v.GetString("blob")),
		AzureAccount:            a.v.GetString("azure-account"),
		AzureAccountKey:         a.v.GetString("azure-key"),
		AzureEndpoint:           a.v.GetString("azure-endpoint"),
		AzureSASToken:           a.v.GetString("azure-sas-token"),
		MaxPagesPerRoundTrip:    a.v.GetInt("max-pages"),
		ResizeRatio:             a.v.GetInt("resize-ratio"),
		StorageRetryMaxAttempts: a.v.GetInt("storage-retry-attempts"),
		StorageRetryBaseDelay:   a.v.GetDuration("storage-retry-base-delay"),
		StorageRetryMaxDelay:    a.v.GetDuration("storage-retry-max-delay"),
		StorageRetryMultiplier:  a.v.GetFloat64("storage-retry-multiplier"),
		DisableStorageTracing:   a.v.GetBool("disable-storage-tracing"),
		OTLPEndpoint:            a.v.GetString("otlp-endpoint"),
		MetricsListen:           a.v.GetString("metrics-listen"),
		EnableRuntimeMetrics:    a.v.GetBool("enable-runtime-metrics"),
	}
	return a.cfg.Validate()
}

func (a *app) loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(a.v.GetString("config"))
	explicit := cfgPath != ""
	if cfgPath == "" {
		if candidate, err := pageblob.DefaultConfigPath(); err == nil {
			if _, err := os.Stat(candidate); err == nil {
				cfgPath = candidate
			}
		}
	}
	if cfgPath == "" {
		return "", nil
	}
	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}
	a.v.SetConfigFile(expanded)
	if err := a.v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

// handle opens the backend and a Handle for the configured blob. The
// returned closer releases the backend.
func (a *app) handle(ctx context.Context) (*pageblob.Handle, func(), error) {
	if a.cfg.Blob == "" {
		return nil, nil, fmt.Errorf("--blob is required")
	}
	backend, err := a.open(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, nil, err
	}
	h := pageblob.New(backend, a.cfg.Container, a.cfg.Blob, pageblob.WithLogger(a.logger))
	return h, func() { _ = backend.Close() }, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Abs(p)
}

func humanizeBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return strings.ReplaceAll(humanize.IBytes(uint64(n)), " ", "")
}

// parsePages accepts either a page count or a byte size (e.g. 4MiB) rounded
// up to whole pages. Exactly one of the two may be set.
func parsePages(pages int, size string) (int, error) {
	size = strings.TrimSpace(size)
	if size == "" {
		if pages < 0 {
			return 0, fmt.Errorf("--pages must be >= 0, got %d", pages)
		}
		return pages, nil
	}
	if pages != 0 {
		return 0, fmt.Errorf("--pages and --size are mutually exclusive")
	}
	n, err := humanize.ParseBytes(size)
	if err != nil {
		return 0, fmt.Errorf("parse --size: %w", err)
	}
	return pageblob.PagesForBytes(int(n)), nil
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
