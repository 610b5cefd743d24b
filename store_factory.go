package pageblob

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"pkt.systems/pslog"

	"pkt.systems/pageblob/internal/clock"
	"pkt.systems/pageblob/internal/loggingutil"
	"pkt.systems/pageblob/internal/storage"
	azurestore "pkt.systems/pageblob/internal/storage/azure"
	storagelog "pkt.systems/pageblob/internal/storage/logging"
	"pkt.systems/pageblob/internal/storage/memory"
	"pkt.systems/pageblob/internal/storage/retry"
)

// OpenBackend builds the backend selected by cfg.Store. Azure backends are
// wrapped by the retry decorator; every backend gets the telemetry decorator
// unless cfg.DisableStorageTracing is set. A nil logger falls back to the
// logger carried by ctx. No network request is made.
func OpenBackend(ctx context.Context, cfg Config, logger pslog.Logger) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger, _ = loggingutil.FromContext(ctx)
	}
	logger = loggingutil.EnsureLogger(logger)

	u, err := url.Parse(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("parse store URL: %w", err)
	}
	var backend storage.Backend
	switch strings.ToLower(u.Scheme) {
	case "memory", "mem":
		backend = memory.New()
	case "azure":
		azureCfg, err := BuildAzureConfig(cfg)
		if err != nil {
			return nil, err
		}
		store, err := azurestore.New(azureCfg)
		if err != nil {
			return nil, err
		}
		backend = retry.Wrap(store, loggingutil.WithSubsystem(logger, "storage", "retry"), clock.Real{}, retry.Config{
			MaxAttempts: cfg.StorageRetryMaxAttempts,
			BaseDelay:   cfg.StorageRetryBaseDelay,
			MaxDelay:    cfg.StorageRetryMaxDelay,
			Multiplier:  cfg.StorageRetryMultiplier,
		})
		logger.Debug("storage.azure.configured",
			"endpoint", store.Endpoint(),
			"shared_key", azureCfg.AccountKey != "",
			"sas", azureCfg.SASToken != "",
			"retry_attempts", cfg.StorageRetryMaxAttempts,
		)
	default:
		return nil, fmt.Errorf("store scheme %q not supported", u.Scheme)
	}
	if cfg.DisableStorageTracing {
		return backend, nil
	}
	return storagelog.Wrap(backend, loggingutil.WithSubsystem(logger, "storage", "backend"), strings.ToLower(u.Scheme)), nil
}

// OpenHandle opens the configured backend and returns a Handle for
// cfg.Container / cfg.Blob. Closing the returned backend is the caller's job.
func OpenHandle(ctx context.Context, cfg Config, logger pslog.Logger) (*Handle, Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(cfg.Blob) == "" {
		return nil, nil, fmt.Errorf("config: blob name required")
	}
	backend, err := OpenBackend(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return New(backend, cfg.Container, cfg.Blob, WithLogger(logger)), backend, nil
}

// BuildAzureConfig derives the Azure backend configuration from
// azure://account[/container] plus the Azure* fields and environment.
// Query parameters endpoint and sas override the corresponding fields.
func BuildAzureConfig(cfg Config) (azurestore.Config, error) {
	u, err := url.Parse(cfg.Store)
	if err != nil {
		return azurestore.Config{}, fmt.Errorf("parse store URL: %w", err)
	}
	if u.Scheme != "azure" {
		return azurestore.Config{}, fmt.Errorf("store scheme %q not supported", u.Scheme)
	}
	account := strings.TrimSpace(u.Host)
	if cfg.AzureAccount != "" {
		account = cfg.AzureAccount
	}
	if account == "" {
		account = firstEnv("PAGEBLOB_AZURE_ACCOUNT", "AZURE_STORAGE_ACCOUNT", "AZURE_STORAGE_ACCOUNT_NAME", "AZURE_ACCOUNT_NAME")
	}
	query := u.Query()
	endpoint := strings.TrimSpace(cfg.AzureEndpoint)
	if v := strings.TrimSpace(query.Get("endpoint")); v != "" {
		endpoint = v
	}
	accountKey := strings.TrimSpace(cfg.AzureAccountKey)
	if accountKey == "" {
		accountKey = firstEnv("PAGEBLOB_AZURE_KEY", "AZURE_STORAGE_ACCOUNT_KEY", "AZURE_ACCOUNT_KEY", "AZURE_STORAGE_KEY")
	}
	sas := strings.TrimSpace(cfg.AzureSASToken)
	if v := strings.TrimSpace(query.Get("sas")); v != "" {
		sas = v
	}
	if sas == "" {
		sas = firstEnv("PAGEBLOB_AZURE_SAS_TOKEN", "AZURE_STORAGE_SAS_TOKEN", "AZURE_SAS_TOKEN")
	}
	if account == "" && endpoint == "" {
		return azurestore.Config{}, fmt.Errorf("azure: account name required (set azure://account or AZURE_STORAGE_ACCOUNT)")
	}
	return azurestore.Config{
		Account:    account,
		AccountKey: accountKey,
		Endpoint:   endpoint,
		SASToken:   sas,
	}, nil
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if name == "" {
			continue
		}
		if val := strings.TrimSpace(os.Getenv(name)); val != "" {
			return val
		}
	}
	return ""
}
