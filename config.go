package pageblob

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	azurestore "pkt.systems/pageblob/internal/storage/azure"
)

const (
	// DefaultStore keeps blobs in process memory.
	DefaultStore = "mem://"
	// DefaultContainer is used when neither the config nor the store URL names one.
	DefaultContainer = "pageblob"
	// DefaultMaxPagesPerRoundTrip matches the 4 MiB Azure Put Page limit.
	DefaultMaxPagesPerRoundTrip = azurestore.MaxPagesPerRequest
	// DefaultResizeRatio grows blobs in 1 MiB steps.
	DefaultResizeRatio = 2048
	// DefaultStorageRetryMaxAttempts describes how many transient storage errors are retried.
	DefaultStorageRetryMaxAttempts = 6
	// DefaultStorageRetryBaseDelay configures the base delay between storage retries.
	DefaultStorageRetryBaseDelay = 100 * time.Millisecond
	// DefaultStorageRetryMaxDelay caps the exponential backoff between storage retries.
	DefaultStorageRetryMaxDelay = 5 * time.Second
	// DefaultStorageRetryMultiplier defines the exponential backoff ratio.
	DefaultStorageRetryMultiplier = 2.0
	// DefaultAzureEndpointPattern expands Azure account names into their HTTPS endpoint.
	DefaultAzureEndpointPattern = azurestore.DefaultEndpointPattern
	// DefaultAzureEndpointHelp documents the Azure endpoint format in CLI help output.
	DefaultAzureEndpointHelp = "https://<account>.blob.core.windows.net"
	// DefaultConfigFileName is looked up inside DefaultConfigDir.
	DefaultConfigFileName = "config.yaml"
)

// Config captures everything needed to open a backend and address one blob.
type Config struct {
	// Store selects the backend: mem:// or azure://<account>[/<container>].
	Store string
	// Container overrides the container named in Store.
	Container string
	// Blob is the page blob name.
	Blob string

	// AzureAccount is the Azure storage account name.
	AzureAccount string
	// AzureAccountKey is the shared-key credential for Azure Blob.
	AzureAccountKey string
	// AzureEndpoint overrides the Azure Blob endpoint URL.
	AzureEndpoint string
	// AzureSASToken configures SAS-token auth for Azure Blob.
	AzureSASToken string

	// MaxPagesPerRoundTrip bounds the pages sent in one write request.
	MaxPagesPerRoundTrip int
	// ResizeRatio is the page multiple blobs grow to when auto-resizing.
	ResizeRatio int

	// StorageRetryMaxAttempts caps transient backend retry attempts. 1 disables retries.
	StorageRetryMaxAttempts int
	// StorageRetryBaseDelay is the exponential retry base delay.
	StorageRetryBaseDelay time.Duration
	// StorageRetryMaxDelay caps backend retry backoff.
	StorageRetryMaxDelay time.Duration
	// StorageRetryMultiplier is the exponential growth factor for backend retries.
	StorageRetryMultiplier float64
	// DisableStorageTracing skips the span/metric/log decorator around the backend.
	DisableStorageTracing bool

	// OTLPEndpoint exports traces when set (grpc://, grpcs://, http://, https:// or host:port).
	OTLPEndpoint string
	// MetricsListen serves Prometheus metrics on /metrics when set.
	MetricsListen string
	// EnableRuntimeMetrics adds Go runtime metrics to the Prometheus endpoint.
	EnableRuntimeMetrics bool
}

// Validate fills defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	c.Store = strings.TrimSpace(c.Store)
	if c.Store == "" {
		c.Store = DefaultStore
	}
	u, err := url.Parse(c.Store)
	if err != nil {
		return fmt.Errorf("config: parse store URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "mem", "memory":
	case "azure":
		if c.Container == "" {
			c.Container = storeContainer(u)
		}
	default:
		return fmt.Errorf("config: store scheme %q not supported (use mem:// or azure://)", u.Scheme)
	}
	if c.Container == "" {
		c.Container = DefaultContainer
	}

	if c.MaxPagesPerRoundTrip == 0 {
		c.MaxPagesPerRoundTrip = DefaultMaxPagesPerRoundTrip
	}
	if c.MaxPagesPerRoundTrip < 1 {
		return fmt.Errorf("config: max pages per round trip must be >= 1, got %d", c.MaxPagesPerRoundTrip)
	}
	if scheme == "azure" && c.MaxPagesPerRoundTrip > azurestore.MaxPagesPerRequest {
		return fmt.Errorf("config: azure accepts at most %d pages per round trip, got %d", azurestore.MaxPagesPerRequest, c.MaxPagesPerRoundTrip)
	}
	if c.ResizeRatio == 0 {
		c.ResizeRatio = DefaultResizeRatio
	}
	if c.ResizeRatio < 1 {
		return fmt.Errorf("config: resize ratio must be >= 1, got %d", c.ResizeRatio)
	}

	if c.StorageRetryMaxAttempts <= 0 {
		c.StorageRetryMaxAttempts = DefaultStorageRetryMaxAttempts
	}
	if c.StorageRetryBaseDelay <= 0 {
		c.StorageRetryBaseDelay = DefaultStorageRetryBaseDelay
	}
	if c.StorageRetryMultiplier <= 0 {
		c.StorageRetryMultiplier = DefaultStorageRetryMultiplier
	}
	if c.StorageRetryMaxDelay <= 0 {
		c.StorageRetryMaxDelay = DefaultStorageRetryMaxDelay
	}
	if c.StorageRetryMaxDelay < c.StorageRetryBaseDelay {
		return fmt.Errorf("config: storage retry max delay %s is below base delay %s", c.StorageRetryMaxDelay, c.StorageRetryBaseDelay)
	}
	if c.EnableRuntimeMetrics && strings.TrimSpace(c.MetricsListen) == "" {
		return fmt.Errorf("config: runtime metrics require a metrics listen address")
	}
	return nil
}

func storeContainer(u *url.URL) string {
	path := strings.Trim(u.Path, "/")
	if idx := strings.Index(path, "/"); idx >= 0 {
		path = path[:idx]
	}
	return path
}

// DefaultConfigDir returns the default configuration directory ($HOME/.pageblob),
// overridable with PAGEBLOB_CONFIG_DIR.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("PAGEBLOB_CONFIG_DIR")); override != "" {
		return filepath.Abs(override)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".pageblob"), nil
}

// DefaultConfigPath returns the config file looked up when --config is not given.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFileName), nil
}
