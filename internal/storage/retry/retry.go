package retry

import (
	"context"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/pageblob/internal/clock"
	"pkt.systems/pageblob/internal/storage"
)

// Config controls retry behaviour.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// Wrap returns a backend that retries errors marked with
// storage.NewTransientError, backing off exponentially between attempts.
// Every page blob operation is safe to repeat: page writes overwrite, create
// replaces and resize sets an absolute size.
func Wrap(inner storage.Backend, logger pslog.Logger, clk clock.Clock, cfg Config) storage.Backend {
	if inner == nil {
		return nil
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 50 * time.Millisecond
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 2 * time.Second
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &backend{inner: inner, logger: logger, clock: clk, cfg: cfg}
}

type backend struct {
	inner  storage.Backend
	logger pslog.Logger
	clock  clock.Clock
	cfg    Config
}

func (b *backend) CreateContainerIfNotExists(ctx context.Context, container string) error {
	return b.withRetry(ctx, "create_container", container, "", func(ctx context.Context) error {
		return b.inner.CreateContainerIfNotExists(ctx, container)
	})
}

func (b *backend) GetBlobProperties(ctx context.Context, container, blob string) (storage.BlobProperties, error) {
	var props storage.BlobProperties
	err := b.withRetry(ctx, "get_blob_properties", container, blob, func(ctx context.Context) error {
		var err error
		props, err = b.inner.GetBlobProperties(ctx, container, blob)
		return err
	})
	return props, err
}

func (b *backend) CreatePageBlob(ctx context.Context, container, blob string, pages int) error {
	return b.withRetry(ctx, "create_page_blob", container, blob, func(ctx context.Context) error {
		return b.inner.CreatePageBlob(ctx, container, blob, pages)
	})
}

func (b *backend) CreatePageBlobIfNotExists(ctx context.Context, container, blob string, pages int) (storage.BlobProperties, error) {
	var props storage.BlobProperties
	err := b.withRetry(ctx, "create_page_blob_if_not_exists", container, blob, func(ctx context.Context) error {
		var err error
		props, err = b.inner.CreatePageBlobIfNotExists(ctx, container, blob, pages)
		return err
	})
	return props, err
}

func (b *backend) ResizePageBlob(ctx context.Context, container, blob string, pages int) error {
	return b.withRetry(ctx, "resize_page_blob", container, blob, func(ctx context.Context) error {
		return b.inner.ResizePageBlob(ctx, container, blob, pages)
	})
}

func (b *backend) GetPages(ctx context.Context, container, blob string, startPage, count int) ([]byte, error) {
	var data []byte
	err := b.withRetry(ctx, "get_pages", container, blob, func(ctx context.Context) error {
		var err error
		data, err = b.inner.GetPages(ctx, container, blob, startPage, count)
		return err
	})
	return data, err
}

func (b *backend) SavePages(ctx context.Context, container, blob string, startPage int, payload []byte) error {
	return b.withRetry(ctx, "save_pages", container, blob, func(ctx context.Context) error {
		return b.inner.SavePages(ctx, container, blob, startPage, payload)
	})
}

func (b *backend) DeleteBlob(ctx context.Context, container, blob string) error {
	return b.withRetry(ctx, "delete_blob", container, blob, func(ctx context.Context) error {
		return b.inner.DeleteBlob(ctx, container, blob)
	})
}

func (b *backend) DeleteBlobIfExists(ctx context.Context, container, blob string) error {
	return b.withRetry(ctx, "delete_blob_if_exists", container, blob, func(ctx context.Context) error {
		return b.inner.DeleteBlobIfExists(ctx, container, blob)
	})
}

func (b *backend) DownloadBlob(ctx context.Context, container, blob string) ([]byte, error) {
	var data []byte
	err := b.withRetry(ctx, "download_blob", container, blob, func(ctx context.Context) error {
		var err error
		data, err = b.inner.DownloadBlob(ctx, container, blob)
		return err
	})
	return data, err
}

func (b *backend) Close() error {
	return b.inner.Close()
}

func (b *backend) withRetry(ctx context.Context, op, container, blob string, fn func(context.Context) error) error {
	attempts := b.cfg.MaxAttempts
	if attempts <= 1 {
		return fn(ctx)
	}
	delay := b.cfg.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !storage.IsTransient(err) || attempt == attempts {
			return err
		}
		b.logger.Warn("storage.retry.transient",
			"operation", op,
			"container", container,
			"blob", blob,
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", delay,
			"error", err,
		)
		if err := clock.Sleep(ctx, b.clock, delay); err != nil {
			return err
		}
		next := time.Duration(float64(delay) * b.cfg.Multiplier)
		if next > b.cfg.MaxDelay {
			next = b.cfg.MaxDelay
		}
		delay = next
	}
	return lastErr
}
