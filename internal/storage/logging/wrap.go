package logging

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"pkt.systems/pslog"

	"pkt.systems/pageblob/internal/correlation"
	"pkt.systems/pageblob/internal/loggingutil"
	"pkt.systems/pageblob/internal/storage"
)

const instrumentationName = "pkt.systems/pageblob/storage"

// Option customises the decorator.
type Option func(*options)

type options struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

type backend struct {
	inner   storage.Backend
	logger  pslog.Logger
	tracer  trace.Tracer
	metrics *metrics
	sys     string
}

// Wrap decorates inner with trace/debug logging, one span per operation and
// operation, latency and byte counters.
func Wrap(inner storage.Backend, logger pslog.Logger, sys string, opts ...Option) storage.Backend {
	if inner == nil {
		return nil
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}
	if o.meterProvider == nil {
		o.meterProvider = otel.GetMeterProvider()
	}
	return &backend{
		inner:   inner,
		logger:  logger,
		tracer:  o.tracerProvider.Tracer(instrumentationName),
		metrics: newMetrics(o.meterProvider.Meter(instrumentationName), logger),
		sys:     sys,
	}
}

type call struct {
	b      *backend
	op     string
	span   trace.Span
	logger pslog.Logger
	begin  time.Time
}

func (b *backend) start(ctx context.Context, op, container, blob string) (context.Context, *call) {
	ctx, span := b.tracer.Start(ctx, "pageblob.storage."+op, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("pageblob.storage.operation", op),
		attribute.String("pageblob.sys", b.sys),
		attribute.String("pageblob.container", container),
	)
	corr := correlation.ID(ctx)
	logger := b.logger
	if ctxLogger, ok := loggingutil.FromContext(ctx); ok {
		logger = ctxLogger
	} else if corr != "" {
		logger = logger.With("cid", corr)
	}
	if corr != "" {
		span.SetAttributes(attribute.String("pageblob.correlation_id", corr))
	}
	logger = logger.With("container", container)
	if blob != "" {
		span.SetAttributes(attribute.String("pageblob.blob", blob))
		logger = logger.With("blob", blob)
	}
	logger.Trace("storage." + op + ".begin")
	return ctx, &call{b: b, op: op, span: span, logger: logger, begin: time.Now()}
}

// end closes the span, records metrics and logs the outcome with keyvals.
func (c *call) end(ctx context.Context, err error, keyvals ...any) {
	defer c.span.End()
	elapsed := time.Since(c.begin)
	result := resultOf(err)
	c.b.metrics.record(ctx, c.op, result, elapsed)
	c.span.SetAttributes(attribute.String("pageblob.storage.result", result))
	if err != nil {
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, result)
		c.logger.Debug("storage."+c.op+".error", append(keyvals, "result", result, "error", err, "elapsed", elapsed)...)
		return
	}
	c.span.SetStatus(codes.Ok, "")
	c.logger.Debug("storage."+c.op+".success", append(keyvals, "elapsed", elapsed)...)
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, storage.ErrContainerNotFound), errors.Is(err, storage.ErrBlobNotFound):
		return "not_found"
	case errors.Is(err, storage.ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, storage.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case storage.IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}

func (b *backend) CreateContainerIfNotExists(ctx context.Context, container string) error {
	ctx, c := b.start(ctx, "create_container", container, "")
	err := b.inner.CreateContainerIfNotExists(ctx, container)
	c.end(ctx, err)
	return err
}

func (b *backend) GetBlobProperties(ctx context.Context, container, blob string) (storage.BlobProperties, error) {
	ctx, c := b.start(ctx, "get_blob_properties", container, blob)
	props, err := b.inner.GetBlobProperties(ctx, container, blob)
	if err == nil {
		c.span.SetAttributes(attribute.Int64("pageblob.blob.size", props.Size))
	}
	c.end(ctx, err, "size", props.Size, "etag", props.ETag)
	return props, err
}

func (b *backend) CreatePageBlob(ctx context.Context, container, blob string, pages int) error {
	ctx, c := b.start(ctx, "create_page_blob", container, blob)
	c.span.SetAttributes(attribute.Int("pageblob.pages", pages))
	err := b.inner.CreatePageBlob(ctx, container, blob, pages)
	c.end(ctx, err, "pages", pages)
	return err
}

func (b *backend) CreatePageBlobIfNotExists(ctx context.Context, container, blob string, pages int) (storage.BlobProperties, error) {
	ctx, c := b.start(ctx, "create_page_blob_if_not_exists", container, blob)
	c.span.SetAttributes(attribute.Int("pageblob.pages", pages))
	props, err := b.inner.CreatePageBlobIfNotExists(ctx, container, blob, pages)
	c.end(ctx, err, "requested_pages", pages, "pages", props.PageCount())
	return props, err
}

func (b *backend) ResizePageBlob(ctx context.Context, container, blob string, pages int) error {
	ctx, c := b.start(ctx, "resize_page_blob", container, blob)
	c.span.SetAttributes(attribute.Int("pageblob.pages", pages))
	err := b.inner.ResizePageBlob(ctx, container, blob, pages)
	c.end(ctx, err, "pages", pages)
	return err
}

func (b *backend) GetPages(ctx context.Context, container, blob string, startPage, count int) ([]byte, error) {
	ctx, c := b.start(ctx, "get_pages", container, blob)
	c.span.SetAttributes(
		attribute.Int("pageblob.start_page", startPage),
		attribute.Int("pageblob.pages", count),
	)
	data, err := b.inner.GetPages(ctx, container, blob, startPage, count)
	if err == nil {
		b.metrics.addBytes(ctx, "read", len(data))
	}
	c.end(ctx, err, "start_page", startPage, "pages", count, "bytes", len(data))
	return data, err
}

func (b *backend) SavePages(ctx context.Context, container, blob string, startPage int, payload []byte) error {
	ctx, c := b.start(ctx, "save_pages", container, blob)
	pages := len(payload) / storage.PageSize
	c.span.SetAttributes(
		attribute.Int("pageblob.start_page", startPage),
		attribute.Int("pageblob.pages", pages),
	)
	err := b.inner.SavePages(ctx, container, blob, startPage, payload)
	if err == nil {
		b.metrics.addBytes(ctx, "write", len(payload))
	}
	c.end(ctx, err, "start_page", startPage, "pages", pages)
	return err
}

func (b *backend) DeleteBlob(ctx context.Context, container, blob string) error {
	ctx, c := b.start(ctx, "delete_blob", container, blob)
	err := b.inner.DeleteBlob(ctx, container, blob)
	c.end(ctx, err)
	return err
}

func (b *backend) DeleteBlobIfExists(ctx context.Context, container, blob string) error {
	ctx, c := b.start(ctx, "delete_blob_if_exists", container, blob)
	err := b.inner.DeleteBlobIfExists(ctx, container, blob)
	c.end(ctx, err)
	return err
}

func (b *backend) DownloadBlob(ctx context.Context, container, blob string) ([]byte, error) {
	ctx, c := b.start(ctx, "download_blob", container, blob)
	data, err := b.inner.DownloadBlob(ctx, container, blob)
	if err == nil {
		b.metrics.addBytes(ctx, "read", len(data))
	}
	c.end(ctx, err, "bytes", len(data))
	return data, err
}

func (b *backend) Close() error {
	ctx, c := b.start(context.Background(), "close", "", "")
	err := b.inner.Close()
	c.end(ctx, err)
	return err
}
