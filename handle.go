package pageblob

import (
	"context"
	"fmt"

	"pkt.systems/pslog"

	"pkt.systems/pageblob/internal/loggingutil"
)

// Option customises a Handle.
type Option func(*Handle)

// WithLogger sets the logger used for growth and chunking decisions.
func WithLogger(logger pslog.Logger) Option {
	return func(h *Handle) {
		h.logger = logger
	}
}

// Handle addresses one page blob through a Backend and memoizes its page
// count. A Handle is not safe for concurrent use; callers serialize
// operations per blob.
type Handle struct {
	backend   Backend
	container string
	blob      string
	logger    pslog.Logger
	cache     SizeCache
}

// New returns a handle for container/blob on backend. Nothing is fetched
// until the first operation.
func New(backend Backend, container, blob string, opts ...Option) *Handle {
	h := &Handle{
		backend:   backend,
		container: container,
		blob:      blob,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.logger = loggingutil.WithSubsystem(h.logger, "pageblob.handle").With("container", container, "blob", blob)
	return h
}

// ContainerName returns the container holding the blob.
func (h *Handle) ContainerName() string { return h.container }

// BlobName returns the blob name.
func (h *Handle) BlobName() string { return h.blob }

// CachedPages exposes the size cache without consulting the backend.
func (h *Handle) CachedPages() (int, bool) { return h.cache.Get() }

// Invalidate drops the cached page count so the next AvailablePages call
// asks the backend again.
func (h *Handle) Invalidate() { h.cache.Clear() }

// CreateContainerIfNotExists ensures the container exists.
func (h *Handle) CreateContainerIfNotExists(ctx context.Context) error {
	return h.backend.CreateContainerIfNotExists(ctx, h.container)
}

// Create creates or replaces the blob with pages zero pages.
func (h *Handle) Create(ctx context.Context, pages int) error {
	if pages < 0 {
		return fmt.Errorf("create %d pages: %w", pages, ErrInvalidArgument)
	}
	if err := h.backend.CreatePageBlob(ctx, h.container, h.blob, pages); err != nil {
		return err
	}
	h.cache.Set(pages)
	h.logger.Debug("pageblob.create", "pages", pages)
	return nil
}

// CreateIfNotExists creates the blob unless present and caches whatever size
// the backend reports afterwards.
func (h *Handle) CreateIfNotExists(ctx context.Context, pages int) error {
	if pages < 0 {
		return fmt.Errorf("create %d pages: %w", pages, ErrInvalidArgument)
	}
	props, err := h.backend.CreatePageBlobIfNotExists(ctx, h.container, h.blob, pages)
	if err != nil {
		return err
	}
	h.cache.Set(props.PageCount())
	h.logger.Debug("pageblob.create_if_not_exists", "requested_pages", pages, "pages", props.PageCount())
	return nil
}

// AvailablePages returns the cached page count, fetching blob properties
// on a cache miss.
func (h *Handle) AvailablePages(ctx context.Context) (int, error) {
	if pages, ok := h.cache.Get(); ok {
		return pages, nil
	}
	props, err := h.backend.GetBlobProperties(ctx, h.container, h.blob)
	if err != nil {
		return 0, err
	}
	pages := props.PageCount()
	h.cache.Set(pages)
	h.logger.Trace("pageblob.size.fetched", "pages", pages)
	return pages, nil
}

// Resize truncates or zero-extends the blob to exactly pages pages.
func (h *Handle) Resize(ctx context.Context, pages int) error {
	if pages < 0 {
		return fmt.Errorf("resize to %d pages: %w", pages, ErrInvalidArgument)
	}
	if err := h.backend.ResizePageBlob(ctx, h.container, h.blob, pages); err != nil {
		return err
	}
	h.cache.Set(pages)
	h.logger.Debug("pageblob.resize", "pages", pages)
	return nil
}

// Get reads pages pages starting at startPage.
func (h *Handle) Get(ctx context.Context, startPage, pages int) ([]byte, error) {
	if startPage < 0 || pages < 0 {
		return nil, fmt.Errorf("get pages start=%d count=%d: %w", startPage, pages, ErrInvalidArgument)
	}
	return h.backend.GetPages(ctx, h.container, h.blob, startPage, pages)
}

// SavePages writes payload, padded to a page boundary, at startPage. The
// blob is never grown: a write past the available pages fails with
// *CapacityError before anything is sent. An empty payload is a no-op.
//
// On a failed round trip the returned count is the number of bytes already
// acknowledged by the backend; those pages stay written.
func (h *Handle) SavePages(ctx context.Context, startPage, maxPagesPerRoundTrip int, payload []byte) (int, error) {
	if err := validateWrite(startPage, maxPagesPerRoundTrip); err != nil {
		return 0, err
	}
	padded := PadToPageBoundary(payload)
	if len(padded) == 0 {
		return 0, nil
	}
	needed := PagesNeededAfterAppend(startPage, len(padded))
	available, err := h.AvailablePages(ctx)
	if err != nil {
		return 0, err
	}
	if needed > available {
		return 0, &CapacityError{Required: needed, Available: available}
	}
	return h.writeChunks(ctx, startPage, maxPagesPerRoundTrip, padded)
}

// AutoResizeAndSavePages grows the blob to GrowTarget(needed, resizeRatio)
// pages when the padded payload does not fit, then saves it like SavePages.
func (h *Handle) AutoResizeAndSavePages(ctx context.Context, startPage, maxPagesPerRoundTrip int, payload []byte, resizeRatio int) (int, error) {
	if err := validateWrite(startPage, maxPagesPerRoundTrip); err != nil {
		return 0, err
	}
	if resizeRatio < 1 {
		return 0, fmt.Errorf("resize ratio %d must be >= 1: %w", resizeRatio, ErrInvalidArgument)
	}
	padded := PadToPageBoundary(payload)
	if len(padded) == 0 {
		return 0, nil
	}
	needed := PagesNeededAfterAppend(startPage, len(padded))
	available, err := h.AvailablePages(ctx)
	if err != nil {
		return 0, err
	}
	if needed > available {
		target, err := GrowTarget(needed, resizeRatio)
		if err != nil {
			return 0, err
		}
		h.logger.Debug("pageblob.resize.grow", "needed_pages", needed, "available_pages", available, "target_pages", target, "resize_ratio", resizeRatio)
		if err := h.Resize(ctx, target); err != nil {
			return 0, err
		}
	}
	return h.SavePages(ctx, startPage, maxPagesPerRoundTrip, padded)
}

// Delete removes the blob and clears the cache. Fails when the blob is absent.
func (h *Handle) Delete(ctx context.Context) error {
	if err := h.backend.DeleteBlob(ctx, h.container, h.blob); err != nil {
		return err
	}
	h.cache.Clear()
	h.logger.Debug("pageblob.delete")
	return nil
}

// DeleteIfExists removes the blob when present and clears the cache.
func (h *Handle) DeleteIfExists(ctx context.Context) error {
	if err := h.backend.DeleteBlobIfExists(ctx, h.container, h.blob); err != nil {
		return err
	}
	h.cache.Clear()
	h.logger.Debug("pageblob.delete_if_exists")
	return nil
}

// Download returns every page of the blob.
func (h *Handle) Download(ctx context.Context) ([]byte, error) {
	return h.backend.DownloadBlob(ctx, h.container, h.blob)
}

// Properties returns the backend-reported blob properties. The size cache
// is left alone.
func (h *Handle) Properties(ctx context.Context) (BlobProperties, error) {
	return h.backend.GetBlobProperties(ctx, h.container, h.blob)
}

func validateWrite(startPage, maxPagesPerRoundTrip int) error {
	if startPage < 0 {
		return fmt.Errorf("start page %d: %w", startPage, ErrInvalidArgument)
	}
	if maxPagesPerRoundTrip < 1 {
		return fmt.Errorf("max pages per round trip %d must be >= 1: %w", maxPagesPerRoundTrip, ErrInvalidArgument)
	}
	return nil
}
