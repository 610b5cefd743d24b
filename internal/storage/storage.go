package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PageSize is the fixed page size, in bytes, of every page blob.
const PageSize = 512

// ContentTypeOctetStream is reported for page blobs created by the in-memory backend.
const ContentTypeOctetStream = "application/octet-stream"

var (
	// ErrContainerNotFound indicates the container does not exist.
	ErrContainerNotFound = errors.New("storage: container not found")
	// ErrBlobNotFound indicates the blob does not exist.
	ErrBlobNotFound = errors.New("storage: blob not found")
	// ErrOutOfRange indicates a page range outside the current blob size.
	ErrOutOfRange = errors.New("storage: page range out of bounds")
	// ErrInvalidArgument indicates a malformed page offset, count or payload.
	ErrInvalidArgument = errors.New("storage: invalid argument")
	// ErrNotImplemented is returned by decorators whose inner backend lacks a capability.
	ErrNotImplemented = errors.New("storage: not implemented")
)

// BlobProperties describes a page blob as reported by the backend.
type BlobProperties struct {
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
}

// PageCount returns the blob size expressed in whole pages.
func (p BlobProperties) PageCount() int {
	return int(p.Size / PageSize)
}

// Backend is the collaborator that persists page blobs. Every method addresses a
// blob by container and blob name; page offsets and counts are in units of
// PageSize and payloads are always page aligned.
type Backend interface {
	// CreateContainerIfNotExists creates the container, succeeding when it already exists.
	CreateContainerIfNotExists(ctx context.Context, container string) error
	// GetBlobProperties returns size and metadata of an existing blob.
	GetBlobProperties(ctx context.Context, container, blob string) (BlobProperties, error)
	// CreatePageBlob creates (or replaces) a zero-filled blob of exactly pages pages.
	CreatePageBlob(ctx context.Context, container, blob string, pages int) error
	// CreatePageBlobIfNotExists creates the blob unless it exists and returns the
	// properties of the blob that is present afterwards.
	CreatePageBlobIfNotExists(ctx context.Context, container, blob string, pages int) (BlobProperties, error)
	// ResizePageBlob truncates or zero-extends the blob to exactly pages pages.
	ResizePageBlob(ctx context.Context, container, blob string, pages int) error
	// GetPages returns count pages starting at startPage.
	GetPages(ctx context.Context, container, blob string, startPage, count int) ([]byte, error)
	// SavePages writes payload at startPage in a single round trip.
	SavePages(ctx context.Context, container, blob string, startPage int, payload []byte) error
	// DeleteBlob removes the blob, failing when it is absent.
	DeleteBlob(ctx context.Context, container, blob string) error
	// DeleteBlobIfExists removes the blob when present.
	DeleteBlobIfExists(ctx context.Context, container, blob string) error
	// DownloadBlob returns the full blob contents.
	DownloadBlob(ctx context.Context, container, blob string) ([]byte, error)
	// Close releases backend resources.
	Close() error
}

// BackendError wraps a failure reported by a backend that does not map onto one
// of the sentinel errors above.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// IsBackendError reports whether err carries a *BackendError.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

type transientError struct {
	err error
}

func (t transientError) Error() string { return t.err.Error() }
func (t transientError) Unwrap() error { return t.err }

// NewTransientError marks err as retryable.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err was marked as retryable.
func IsTransient(err error) bool {
	var te transientError
	return errors.As(err, &te)
}

// ValidateRange checks that a page offset and count are non-negative.
func ValidateRange(startPage, count int) error {
	if startPage < 0 {
		return fmt.Errorf("start page %d: %w", startPage, ErrInvalidArgument)
	}
	if count < 0 {
		return fmt.Errorf("page count %d: %w", count, ErrInvalidArgument)
	}
	return nil
}

// ValidatePayload checks that payload is a whole number of pages.
func ValidatePayload(payload []byte) error {
	if len(payload)%PageSize != 0 {
		return fmt.Errorf("payload length %d is not a multiple of %d: %w", len(payload), PageSize, ErrInvalidArgument)
	}
	return nil
}
