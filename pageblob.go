package pageblob

import (
	"context"
	"errors"
	"fmt"

	"pkt.systems/pageblob/internal/storage"
)

// Backend is the collaborator that persists pages: the Azure adapter in
// production, the in-memory store in tests.
type Backend = storage.Backend

// BlobProperties describes a blob as reported by its backend.
type BlobProperties = storage.BlobProperties

// BackendError carries an uninterpreted failure reported by a backend.
type BackendError = storage.BackendError

var (
	// ErrContainerNotFound is returned when the container does not exist.
	ErrContainerNotFound = storage.ErrContainerNotFound
	// ErrBlobNotFound is returned when the blob does not exist.
	ErrBlobNotFound = storage.ErrBlobNotFound
	// ErrOutOfRange is returned by backends for page ranges beyond the blob size.
	ErrOutOfRange = storage.ErrOutOfRange
	// ErrInvalidArgument is returned for negative offsets, a zero resize ratio
	// or a zero round-trip page budget.
	ErrInvalidArgument = storage.ErrInvalidArgument
	// ErrCapacityExceeded is matched by *CapacityError.
	ErrCapacityExceeded = errors.New("pageblob: capacity exceeded")
)

// CapacityError reports a strict write that does not fit the blob.
type CapacityError struct {
	Required  int
	Available int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("pageblob: can not save pages: requires blob with %d pages, available pages amount is %d", e.Required, e.Available)
}

// Is makes errors.Is(err, ErrCapacityExceeded) hold for *CapacityError.
func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacityExceeded
}

// Blob is the page blob contract. Operations are not safe for concurrent use
// on the same value; callers serialize access per blob.
type Blob interface {
	// ContainerName returns the container holding the blob.
	ContainerName() string
	// BlobName returns the blob name.
	BlobName() string

	// CreateContainerIfNotExists ensures the container exists.
	CreateContainerIfNotExists(ctx context.Context) error
	// Create creates (or replaces) the blob with exactly pages zero pages.
	Create(ctx context.Context, pages int) error
	// CreateIfNotExists creates the blob unless present. An existing blob keeps
	// whatever size it already has.
	CreateIfNotExists(ctx context.Context, pages int) error
	// AvailablePages returns the page count, consulting the backend only when
	// nothing is cached.
	AvailablePages(ctx context.Context) (int, error)
	// Resize truncates or zero-extends the blob to exactly pages pages.
	Resize(ctx context.Context, pages int) error
	// Get returns pages*PageSize bytes starting at startPage.
	Get(ctx context.Context, startPage, pages int) ([]byte, error)
	// SavePages pads payload to a page boundary and writes it at startPage in
	// rounds of at most maxPagesPerRoundTrip pages. It never grows the blob and
	// returns the padded length written. An empty payload writes nothing and
	// returns 0, nil without contacting the backend, so it succeeds even when
	// the blob or its container does not exist.
	SavePages(ctx context.Context, startPage, maxPagesPerRoundTrip int, payload []byte) (int, error)
	// AutoResizeAndSavePages grows the blob to a multiple of resizeRatio pages
	// when the write does not fit, then behaves like SavePages, including the
	// empty-payload no-op.
	AutoResizeAndSavePages(ctx context.Context, startPage, maxPagesPerRoundTrip int, payload []byte, resizeRatio int) (int, error)
	// Delete removes the blob, failing when absent.
	Delete(ctx context.Context) error
	// DeleteIfExists removes the blob when present.
	DeleteIfExists(ctx context.Context) error
	// Download returns the full blob contents.
	Download(ctx context.Context) ([]byte, error)
	// Properties returns the backend-reported blob properties.
	Properties(ctx context.Context) (BlobProperties, error)
}

var _ Blob = (*Handle)(nil)
