package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pkt.systems/pageblob/internal/clock"
	"pkt.systems/pageblob/internal/storage"
	"pkt.systems/pageblob/internal/uuidv7"
)

type page [storage.PageSize]byte

// Config configures the in-memory store behaviour.
type Config struct {
	// Clock stamps LastModified on blob properties. Defaults to clock.Real.
	Clock clock.Clock
}

// Store implements storage.Backend in-memory; intended for tests and local dev.
//
// A blob can only exist inside an existing container, and page counts change
// only through explicit create and resize calls. Container existence is always
// checked before blob existence.
type Store struct {
	mu         sync.RWMutex
	containers map[string]*containerEntry
	clock      clock.Clock
}

type containerEntry struct {
	blobs map[string]*blobEntry
}

type blobEntry struct {
	pages   []page
	etag    string
	updated time.Time
}

// New returns a ready to use in-memory store.
func New() *Store {
	return NewWithConfig(Config{})
}

// NewWithConfig returns a ready to use in-memory store wired according to cfg.
func NewWithConfig(cfg Config) *Store {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{
		containers: make(map[string]*containerEntry),
		clock:      clk,
	}
}

// Close satisfies storage.Backend but requires no action for the in-memory store.
func (s *Store) Close() error { return nil }

// ContainerExists reports whether the container has been created.
func (s *Store) ContainerExists(container string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.containers[container]
	return ok
}

// BlobExists reports whether the blob has been created.
func (s *Store) BlobExists(container, blob string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.containers[container]
	if !ok {
		return false
	}
	_, ok = c.blobs[blob]
	return ok
}

// PageCount returns the number of pages held by the blob and whether it exists.
func (s *Store) PageCount(container, blob string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.containers[container]
	if !ok {
		return 0, false
	}
	b, ok := c.blobs[blob]
	if !ok {
		return 0, false
	}
	return len(b.pages), true
}

// ListBlobs returns the sorted blob names stored in container.
func (s *Store) ListBlobs(container string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.containers[container]
	if !ok {
		return nil, storage.ErrContainerNotFound
	}
	names := make([]string, 0, len(c.blobs))
	for name := range c.blobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CreateContainerIfNotExists marks the container as existing.
func (s *Store) CreateContainerIfNotExists(_ context.Context, container string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.containers[container]; !ok {
		s.containers[container] = &containerEntry{blobs: make(map[string]*blobEntry)}
	}
	return nil
}

// GetBlobProperties returns the size and ETag of the blob.
func (s *Store) GetBlobProperties(_ context.Context, container, blob string) (storage.BlobProperties, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.lookupBlob(container, blob)
	if err != nil {
		return storage.BlobProperties{}, err
	}
	return b.properties(), nil
}

// CreatePageBlob creates or replaces the blob with pages zero pages.
func (s *Store) CreatePageBlob(_ context.Context, container, blob string, pages int) error {
	if err := storage.ValidateRange(0, pages); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookupContainer(container)
	if err != nil {
		return err
	}
	c.blobs[blob] = &blobEntry{
		pages:   make([]page, pages),
		etag:    uuidv7.NewString(),
		updated: s.clock.Now(),
	}
	return nil
}

// CreatePageBlobIfNotExists creates the blob unless it already exists. An
// existing blob keeps its current size.
func (s *Store) CreatePageBlobIfNotExists(_ context.Context, container, blob string, pages int) (storage.BlobProperties, error) {
	if err := storage.ValidateRange(0, pages); err != nil {
		return storage.BlobProperties{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookupContainer(container)
	if err != nil {
		return storage.BlobProperties{}, err
	}
	b, ok := c.blobs[blob]
	if !ok {
		b = &blobEntry{
			pages:   make([]page, pages),
			etag:    uuidv7.NewString(),
			updated: s.clock.Now(),
		}
		c.blobs[blob] = b
	}
	return b.properties(), nil
}

// ResizePageBlob truncates pages from the tail or appends zero pages.
func (s *Store) ResizePageBlob(_ context.Context, container, blob string, pages int) error {
	if err := storage.ValidateRange(0, pages); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.lookupBlob(container, blob)
	if err != nil {
		return err
	}
	switch {
	case pages < len(b.pages):
		b.pages = b.pages[:pages:pages]
	case pages > len(b.pages):
		b.pages = append(b.pages, make([]page, pages-len(b.pages))...)
	}
	b.touch(s.clock.Now())
	return nil
}

// GetPages returns a copy of count pages starting at startPage.
func (s *Store) GetPages(_ context.Context, container, blob string, startPage, count int) ([]byte, error) {
	if err := storage.ValidateRange(startPage, count); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.lookupBlob(container, blob)
	if err != nil {
		return nil, err
	}
	if startPage+count > len(b.pages) {
		return nil, fmt.Errorf("memory: get pages [%d,%d) of %d: %w", startPage, startPage+count, len(b.pages), storage.ErrOutOfRange)
	}
	out := make([]byte, 0, count*storage.PageSize)
	for i := startPage; i < startPage+count; i++ {
		out = append(out, b.pages[i][:]...)
	}
	return out, nil
}

// SavePages overwrites the pages covered by payload starting at startPage.
func (s *Store) SavePages(_ context.Context, container, blob string, startPage int, payload []byte) error {
	if err := storage.ValidateRange(startPage, 0); err != nil {
		return err
	}
	if err := storage.ValidatePayload(payload); err != nil {
		return err
	}
	count := len(payload) / storage.PageSize
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.lookupBlob(container, blob)
	if err != nil {
		return err
	}
	if startPage+count > len(b.pages) {
		return fmt.Errorf("memory: save pages [%d,%d) of %d: %w", startPage, startPage+count, len(b.pages), storage.ErrOutOfRange)
	}
	for i := 0; i < count; i++ {
		copy(b.pages[startPage+i][:], payload[i*storage.PageSize:(i+1)*storage.PageSize])
	}
	b.touch(s.clock.Now())
	return nil
}

// DeleteBlob removes the blob, failing when it does not exist.
func (s *Store) DeleteBlob(_ context.Context, container, blob string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookupBlob(container, blob); err != nil {
		return err
	}
	delete(s.containers[container].blobs, blob)
	return nil
}

// DeleteBlobIfExists removes the blob and its pages when present.
func (s *Store) DeleteBlobIfExists(_ context.Context, container, blob string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.containers[container]; ok {
		delete(c.blobs, blob)
	}
	return nil
}

// DownloadBlob returns a copy of every page of the blob.
func (s *Store) DownloadBlob(_ context.Context, container, blob string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.lookupBlob(container, blob)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(b.pages)*storage.PageSize)
	for i := range b.pages {
		out = append(out, b.pages[i][:]...)
	}
	return out, nil
}

func (s *Store) lookupContainer(container string) (*containerEntry, error) {
	c, ok := s.containers[container]
	if !ok {
		return nil, storage.ErrContainerNotFound
	}
	return c, nil
}

func (s *Store) lookupBlob(container, blob string) (*blobEntry, error) {
	c, err := s.lookupContainer(container)
	if err != nil {
		return nil, err
	}
	b, ok := c.blobs[blob]
	if !ok {
		return nil, storage.ErrBlobNotFound
	}
	return b, nil
}

func (b *blobEntry) touch(now time.Time) {
	b.etag = uuidv7.NewString()
	b.updated = now
}

func (b *blobEntry) properties() storage.BlobProperties {
	return storage.BlobProperties{
		Size:         int64(len(b.pages)) * storage.PageSize,
		ETag:         b.etag,
		LastModified: b.updated,
		ContentType:  storage.ContentTypeOctetStream,
	}
}
