package pageblob

import "pkt.systems/pageblob/internal/storage/memory"

// Names used by NewMock.
const (
	MockContainer = "mock-container"
	MockBlob      = "mock-blob"
)

// NewMemoryBackend returns an empty in-memory backend. Several handles built
// on the same backend share its containers and blobs.
func NewMemoryBackend() Backend {
	return memory.New()
}

// NewMock returns a handle on a fresh in-memory backend. Neither the
// container nor the blob exists yet.
func NewMock(opts ...Option) *Handle {
	return New(memory.New(), MockContainer, MockBlob, opts...)
}
