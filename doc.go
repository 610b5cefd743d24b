// Package pageblob is a page-aligned blob storage abstraction. It creates,
// grows, reads and writes blobs made of fixed 512 byte pages on Azure Blob
// Storage page blobs, and ships an in-memory backend with the same semantics
// for tests.
//
// # Handles
//
// A Handle addresses one blob (container name plus blob name) through a
// Backend. The backend is either the Azure adapter, optionally wrapped by the
// retry and telemetry decorators, or the in-memory store:
//
//	backend, err := pageblob.OpenBackend(ctx, pageblob.Config{
//	    Store:           "azure://myaccount",
//	    AzureAccountKey: os.Getenv("AZURE_STORAGE_KEY"),
//	}, logger)
//	if err != nil { log.Fatal(err) }
//	defer backend.Close()
//
//	blob := pageblob.New(backend, "journals", "node-1", pageblob.WithLogger(logger))
//	if err := blob.CreateContainerIfNotExists(ctx); err != nil { ... }
//	if err := blob.CreateIfNotExists(ctx, 0); err != nil { ... }
//
// # Writes
//
// Payloads do not need to be page aligned: they are zero padded up to the
// next page boundary before being written. An empty payload writes nothing.
//
// SavePages never grows the blob. A write that would end past the last page
// fails with *CapacityError (errors.Is(err, ErrCapacityExceeded)) before any
// bytes are sent. AutoResizeAndSavePages first resizes the blob to the
// smallest multiple of the resize ratio that holds the write:
//
//	// 2048 pages = 1 MiB growth steps, at most 8192 pages (4 MiB) per request
//	n, err := blob.AutoResizeAndSavePages(ctx, startPage, 8192, payload, 2048)
//
// Large writes are split into rounds of at most maxPagesPerRoundTrip pages
// and issued one at a time in increasing page order. Writes spanning several
// rounds are not atomic: when a round fails the remaining rounds are skipped,
// the rounds before it stay applied and the returned byte count says how far
// the write got.
//
// # Size cache
//
// Each handle remembers the blob's page count after the first lookup.
// Create, CreateIfNotExists and Resize update it, Delete and DeleteIfExists
// clear it, and reads and page writes leave it alone. Handles do not see each
// other's changes; call Invalidate when another handle may have resized the
// blob.
//
// # Concurrency
//
// A Handle must not be used from several goroutines at once. Handles to the
// same blob are not coordinated in any way: the last writer wins.
package pageblob
