package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"pkt.systems/pageblob/internal/clock"
	"pkt.systems/pageblob/internal/storage"
)

const (
	testContainer = "pages"
	testBlob      = "journal"
)

func filled(pages int, b byte) []byte {
	return bytes.Repeat([]byte{b}, pages*storage.PageSize)
}

func TestContainerCheckedBeforeBlob(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.GetPages(ctx, testContainer, testBlob, 0, 1); !errors.Is(err, storage.ErrContainerNotFound) {
		t.Fatalf("expected container not found, got %v", err)
	}
	if err := store.CreatePageBlob(ctx, testContainer, testBlob, 1); !errors.Is(err, storage.ErrContainerNotFound) {
		t.Fatalf("create without container: expected container not found, got %v", err)
	}
	if err := store.CreateContainerIfNotExists(ctx, testContainer); err != nil {
		t.Fatalf("create container: %v", err)
	}
	if err := store.CreateContainerIfNotExists(ctx, testContainer); err != nil {
		t.Fatalf("create container twice: %v", err)
	}
	if _, err := store.GetPages(ctx, testContainer, testBlob, 0, 1); !errors.Is(err, storage.ErrBlobNotFound) {
		t.Fatalf("expected blob not found, got %v", err)
	}
	if _, err := store.GetBlobProperties(ctx, testContainer, testBlob); !errors.Is(err, storage.ErrBlobNotFound) {
		t.Fatalf("properties: expected blob not found, got %v", err)
	}
	if !store.ContainerExists(testContainer) || store.BlobExists(testContainer, testBlob) {
		t.Fatal("unexpected existence state")
	}
}

func TestResizeTruncatesTailAndAppendsZeroPages(t *testing.T) {
	store := New()
	ctx := context.Background()
	if err := store.CreateContainerIfNotExists(ctx, testContainer); err != nil {
		t.Fatalf("create container: %v", err)
	}
	if err := store.CreatePageBlob(ctx, testContainer, testBlob, 4); err != nil {
		t.Fatalf("create blob: %v", err)
	}
	payload := append(filled(1, 'a'), filled(1, 'b')...)
	payload = append(payload, filled(1, 'c')...)
	payload = append(payload, filled(1, 'd')...)
	if err := store.SavePages(ctx, testContainer, testBlob, 0, payload); err != nil {
		t.Fatalf("save pages: %v", err)
	}

	if err := store.ResizePageBlob(ctx, testContainer, testBlob, 2); err != nil {
		t.Fatalf("resize down: %v", err)
	}
	if n, _ := store.PageCount(testContainer, testBlob); n != 2 {
		t.Fatalf("expected 2 pages, got %d", n)
	}
	if _, err := store.GetPages(ctx, testContainer, testBlob, 0, 3); !errors.Is(err, storage.ErrOutOfRange) {
		t.Fatalf("expected out of range after truncation, got %v", err)
	}

	if err := store.ResizePageBlob(ctx, testContainer, testBlob, 3); err != nil {
		t.Fatalf("resize up: %v", err)
	}
	got, err := store.GetPages(ctx, testContainer, testBlob, 0, 3)
	if err != nil {
		t.Fatalf("get pages: %v", err)
	}
	want := append(filled(1, 'a'), filled(1, 'b')...)
	want = append(want, filled(1, 0)...)
	if !bytes.Equal(got, want) {
		t.Fatal("resize must keep the head, drop the tail and append zero pages")
	}
}

func TestCreateIfNotExistsKeepsExistingSize(t *testing.T) {
	store := New()
	ctx := context.Background()
	if err := store.CreateContainerIfNotExists(ctx, testContainer); err != nil {
		t.Fatalf("create container: %v", err)
	}
	props, err := store.CreatePageBlobIfNotExists(ctx, testContainer, testBlob, 3)
	if err != nil {
		t.Fatalf("create if not exists: %v", err)
	}
	if props.PageCount() != 3 {
		t.Fatalf("expected 3 pages, got %d", props.PageCount())
	}
	props, err = store.CreatePageBlobIfNotExists(ctx, testContainer, testBlob, 10)
	if err != nil {
		t.Fatalf("create if not exists again: %v", err)
	}
	if props.PageCount() != 3 {
		t.Fatalf("existing blob must keep its size, got %d pages", props.PageCount())
	}
	if err := store.CreatePageBlob(ctx, testContainer, testBlob, 5); err != nil {
		t.Fatalf("create replaces: %v", err)
	}
	if n, _ := store.PageCount(testContainer, testBlob); n != 5 {
		t.Fatalf("create must replace the blob, got %d pages", n)
	}
}

func TestSavePagesRejectsUnalignedAndOutOfRange(t *testing.T) {
	store := New()
	ctx := context.Background()
	_ = store.CreateContainerIfNotExists(ctx, testContainer)
	if err := store.CreatePageBlob(ctx, testContainer, testBlob, 2); err != nil {
		t.Fatalf("create blob: %v", err)
	}
	if err := store.SavePages(ctx, testContainer, testBlob, 0, []byte("x")); !errors.Is(err, storage.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if err := store.SavePages(ctx, testContainer, testBlob, 1, filled(2, 'z')); !errors.Is(err, storage.ErrOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
	if err := store.SavePages(ctx, testContainer, testBlob, -1, filled(1, 'z')); !errors.Is(err, storage.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for negative start, got %v", err)
	}
}

func TestDeleteSemantics(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.DeleteBlobIfExists(ctx, testContainer, testBlob); err != nil {
		t.Fatalf("delete if exists on fresh store: %v", err)
	}
	if store.ContainerExists(testContainer) {
		t.Fatal("delete if exists must not create state")
	}
	_ = store.CreateContainerIfNotExists(ctx, testContainer)
	if err := store.DeleteBlob(ctx, testContainer, testBlob); !errors.Is(err, storage.ErrBlobNotFound) {
		t.Fatalf("expected blob not found, got %v", err)
	}
	if err := store.CreatePageBlob(ctx, testContainer, testBlob, 1); err != nil {
		t.Fatalf("create blob: %v", err)
	}
	if err := store.DeleteBlob(ctx, testContainer, testBlob); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if store.BlobExists(testContainer, testBlob) {
		t.Fatal("blob still exists after delete")
	}
	if !store.ContainerExists(testContainer) {
		t.Fatal("deleting a blob must keep the container")
	}
}

func TestDownloadAndPropertiesTrackMutations(t *testing.T) {
	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	clk := clock.NewManual(start)
	store := NewWithConfig(Config{Clock: clk})
	ctx := context.Background()
	_ = store.CreateContainerIfNotExists(ctx, testContainer)
	if err := store.CreatePageBlob(ctx, testContainer, testBlob, 2); err != nil {
		t.Fatalf("create blob: %v", err)
	}
	before, err := store.GetBlobProperties(ctx, testContainer, testBlob)
	if err != nil {
		t.Fatalf("properties: %v", err)
	}
	if before.Size != 2*storage.PageSize || !before.LastModified.Equal(start) || before.ETag == "" {
		t.Fatalf("unexpected properties: %+v", before)
	}

	clk.Advance(time.Minute)
	if err := store.SavePages(ctx, testContainer, testBlob, 1, filled(1, 'q')); err != nil {
		t.Fatalf("save pages: %v", err)
	}
	after, err := store.GetBlobProperties(ctx, testContainer, testBlob)
	if err != nil {
		t.Fatalf("properties: %v", err)
	}
	if after.ETag == before.ETag {
		t.Fatal("expected etag to change after write")
	}
	if !after.LastModified.Equal(start.Add(time.Minute)) {
		t.Fatalf("unexpected last modified %v", after.LastModified)
	}

	data, err := store.DownloadBlob(ctx, testContainer, testBlob)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if !bytes.Equal(data, append(filled(1, 0), filled(1, 'q')...)) {
		t.Fatal("download returned unexpected content")
	}
	names, err := store.ListBlobs(testContainer)
	if err != nil || len(names) != 1 || names[0] != testBlob {
		t.Fatalf("unexpected blob listing %v (%v)", names, err)
	}
}
