package pageblob

import (
	"fmt"

	"pkt.systems/pageblob/internal/storage"
)

// PageSize is the fixed page size in bytes. Blob sizes and write offsets are
// always whole numbers of pages.
const PageSize = storage.PageSize

// PagesForBytes returns the number of pages needed to hold n bytes.
func PagesForBytes(n int) int {
	if n <= 0 {
		return 0
	}
	return (n-1)/PageSize + 1
}

// PadToPageBoundary appends zero bytes to payload until its length is a
// multiple of PageSize. Padding is additive only. An empty payload maps to
// zero pages and is returned as is.
func PadToPageBoundary(payload []byte) []byte {
	padded := PagesForBytes(len(payload)) * PageSize
	if padded == len(payload) {
		return payload
	}
	// copy so spare capacity in the caller's backing array is never written
	out := make([]byte, padded)
	copy(out, payload)
	return out
}

// PagesNeededAfterAppend returns the blob size, in pages, required to hold
// dataLen bytes written at startPage. dataLen is expected to be page aligned.
func PagesNeededAfterAppend(startPage, dataLen int) int {
	return startPage + dataLen/PageSize
}

// GrowTarget rounds pagesNeeded up to the next multiple of resizeRatio.
func GrowTarget(pagesNeeded, resizeRatio int) (int, error) {
	if resizeRatio < 1 {
		return 0, fmt.Errorf("resize ratio %d must be >= 1: %w", resizeRatio, ErrInvalidArgument)
	}
	if pagesNeeded <= 0 {
		return 0, nil
	}
	return ((pagesNeeded-1)/resizeRatio + 1) * resizeRatio, nil
}
