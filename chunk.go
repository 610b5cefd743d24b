package pageblob

import (
	"context"
	"fmt"
)

// writeChunks issues payload to the backend in rounds of at most maxPages
// pages, strictly in increasing page order and one at a time. The first
// failing round aborts the rest; earlier rounds are not rolled back. The
// returned count covers the rounds the backend acknowledged.
func (h *Handle) writeChunks(ctx context.Context, startPage, maxPages int, payload []byte) (int, error) {
	totalPages := len(payload) / PageSize
	if totalPages <= maxPages {
		h.logger.Trace("pageblob.save_pages.round", "start_page", startPage, "pages", totalPages)
		if err := h.backend.SavePages(ctx, h.container, h.blob, startPage, payload); err != nil {
			return 0, err
		}
		return len(payload), nil
	}

	chunkBytes := maxPages * PageSize
	rounds := (totalPages + maxPages - 1) / maxPages
	h.logger.Debug("pageblob.save_pages.chunked", "start_page", startPage, "pages", totalPages, "max_pages_per_round_trip", maxPages, "rounds", rounds)

	page := startPage
	written := 0
	for written < len(payload) {
		end := written + chunkBytes
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[written:end]
		h.logger.Trace("pageblob.save_pages.round", "start_page", page, "pages", len(chunk)/PageSize)
		if err := h.backend.SavePages(ctx, h.container, h.blob, page, chunk); err != nil {
			h.logger.Warn("pageblob.save_pages.aborted", "failed_page", page, "written_bytes", written, "error", err)
			return written, fmt.Errorf("save pages at page %d: %w", page, err)
		}
		page += len(chunk) / PageSize
		written = end
	}
	return written, nil
}
