package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/pageblob"
)

func (a *app) newContainerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "container",
		Short: "Manage blob containers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create the configured container if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			backend, err := a.open(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer backend.Close()
			if err := backend.CreateContainerIfNotExists(ctx, a.cfg.Container); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "container %s ready\n", a.cfg.Container)
			return err
		},
	})
	return cmd
}

func (a *app) newCreateCommand() *cobra.Command {
	var (
		pages       int
		size        string
		ifNotExists bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create (or replace) a page blob",
		Long: `Create a page blob of the given size. Without --if-not-exists an existing
blob is replaced by a zero-filled one. Sizes are rounded up to 512-byte pages.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parsePages(pages, size)
			if err != nil {
				return err
			}
			h, closeFn, err := a.handle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			if ifNotExists {
				err = h.CreateIfNotExists(cmd.Context(), n)
			} else {
				err = h.Create(cmd.Context(), n)
			}
			if err != nil {
				return err
			}
			available, _ := h.CachedPages()
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s/%s: %d pages (%s)\n",
				h.ContainerName(), h.BlobName(), available, humanizeBytes(int64(available)*pageblob.PageSize))
			return err
		},
	}
	cmd.Flags().IntVar(&pages, "pages", 0, "size in 512-byte pages")
	cmd.Flags().StringVar(&size, "size", "", "size in bytes (e.g. 4MiB), rounded up to whole pages")
	cmd.Flags().BoolVar(&ifNotExists, "if-not-exists", false, "keep an existing blob untouched")
	return cmd
}

func (a *app) newResizeCommand() *cobra.Command {
	var (
		pages int
		size  string
	)
	cmd := &cobra.Command{
		Use:   "resize",
		Short: "Set the size of a page blob",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parsePages(pages, size)
			if err != nil {
				return err
			}
			h, closeFn, err := a.handle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			if err := h.Resize(cmd.Context(), n); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s/%s: %d pages (%s)\n",
				h.ContainerName(), h.BlobName(), n, humanizeBytes(int64(n)*pageblob.PageSize))
			return err
		},
	}
	cmd.Flags().IntVar(&pages, "pages", 0, "new size in 512-byte pages")
	cmd.Flags().StringVar(&size, "size", "", "new size in bytes (e.g. 8MiB), rounded up to whole pages")
	return cmd
}

type blobInfo struct {
	Container    string    `yaml:"container"`
	Blob         string    `yaml:"blob"`
	Pages        int       `yaml:"pages"`
	SizeBytes    int64     `yaml:"size_bytes"`
	ETag         string    `yaml:"etag,omitempty"`
	LastModified time.Time `yaml:"last_modified,omitempty"`
	ContentType  string    `yaml:"content_type,omitempty"`
}

func (a *app) newInfoCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show page blob properties",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, closeFn, err := a.handle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			props, err := h.Properties(cmd.Context())
			if err != nil {
				return err
			}
			info := blobInfo{
				Container:    h.ContainerName(),
				Blob:         h.BlobName(),
				Pages:        props.PageCount(),
				SizeBytes:    props.Size,
				ETag:         props.ETag,
				LastModified: props.LastModified,
				ContentType:  props.ContentType,
			}
			out := cmd.OutOrStdout()
			switch strings.ToLower(strings.TrimSpace(output)) {
			case "yaml", "yml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(info); err != nil {
					return err
				}
				return enc.Close()
			case "", "text":
				fmt.Fprintf(out, "Container: %s\n", info.Container)
				fmt.Fprintf(out, "Blob: %s\n", info.Blob)
				fmt.Fprintf(out, "Size: %s (%d bytes, %d pages)\n", humanizeBytes(info.SizeBytes), info.SizeBytes, info.Pages)
				if info.ETag != "" {
					fmt.Fprintf(out, "ETag: %s\n", info.ETag)
				}
				if !info.LastModified.IsZero() {
					fmt.Fprintf(out, "LastModified: %s\n", info.LastModified.UTC().Format(time.RFC3339))
				}
				return nil
			default:
				return fmt.Errorf("unknown --output %q (use text or yaml)", output)
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, yaml)")
	return cmd
}

func (a *app) newReadCommand() *cobra.Command {
	var (
		start   int
		pages   int
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read a page range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, closeFn, err := a.handle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			data, err := h.Get(cmd.Context(), start, pages)
			if err != nil {
				return err
			}
			return writeOutput(cmd, outPath, data)
		},
	}
	cmd.Flags().IntVar(&start, "start", 0, "first page to read")
	cmd.Flags().IntVar(&pages, "pages", 1, "number of pages to read")
	cmd.Flags().StringVar(&outPath, "out", "-", "output file (- for stdout)")
	return cmd
}

func (a *app) newWriteCommand() *cobra.Command {
	var (
		start      int
		inPath     string
		autoResize bool
	)
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write bytes at a page offset",
		Long: `Write the input (zero-padded to whole pages) starting at --start. Writes
larger than --max-pages are split into sequential round trips. With
--auto-resize the blob grows to the next multiple of --resize-ratio pages
when the write does not fit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readInput(cmd, inPath)
			if err != nil {
				return err
			}
			h, closeFn, err := a.handle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			var written int
			if autoResize {
				written, err = h.AutoResizeAndSavePages(cmd.Context(), start, a.cfg.MaxPagesPerRoundTrip, payload, a.cfg.ResizeRatio)
			} else {
				written, err = h.SavePages(cmd.Context(), start, a.cfg.MaxPagesPerRoundTrip, payload)
			}
			if err != nil {
				if written > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "partial write: %s acknowledged before failure\n", humanizeBytes(int64(written)))
				}
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes) at page %d\n", humanizeBytes(int64(written)), written, start)
			return err
		},
	}
	cmd.Flags().IntVar(&start, "start", 0, "first page to write")
	cmd.Flags().StringVar(&inPath, "in", "-", "input file (- for stdin)")
	cmd.Flags().BoolVar(&autoResize, "auto-resize", false, "grow the blob when the write does not fit")
	return cmd
}

func (a *app) newDownloadCommand() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download the whole blob",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, closeFn, err := a.handle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			data, err := h.Download(cmd.Context())
			if err != nil {
				return err
			}
			return writeOutput(cmd, outPath, data)
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "-", "output file (- for stdout)")
	return cmd
}

func (a *app) newDeleteCommand() *cobra.Command {
	var ifExists bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a page blob and its snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, closeFn, err := a.handle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			if ifExists {
				err = h.DeleteIfExists(cmd.Context())
			} else {
				err = h.Delete(cmd.Context())
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s/%s\n", h.ContainerName(), h.BlobName())
			return err
		},
	}
	cmd.Flags().BoolVar(&ifExists, "if-exists", false, "succeed when the blob or container is missing")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}

func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
