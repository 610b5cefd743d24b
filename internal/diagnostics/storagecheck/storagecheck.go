package storagecheck

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/pageblob"
	azurestore "pkt.systems/pageblob/internal/storage/azure"
	"pkt.systems/pageblob/internal/uuidv7"
)

// Opener builds a backend from configuration; pageblob.OpenBackend satisfies it.
type Opener func(ctx context.Context, cfg pageblob.Config, logger pslog.Logger) (pageblob.Backend, error)

// CredentialSummary describes which credentials were selected for the store.
type CredentialSummary struct {
	Account   string
	HasSecret bool
	Source    string
}

// Result captures the outcome of verification.
type Result struct {
	Provider    string
	Container   string
	ProbeBlob   string
	Endpoint    string
	Credentials CredentialSummary
	Checks      []CheckResult
}

// Passed reports whether all checks succeeded.
func (r Result) Passed() bool {
	for _, check := range r.Checks {
		if check.Err != nil {
			return false
		}
	}
	return true
}

// CheckResult is one named probe and its error, if any.
type CheckResult struct {
	Name string
	Err  error
}

// VerifyStore opens the configured backend and runs the probe cycle against
// a throwaway blob in cfg.Container.
func VerifyStore(ctx context.Context, cfg pageblob.Config, open Opener, logger pslog.Logger) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	result, err := describe(cfg)
	if err != nil {
		return Result{}, err
	}
	backend, err := open(ctx, cfg, logger)
	if err != nil {
		return Result{}, err
	}
	defer backend.Close()
	result.ProbeBlob = "pageblob-diagnostics-" + uuidv7.Compact()
	result.Checks = VerifyBackend(ctx, backend, cfg.Container, result.ProbeBlob, logger)
	return result, nil
}

func describe(cfg pageblob.Config) (Result, error) {
	u, err := url.Parse(cfg.Store)
	if err != nil {
		return Result{}, fmt.Errorf("parse store URL: %w", err)
	}
	result := Result{Container: cfg.Container}
	switch strings.ToLower(u.Scheme) {
	case "azure":
		azureCfg, err := pageblob.BuildAzureConfig(cfg)
		if err != nil {
			return Result{}, err
		}
		endpoint := azureCfg.Endpoint
		if endpoint == "" {
			endpoint = fmt.Sprintf(pageblob.DefaultAzureEndpointPattern, azureCfg.Account)
		}
		result.Provider = "azure-blob"
		result.Endpoint = endpoint
		result.Credentials = CredentialSummary{
			Account:   azureCfg.Account,
			HasSecret: azureCfg.AccountKey != "" || azureCfg.SASToken != "",
			Source:    azureCredentialSource(azureCfg),
		}
	default:
		result.Provider = "memory"
	}
	return result, nil
}

// VerifyBackend drives a Handle through create, chunked write, read-back,
// auto-resize and delete on the probe blob. The probe blob is removed even
// when a step fails.
func VerifyBackend(ctx context.Context, backend pageblob.Backend, container, probe string, logger pslog.Logger) []CheckResult {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	h := pageblob.New(backend, container, probe, pageblob.WithLogger(logger))
	var checks []CheckResult
	run := func(name string, fn func(context.Context) error) {
		checks = append(checks, CheckResult{Name: name, Err: fn(ctx)})
	}
	defer func() {
		_ = h.DeleteIfExists(context.WithoutCancel(ctx))
	}()

	payload := probePayload(2)

	run("CreateContainer", func(ctx context.Context) error {
		return h.CreateContainerIfNotExists(ctx)
	})
	run("CreateProbeBlob", func(ctx context.Context) error {
		return h.Create(ctx, 2)
	})
	run("WritePages", func(ctx context.Context) error {
		written, err := h.SavePages(ctx, 0, 1, payload)
		if err != nil {
			return err
		}
		if written != len(payload) {
			return fmt.Errorf("wrote %d bytes, expected %d", written, len(payload))
		}
		return nil
	})
	run("ReadPages", func(ctx context.Context) error {
		got, err := h.Get(ctx, 0, 2)
		if err != nil {
			return err
		}
		if !bytes.Equal(got, payload) {
			return errors.New("read-back does not match written pages")
		}
		return nil
	})
	run("AutoResize", func(ctx context.Context) error {
		if _, err := h.AutoResizeAndSavePages(ctx, 2, 1, payload[:pageblob.PageSize], 4); err != nil {
			return err
		}
		h.Invalidate()
		pages, err := h.AvailablePages(ctx)
		if err != nil {
			return err
		}
		if pages != 4 {
			return fmt.Errorf("probe blob has %d pages after resize, expected 4", pages)
		}
		return nil
	})
	run("DeleteProbeBlob", func(ctx context.Context) error {
		return h.Delete(ctx)
	})
	run("ProbeBlobGone", func(ctx context.Context) error {
		_, err := h.Properties(ctx)
		if errors.Is(err, pageblob.ErrBlobNotFound) {
			return nil
		}
		if err == nil {
			return errors.New("probe blob still exists after delete")
		}
		return err
	})
	return checks
}

func probePayload(pages int) []byte {
	seed := uuidv7.New()
	payload := make([]byte, pages*pageblob.PageSize)
	for i := range payload {
		payload[i] = seed[i%len(seed)] ^ byte(i/pageblob.PageSize)
	}
	return payload
}

func azureCredentialSource(cfg azurestore.Config) string {
	switch {
	case cfg.SASToken != "":
		return "sas_token"
	case cfg.AccountKey != "":
		return "account_key"
	default:
		return ""
	}
}
