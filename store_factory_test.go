package pageblob

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"pkt.systems/pageblob/internal/storage/memory"
)

func TestOpenBackendMemory(t *testing.T) {
	cfg := Config{Store: "mem://", DisableStorageTracing: true}
	backend, err := OpenBackend(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	defer backend.Close()
	if _, ok := backend.(*memory.Store); !ok {
		t.Fatalf("expected memory backend, got %T", backend)
	}
}

func TestOpenBackendMemoryTraced(t *testing.T) {
	backend, err := OpenBackend(context.Background(), Config{Store: "memory://"}, nil)
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	defer backend.Close()
	if _, ok := backend.(*memory.Store); ok {
		t.Fatal("expected telemetry decorator around memory store")
	}
	ctx := context.Background()
	if err := backend.CreateContainerIfNotExists(ctx, "c"); err != nil {
		t.Fatalf("create container: %v", err)
	}
	if _, err := backend.GetBlobProperties(ctx, "c", "missing"); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("expected blob not found through decorator, got %v", err)
	}
}

func TestOpenBackendUnknownScheme(t *testing.T) {
	if _, err := OpenBackend(context.Background(), Config{Store: "s3://bucket"}, nil); err == nil {
		t.Fatal("expected unsupported scheme error")
	}
}

func TestOpenBackendAzureNoNetwork(t *testing.T) {
	cfg := Config{
		Store:           "azure://acct/journals",
		AzureAccountKey: "c2VjcmV0",
	}
	backend, err := OpenBackend(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	if err := backend.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestOpenHandleRoundTrip(t *testing.T) {
	ctx := context.Background()
	h, backend, err := OpenHandle(ctx, Config{Container: "c", Blob: "b"}, nil)
	if err != nil {
		t.Fatalf("open handle: %v", err)
	}
	defer backend.Close()
	if h.ContainerName() != "c" || h.BlobName() != "b" {
		t.Fatalf("unexpected names %q/%q", h.ContainerName(), h.BlobName())
	}
	if err := h.CreateContainerIfNotExists(ctx); err != nil {
		t.Fatalf("create container: %v", err)
	}
	if err := h.Create(ctx, 2); err != nil {
		t.Fatalf("create: %v", err)
	}
	payload := bytes.Repeat([]byte{0x5a}, PageSize)
	if _, err := h.SavePages(ctx, 1, 1, payload); err != nil {
		t.Fatalf("save pages: %v", err)
	}
	got, err := h.Get(ctx, 1, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("round trip mismatch")
	}
}

func TestOpenHandleRequiresBlob(t *testing.T) {
	if _, _, err := OpenHandle(context.Background(), Config{}, nil); err == nil {
		t.Fatal("expected error for missing blob name")
	}
}

func TestBuildAzureConfig(t *testing.T) {
	cfg := Config{
		Store:           "azure://myaccount/container?endpoint=http://127.0.0.1:10000/devstoreaccount1",
		AzureAccountKey: "secret",
	}
	azureCfg, err := BuildAzureConfig(cfg)
	if err != nil {
		t.Fatalf("BuildAzureConfig: %v", err)
	}
	if azureCfg.Account != "myaccount" {
		t.Fatalf("unexpected account: %s", azureCfg.Account)
	}
	if azureCfg.Endpoint != "http://127.0.0.1:10000/devstoreaccount1" {
		t.Fatalf("unexpected endpoint: %s", azureCfg.Endpoint)
	}
	if azureCfg.AccountKey != "secret" {
		t.Fatalf("expected account key from config")
	}

	t.Setenv("AZURE_STORAGE_ACCOUNT", "")
	t.Setenv("AZURE_STORAGE_ACCOUNT_NAME", "")
	t.Setenv("AZURE_ACCOUNT_NAME", "")
	t.Setenv("PAGEBLOB_AZURE_ACCOUNT", "")
	cfgMissing := Config{Store: "azure:///container"}
	if _, err := BuildAzureConfig(cfgMissing); err == nil {
		t.Fatalf("expected error for missing account")
	}
}

func TestBuildAzureConfigFromEnv(t *testing.T) {
	t.Setenv("PAGEBLOB_AZURE_ACCOUNT", "envaccount")
	t.Setenv("PAGEBLOB_AZURE_KEY", "")
	t.Setenv("AZURE_STORAGE_ACCOUNT_KEY", "")
	t.Setenv("AZURE_ACCOUNT_KEY", "")
	t.Setenv("AZURE_STORAGE_KEY", "envkey")
	t.Setenv("PAGEBLOB_AZURE_SAS_TOKEN", "")
	t.Setenv("AZURE_STORAGE_SAS_TOKEN", "")
	t.Setenv("AZURE_SAS_TOKEN", "")
	azureCfg, err := BuildAzureConfig(Config{Store: "azure:///journals?sas=sv%3D2024"})
	if err != nil {
		t.Fatalf("BuildAzureConfig: %v", err)
	}
	if azureCfg.Account != "envaccount" || azureCfg.AccountKey != "envkey" {
		t.Fatalf("unexpected env-derived config: %+v", azureCfg)
	}
	if azureCfg.SASToken != "sv=2024" {
		t.Fatalf("expected sas from query, got %q", azureCfg.SASToken)
	}
}
