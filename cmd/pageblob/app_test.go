package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
	"pkt.systems/pslog"

	"pkt.systems/pageblob"
	"pkt.systems/pageblob/internal/storage/memory"
	"pkt.systems/pageblob/internal/version"
)

type cli struct {
	t     *testing.T
	store *memory.Store
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	t.Setenv("PAGEBLOB_CONFIG_DIR", t.TempDir())
	return &cli{t: t, store: memory.New()}
}

func (c *cli) open(context.Context, pageblob.Config, pslog.Logger) (pageblob.Backend, error) {
	return c.store, nil
}

func (c *cli) run(stdin []byte, args ...string) (string, string, error) {
	c.t.Helper()
	cmd := newRootCommand(pslog.NewStructured(context.Background(), io.Discard), c.open)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(bytes.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func (c *cli) mustRun(stdin []byte, args ...string) string {
	c.t.Helper()
	stdout, stderr, err := c.run(stdin, args...)
	if err != nil {
		c.t.Fatalf("pageblob %s: %v (stderr %q)", strings.Join(args, " "), err, stderr)
	}
	return stdout
}

func (c *cli) info(blob string) blobInfo {
	c.t.Helper()
	out := c.mustRun(nil, "info", "--container", "c", "--blob", blob, "--output", "yaml")
	var info blobInfo
	if err := yaml.Unmarshal([]byte(out), &info); err != nil {
		c.t.Fatalf("decode info: %v\n%s", err, out)
	}
	return info
}

func TestVersionCommandPrintsCurrentVersion(t *testing.T) {
	c := newCLI(t)
	stdout := c.mustRun(nil, "version")
	want := version.Module() + " " + version.Current() + "\n"
	if stdout != want {
		t.Fatalf("unexpected stdout: got %q want %q", stdout, want)
	}
	if got := c.mustRun(nil, "version", "--short"); got != version.Current()+"\n" {
		t.Fatalf("unexpected short version %q", got)
	}
}

func TestBlobLifecycle(t *testing.T) {
	c := newCLI(t)
	if out := c.mustRun(nil, "container", "create", "--container", "c"); !strings.Contains(out, "container c ready") {
		t.Fatalf("unexpected container output %q", out)
	}
	if out := c.mustRun(nil, "create", "--container", "c", "--blob", "b", "--pages", "2"); !strings.Contains(out, "c/b: 2 pages (1.0KiB)") {
		t.Fatalf("unexpected create output %q", out)
	}

	record := bytes.Repeat([]byte("pageblob"), 75) // 600 bytes
	out := c.mustRun(record, "write", "--container", "c", "--blob", "b", "--start", "0", "--max-pages", "1")
	if !strings.Contains(out, "(1024 bytes) at page 0") {
		t.Fatalf("unexpected write output %q", out)
	}
	got := c.mustRun(nil, "read", "--container", "c", "--blob", "b", "--start", "0", "--pages", "2")
	if len(got) != 2*pageblob.PageSize {
		t.Fatalf("expected %d bytes, got %d", 2*pageblob.PageSize, len(got))
	}
	if !bytes.Equal([]byte(got[:len(record)]), record) || strings.Trim(got[len(record):], "\x00") != "" {
		t.Fatal("read-back does not match padded record")
	}

	info := c.info("b")
	if info.Pages != 2 || info.SizeBytes != 1024 || info.Container != "c" || info.Blob != "b" {
		t.Fatalf("unexpected info %+v", info)
	}

	_, _, err := c.run(record, "write", "--container", "c", "--blob", "b", "--start", "2")
	if !errors.Is(err, pageblob.ErrCapacityExceeded) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	c.mustRun(record, "write", "--container", "c", "--blob", "b", "--start", "2", "--auto-resize", "--resize-ratio", "4")
	if info := c.info("b"); info.Pages != 4 {
		t.Fatalf("expected 4 pages after auto-resize, got %d", info.Pages)
	}

	c.mustRun(nil, "resize", "--container", "c", "--blob", "b", "--size", "4KiB")
	if info := c.info("b"); info.Pages != 8 {
		t.Fatalf("expected 8 pages after resize, got %d", info.Pages)
	}

	download := c.mustRun(nil, "download", "--container", "c", "--blob", "b")
	if len(download) != 8*pageblob.PageSize {
		t.Fatalf("expected full blob download, got %d bytes", len(download))
	}

	c.mustRun(nil, "delete", "--container", "c", "--blob", "b")
	c.mustRun(nil, "delete", "--container", "c", "--blob", "b", "--if-exists")
	if _, _, err := c.run(nil, "delete", "--container", "c", "--blob", "b"); !errors.Is(err, pageblob.ErrBlobNotFound) {
		t.Fatalf("expected blob not found, got %v", err)
	}
}

func TestCreateIfNotExistsKeepsSize(t *testing.T) {
	c := newCLI(t)
	c.mustRun(nil, "container", "create", "--container", "c")
	c.mustRun(nil, "create", "--container", "c", "--blob", "b", "--pages", "6")
	out := c.mustRun(nil, "create", "--container", "c", "--blob", "b", "--pages", "1", "--if-not-exists")
	if !strings.Contains(out, "6 pages") {
		t.Fatalf("expected existing size to be reported, got %q", out)
	}
}

func TestWriteFromFileAndReadToFile(t *testing.T) {
	c := newCLI(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "in.bin")
	outPath := filepath.Join(dir, "out.bin")
	payload := bytes.Repeat([]byte{0xab}, pageblob.PageSize)
	if err := os.WriteFile(in, payload, 0o600); err != nil {
		t.Fatalf("write input: %v", err)
	}
	c.mustRun(nil, "container", "create", "--container", "c")
	c.mustRun(nil, "create", "--container", "c", "--blob", "b", "--pages", "1")
	c.mustRun(nil, "write", "--container", "c", "--blob", "b", "--in", in)
	c.mustRun(nil, "read", "--container", "c", "--blob", "b", "--out", outPath)
	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("file round trip mismatch")
	}
}

func TestBlobRequired(t *testing.T) {
	c := newCLI(t)
	if _, _, err := c.run(nil, "info"); err == nil || !strings.Contains(err.Error(), "--blob is required") {
		t.Fatalf("expected missing blob error, got %v", err)
	}
}

func TestPagesAndSizeAreMutuallyExclusive(t *testing.T) {
	c := newCLI(t)
	_, _, err := c.run(nil, "create", "--blob", "b", "--pages", "1", "--size", "1KiB")
	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("expected mutually exclusive error, got %v", err)
	}
}

func TestConfigFileAndEnvironment(t *testing.T) {
	c := newCLI(t)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("store: mem://\ncontainer: fromfile\nblob: fileblob\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	c.mustRun(nil, "--config", cfgPath, "container", "create")
	out := c.mustRun(nil, "--config", cfgPath, "create", "--pages", "1")
	if !strings.Contains(out, "fromfile/fileblob") {
		t.Fatalf("expected names from config file, got %q", out)
	}

	t.Setenv("PAGEBLOB_BLOB", "envblob")
	out = c.mustRun(nil, "--config", cfgPath, "create", "--pages", "1")
	if !strings.Contains(out, "fromfile/envblob") {
		t.Fatalf("expected environment to override config file, got %q", out)
	}
}

func TestMissingExplicitConfigFails(t *testing.T) {
	c := newCLI(t)
	if _, _, err := c.run(nil, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "version"); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestInvalidOutputFormat(t *testing.T) {
	c := newCLI(t)
	c.mustRun(nil, "container", "create", "--container", "c")
	c.mustRun(nil, "create", "--container", "c", "--blob", "b")
	if _, _, err := c.run(nil, "info", "--container", "c", "--blob", "b", "--output", "xml"); err == nil {
		t.Fatal("expected unknown output error")
	}
}

func TestVerifyStoreMemory(t *testing.T) {
	c := newCLI(t)
	out := c.mustRun(nil, "verify", "store", "--container", "diag")
	for _, want := range []string{"Provider: memory", "✔ WritePages", "✔ ProbeBlobGone", "Storage verification succeeded."} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestParsePages(t *testing.T) {
	cases := []struct {
		pages int
		size  string
		want  int
	}{
		{0, "", 0},
		{3, "", 3},
		{0, "1", 1},
		{0, "512B", 1},
		{0, "513B", 2},
		{0, "1MiB", 2048},
	}
	for _, tc := range cases {
		got, err := parsePages(tc.pages, tc.size)
		if err != nil {
			t.Fatalf("parsePages(%d, %q): %v", tc.pages, tc.size, err)
		}
		if got != tc.want {
			t.Fatalf("parsePages(%d, %q) = %d, want %d", tc.pages, tc.size, got, tc.want)
		}
	}
	if _, err := parsePages(-1, ""); err == nil {
		t.Fatal("expected error for negative pages")
	}
	if _, err := parsePages(0, "lots"); err == nil {
		t.Fatal("expected parse error")
	}
}
