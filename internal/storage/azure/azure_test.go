package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"pkt.systems/pageblob/internal/storage"
)

func responseError(t *testing.T, status int, code string) error {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "https://acct.blob.core.windows.net/c/b", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return &azcore.ResponseError{
		ErrorCode:   code,
		StatusCode:  status,
		RawResponse: &http.Response{StatusCode: status, Request: req, Header: http.Header{}},
	}
}

func TestClassifyMapsErrorCodes(t *testing.T) {
	cases := []struct {
		status int
		code   string
		want   error
	}{
		{http.StatusNotFound, "ContainerNotFound", storage.ErrContainerNotFound},
		{http.StatusNotFound, "BlobNotFound", storage.ErrBlobNotFound},
		{http.StatusRequestedRangeNotSatisfiable, "InvalidRange", storage.ErrOutOfRange},
		{http.StatusRequestedRangeNotSatisfiable, "InvalidPageRange", storage.ErrOutOfRange},
	}
	for _, tc := range cases {
		raw := responseError(t, tc.status, tc.code)
		err := classify("op", raw)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.code, tc.want, err)
		}
		var respErr *azcore.ResponseError
		if !errors.As(err, &respErr) {
			t.Fatalf("%s: sdk error must stay in the chain", tc.code)
		}
		if storage.IsTransient(err) {
			t.Fatalf("%s: must not be transient", tc.code)
		}
	}
}

func TestClassifyWrapsUnknownAsBackendError(t *testing.T) {
	err := classify("resize page blob", responseError(t, http.StatusForbidden, "AuthorizationFailure"))
	var be *storage.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected backend error, got %T", err)
	}
	if be.Backend != "azure" || be.Op != "resize page blob" {
		t.Fatalf("unexpected backend error %+v", be)
	}
	if storage.IsTransient(err) {
		t.Fatal("403 must not be transient")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyTransient(t *testing.T) {
	transient := []error{
		responseError(t, http.StatusServiceUnavailable, "ServerBusy"),
		responseError(t, http.StatusInternalServerError, "InternalError"),
		responseError(t, http.StatusTooManyRequests, ""),
		fmt.Errorf("dial: %w", timeoutErr{}),
		io.ErrUnexpectedEOF,
	}
	for _, raw := range transient {
		err := classify("save pages", raw)
		if !storage.IsTransient(err) {
			t.Fatalf("expected %v to be transient", raw)
		}
		if !storage.IsBackendError(err) {
			t.Fatalf("expected %v to be wrapped as backend error", raw)
		}
	}
	if storage.IsTransient(classify("save pages", context.Canceled)) {
		t.Fatal("cancellation must not be transient")
	}
}

func TestPageRange(t *testing.T) {
	rng := pageRange(3, 2)
	if rng.Offset != 3*storage.PageSize || rng.Count != 2*storage.PageSize {
		t.Fatalf("unexpected range %+v", rng)
	}
	if pageBytes(8192) != 4*1024*1024 || MaxPagesPerRequest != 8192 {
		t.Fatal("page request limit mismatch")
	}
}

func TestAppendSASToken(t *testing.T) {
	got, err := appendSASToken("https://acct.blob.core.windows.net", "?sv=2024&sig=abc")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if got != "https://acct.blob.core.windows.net?sv=2024&sig=abc" {
		t.Fatalf("unexpected url %q", got)
	}
	got, err = appendSASToken("http://127.0.0.1:10000/devstore?comp=x", "sig=abc")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if got != "http://127.0.0.1:10000/devstore?comp=x&sig=abc" {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestNewValidatesCredentials(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without account")
	}
	if _, err := New(Config{Account: "acct"}); err == nil {
		t.Fatal("expected error without key or SAS")
	}
	store, err := New(Config{Account: "acct", SASToken: "sig=abc"})
	if err != nil {
		t.Fatalf("new with sas: %v", err)
	}
	if store.Endpoint() != "https://acct.blob.core.windows.net" {
		t.Fatalf("unexpected endpoint %q", store.Endpoint())
	}
}

func TestSavePagesRejectsUnalignedPayloadLocally(t *testing.T) {
	store, err := New(Config{Account: "acct", SASToken: "sig=abc"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := store.SavePages(ctx, "c", "b", 0, make([]byte, 100)); !errors.Is(err, storage.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := store.GetPages(ctx, "c", "b", -1, 1); !errors.Is(err, storage.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
