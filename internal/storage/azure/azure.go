package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/pageblob"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"pkt.systems/pageblob/internal/storage"
)

// DefaultEndpointPattern builds the public blob endpoint from an account name.
const DefaultEndpointPattern = "https://%s.blob.core.windows.net"

// MaxPagesPerRequest is the largest page range a single Put Page request accepts (4 MiB).
const MaxPagesPerRequest = 4 * 1024 * 1024 / storage.PageSize

// Config controls connectivity to Azure Blob Storage.
type Config struct {
	Account    string
	AccountKey string
	Endpoint   string
	SASToken   string
}

// Store implements storage.Backend on Azure page blobs.
type Store struct {
	client   *azblob.Client
	endpoint string
}

// New constructs a Store using the provided configuration. No request is made
// until the first operation.
func New(cfg Config) (*Store, error) {
	if cfg.Account == "" && cfg.Endpoint == "" {
		return nil, fmt.Errorf("azure: account is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf(DefaultEndpointPattern, cfg.Account)
	}
	var (
		client *azblob.Client
		err    error
	)
	clientOpts := defaultClientOptions()
	if cfg.SASToken != "" {
		endpointWithSAS, serr := appendSASToken(endpoint, cfg.SASToken)
		if serr != nil {
			return nil, serr
		}
		client, err = azblob.NewClientWithNoCredential(endpointWithSAS, clientOpts)
	} else {
		if cfg.AccountKey == "" {
			return nil, fmt.Errorf("azure: account key or SAS token required")
		}
		if cfg.Account == "" {
			return nil, fmt.Errorf("azure: account is required for shared key credentials")
		}
		cred, credErr := azblob.NewSharedKeyCredential(cfg.Account, cfg.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("azure: build credentials: %w", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(endpoint, cred, clientOpts)
	}
	if err != nil {
		return nil, fmt.Errorf("azure: create client: %w", err)
	}
	return &Store{client: client, endpoint: endpoint}, nil
}

func defaultClientOptions() *azblob.ClientOptions {
	transport := defaultTransporter()
	if transport == nil {
		return nil
	}
	return &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Transport: transport,
		},
	}
}

type transportAdapter struct {
	rt http.RoundTripper
}

func (t transportAdapter) Do(req *http.Request) (*http.Response, error) {
	if t.rt == nil {
		return http.DefaultTransport.RoundTrip(req)
	}
	return t.rt.RoundTrip(req)
}

func defaultTransporter() policy.Transporter {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return transportAdapter{rt: http.DefaultTransport}
	}
	clone := base.Clone()
	if clone.MaxIdleConns == 0 {
		clone.MaxIdleConns = 64
	}
	if clone.MaxIdleConnsPerHost == 0 {
		clone.MaxIdleConnsPerHost = 16
	}
	if clone.IdleConnTimeout == 0 {
		clone.IdleConnTimeout = 90 * time.Second
	}
	if clone.TLSHandshakeTimeout == 0 {
		clone.TLSHandshakeTimeout = 10 * time.Second
	}
	if clone.ExpectContinueTimeout == 0 {
		clone.ExpectContinueTimeout = 1 * time.Second
	}
	return transportAdapter{rt: otelhttp.NewTransport(clone,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "azure.blob " + r.Method
		}),
	)}
}

func appendSASToken(endpoint, sas string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("azure: parse endpoint: %w", err)
	}
	sas = strings.TrimPrefix(sas, "?")
	if u.RawQuery != "" {
		u.RawQuery = u.RawQuery + "&" + sas
	} else {
		u.RawQuery = sas
	}
	return u.String(), nil
}

// Client exposes the underlying Azure Blob client (primarily for diagnostics).
func (s *Store) Client() *azblob.Client {
	return s.client
}

// Endpoint returns the blob service endpoint without any SAS token.
func (s *Store) Endpoint() string {
	return s.endpoint
}

// Close satisfies storage.Backend (no-op for Azure).
func (s *Store) Close() error { return nil }

func (s *Store) pageBlob(container, blobName string) *pageblob.Client {
	return s.client.ServiceClient().NewContainerClient(container).NewPageBlobClient(blobName)
}

// CreateContainerIfNotExists creates the container, tolerating ContainerAlreadyExists.
func (s *Store) CreateContainerIfNotExists(ctx context.Context, container string) error {
	if _, err := s.client.CreateContainer(ctx, container, nil); err != nil {
		if bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return nil
		}
		return classify("create container", err)
	}
	return nil
}

// GetBlobProperties returns the size, ETag and content type of the blob.
func (s *Store) GetBlobProperties(ctx context.Context, container, blobName string) (storage.BlobProperties, error) {
	resp, err := s.pageBlob(container, blobName).BlobClient().GetProperties(ctx, nil)
	if err != nil {
		return storage.BlobProperties{}, classify("get blob properties", err)
	}
	props := storage.BlobProperties{}
	if resp.ContentLength != nil {
		props.Size = *resp.ContentLength
	}
	if resp.ETag != nil {
		props.ETag = string(*resp.ETag)
	}
	if resp.LastModified != nil {
		props.LastModified = *resp.LastModified
	}
	if resp.ContentType != nil {
		props.ContentType = *resp.ContentType
	}
	return props, nil
}

func createOptions(ifNotExists bool) *pageblob.CreateOptions {
	opts := &pageblob.CreateOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr(storage.ContentTypeOctetStream),
		},
	}
	if ifNotExists {
		opts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{
				IfNoneMatch: to.Ptr(azcore.ETagAny),
			},
		}
	}
	return opts
}

// CreatePageBlob creates or overwrites the blob with pages zero pages.
func (s *Store) CreatePageBlob(ctx context.Context, container, blobName string, pages int) error {
	if err := storage.ValidateRange(0, pages); err != nil {
		return err
	}
	if _, err := s.pageBlob(container, blobName).Create(ctx, pageBytes(pages), createOptions(false)); err != nil {
		return classify("create page blob", err)
	}
	return nil
}

// CreatePageBlobIfNotExists creates the blob guarded by If-None-Match: * and
// reports the properties of whichever blob is present afterwards.
func (s *Store) CreatePageBlobIfNotExists(ctx context.Context, container, blobName string, pages int) (storage.BlobProperties, error) {
	if err := storage.ValidateRange(0, pages); err != nil {
		return storage.BlobProperties{}, err
	}
	resp, err := s.pageBlob(container, blobName).Create(ctx, pageBytes(pages), createOptions(true))
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
			return s.GetBlobProperties(ctx, container, blobName)
		}
		return storage.BlobProperties{}, classify("create page blob if not exists", err)
	}
	props := storage.BlobProperties{
		Size:        pageBytes(pages),
		ContentType: storage.ContentTypeOctetStream,
	}
	if resp.ETag != nil {
		props.ETag = string(*resp.ETag)
	}
	if resp.LastModified != nil {
		props.LastModified = *resp.LastModified
	}
	return props, nil
}

// ResizePageBlob sets the blob length to pages pages.
func (s *Store) ResizePageBlob(ctx context.Context, container, blobName string, pages int) error {
	if err := storage.ValidateRange(0, pages); err != nil {
		return err
	}
	if _, err := s.pageBlob(container, blobName).Resize(ctx, pageBytes(pages), nil); err != nil {
		return classify("resize page blob", err)
	}
	return nil
}

// GetPages downloads the byte range covering count pages from startPage.
func (s *Store) GetPages(ctx context.Context, container, blobName string, startPage, count int) ([]byte, error) {
	if err := storage.ValidateRange(startPage, count); err != nil {
		return nil, err
	}
	if count == 0 {
		// a zero length Range header means "to the end", so only check existence
		if _, err := s.GetBlobProperties(ctx, container, blobName); err != nil {
			return nil, err
		}
		return []byte{}, nil
	}
	rng := pageRange(startPage, count)
	resp, err := s.pageBlob(container, blobName).BlobClient().DownloadStream(ctx, &blob.DownloadStreamOptions{Range: rng})
	if err != nil {
		return nil, classify("get pages", err)
	}
	data, err := readBody(resp.Body)
	if err != nil {
		return nil, classify("get pages", err)
	}
	if int64(len(data)) != rng.Count {
		return nil, fmt.Errorf("azure: get pages [%d,%d) returned %d bytes: %w", startPage, startPage+count, len(data), storage.ErrOutOfRange)
	}
	return data, nil
}

// SavePages issues one Put Page request for payload at startPage.
func (s *Store) SavePages(ctx context.Context, container, blobName string, startPage int, payload []byte) error {
	if err := storage.ValidateRange(startPage, 0); err != nil {
		return err
	}
	if err := storage.ValidatePayload(payload); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	body := streaming.NopCloser(bytes.NewReader(payload))
	rng := pageRange(startPage, len(payload)/storage.PageSize)
	if _, err := s.pageBlob(container, blobName).UploadPages(ctx, body, rng, nil); err != nil {
		return classify("save pages", err)
	}
	return nil
}

// DeleteBlob removes the blob and its snapshots.
func (s *Store) DeleteBlob(ctx context.Context, container, blobName string) error {
	if _, err := s.pageBlob(container, blobName).BlobClient().Delete(ctx, deleteOptions()); err != nil {
		return classify("delete blob", err)
	}
	return nil
}

// DeleteBlobIfExists removes the blob, treating a missing blob or container as success.
func (s *Store) DeleteBlobIfExists(ctx context.Context, container, blobName string) error {
	err := s.DeleteBlob(ctx, container, blobName)
	if errors.Is(err, storage.ErrBlobNotFound) || errors.Is(err, storage.ErrContainerNotFound) {
		return nil
	}
	return err
}

// DownloadBlob returns the whole blob.
func (s *Store) DownloadBlob(ctx context.Context, container, blobName string) ([]byte, error) {
	resp, err := s.pageBlob(container, blobName).BlobClient().DownloadStream(ctx, nil)
	if err != nil {
		return nil, classify("download blob", err)
	}
	data, err := readBody(resp.Body)
	if err != nil {
		return nil, classify("download blob", err)
	}
	return data, nil
}

func deleteOptions() *blob.DeleteOptions {
	return &blob.DeleteOptions{
		DeleteSnapshots: to.Ptr(blob.DeleteSnapshotsOptionTypeInclude),
	}
}

func readBody(body io.ReadCloser) ([]byte, error) {
	defer body.Close()
	return io.ReadAll(body)
}

func pageBytes(pages int) int64 {
	return int64(pages) * storage.PageSize
}

func pageRange(startPage, count int) blob.HTTPRange {
	return blob.HTTPRange{
		Offset: pageBytes(startPage),
		Count:  pageBytes(count),
	}
}

// classify maps Azure error codes onto the storage sentinels and wraps
// everything else as a *storage.BackendError, marked transient for throttling,
// server side failures and network timeouts.
func classify(op string, err error) error {
	switch {
	case bloberror.HasCode(err, bloberror.ContainerNotFound):
		return fmt.Errorf("azure: %s: %w: %w", op, storage.ErrContainerNotFound, err)
	case bloberror.HasCode(err, bloberror.BlobNotFound):
		return fmt.Errorf("azure: %s: %w: %w", op, storage.ErrBlobNotFound, err)
	case bloberror.HasCode(err, bloberror.InvalidRange, bloberror.InvalidPageRange):
		return fmt.Errorf("azure: %s: %w: %w", op, storage.ErrOutOfRange, err)
	}
	wrapped := &storage.BackendError{Backend: "azure", Op: op, Err: err}
	if isTransient(err) {
		return storage.NewTransientError(wrapped)
	}
	return wrapped
}

func isTransient(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusTooManyRequests || respErr.StatusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}
