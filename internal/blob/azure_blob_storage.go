package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

type AzureBlobStore struct {
	account          string
	accountKey       string
	connectionString string
	container        string
	prefix           string

	// Client is nil in prod and built on first use; tests inject a mock.
	Client AzureBlobAPI

	mu sync.Mutex
}

// AzureBlobAPI is the subset of *azblob.Client the store uses.
type AzureBlobAPI interface {
	UploadFile(ctx context.Context, containerName string, blobName string, file *os.File, o *azblob.UploadFileOptions) (azblob.UploadFileResponse, error)
	UploadBuffer(ctx context.Context, containerName string, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
	DownloadStream(ctx context.Context, containerName string, blobName string, o *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error)
}

func NewAzureBlobStore(opts map[string]interface{}) (Store, error) {
	account := optString(opts, "account")
	container := optString(opts, "container")
	connStr := firstNonEmpty(optString(opts, "connection_string"), os.Getenv("AZURE_STORAGE_CONNECTION_STRING"))
	if container == "" || (account == "" && connStr == "") {
		return nil, fmt.Errorf("azureblob store requires 'container' and 'account' (or 'connection_string') options")
	}
	return &AzureBlobStore{
		account:          account,
		accountKey:       firstNonEmpty(optString(opts, "account_key"), os.Getenv("AZURE_STORAGE_KEY")),
		connectionString: connStr,
		container:        container,
		prefix:           optString(opts, "prefix"),
	}, nil
}

func (a *AzureBlobStore) client() (AzureBlobAPI, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Client != nil {
		return a.Client, nil
	}
	if a.connectionString != "" {
		c, err := azblob.NewClientFromConnectionString(a.connectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("azure blob client init error: %w", err)
		}
		a.Client = c
		return c, nil
	}
	if a.accountKey == "" {
		return nil, fmt.Errorf("missing AZURE_STORAGE_KEY for account %s", a.account)
	}
	cred, err := azblob.NewSharedKeyCredential(a.account, a.accountKey)
	if err != nil {
		return nil, fmt.Errorf("azure shared key credential error: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", a.account)
	c, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure blob client init error: %w", err)
	}
	a.Client = c
	return c, nil
}

func (a *AzureBlobStore) Put(ctx context.Context, key, localPath string) error {
	c, err := a.client()
	if err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := c.UploadFile(ctx, a.container, a.prefix+key, f, nil); err != nil {
		return fmt.Errorf("azure upload %s: %w", a.prefix+key, err)
	}
	return nil
}

func (a *AzureBlobStore) PutBytes(ctx context.Context, key string, body []byte) error {
	c, err := a.client()
	if err != nil {
		return err
	}
	if _, err := c.UploadBuffer(ctx, a.container, a.prefix+key, body, nil); err != nil {
		return fmt.Errorf("azure put %s: %w", a.prefix+key, err)
	}
	return nil
}

func (a *AzureBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	c, err := a.client()
	if err != nil {
		return nil, err
	}
	resp, err := c.DownloadStream(ctx, a.container, a.prefix+key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("azure get %s: %w", a.prefix+key, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func init() {
	Register("azureblob", NewAzureBlobStore)
}
