// Package azure is the fsref platform for Azure blobs. Locations are
// "container/path"; a location ending in "/" (or a bare container) is a
// directory.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/rescale/upsess/internal/config"
)

// Properties are the blob fields the platform needs.
type Properties struct {
	Size    int64
	ETag    string
	ModTime time.Time
}

// BlobAPI is the narrow blob surface the platform uses. *SDKClient
// implements it on top of azblob.
type BlobAPI interface {
	Properties(ctx context.Context, containerName, blobPath string) (Properties, error)

	// Download opens [off, off+count). A non-empty etag makes the read
	// conditional on the blob being unchanged.
	Download(ctx context.Context, containerName, blobPath string, off, count int64, etag string) (io.ReadCloser, error)

	// List returns the virtual directories and blobs one level below prefix.
	// A positive limit stops after the first page of at most limit items.
	List(ctx context.Context, containerName, prefix string, limit int32) (prefixes, blobs []string, err error)
}

// SDKClient implements BlobAPI with the Azure SDK.
type SDKClient struct {
	client *azblob.Client
}

// NewClient creates the blob client on the shared HTTP client. A SAS URL
// takes precedence over an account key.
func NewClient(cfg config.AzureConfig, httpClient *nethttp.Client) (*SDKClient, error) {
	opts := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Transport: httpClient,
		},
	}

	var (
		client *azblob.Client
		err    error
	)
	switch {
	case cfg.SASURL != "":
		client, err = azblob.NewClientWithNoCredential(cfg.SASURL, opts)
	case cfg.Account != "" && cfg.AccountKey != "":
		cred, credErr := azblob.NewSharedKeyCredential(cfg.Account, cfg.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("invalid Azure account key: %w", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(buildServiceURL(cfg.Account), cred, opts)
	default:
		return nil, errors.New("azure: sas_url or account and account_key are required")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}
	return &SDKClient{client: client}, nil
}

// buildServiceURL returns the blob endpoint for an account name.
func buildServiceURL(account string) string {
	return fmt.Sprintf("https://%s.blob.core.windows.net/", account)
}

func (c *SDKClient) blob(containerName, blobPath string) *blob.Client {
	return c.client.ServiceClient().NewContainerClient(containerName).NewBlobClient(blobPath)
}

func (c *SDKClient) Properties(ctx context.Context, containerName, blobPath string) (Properties, error) {
	resp, err := c.blob(containerName, blobPath).GetProperties(ctx, nil)
	if err != nil {
		return Properties{}, err
	}
	var props Properties
	if resp.ContentLength != nil {
		props.Size = *resp.ContentLength
	}
	if resp.ETag != nil {
		props.ETag = string(*resp.ETag)
	}
	if resp.LastModified != nil {
		props.ModTime = *resp.LastModified
	}
	return props, nil
}

func (c *SDKClient) Download(ctx context.Context, containerName, blobPath string, off, count int64, etag string) (io.ReadCloser, error) {
	opts := &azblob.DownloadStreamOptions{
		Range: azblob.HTTPRange{
			Offset: off,
			Count:  count,
		},
	}
	if etag != "" {
		match := azcore.ETag(etag)
		opts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: &match},
		}
	}
	resp, err := c.client.DownloadStream(ctx, containerName, blobPath, opts)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *SDKClient) List(ctx context.Context, containerName, prefix string, limit int32) ([]string, []string, error) {
	opts := &container.ListBlobsHierarchyOptions{Prefix: &prefix}
	if limit > 0 {
		opts.MaxResults = &limit
	}
	pager := c.client.ServiceClient().NewContainerClient(containerName).NewListBlobsHierarchyPager("/", opts)

	var prefixes, blobs []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, nil, err
		}
		if page.Segment != nil {
			for _, p := range page.Segment.BlobPrefixes {
				if p.Name != nil {
					prefixes = append(prefixes, *p.Name)
				}
			}
			for _, b := range page.Segment.BlobItems {
				if b.Name != nil {
					blobs = append(blobs, *b.Name)
				}
			}
		}
		if limit > 0 {
			break
		}
	}
	return prefixes, blobs, nil
}

// statusCode extracts the HTTP status from an Azure error, or 0.
func statusCode(err error) int {
	var re *azcore.ResponseError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	var coded interface{ HTTPStatusCode() int }
	if errors.As(err, &coded) {
		return coded.HTTPStatusCode()
	}
	return 0
}

func splitLocation(location string) (containerName, blobPath string, err error) {
	location = strings.TrimPrefix(location, "/")
	containerName, blobPath, _ = strings.Cut(location, "/")
	if containerName == "" {
		return "", "", fmt.Errorf("invalid azure location %q: missing container", location)
	}
	return containerName, blobPath, nil
}
