package cursor

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/rs/zerolog"

	"alertsync/internal/logging"
)

// BlobOptions identify the blob that holds the cursor.
type BlobOptions struct {
	AccountName string
	Container   string
	BlobName    string
	// ServiceURL overrides https://<account>.blob.core.windows.net/.
	ServiceURL string
}

type blobObject interface {
	download(ctx context.Context) (io.ReadCloser, error)
	upload(ctx context.Context, data []byte) error
	createContainer(ctx context.Context) error
}

// BlobStore keeps the cursor as the whole content of one Azure blob.
type BlobStore struct {
	object blobObject
	name   string
	logger zerolog.Logger
}

// NewBlobStore connects to the storage account with the given credential.
func NewBlobStore(opts BlobOptions, cred azcore.TokenCredential, logger zerolog.Logger) (*BlobStore, error) {
	serviceURL := strings.TrimSpace(opts.ServiceURL)
	if serviceURL == "" {
		if opts.AccountName == "" {
			return nil, fmt.Errorf("blob cursor: storage account name required")
		}
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", opts.AccountName)
	}
	if opts.Container == "" || opts.BlobName == "" {
		return nil, fmt.Errorf("blob cursor: container and blob name required")
	}

	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("blob cursor: create client: %w", err)
	}

	object := &azureBlob{client: client, container: opts.Container, blob: opts.BlobName}
	return newBlobStore(object, opts.Container+"/"+opts.BlobName, logger), nil
}

func newBlobStore(object blobObject, name string, logger zerolog.Logger) *BlobStore {
	return &BlobStore{
		object: object,
		name:   name,
		logger: logging.Component(logger, "cursor_blob").With().Str("blob", name).Logger(),
	}
}

// Read returns the blob content. A missing blob or container means no cursor yet.
func (s *BlobStore) Read(ctx context.Context) (string, bool, error) {
	body, err := s.object.download(ctx)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			s.logger.Debug().Msg("cursor blob not found")
			return "", false, nil
		}
		return "", false, fmt.Errorf("download cursor blob %s: %w", s.name, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", false, fmt.Errorf("read cursor blob %s: %w", s.name, err)
	}

	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", false, nil
	}
	return value, true, nil
}

// Write overwrites the blob, creating the container on first use.
func (s *BlobStore) Write(ctx context.Context, value string) error {
	err := s.object.upload(ctx, []byte(value))
	if err == nil {
		return nil
	}
	if !bloberror.HasCode(err, bloberror.ContainerNotFound) {
		return fmt.Errorf("upload cursor blob %s: %w", s.name, err)
	}

	s.logger.Info().Msg("cursor container missing; creating it")
	if err := s.object.createContainer(ctx); err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("create cursor container: %w", err)
	}
	if err := s.object.upload(ctx, []byte(value)); err != nil {
		return fmt.Errorf("upload cursor blob %s: %w", s.name, err)
	}
	return nil
}

type azureBlob struct {
	client    *azblob.Client
	container string
	blob      string
}

func (b *azureBlob) download(ctx context.Context) (io.ReadCloser, error) {
	resp, err := b.client.DownloadStream(ctx, b.container, b.blob, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (b *azureBlob) upload(ctx context.Context, data []byte) error {
	_, err := b.client.UploadBuffer(ctx, b.container, b.blob, data, nil)
	return err
}

func (b *azureBlob) createContainer(ctx context.Context) error {
	_, err := b.client.CreateContainer(ctx, b.container, nil)
	return err
}

var (
	_ Store      = (*BlobStore)(nil)
	_ blobObject = (*azureBlob)(nil)
)
