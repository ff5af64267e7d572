package binarydata

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/google/uuid"

	"github.com/flowmesh/flowmesh/pkg/schema"
)

const azureIDPrefix = "az:"

// AzureStore keeps payloads in an Azure Blob Storage container, one virtual
// directory per execution. Metadata travels as blob metadata. Shared-key
// authentication from a standard connection string; plain-HTTP endpoints are
// allowed so local Azurite instances work.
type AzureStore struct {
	client        *azblob.Client
	containerName string
	logger        *slog.Logger
	container     containerGate
}

// containerGate runs container creation at most once across concurrent Put
// calls. A failed attempt leaves the gate open so the next Put retries.
type containerGate struct {
	mu   sync.Mutex
	done bool
}

func (g *containerGate) do(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return nil
	}
	if err := fn(); err != nil {
		return err
	}
	g.done = true
	return nil
}

// NewAzureStore creates an Azure Blob binary data store.
func NewAzureStore(connectionString, containerName string, logger *slog.Logger) (*AzureStore, error) {
	if connectionString == "" {
		return nil, schema.NewError(schema.ErrCodeBinaryStore, "connection string is required")
	}
	if containerName == "" {
		return nil, schema.NewError(schema.ErrCodeBinaryStore, "container name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	params := parseConnectionString(connectionString)
	accountName := params["AccountName"]
	accountKey := params["AccountKey"]
	serviceURL := params["BlobEndpoint"]
	if accountName == "" || accountKey == "" {
		return nil, schema.NewError(schema.ErrCodeBinaryStore, "account name and key are required in the connection string")
	}
	if serviceURL == "" {
		serviceURL = "https://" + accountName + ".blob.core.windows.net"
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBinaryStore, "create shared key credential: %s", err.Error()).WithCause(err)
	}

	var clientOpts *azblob.ClientOptions
	if strings.HasPrefix(strings.ToLower(serviceURL), "http://") {
		clientOpts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				InsecureAllowCredentialWithHTTP: true,
			},
		}
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, clientOpts)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBinaryStore, "create blob client: %s", err.Error()).WithCause(err)
	}

	return &AzureStore{
		client:        client,
		containerName: containerName,
		logger:        logger,
	}, nil
}

func (s *AzureStore) Put(ctx context.Context, executionID string, meta Metadata, r io.Reader) (*schema.BinaryReference, error) {
	if executionID == "" {
		return nil, schema.NewError(schema.ErrCodeBinaryStore, "execution id is required")
	}
	if err := s.ensureContainer(ctx); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBinaryStore, "read payload: %s", err.Error()).WithCause(err)
	}

	blobPath := executionID + "/" + uuid.NewString()
	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlockBlobClient(blobPath)

	contentType := meta.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	metadata := map[string]*string{
		"filename": to.Ptr(meta.FileName),
		"mimetype": to.Ptr(meta.MimeType),
	}
	if meta.NodeName != "" {
		metadata["nodename"] = to.Ptr(meta.NodeName)
	}

	if _, err := blobClient.UploadBuffer(ctx, data, &azblob.UploadBufferOptions{
		Metadata: metadata,
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr(contentType),
		},
	}); err != nil {
		s.logger.Error("blob upload failed",
			slog.String("blob_path", blobPath),
			slog.Int("size", len(data)),
			slog.String("error", err.Error()))
		return nil, schema.NewErrorf(schema.ErrCodeBinaryStore, "blob upload failed: %s", err.Error()).WithCause(err)
	}

	return &schema.BinaryReference{
		ID:       azureIDPrefix + blobPath,
		FileName: meta.FileName,
		MimeType: meta.MimeType,
		FileSize: int64(len(data)),
	}, nil
}

func (s *AzureStore) Get(ctx context.Context, ref *schema.BinaryReference) ([]byte, error) {
	rc, err := s.Stream(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBinaryStore, "read blob data: %s", err.Error()).WithCause(err)
	}
	return data, nil
}

func (s *AzureStore) Stream(ctx context.Context, ref *schema.BinaryReference) (io.ReadCloser, error) {
	blobPath, err := s.blobPath(ref)
	if err != nil {
		return nil, err
	}

	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlobClient(blobPath)
	resp, err := blobClient.DownloadStream(ctx, nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBinaryStore, "download blob %s: %s", ref.ID, err.Error()).WithCause(err)
	}
	return resp.Body, nil
}

func (s *AzureStore) Copy(ctx context.Context, ref *schema.BinaryReference, targetExecutionID string) (*schema.BinaryReference, error) {
	data, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.Put(ctx, targetExecutionID, Metadata{FileName: ref.FileName, MimeType: ref.MimeType}, bytes.NewReader(data))
}

func (s *AzureStore) Delete(ctx context.Context, ref *schema.BinaryReference) error {
	blobPath, err := s.blobPath(ref)
	if err != nil {
		return err
	}
	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlobClient(blobPath)
	if _, err := blobClient.Delete(ctx, nil); err != nil {
		return schema.NewErrorf(schema.ErrCodeBinaryStore, "delete blob %s: %s", ref.ID, err.Error()).WithCause(err)
	}
	return nil
}

func (s *AzureStore) blobPath(ref *schema.BinaryReference) (string, error) {
	if ref == nil || ref.ID == "" {
		return "", schema.NewError(schema.ErrCodeBinaryStore, "binary reference is required")
	}
	if !strings.HasPrefix(ref.ID, azureIDPrefix) {
		return "", schema.NewErrorf(schema.ErrCodeBinaryStore, "reference %q does not belong to the azure store", ref.ID)
	}
	return strings.TrimPrefix(ref.ID, azureIDPrefix), nil
}

func (s *AzureStore) ensureContainer(ctx context.Context) error {
	return s.container.do(func() error {
		_, err := s.client.CreateContainer(ctx, s.containerName, nil)
		if err == nil {
			return nil
		}
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == "ContainerAlreadyExists" {
			return nil
		}
		if strings.Contains(strings.ToLower(err.Error()), "containeralreadyexists") {
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeBinaryStore, "ensure container: %s", err.Error()).WithCause(err)
	})
}

func parseConnectionString(connectionString string) map[string]string {
	parts := strings.Split(connectionString, ";")
	params := make(map[string]string, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.Index(part, "=")
		if idx <= 0 {
			continue
		}
		params[part[:idx]] = part[idx+1:]
	}
	return params
}

var _ Store = (*AzureStore)(nil)
