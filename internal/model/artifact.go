package model

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// ArtifactSource fetches read-only model files by name.
type ArtifactSource interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
	Describe(name string) string
}

// FileSource reads artifacts from the local filesystem.
type FileSource struct{}

func (FileSource) Fetch(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(name) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("artifact %s is empty", name)
	}
	return data, nil
}

func (FileSource) Describe(name string) string {
	return "file://" + name
}

// AzureConfig selects a blob container holding the model artifacts.
// Either ConnectionString or AccountName+AccountKey must be set.
type AzureConfig struct {
	ConnectionString string
	AccountName      string
	AccountKey       string
	Container        string
}

type azureSource struct {
	client    *azblob.Client
	container string
}

// NewAzureSource creates a blob-backed artifact source.
func NewAzureSource(cfg AzureConfig) (ArtifactSource, error) {
	if strings.TrimSpace(cfg.Container) == "" {
		return nil, fmt.Errorf("azure container is required")
	}

	var (
		client *azblob.Client
		err    error
	)
	switch {
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	case cfg.AccountName != "" && cfg.AccountKey != "":
		var credential *azblob.SharedKeyCredential
		credential, err = azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err != nil {
			return nil, fmt.Errorf("invalid azure credentials: %w", err)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(
			fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName),
			credential,
			nil,
		)
	default:
		return nil, fmt.Errorf("azure source needs a connection string or account name and key")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create azure client: %w", err)
	}

	return &azureSource{client: client, container: cfg.Container}, nil
}

func (s *azureSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, name, nil)
	if err != nil {
		return nil, fmt.Errorf("download %s failed: %w", s.Describe(name), err)
	}
	body := resp.Body
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read %s failed: %w", s.Describe(name), err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("artifact %s is empty", s.Describe(name))
	}
	return data, nil
}

func (s *azureSource) Describe(name string) string {
	return fmt.Sprintf("azblob://%s/%s", s.container, name)
}
