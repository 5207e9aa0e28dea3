package files

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"slack2chat/internal/export"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config contains staging store configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// MinIOStager implements Stager against an S3-compatible bucket using minio-go
type MinIOStager struct {
	client   *minio.Client
	bucket   string
	secure   bool
	endpoint string
	download *http.Client
}

// NewMinIOStager creates a new staging store client
func NewMinIOStager(cfg Config) (*MinIOStager, error) {
	endpoint, err := cleanEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, err
	}

	return &MinIOStager{
		client:   client,
		bucket:   cfg.Bucket,
		secure:   cfg.Secure,
		endpoint: endpoint,
		download: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// cleanEndpoint removes protocol and path from endpoint URL to get host:port format
func cleanEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("endpoint cannot be empty")
	}

	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if strings.Contains(endpoint, "/") {
			return "", fmt.Errorf("endpoint contains path but no protocol")
		}
		return endpoint, nil
	}

	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint URL: %w", err)
	}
	if parsedURL.Path != "" && parsedURL.Path != "/" {
		return "", fmt.Errorf("endpoint URL cannot have paths, only host:port is allowed (got path: %s)", parsedURL.Path)
	}

	return parsedURL.Host, nil
}

// Stage downloads the source attachment and copies it into the bucket under
// <channel>/<file id>/<name>, returning the object's URL.
func (s *MinIOStager) Stage(ctx context.Context, channel string, f export.File) (string, error) {
	if f.URL == "" {
		return "", fmt.Errorf("file %s has no download URL", f.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.download.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download file %s: %w", f.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download file %s: status %d", f.ID, resp.StatusCode)
	}

	key := path.Join(channel, f.ID, f.Name)
	contentType := f.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	size := f.Size
	if size == 0 && resp.ContentLength > 0 {
		size = resp.ContentLength
	}
	if size == 0 {
		size = -1 // unknown length, minio streams it
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, resp.Body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to stage file %s: %w", f.ID, err)
	}

	scheme := "http"
	if s.secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.endpoint, s.bucket, key), nil
}
