// Package objectstore wraps the Supabase Storage client for the
// artifacts a scan produces: DOM snapshots and fetched script bodies,
// stored under `scans/{scanId}/...` per spec §3.
package objectstore

import (
	"bytes"
	"context"
	"fmt"

	storage_go "github.com/supabase-community/storage-go"
)

// Store is the narrow artifact-storage surface the render and analyze
// workers need.
type Store interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	Download(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, paths []string) error
}

// SupabaseStore implements Store against a Supabase Storage bucket.
type SupabaseStore struct {
	client *storage_go.Client
	bucket string
}

// New builds a SupabaseStore. baseURL is the project's storage
// endpoint (`https://<project>.supabase.co/storage/v1`), serviceKey
// the service-role key, bucket the bucket scan artifacts live in.
func New(baseURL, serviceKey, bucket string) *SupabaseStore {
	return &SupabaseStore{
		client: storage_go.NewClient(baseURL, serviceKey, nil),
		bucket: bucket,
	}
}

// ScanArtifactPath builds the `scans/{scanId}/...` key for an
// artifact, per spec §3's ownership/layout rule.
func ScanArtifactPath(scanID, relativePath string) string {
	return fmt.Sprintf("scans/%s/%s", scanID, relativePath)
}

// Upload writes data to path, creating/overwriting the object.
// storage-go's client is synchronous REST over HTTP, so ctx is
// honored only insofar as the caller should not call this after ctx
// is already done; the underlying library does not accept a context
// directly.
func (s *SupabaseStore) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.client.UploadFile(s.bucket, path, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	return nil
}

// Download reads the object at path.
func (s *SupabaseStore) Download(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.client.DownloadFile(s.bucket, path)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", path, err)
	}
	return data, nil
}

// Delete removes every object under paths and returns the store's
// error if the removal fails. The scan-delete endpoint does not call
// it, so deleting a Scan leaves its artifacts in the bucket.
func (s *SupabaseStore) Delete(ctx context.Context, paths []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(paths) == 0 {
		return nil
	}
	_, err := s.client.RemoveFile(s.bucket, paths)
	if err != nil {
		return fmt.Errorf("delete %d object(s): %w", len(paths), err)
	}
	return nil
}
