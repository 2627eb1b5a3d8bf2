package cloudfiles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSSource reads documents from a bucket. A folder is an object prefix and a
// file ID is the full object name.
type GCSSource struct {
	client *storage.Client
	bucket string
}

// NewGCSSource creates a bucket-backed source. It assumes Application Default
// Credentials unless opts say otherwise.
func NewGCSSource(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSSource, error) {
	if bucket == "" {
		return nil, fmt.Errorf("NewGCSSource: bucket is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewGCSSource: create storage client: %w", err)
	}
	return &GCSSource{client: client, bucket: bucket}, nil
}

// Close releases the storage client.
func (g *GCSSource) Close() error {
	return g.client.Close()
}

// For implements Factory. Every owner shares the bucket.
func (g *GCSSource) For(ctx context.Context, ownerID string) (Source, error) {
	return g, nil
}

func folderPrefix(folder string) string {
	return strings.Trim(folder, "/") + "/"
}

// ListFiles lists objects directly under the folder prefix.
func (g *GCSSource) ListFiles(ctx context.Context, folder string, mimeTypes []string) ([]File, error) {
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{
		Prefix:    folderPrefix(folder),
		Delimiter: "/",
	})

	files := []File{}
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return files, nil
		}
		if err != nil {
			return nil, classifyAPIError(fmt.Sprintf("ListFiles: listing gs://%s/%s", g.bucket, folderPrefix(folder)), err)
		}
		// Synthetic directory entries carry only Prefix.
		if attrs.Name == "" || strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		if !matchesMIME(attrs.ContentType, mimeTypes) {
			continue
		}
		files = append(files, File{ID: attrs.Name, Name: path.Base(attrs.Name), MIMEType: attrs.ContentType})
	}
}

// Download reads the object.
func (g *GCSSource) Download(ctx context.Context, fileID string) ([]byte, error) {
	rc, err := g.client.Bucket(g.bucket).Object(fileID).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("Download: gs://%s/%s: %w", g.bucket, fileID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, classifyAPIError(fmt.Sprintf("Download: reading object %s/%s", g.bucket, fileID), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Download: reading bytes: %w", err)
	}
	return data, nil
}

// MoveToProcessed copies the object under folder/Procesados/ and deletes the original.
func (g *GCSSource) MoveToProcessed(ctx context.Context, fileID, folder string) error {
	bkt := g.client.Bucket(g.bucket)
	src := bkt.Object(fileID)
	dst := bkt.Object(folderPrefix(folder) + ProcessedFolder + "/" + path.Base(fileID))

	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		return classifyAPIError("MoveToProcessed: copying "+fileID, err)
	}
	if err := src.Delete(ctx); err != nil {
		return classifyAPIError("MoveToProcessed: deleting "+fileID, err)
	}
	return nil
}

// Upload stores a local file under the folder prefix and returns its object name.
func (g *GCSSource) Upload(ctx context.Context, folder, filePath, contentType string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("Upload: open file %q: %w", filePath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	name := folderPrefix(folder) + path.Base(filePath)
	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("Upload: copy file to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Upload: finalize upload: %w", err)
	}
	return name, nil
}
