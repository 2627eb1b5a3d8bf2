// Package cloudfiles lists and downloads the documents users drop into their
// cloud folders.
package cloudfiles

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"google.golang.org/api/googleapi"
)

// Folder that processed files are moved into, under the source folder.
const ProcessedFolder = "Procesados"

// Supported document MIME types.
const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
	MIMEPDF  = "application/pdf"
)

// DocumentMIMETypes are the types every ingestion kind accepts.
var DocumentMIMETypes = []string{MIMEJPEG, MIMEPNG, MIMEPDF}

// File is a document found in a cloud folder.
type File struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
}

// Source provides an interface for cloud folder operations.
// This interface enables mocking and testing of storage functionality.
type Source interface {
	// ListFiles returns the files directly inside the named folder whose MIME
	// type is one of mimeTypes. A missing folder yields no files and no error.
	ListFiles(ctx context.Context, folder string, mimeTypes []string) ([]File, error)

	// Download returns the file's bytes.
	Download(ctx context.Context, fileID string) ([]byte, error)

	// MoveToProcessed moves a file into the folder's Procesados subfolder.
	MoveToProcessed(ctx context.Context, fileID, folder string) error
}

// Factory returns the Source holding an owner's documents.
type Factory interface {
	For(ctx context.Context, ownerID string) (Source, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, ownerID string) (Source, error)

// For calls f.
func (f FactoryFunc) For(ctx context.Context, ownerID string) (Source, error) {
	return f(ctx, ownerID)
}

// classifyAPIError wraps err with op. Rejected credentials become
// domain.ErrConnection and rate limits domain.ErrThrottled, so the job is
// failed or throttled instead of retried.
func classifyAPIError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrConnection, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrThrottled, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// escapeQuery escapes a value for use inside a single-quoted Drive query literal.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// folderQuery finds a non-trashed folder by name, optionally under a parent.
func folderQuery(name, parentID string) string {
	q := fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false", escapeQuery(name), driveFolderMIME)
	if parentID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escapeQuery(parentID))
	}
	return q
}

// childrenQuery lists non-trashed children of a folder with one of the MIME types.
func childrenQuery(folderID string, mimeTypes []string) string {
	q := fmt.Sprintf("'%s' in parents", escapeQuery(folderID))
	if len(mimeTypes) > 0 {
		clauses := make([]string, 0, len(mimeTypes))
		for _, m := range mimeTypes {
			clauses = append(clauses, fmt.Sprintf("mimeType='%s'", escapeQuery(m)))
		}
		q += " and (" + strings.Join(clauses, " or ") + ")"
	}
	return q + " and trashed=false"
}

func matchesMIME(mimeType string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, m := range allowed {
		if strings.EqualFold(m, mimeType) {
			return true
		}
	}
	return false
}

// ParseGCSURI splits gs://bucket/path/to/object into bucket and object name.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// FilenameFromURI extracts the filename from a GCS URI or object name.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func FilenameFromURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	if strings.HasPrefix(uri, "gs://") {
		parts := strings.SplitN(trimmed, "/", 2)
		if len(parts) < 2 {
			return trimmed
		}
		trimmed = parts[1]
	}
	return path.Base(trimmed)
}
