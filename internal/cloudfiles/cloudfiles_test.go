package cloudfiles

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

func TestQueries(t *testing.T) {
	assert.Equal(t,
		"name='Tickets de Compra' and mimeType='application/vnd.google-apps.folder' and trashed=false",
		folderQuery("Tickets de Compra", ""))
	assert.Equal(t,
		`name='O\'Brien' and mimeType='application/vnd.google-apps.folder' and trashed=false and 'p1' in parents`,
		folderQuery("O'Brien", "p1"))
	assert.Equal(t,
		"'f1' in parents and (mimeType='image/jpeg' or mimeType='application/pdf') and trashed=false",
		childrenQuery("f1", []string{MIMEJPEG, MIMEPDF}))
	assert.Equal(t, "'f1' in parents and trashed=false", childrenQuery("f1", nil))
}

func TestMatchesMIME(t *testing.T) {
	assert.True(t, matchesMIME("image/png", DocumentMIMETypes))
	assert.True(t, matchesMIME("IMAGE/PNG", DocumentMIMETypes))
	assert.False(t, matchesMIME("text/plain", DocumentMIMETypes))
	assert.True(t, matchesMIME("text/plain", nil))
}

func TestParseGCSURI(t *testing.T) {
	bucket, object, err := ParseGCSURI("gs://bucket/Facturas/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "bucket", bucket)
	assert.Equal(t, "Facturas/a.pdf", object)

	for _, bad := range []string{"bucket/a.pdf", "gs://bucket", "gs:///a.pdf", "gs://bucket/"} {
		_, _, err := ParseGCSURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestFilenameFromURI(t *testing.T) {
	assert.Equal(t, "file.pdf", FilenameFromURI("gs://bucket/folder/file.pdf"))
	assert.Equal(t, "bucket", FilenameFromURI("gs://bucket"))
	assert.Equal(t, "file.pdf", FilenameFromURI("Tickets/file.pdf"))
}

func TestFolderPrefix(t *testing.T) {
	assert.Equal(t, "Tickets de Compra/", folderPrefix("Tickets de Compra"))
	assert.Equal(t, "a/b/", folderPrefix("/a/b/"))
}

// fakeDrive serves the few Drive v3 endpoints DriveSource uses.
type fakeDrive struct {
	mu          sync.Mutex
	folders     map[string]string // name -> id
	pages       [][]map[string]string
	content     map[string]string
	created     []string
	moved       map[string][2]string // file -> {add, remove}
	listQueries []string
}

func (f *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/files":
		q := r.URL.Query().Get("q")
		f.listQueries = append(f.listQueries, q)
		if strings.Contains(q, "vnd.google-apps.folder") {
			for name, id := range f.folders {
				if strings.Contains(q, "name='"+name+"'") {
					json.NewEncoder(w).Encode(map[string]any{"files": []map[string]string{{"id": id, "name": name}}})
					return
				}
			}
			json.NewEncoder(w).Encode(map[string]any{"files": []any{}})
			return
		}
		page := 0
		if tok := r.URL.Query().Get("pageToken"); tok != "" {
			page = 1
		}
		resp := map[string]any{"files": f.pages[page]}
		if page+1 < len(f.pages) {
			resp["nextPageToken"] = "next"
		}
		json.NewEncoder(w).Encode(resp)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/files/"):
		id := strings.TrimPrefix(r.URL.Path, "/files/")
		body, ok := f.content[id]
		if !ok {
			http.Error(w, `{"error":{"code":404,"message":"not found"}}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		io.WriteString(w, body)
	case r.Method == http.MethodPost && r.URL.Path == "/files":
		var file map[string]any
		json.NewDecoder(r.Body).Decode(&file)
		f.created = append(f.created, file["name"].(string))
		f.folders[file["name"].(string)] = "processed-id"
		json.NewEncoder(w).Encode(map[string]string{"id": "processed-id"})
	case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/files/"):
		id := strings.TrimPrefix(r.URL.Path, "/files/")
		f.moved[id] = [2]string{r.URL.Query().Get("addParents"), r.URL.Query().Get("removeParents")}
		json.NewEncoder(w).Encode(map[string]string{"id": id})
	default:
		http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusBadRequest)
	}
}

func newFakeDriveSource(t *testing.T, fake *fakeDrive) *DriveSource {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	src, err := NewDriveSource(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return src
}

func TestDriveSource_ListFiles(t *testing.T) {
	fake := &fakeDrive{
		folders: map[string]string{"Tickets de Compra": "folder-1"},
		pages: [][]map[string]string{
			{{"id": "a", "name": "a.jpg", "mimeType": MIMEJPEG}},
			{{"id": "b", "name": "b.pdf", "mimeType": MIMEPDF}},
		},
		moved: map[string][2]string{},
	}
	src := newFakeDriveSource(t, fake)

	files, err := src.ListFiles(context.Background(), "Tickets de Compra", DocumentMIMETypes)
	require.NoError(t, err)
	assert.Equal(t, []File{
		{ID: "a", Name: "a.jpg", MIMEType: MIMEJPEG},
		{ID: "b", Name: "b.pdf", MIMEType: MIMEPDF},
	}, files)
	assert.Contains(t, fake.listQueries[1], "'folder-1' in parents")

	// The folder ID is cached between calls.
	_, err = src.ListFiles(context.Background(), "Tickets de Compra", DocumentMIMETypes)
	require.NoError(t, err)
	folderLookups := 0
	for _, q := range fake.listQueries {
		if strings.Contains(q, "vnd.google-apps.folder") {
			folderLookups++
		}
	}
	assert.Equal(t, 1, folderLookups)
}

func TestDriveSource_MissingFolder(t *testing.T) {
	src := newFakeDriveSource(t, &fakeDrive{folders: map[string]string{}, moved: map[string][2]string{}})

	files, err := src.ListFiles(context.Background(), "Inversiones", DocumentMIMETypes)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.NotNil(t, files)

	err = src.MoveToProcessed(context.Background(), "x", "Inversiones")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDriveSource_DownloadAndMove(t *testing.T) {
	fake := &fakeDrive{
		folders: map[string]string{"Facturas": "folder-f"},
		content: map[string]string{"file-1": "%PDF-1.4"},
		moved:   map[string][2]string{},
	}
	src := newFakeDriveSource(t, fake)

	data, err := src.Download(context.Background(), "file-1")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	_, err = src.Download(context.Background(), "missing")
	assert.Error(t, err)

	require.NoError(t, src.MoveToProcessed(context.Background(), "file-1", "Facturas"))
	assert.Equal(t, []string{ProcessedFolder}, fake.created)
	assert.Equal(t, [2]string{"processed-id", "folder-f"}, fake.moved["file-1"])
}

func TestClassifyAPIError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unauthorized", &googleapi.Error{Code: http.StatusUnauthorized}, domain.ErrConnection},
		{"forbidden", &googleapi.Error{Code: http.StatusForbidden}, domain.ErrConnection},
		{"rate limited", &googleapi.Error{Code: http.StatusTooManyRequests}, domain.ErrThrottled},
		{"wrapped", fmt.Errorf("call: %w", &googleapi.Error{Code: http.StatusForbidden}), domain.ErrConnection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyAPIError("op", tt.err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	err := classifyAPIError("op", &googleapi.Error{Code: http.StatusInternalServerError})
	assert.NotErrorIs(t, err, domain.ErrConnection)
	assert.NotErrorIs(t, err, domain.ErrThrottled)
}

func TestDriveSource_RejectedCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"error":{"code":403,"message":"insufficient permissions"}}`)
	}))
	t.Cleanup(srv.Close)

	src, err := NewDriveSource(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)

	_, err = src.ListFiles(context.Background(), "Tickets de Compra", DocumentMIMETypes)
	assert.ErrorIs(t, err, domain.ErrConnection)

	_, err = src.Download(context.Background(), "file-1")
	assert.ErrorIs(t, err, domain.ErrConnection)
}

// MockCredentialStore is a mock implementation of CredentialStore.
type MockCredentialStore struct {
	GoogleCredentialsFunc     func(ctx context.Context, ownerID string) (*domain.GoogleCredentials, error)
	SaveGoogleCredentialsFunc func(ctx context.Context, c *domain.GoogleCredentials) error
}

func (m *MockCredentialStore) GoogleCredentials(ctx context.Context, ownerID string) (*domain.GoogleCredentials, error) {
	return m.GoogleCredentialsFunc(ctx, ownerID)
}

func (m *MockCredentialStore) SaveGoogleCredentials(ctx context.Context, c *domain.GoogleCredentials) error {
	return m.SaveGoogleCredentialsFunc(ctx, c)
}

type staticTokenSource struct{ tok *oauth2.Token }

func (s staticTokenSource) Token() (*oauth2.Token, error) { return s.tok, nil }

func TestPersistingTokenSource(t *testing.T) {
	var saved []*domain.GoogleCredentials
	store := &MockCredentialStore{
		SaveGoogleCredentialsFunc: func(ctx context.Context, c *domain.GoogleCredentials) error {
			saved = append(saved, c)
			return nil
		},
	}
	expiry := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	ts := &persistingTokenSource{
		base:   staticTokenSource{tok: &oauth2.Token{AccessToken: "old"}},
		store:  store,
		stored: domain.GoogleCredentials{OwnerID: "u1", AccessToken: "old", RefreshToken: "r1"},
		last:   "old",
	}
	_, err := ts.Token()
	require.NoError(t, err)
	assert.Empty(t, saved)

	ts.base = staticTokenSource{tok: &oauth2.Token{AccessToken: "new", Expiry: expiry}}
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "new", tok.AccessToken)
	require.Len(t, saved, 1)
	assert.Equal(t, "u1", saved[0].OwnerID)
	assert.Equal(t, "new", saved[0].AccessToken)
	assert.Equal(t, "r1", saved[0].RefreshToken)
	assert.Equal(t, expiry, saved[0].Expiry)
}

func TestDriveFactory_MissingCredentials(t *testing.T) {
	store := &MockCredentialStore{
		GoogleCredentialsFunc: func(ctx context.Context, ownerID string) (*domain.GoogleCredentials, error) {
			return nil, domain.ErrNotFound
		},
	}
	_, err := NewDriveFactory("id", "secret", store).For(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrConnection)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
