package cloudfiles

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const driveFolderMIME = "application/vnd.google-apps.folder"

// DriveSource reads an owner's Google Drive.
type DriveSource struct {
	svc *drive.Service

	mu      sync.Mutex
	folders map[string]string // "parent/name" -> folder ID
}

// NewDriveSource creates a Drive source. Callers supply credentials through opts.
func NewDriveSource(ctx context.Context, opts ...option.ClientOption) (*DriveSource, error) {
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewDriveSource: create drive service: %w", err)
	}
	return &DriveSource{svc: svc, folders: make(map[string]string)}, nil
}

// findFolder returns the ID of the named folder, or "" when it does not exist.
func (d *DriveSource) findFolder(ctx context.Context, name, parentID string) (string, error) {
	key := parentID + "/" + name
	d.mu.Lock()
	id, ok := d.folders[key]
	d.mu.Unlock()
	if ok {
		return id, nil
	}

	list, err := d.svc.Files.List().
		Q(folderQuery(name, parentID)).
		Fields("files(id, name)").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", classifyAPIError(fmt.Sprintf("findFolder: listing %q", name), err)
	}
	if len(list.Files) == 0 {
		return "", nil
	}

	id = list.Files[0].Id
	d.mu.Lock()
	d.folders[key] = id
	d.mu.Unlock()
	return id, nil
}

// ListFiles follows every result page of the folder listing.
func (d *DriveSource) ListFiles(ctx context.Context, folder string, mimeTypes []string) ([]File, error) {
	folderID, err := d.findFolder(ctx, folder, "")
	if err != nil {
		return nil, fmt.Errorf("ListFiles: %w", err)
	}
	if folderID == "" {
		log := logger.FromContext(ctx)
		log.Info().Str("folder", folder).Msg("Folder not found, nothing to list")
		return []File{}, nil
	}

	files := []File{}
	pageToken := ""
	for {
		call := d.svc.Files.List().
			Q(childrenQuery(folderID, mimeTypes)).
			Fields("nextPageToken, files(id, name, mimeType)").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := call.Do()
		if err != nil {
			return nil, classifyAPIError(fmt.Sprintf("ListFiles: listing folder %q", folder), err)
		}
		for _, f := range list.Files {
			files = append(files, File{ID: f.Id, Name: f.Name, MIMEType: f.MimeType})
		}
		if list.NextPageToken == "" {
			return files, nil
		}
		pageToken = list.NextPageToken
	}
}

// Download fetches the file content.
func (d *DriveSource) Download(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := d.svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, classifyAPIError("Download: file "+fileID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("Download: reading file %s: %w", fileID, err)
	}
	return data, nil
}

// MoveToProcessed re-parents the file into folder/Procesados, creating the
// subfolder on first use.
func (d *DriveSource) MoveToProcessed(ctx context.Context, fileID, folder string) error {
	folderID, err := d.findFolder(ctx, folder, "")
	if err != nil {
		return fmt.Errorf("MoveToProcessed: %w", err)
	}
	if folderID == "" {
		return fmt.Errorf("MoveToProcessed: folder %q: %w", folder, domain.ErrNotFound)
	}

	processedID, err := d.findFolder(ctx, ProcessedFolder, folderID)
	if err != nil {
		return fmt.Errorf("MoveToProcessed: %w", err)
	}
	if processedID == "" {
		created, err := d.svc.Files.Create(&drive.File{
			Name:     ProcessedFolder,
			MimeType: driveFolderMIME,
			Parents:  []string{folderID},
		}).Fields("id").Context(ctx).Do()
		if err != nil {
			return classifyAPIError("MoveToProcessed: creating "+ProcessedFolder+" folder", err)
		}
		processedID = created.Id
		d.mu.Lock()
		d.folders[folderID+"/"+ProcessedFolder] = processedID
		d.mu.Unlock()
	}

	_, err = d.svc.Files.Update(fileID, &drive.File{}).
		AddParents(processedID).
		RemoveParents(folderID).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return classifyAPIError("MoveToProcessed: moving file "+fileID, err)
	}
	return nil
}

// CredentialStore persists owners' Google OAuth tokens.
type CredentialStore interface {
	GoogleCredentials(ctx context.Context, ownerID string) (*domain.GoogleCredentials, error)
	SaveGoogleCredentials(ctx context.Context, c *domain.GoogleCredentials) error
}

// DriveFactory builds a DriveSource per owner from the owner's stored tokens.
type DriveFactory struct {
	oauth *oauth2.Config
	creds CredentialStore
	opts  []option.ClientOption
}

// NewDriveFactory creates a factory for the given OAuth client. Extra options
// are passed to every Drive service it builds.
func NewDriveFactory(clientID, clientSecret string, creds CredentialStore, opts ...option.ClientOption) *DriveFactory {
	return &DriveFactory{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{drive.DriveScope},
		},
		creds: creds,
		opts:  opts,
	}
}

// For returns a DriveSource authorised as ownerID. Refreshed tokens are saved back.
func (f *DriveFactory) For(ctx context.Context, ownerID string) (Source, error) {
	stored, err := f.creds.GoogleCredentials(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("DriveFactory.For: owner %s: %w: %w", ownerID, domain.ErrConnection, err)
	}

	tok := &oauth2.Token{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		Expiry:       stored.Expiry,
		TokenType:    "Bearer",
	}
	ts := &persistingTokenSource{
		base:   f.oauth.TokenSource(context.WithoutCancel(ctx), tok),
		store:  f.creds,
		stored: *stored,
		last:   tok.AccessToken,
		log:    logger.FromContext(ctx).With().Str("owner_id", ownerID).Logger(),
	}

	opts := append([]option.ClientOption{option.WithTokenSource(oauth2.ReuseTokenSource(tok, ts))}, f.opts...)
	return NewDriveSource(ctx, opts...)
}

// persistingTokenSource saves a token whenever the underlying source refreshes it.
type persistingTokenSource struct {
	base   oauth2.TokenSource
	store  CredentialStore
	stored domain.GoogleCredentials
	log    zerolog.Logger

	mu   sync.Mutex
	last string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing Google token: %w: %w", domain.ErrConnection, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken == p.last {
		return tok, nil
	}
	p.last = tok.AccessToken

	updated := p.stored
	updated.AccessToken = tok.AccessToken
	updated.Expiry = tok.Expiry
	if tok.RefreshToken != "" {
		updated.RefreshToken = tok.RefreshToken
	}
	if err := p.store.SaveGoogleCredentials(context.Background(), &updated); err != nil {
		p.log.Warn().Err(err).Msg("Failed to persist refreshed Google token")
	}
	return tok, nil
}
