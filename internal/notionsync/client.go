package notionsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/jomei/notionapi"
)

// notionRetries bounds how often a 429 is retried after its Retry-After wait.
const notionRetries = 3

// NotionClient implements NotionService against the Notion API. Errors carry
// the domain class: throttling, rejected tokens, missing objects and invalid
// property payloads are told apart.
type NotionClient struct {
	client *notionapi.Client
}

// NewNotionClient creates a client for the integration token. opts are applied
// after the defaults.
func NewNotionClient(token string, opts ...notionapi.ClientOption) *NotionClient {
	opts = append([]notionapi.ClientOption{notionapi.WithRetry(notionRetries)}, opts...)
	return &NotionClient{client: notionapi.NewClient(notionapi.Token(token), opts...)}
}

// CreatePage adds a transaction page to the database.
func (n *NotionClient) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	page, err := n.client.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(databaseID),
		},
		Properties: properties,
	})
	if err != nil {
		return nil, classifyNotionError("CreatePage", err)
	}
	return page, nil
}

// UpdatePage rewrites the given properties of a page.
func (n *NotionClient) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	page, err := n.client.Page.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{
		Properties: properties,
	})
	if err != nil {
		return nil, classifyNotionError("UpdatePage "+pageID, err)
	}
	return page, nil
}

// QueryDatabase returns one page of database results.
func (n *NotionClient) QueryDatabase(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	resp, err := n.client.Database.Query(ctx, notionapi.DatabaseID(databaseID), filter)
	if err != nil {
		return nil, classifyNotionError("QueryDatabase", err)
	}
	return resp, nil
}

// ArchivePage moves a page to the trash. A page that no longer exists counts
// as archived.
func (n *NotionClient) ArchivePage(ctx context.Context, pageID string) error {
	_, err := n.client.Page.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{
		Archived: true,
	})
	if err == nil {
		return nil
	}
	err = classifyNotionError("ArchivePage "+pageID, err)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

func classifyNotionError(op string, err error) error {
	var limited *notionapi.RateLimitedError
	if errors.As(err, &limited) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrThrottled, err)
	}

	var apiErr *notionapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrConnection, err)
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrNotFound, err)
		case http.StatusBadRequest:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrInvalidInput, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrThrottled, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
