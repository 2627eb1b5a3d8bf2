package extraction

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"google.golang.org/genai"
)

// ClassifyError wraps a provider error with its domain error class. Errors that
// already carry a class, and errors with no recognisable class, are returned
// unchanged.
func ClassifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrConnection) || errors.Is(err, domain.ErrThrottled) || errors.Is(err, domain.ErrSemantic) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if code, status, ok := apiStatus(err); ok {
		switch {
		case code == http.StatusTooManyRequests || status == "RESOURCE_EXHAUSTED":
			return fmt.Errorf("%s: %w: %w", op, domain.ErrThrottled, err)
		case code == http.StatusUnauthorized || code == http.StatusForbidden ||
			status == "UNAUTHENTICATED" || status == "PERMISSION_DENIED":
			return fmt.Errorf("%s: %w: %w", op, domain.ErrConnection, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && !netErr.Timeout() {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrConnection, err)
	}

	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "ResourceExhausted") {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrThrottled, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func apiStatus(err error) (int, string, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Status, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, apiErrPtr.Status, true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode, "", true
	}
	return 0, "", false
}

// HTTPError is a non-2xx response from a plain HTTP provider.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}
