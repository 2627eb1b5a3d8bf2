package extraction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/domain"
)

// MalformedError carries a model response that could not be decoded.
type MalformedError struct {
	Raw string
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed model output: %v", e.Err)
}

// Unwrap exposes both the decode error and the semantic error class.
func (e *MalformedError) Unwrap() []error {
	return []error{domain.ErrSemantic, e.Err}
}

// CleanModelJSON strips Markdown fences and surrounding prose from a model
// response, keeping the outermost JSON object or array.
func CleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			s = strings.TrimPrefix(s, "```json")
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	open := strings.IndexAny(s, "{[")
	if open == -1 {
		return s
	}
	closer := "}"
	if s[open] == '[' {
		closer = "]"
	}
	if end := strings.LastIndex(s, closer); end > open {
		s = s[open : end+1]
	}
	return strings.TrimSpace(s)
}

// DecodeObject cleans raw and decodes it into a map. A top-level array is
// wrapped under "items". Any decode failure is a *MalformedError.
func DecodeObject(raw string) (map[string]any, error) {
	clean := CleanModelJSON(raw)
	if clean == "" {
		return nil, &MalformedError{Raw: raw, Err: fmt.Errorf("empty response")}
	}

	var parsed any
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		return nil, &MalformedError{Raw: raw, Err: err}
	}

	switch v := parsed.(type) {
	case map[string]any:
		return v, nil
	case []any:
		return map[string]any{"items": v}, nil
	default:
		return nil, &MalformedError{Raw: raw, Err: fmt.Errorf("unexpected JSON %T", parsed)}
	}
}

// ErrorField returns the model-reported error, if the payload is an error
// object. Empty values (false, 0, "", {} and []) mean no error.
func ErrorField(data map[string]any) (string, bool) {
	switch v := data["error"].(type) {
	case nil:
		return "", false
	case string:
		return v, v != ""
	case bool:
		return "true", v
	case float64:
		return fmt.Sprint(v), v != 0
	case map[string]any:
		return fmt.Sprint(v), len(v) > 0
	case []any:
		return fmt.Sprint(v), len(v) > 0
	default:
		return fmt.Sprint(v), true
	}
}
