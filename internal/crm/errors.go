package crm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrDecode indicates a 2xx response whose body did not match the expected document shape.
var ErrDecode = errors.New("crm: malformed response")

const maxDetailLen = 512

// APIError is a non-success response from the CRM, carrying the remote error detail.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("crm api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("crm api error: status %d: %s", e.StatusCode, e.Detail)
}

// IsAPIError reports whether err is an *APIError with the given status (0 matches any).
func IsAPIError(err error, status int) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	return status == 0 || ae.StatusCode == status
}

type errorDocument struct {
	Errors []struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func newAPIError(status int, body []byte) *APIError {
	var doc errorDocument
	if err := json.Unmarshal(body, &doc); err == nil && len(doc.Errors) > 0 {
		parts := make([]string, 0, len(doc.Errors))
		for _, e := range doc.Errors {
			switch {
			case e.Title != "" && e.Detail != "":
				parts = append(parts, e.Title+": "+e.Detail)
			case e.Detail != "":
				parts = append(parts, e.Detail)
			case e.Title != "":
				parts = append(parts, e.Title)
			case e.ID != "":
				parts = append(parts, e.ID)
			}
		}
		return &APIError{StatusCode: status, Detail: truncate(strings.Join(parts, "; "))}
	}
	return &APIError{StatusCode: status, Detail: truncate(strings.TrimSpace(string(body)))}
}

// truncate caps s at maxDetailLen bytes without splitting a rune.
func truncate(s string) string {
	if len(s) <= maxDetailLen {
		return s
	}
	cut := maxDetailLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
