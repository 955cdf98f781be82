// Package fetcher downloads documents and prepares them for the
// classification oracle.
package fetcher

import (
	"context"
	"encoding/base64"
	"fmt"
)

// Fetcher retrieves one document per call. Implementations do not retry.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Document, error)
}

// Document is a downloaded file ready to be sent to the oracle.
type Document struct {
	URL         string
	Filename    string
	ContentType string
	Data        []byte
	// Base64 is Data in standard base64, the transport form the oracle takes.
	Base64 string
}

// NewDocument builds a Document and encodes its transport form.
func NewDocument(url, filename, contentType string, data []byte) *Document {
	return &Document{
		URL:         url,
		Filename:    filename,
		ContentType: contentType,
		Data:        data,
		Base64:      base64.StdEncoding.EncodeToString(data),
	}
}

// FetchError normalizes every failure while retrieving a document: network
// errors, non-success statuses, oversize bodies and read failures.
type FetchError struct {
	URL        string
	StatusCode int
	Msg        string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("Network Error: %s", e.Msg)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
