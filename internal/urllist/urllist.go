// Package urllist turns free-form text into the ordered list of document
// URLs a run will process.
package urllist

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// InputError reports user input that cannot start a run.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string {
	return e.Msg
}

// IsInputError reports whether err is (or wraps) an InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

// Parse splits text on newlines and commas, trims each candidate and keeps
// the non-empty ones that start with http:// or https://. Order is kept and
// duplicates are not removed.
func Parse(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == ','
	})

	urls := make([]string, 0, len(fields))
	for _, f := range fields {
		u := strings.TrimSpace(f)
		if u == "" {
			continue
		}
		if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
			urls = append(urls, u)
		}
	}
	return urls
}

// Validate rejects an empty list and lists longer than max. A max of zero
// or less disables the upper bound.
func Validate(urls []string, max int) error {
	if len(urls) == 0 {
		return &InputError{Msg: "please enter at least one valid URL (http/https)"}
	}
	if max > 0 && len(urls) > max {
		return &InputError{Msg: fmt.Sprintf("too many URLs: %d (limit %d)", len(urls), max)}
	}
	return nil
}

// ParseAndValidate is Parse followed by Validate.
func ParseAndValidate(text string, max int) ([]string, error) {
	urls := Parse(text)
	if err := Validate(urls, max); err != nil {
		return nil, err
	}
	return urls, nil
}

// ReadSource reads all of r as URL list text.
func ReadSource(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", eris.Wrap(err, "urllist: read source")
	}
	return string(b), nil
}
