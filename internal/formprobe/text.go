package formprobe

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ExtractText returns up to maxChars of plain text from data, page by page.
// Pages that fail to decode are skipped.
func ExtractText(data []byte, maxChars int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", eris.Errorf("formprobe: panic reading pdf: %v", rec)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", eris.Wrap(err, "formprobe: open pdf")
	}

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		text, err := pageText(r, i)
		if err != nil {
			zap.L().Debug("formprobe: skipping page", zap.Int("page", i), zap.Error(err))
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		fmt.Fprintf(&sb, "--- page %d ---\n%s\n", i, text)
		if maxChars > 0 && sb.Len() >= maxChars {
			break
		}
	}

	out := sb.String()
	if maxChars > 0 && len(out) > maxChars {
		out = strings.ToValidUTF8(out[:maxChars], "")
	}
	return out, nil
}

// pageText recovers from panics inside the decoder on malformed streams.
func pageText(r *pdf.Reader, n int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = eris.Errorf("panic extracting page %d: %v", n, rec)
		}
	}()

	page := r.Page(n)
	if page.V.IsNull() {
		return "", eris.Errorf("invalid page %d", n)
	}
	return page.GetPlainText(nil)
}
