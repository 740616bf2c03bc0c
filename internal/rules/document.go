package rules

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/eligibility-cli/internal/ocr"
)

// DefaultWindowChars bounds how much of a document is sent for extraction.
const DefaultWindowChars = 15000

var selectionHeading = regexp.MustCompile(`(?i)selection of patients`)

// Document is the text of one trial document, already windowed.
type Document struct {
	Name string
	Text string
}

// LoadDocuments reads every .pdf and .txt file in dir, in name order. PDFs go
// through pdf. Unreadable or empty files are skipped with a warning. A
// missing directory yields no documents.
func LoadDocuments(ctx context.Context, dir string, windowChars int, pdf ocr.Extractor) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		zap.L().Warn("rules: documents directory not found", zap.String("dir", dir))
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read documents dir %s", dir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".pdf", ".txt":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	docs := make([]Document, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "rules: load documents")
		}

		path := filepath.Join(dir, name)
		text, err := readDocument(ctx, path, pdf)
		if err != nil {
			zap.L().Warn("rules: skipping unreadable document", zap.String("file", name), zap.Error(err))
			continue
		}
		if strings.TrimSpace(text) == "" {
			zap.L().Warn("rules: skipping empty document", zap.String("file", name))
			continue
		}
		docs = append(docs, Document{Name: name, Text: Window(text, windowChars)})
	}

	zap.L().Info("rules: documents loaded", zap.String("dir", dir), zap.Int("count", len(docs)))
	return docs, nil
}

func readDocument(ctx context.Context, path string, pdf ocr.Extractor) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		if pdf == nil {
			return "", eris.New("rules: no pdf extractor configured")
		}
		return pdf.ExtractText(ctx, path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "rules: read %s", path)
	}
	return string(b), nil
}

// Window returns up to n characters of text starting at the "selection of
// patients" heading, or at the beginning when there is no such heading.
// n <= 0 means no limit.
func Window(text string, n int) string {
	if loc := selectionHeading.FindStringIndex(text); loc != nil {
		text = text[loc[0]:]
	}
	if n <= 0 {
		return text
	}
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n])
}
