// Package docs renders the AsciiDoc references bundled into the binary.
package docs

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/bytesparadise/libasciidoc"
	"github.com/bytesparadise/libasciidoc/pkg/configuration"
)

//go:generate go run ../../cmd/docgen -api ../api -out api.adoc

//go:embed *.adoc
var bundled embed.FS

type Service struct {
	fsys  fs.FS
	cache map[string]string // filename -> html content
	mu    sync.RWMutex
}

// NewService serves documents from fsys; nil means the bundled set.
func NewService(fsys fs.FS) *Service {
	if fsys == nil {
		fsys = bundled
	}
	return &Service{
		fsys:  fsys,
		cache: make(map[string]string),
	}
}

// GetDoc renders filename to an HTML fragment, caching the result. Unknown
// names yield an error matching fs.ErrNotExist.
func (s *Service) GetDoc(ctx context.Context, filename string) (string, error) {
	if !fs.ValidPath(filename) || path.Ext(filename) != ".adoc" || strings.Contains(filename, "/") {
		return "", fmt.Errorf("doc %q: %w", filename, fs.ErrNotExist)
	}

	s.mu.RLock()
	content, ok := s.cache[filename]
	s.mu.RUnlock()
	if ok {
		return content, nil
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := fs.ReadFile(s.fsys, filename)
	if err != nil {
		return "", fmt.Errorf("failed to read doc file: %w", err)
	}

	output := bytes.NewBuffer(nil)
	config := configuration.NewConfiguration(
		configuration.WithHeaderFooter(false),
		configuration.WithAttribute("toc", "left"),
	)
	if _, err := libasciidoc.Convert(bytes.NewReader(data), output, config); err != nil {
		return "", fmt.Errorf("failed to convert asciidoc: %w", err)
	}

	html := output.String()

	s.mu.Lock()
	s.cache[filename] = html
	s.mu.Unlock()

	return html, nil
}

// ListDocs returns the available document names, sorted.
func (s *Service) ListDocs() ([]string, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, err
	}

	var docs []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".adoc") {
			docs = append(docs, entry.Name())
		}
	}
	sort.Strings(docs)
	return docs, nil
}
