// Package fetcher resolves document sources (local paths, http(s) URLs,
// ftp URLs) into raw bytes for the intake stage.
package fetcher

import (
	"context"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher downloads a document source and reports the content type when it
// can be determined. An empty content type means unknown; the caller sniffs.
type Fetcher interface {
	Fetch(ctx context.Context, source string) (data []byte, contentType string, err error)
}

// Resolver dispatches a source to the fetcher registered for its scheme.
// Sources without a scheme are treated as local file paths.
type Resolver struct {
	schemes map[string]Fetcher
}

// NewResolver builds the standard scheme table.
func NewResolver(file, http, ftp Fetcher) *Resolver {
	return &Resolver{schemes: map[string]Fetcher{
		"":      file,
		"file":  file,
		"http":  http,
		"https": http,
		"ftp":   ftp,
	}}
}

func (r *Resolver) Fetch(ctx context.Context, source string) ([]byte, string, error) {
	scheme := ""
	if u, err := url.Parse(source); err == nil {
		scheme = strings.ToLower(u.Scheme)
	}
	// Windows-style drive letters parse as single-letter schemes.
	if len(scheme) == 1 {
		scheme = ""
	}

	f, ok := r.schemes[scheme]
	if !ok || f == nil {
		return nil, "", eris.Errorf("fetcher: unsupported source scheme %q", scheme)
	}
	return f.Fetch(ctx, source)
}

// typeFromName guesses a content type from the source's file extension.
func typeFromName(source string) string {
	ext := strings.ToLower(path.Ext(source))
	if ext == "" {
		return ""
	}
	ct := mime.TypeByExtension(ext)
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return ct
}
