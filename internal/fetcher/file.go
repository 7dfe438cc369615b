package fetcher

import (
	"context"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// FileFetcher reads documents from the local filesystem.
type FileFetcher struct{}

func NewFileFetcher() *FileFetcher {
	return &FileFetcher{}
}

func (f *FileFetcher) Fetch(ctx context.Context, source string) ([]byte, string, error) {
	p := strings.TrimPrefix(source, "file://")
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, "", eris.Wrapf(err, "fetcher: read file %s", p)
	}
	return data, typeFromName(p), nil
}
