// Package ocr turns document bytes into plain text for classification and
// extraction.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/caseworks/docpipe/internal/config"
	"github.com/caseworks/docpipe/pkg/aiclient"
)

// Extractor extracts text content from raw document bytes.
type Extractor interface {
	ExtractText(ctx context.Context, data []byte, contentType string) (string, error)
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg config.OCRConfig, client aiclient.Client, modelName string) (Extractor, error) {
	switch cfg.Provider {
	case "model", "":
		if client == nil {
			return nil, eris.New("ocr: model provider requires a configured model client")
		}
		return NewModelOCR(client, modelName), nil
	case "local":
		return NewPdfToText(cfg.PdfToTextPath), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}
