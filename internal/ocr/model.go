package ocr

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/caseworks/docpipe/pkg/aiclient"
)

const transcribePrompt = `Transcribe the complete text of the attached document.
Preserve reading order, headings, and paragraph breaks. Render tables as plain
text rows. Output only the transcription, with no commentary.`

// supportedMediaTypes lists the attachment types the vision model accepts.
var supportedMediaTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
}

// ModelOCR extracts text by sending the document to a vision-capable model.
type ModelOCR struct {
	client aiclient.Client
	model  string
}

// NewModelOCR creates a ModelOCR extractor.
func NewModelOCR(client aiclient.Client, model string) *ModelOCR {
	return &ModelOCR{client: client, model: model}
}

func (m *ModelOCR) ExtractText(ctx context.Context, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", eris.New("ocr: empty document")
	}
	if !supportedMediaTypes[contentType] {
		return "", eris.Errorf("ocr: unsupported content type %q", contentType)
	}

	resp, err := m.client.CreateMessage(ctx, aiclient.Request{
		Model: m.model,
		Messages: []aiclient.Message{{
			Role:       "user",
			Content:    transcribePrompt,
			Attachment: &aiclient.Attachment{MediaType: contentType, Data: data},
		}},
	})
	if err != nil {
		return "", eris.Wrap(err, "ocr: transcription request")
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", eris.New("ocr: model returned no text")
	}
	return text, nil
}
