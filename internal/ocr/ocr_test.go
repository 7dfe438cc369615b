package ocr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseworks/docpipe/internal/config"
	"github.com/caseworks/docpipe/pkg/aiclient"
)

type stubClient struct {
	resp *aiclient.Response
	err  error
	last aiclient.Request
}

func (s *stubClient) CreateMessage(ctx context.Context, req aiclient.Request) (*aiclient.Response, error) {
	s.last = req
	return s.resp, s.err
}

func TestNewExtractor_ModelDefault(t *testing.T) {
	ext, err := NewExtractor(config.OCRConfig{}, &stubClient{}, "m")
	require.NoError(t, err)
	assert.IsType(t, &ModelOCR{}, ext)
}

func TestNewExtractor_ModelRequiresClient(t *testing.T) {
	_, err := NewExtractor(config.OCRConfig{Provider: "model"}, nil, "m")
	require.Error(t, err)
}

func TestNewExtractor_Local(t *testing.T) {
	ext, err := NewExtractor(config.OCRConfig{Provider: "local", PdfToTextPath: "/usr/bin/pdftotext"}, nil, "")
	require.NoError(t, err)
	assert.IsType(t, &PdfToText{}, ext)
}

func TestNewExtractor_UnknownProvider(t *testing.T) {
	_, err := NewExtractor(config.OCRConfig{Provider: "tesseract"}, nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider "tesseract"`)
}

func TestModelOCR_AttachesDocument(t *testing.T) {
	stub := &stubClient{resp: &aiclient.Response{Content: "  IN THE DISTRICT COURT\nCase No. 24-cv-1881  "}}
	m := NewModelOCR(stub, "vision-model")

	text, err := m.ExtractText(context.Background(), []byte("%PDF-1.7"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "IN THE DISTRICT COURT\nCase No. 24-cv-1881", text)

	assert.Equal(t, "vision-model", stub.last.Model)
	require.Len(t, stub.last.Messages, 1)
	require.NotNil(t, stub.last.Messages[0].Attachment)
	assert.Equal(t, "application/pdf", stub.last.Messages[0].Attachment.MediaType)
}

func TestModelOCR_RejectsUnsupportedType(t *testing.T) {
	m := NewModelOCR(&stubClient{}, "m")
	_, err := m.ExtractText(context.Background(), []byte("x"), "application/zip")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported content type")
}

func TestModelOCR_EmptyTranscription(t *testing.T) {
	m := NewModelOCR(&stubClient{resp: &aiclient.Response{Content: "   "}}, "m")
	_, err := m.ExtractText(context.Background(), []byte("%PDF"), "application/pdf")
	require.Error(t, err)
}

func TestPdfToText_BinPathDefault(t *testing.T) {
	p := NewPdfToText("")
	assert.Equal(t, "pdftotext", p.binPath)
}

func TestPdfToText_RejectsNonPDF(t *testing.T) {
	p := NewPdfToText("")
	_, err := p.ExtractText(context.Background(), []byte("x"), "image/png")
	require.Error(t, err)
}
