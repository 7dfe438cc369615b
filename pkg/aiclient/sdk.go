package aiclient

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// jsonSystemHint is prepended when a request asks for JSON output.
const jsonSystemHint = "Respond with a single valid JSON value and nothing else."

// sdkTransport implements Transport using the official anthropic-sdk-go.
// SDK-internal retries are disabled; the ModelClient owns retry policy.
type sdkTransport struct {
	client sdk.Client
}

// NewSDKTransport creates the production Anthropic transport.
func NewSDKTransport(apiKey string) Transport {
	return &sdkTransport{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(0),
		),
	}
}

func (t *sdkTransport) Do(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  toSDKMessages(req.Messages),
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if req.ResponseFormat == "json" {
		params.System = []sdk.TextBlockParam{{Text: jsonSystemHint}}
	}

	msg, err := t.client.Messages.New(ctx, params)
	if err != nil {
		return nil, mapSDKError(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	usage := TokenUsage{
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}
	return &Response{
		Content:    sb.String(),
		TokensUsed: int(usage.InputTokens + usage.OutputTokens),
		Model:      string(msg.Model),
		Usage:      usage,
	}, nil
}

func toSDKMessages(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		var blocks []sdk.ContentBlockParamUnion
		if m.Attachment != nil {
			blocks = append(blocks, attachmentBlock(m.Attachment))
		}
		if m.Content != "" {
			blocks = append(blocks, sdk.NewTextBlock(m.Content))
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == "assistant" {
			out = append(out, sdk.NewAssistantMessage(blocks...))
		} else {
			out = append(out, sdk.NewUserMessage(blocks...))
		}
	}
	return out
}

func attachmentBlock(a *Attachment) sdk.ContentBlockParamUnion {
	data := base64.StdEncoding.EncodeToString(a.Data)
	if strings.HasPrefix(a.MediaType, "image/") {
		return sdk.NewImageBlockBase64(a.MediaType, data)
	}
	return sdk.NewDocumentBlock(sdk.Base64PDFSourceParam{Data: data})
}

// mapSDKError converts SDK failures into StatusError (for HTTP-level
// failures) or passes network errors through untouched.
func mapSDKError(err error) error {
	var apierr *sdk.Error
	if !errors.As(err, &apierr) {
		return err
	}

	se := &StatusError{
		StatusCode: apierr.StatusCode,
		Message:    apierr.Error(),
	}
	if apierr.Response != nil {
		se.RetryAfter = parseRetryAfter(apierr.Response.Header.Get("retry-after"))
	}
	return se
}

// parseRetryAfter handles the delta-seconds form of the retry-after header.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
