package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/caseworks/docpipe/internal/model"
	"github.com/caseworks/docpipe/pkg/aiclient"
)

const extractSystemPrompt = `You extract structured case data from legal documents. The document has been classified as: %s.

Return a JSON array of extracted fields. Each element:
{
  "category_key": "<grouping such as parties, dates, amounts, terms, or empty>",
  "field_key": "<snake_case field name>",
  "label": "<human-readable label>",
  "value": "<the extracted value as a string>",
  "source_quote": "<short verbatim quote supporting the value>",
  "confidence": <0.0-1.0>,
  "impact": "<critical|high|medium|low|info>"
}

Extract every concrete data point a paralegal would record: parties and their
roles, case numbers, courts, deadlines, monetary amounts, policy numbers,
key terms. Use ISO dates (YYYY-MM-DD) for date values. Return [] when the
document yields nothing.`

const extractUserPrompt = `Document text:
%s`

// stageExtract pulls candidate fields out of the document text.
func (o *Orchestrator) stageExtract(ctx context.Context, state *runState) (stageOutcome, error) {
	if state.text == "" {
		return stageOutcome{}, eris.New("extract: no text available")
	}

	temp := 0.0
	resp, err := o.ai.CreateMessage(ctx, aiclient.Request{
		Model:          o.cfg.Anthropic.Model,
		Temperature:    &temp,
		ResponseFormat: "json",
		MaxTokens:      8192,
		TimeoutMs:      o.cfg.Model.TimeoutMs,
		MaxRetries:     o.cfg.Model.MaxRetries,
		RetryDelayMs:   o.cfg.Model.RetryDelayMs,
		Messages: []aiclient.Message{
			{Role: "user", Content: fmt.Sprintf(extractSystemPrompt, state.run.ClassifiedDocType)},
			{Role: "user", Content: fmt.Sprintf(extractUserPrompt,
				truncate(state.text, o.cfg.Pipeline.MaxExtractChars))},
		},
	})
	if err != nil {
		return stageOutcome{}, eris.Wrap(err, "extract: model call")
	}

	candidates, dropped := parseCandidates(resp.Content)
	state.candidates = candidates

	detail := fmt.Sprintf("%d candidate field(s)", len(candidates))
	if dropped > 0 {
		detail += fmt.Sprintf(", %d dropped", dropped)
	}
	return stageOutcome{Detail: detail}, nil
}

// parseCandidates decodes the model's array, discarding entries without a
// field key or value and normalizing out-of-range metadata.
func parseCandidates(raw string) (kept []model.ExtractedField, dropped int) {
	var fields []model.ExtractedField
	if err := json.Unmarshal([]byte(cleanJSONArray(raw)), &fields); err != nil {
		zap.L().Warn("extract: unparseable model response", zap.Error(err))
		return nil, 0
	}

	for _, f := range fields {
		if f.FieldKey == "" || f.Value == "" {
			dropped++
			continue
		}
		if f.Confidence < 0 {
			f.Confidence = 0
		}
		if f.Confidence > 1 {
			f.Confidence = 1
		}
		if !model.ValidImpact(string(f.Impact)) {
			f.Impact = model.ImpactInfo
		}
		kept = append(kept, f)
	}
	return kept, dropped
}
