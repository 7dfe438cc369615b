package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/caseworks/docpipe/pkg/aiclient"
)

const classifySystemPrompt = `You classify legal documents into exactly one of these types: contract, complaint, motion, judgment, correspondence, invoice, medical_record, insurance_policy, id_document, other. Respond with a valid JSON object: {"doc_type": "<type>", "confidence": <0.0-1.0>}`

const classifyUserPrompt = `Document name: %s

Document text (first %d chars):
%s`

// classifyContextChars bounds the text sent for classification. The full
// text still flows to extraction.
const classifyContextChars = 8000

var knownDocTypes = map[string]bool{
	"contract":         true,
	"complaint":        true,
	"motion":           true,
	"judgment":         true,
	"correspondence":   true,
	"invoice":          true,
	"medical_record":   true,
	"insurance_policy": true,
	"id_document":      true,
	"other":            true,
}

type classification struct {
	DocType    string  `json:"doc_type"`
	Confidence float64 `json:"confidence"`
}

// stageClassify determines the document type. An unparseable model response
// downgrades to ("other", 0) rather than failing the run.
func (o *Orchestrator) stageClassify(ctx context.Context, state *runState) (stageOutcome, error) {
	if state.text == "" {
		return stageOutcome{}, eris.New("classify: no text available")
	}

	temp := 0.0
	resp, err := o.ai.CreateMessage(ctx, aiclient.Request{
		Model:          o.cfg.Anthropic.Model,
		Temperature:    &temp,
		ResponseFormat: "json",
		TimeoutMs:      o.cfg.Model.TimeoutMs,
		MaxRetries:     o.cfg.Model.MaxRetries,
		RetryDelayMs:   o.cfg.Model.RetryDelayMs,
		Messages: []aiclient.Message{
			{Role: "user", Content: classifySystemPrompt},
			{Role: "user", Content: fmt.Sprintf(classifyUserPrompt,
				state.doc.Name, classifyContextChars, truncate(state.text, classifyContextChars))},
		},
	})
	if err != nil {
		return stageOutcome{}, eris.Wrap(err, "classify: model call")
	}

	result := parseClassification(resp.Content)
	state.run.ClassifiedDocType = result.DocType
	state.run.ClassificationConfidence = result.Confidence

	return stageOutcome{
		Detail: fmt.Sprintf("%s (confidence %.2f)", result.DocType, result.Confidence),
	}, nil
}

// parseClassification reads the model's JSON verdict, clamping confidence
// and mapping unknown types to "other".
func parseClassification(raw string) classification {
	var c classification
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &c); err != nil {
		zap.L().Warn("classify: unparseable model response", zap.Error(err))
		return classification{DocType: "other", Confidence: 0}
	}

	if !knownDocTypes[c.DocType] {
		zap.L().Warn("classify: unknown doc type from model", zap.String("doc_type", c.DocType))
		c.DocType = "other"
	}
	if c.Confidence < 0 {
		c.Confidence = 0
	}
	if c.Confidence > 1 {
		c.Confidence = 1
	}
	return c
}
