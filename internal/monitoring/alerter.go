// Package monitoring delivers operational alerts to a webhook.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/caseworks/docpipe/internal/config"
	"github.com/caseworks/docpipe/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailure    AlertType = "run_failure"
	AlertActionRaised  AlertType = "action_raised"
	AlertSinkDelivery  AlertType = "sink_delivery_failure"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter sends alerts via webhook. A zero webhook URL disables delivery.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// RunFailed builds the alert for a failed pipeline run.
func RunFailed(run *model.PipelineRun, stage model.Stage, cause error) Alert {
	return Alert{
		Type:     AlertRunFailure,
		Severity: "high",
		Message:  fmt.Sprintf("Pipeline run %s failed at stage %s", run.ID, stage),
		Details: map[string]any{
			"run_id":      run.ID,
			"document_id": run.DocumentID,
			"stage":       string(stage),
			"error":       cause.Error(),
		},
		Timestamp: time.Now().UTC(),
	}
}

// ActionRaised builds the alert for an alert-type pipeline action.
func ActionRaised(action model.Action) Alert {
	return Alert{
		Type:     AlertActionRaised,
		Severity: "medium",
		Message:  action.Title,
		Details: map[string]any{
			"action_id":  action.ID,
			"run_id":     action.RunID,
			"case_id":    action.CaseID,
			"trigger_id": action.TriggerID,
			"detail":     action.Detail,
		},
		Timestamp: time.Now().UTC(),
	}
}

// Send delivers alerts to the configured webhook URL. Returns the number of
// alerts successfully sent. Delivery failures are logged, never fatal.
func (a *Alerter) Send(ctx context.Context, alerts ...Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
