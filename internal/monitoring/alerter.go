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

	"github.com/justdata-platform/justdata/internal/config"
	"github.com/justdata-platform/justdata/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertJobFailureRate    AlertType = "job_failure_rate"
	AlertCensusBreakerOpen AlertType = "census_breaker_open"
	AlertStoreGrowth       AlertType = "store_growth"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds and sends
// alerts via webhook when thresholds are breached.
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

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Check job failure rate.
	finished := snap.Jobs[model.JobSucceeded] + snap.Jobs[model.JobFailed] + snap.Jobs[model.JobCancelled]
	if finished >= 5 && snap.FailureRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertJobFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Job failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished since start)",
				snap.FailureRate*100, a.cfg.FailureRateThreshold*100,
				snap.Jobs[model.JobFailed], finished,
			),
			Details: map[string]any{
				"failure_rate": snap.FailureRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.Jobs[model.JobFailed],
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	// Check census circuit breaker.
	if snap.CensusBreaker == "open" {
		alerts = append(alerts, Alert{
			Type:     AlertCensusBreakerOpen,
			Severity: "medium",
			Message:  "Census circuit breaker is open, demographic context is degraded",
			Details: map[string]any{
				"breaker_state": snap.CensusBreaker,
			},
			Timestamp: now,
		})
	}

	// Check report store growth.
	if a.cfg.StoreBytesThreshold > 0 && snap.StoreBytes > a.cfg.StoreBytesThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertStoreGrowth,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Report store holds %d bytes across %d reports, exceeding threshold %d",
				snap.StoreBytes, snap.ReportsStored, a.cfg.StoreBytesThreshold,
			),
			Details: map[string]any{
				"store_bytes":     snap.StoreBytes,
				"threshold_bytes": a.cfg.StoreBytesThreshold,
				"reports_stored":  snap.ReportsStored,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
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

// sendWebhook posts a single alert to the webhook URL.
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
