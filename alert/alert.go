// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package alert delivers operator alerts for degraded conditions: a
// realtime feed that cannot reconnect, payouts that exhausted their
// retries, a funding wallet too small to cover a win.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Type categorizes an alert.
type Type string

const (
	// TypeFeedDegraded fires when the feed has failed to connect for
	// longer than the operator threshold.
	TypeFeedDegraded Type = "FEED_DEGRADED"

	// TypeFeedRecovered fires when a degraded feed reconnects.
	TypeFeedRecovered Type = "FEED_RECOVERED"

	// TypePayoutFailed fires when a payout exhausted its broadcast
	// retries and the bet was parked for operator review.
	TypePayoutFailed Type = "PAYOUT_FAILED"

	// TypeInsufficientFunds fires when the funding wallet cannot cover
	// a payout.
	TypeInsufficientFunds Type = "INSUFFICIENT_FUNDS"
)

// Alert is a single operator alert.
type Alert struct {
	// Type categorizes the condition.
	Type Type

	// Key scopes the cooldown within a type, such as a bet id or the
	// feed endpoint.
	Key string

	// Title is the one-line summary.
	Title string

	// Message carries the detail text.
	Message string

	// Fields are optional structured details.
	Fields map[string]string
}

// Alerter delivers alerts to one channel.
type Alerter interface {
	Send(ctx context.Context, a Alert) error
}

// LogAlerter writes alerts to the daemon log at error level, so every
// alert reaches at least the log file.
type LogAlerter struct{}

// Send implements Alerter.
func (LogAlerter) Send(_ context.Context, a Alert) error {
	if len(a.Fields) > 0 {
		log.Errorf("ALERT %s: %s: %s %v", a.Type, a.Title, a.Message,
			a.Fields)
		return nil
	}
	log.Errorf("ALERT %s: %s: %s", a.Type, a.Title, a.Message)
	return nil
}

// WebhookAlerter POSTs alerts as JSON to an operator-provided
// endpoint.
type WebhookAlerter struct {
	url    string
	client *http.Client
}

// NewWebhookAlerter creates a webhook alerter for the given endpoint.
func NewWebhookAlerter(url string) *WebhookAlerter {
	return &WebhookAlerter{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send implements Alerter.
func (w *WebhookAlerter) Send(ctx context.Context, a Alert) error {
	payload := map[string]interface{}{
		"type":    string(a.Type),
		"key":     a.Key,
		"title":   a.Title,
		"message": a.Message,
		"fields":  a.Fields,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url,
		bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// MultiAlerter fans out alerts to every configured channel and
// suppresses repeats of the same condition within the cooldown
// window.
type MultiAlerter struct {
	alerters []Alerter
	cooldown time.Duration

	mtx      sync.Mutex
	lastSent map[string]time.Time
}

// NewMultiAlerter creates a fan-out alerter with the given cooldown.
func NewMultiAlerter(cooldown time.Duration, alerters ...Alerter) *MultiAlerter {
	return &MultiAlerter{
		alerters: alerters,
		cooldown: cooldown,
		lastSent: make(map[string]time.Time),
	}
}

// cooldownKey identifies the condition an alert reports.
func cooldownKey(a Alert) string {
	return fmt.Sprintf("%s:%s", a.Type, a.Key)
}

// Send dispatches the alert to every channel.  Repeats of the same
// type and key within the cooldown are dropped.  Every channel is
// attempted; the first delivery error is returned.
func (m *MultiAlerter) Send(ctx context.Context, a Alert) error {
	key := cooldownKey(a)

	m.mtx.Lock()
	if last, ok := m.lastSent[key]; ok && time.Since(last) < m.cooldown {
		m.mtx.Unlock()
		log.Debugf("Alert %s suppressed by cooldown", key)
		return nil
	}
	m.lastSent[key] = time.Now()
	m.mtx.Unlock()

	var firstErr error
	for _, alerter := range m.alerters {
		if err := alerter.Send(ctx, a); err != nil {
			log.Warnf("Alert delivery failed on %T: %v", alerter, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
