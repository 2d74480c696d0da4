package hooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Header names set on every webhook delivery.
const (
	HeaderTimestamp = "X-Stockly-Timestamp"
	HeaderSignature = "X-Stockly-Signature"
)

// Payload is the webhook POST body.
type Payload struct {
	DeviceID  string       `json:"device_id"`
	Timestamp string       `json:"timestamp"`
	Event     EventPayload `json:"event"`
}

// EventPayload is the wire form of an Event.
type EventPayload struct {
	Kind         string         `json:"kind"`
	Table        string         `json:"table,omitempty"`
	EntityID     int64          `json:"entity_id,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	StockChanged []int64        `json:"stock_changed,omitempty"`
	At           string         `json:"at"`
}

// BuildPayload converts an event into a webhook payload.
func BuildPayload(deviceID string, ev Event) Payload {
	return Payload{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Event: EventPayload{
			Kind:         ev.Kind,
			Table:        ev.Table,
			EntityID:     ev.EntityID,
			Data:         ev.Data.Payload(),
			StockChanged: ev.StockChanged,
			At:           ev.At.UTC().Format(time.RFC3339),
		},
	}
}

// Sign returns the signature header value for body sent at unixTS.
func Sign(secret, unixTS string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(unixTS))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Webhook posts each event to URL, signed with Secret when set.
type Webhook struct {
	URL      string
	Secret   string
	DeviceID string
	Client   *http.Client
}

// NewWebhook returns a webhook hook with a 10s client timeout.
func NewWebhook(url, secret, deviceID string) *Webhook {
	return &Webhook{URL: url, Secret: secret, DeviceID: deviceID, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Run(ctx context.Context, ev Event) error {
	return Dispatch(ctx, w.Client, w.URL, w.Secret, BuildPayload(w.DeviceID, ev))
}

// Dispatch performs a synchronous HTTP POST to the webhook URL.
// Returns nil on success (2xx status).
func Dispatch(ctx context.Context, client *http.Client, url, secret string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "stockly-webhook/1")

	unixTS := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set(HeaderTimestamp, unixTS)
	if secret != "" {
		req.Header.Set(HeaderSignature, Sign(secret, unixTS, body))
	}

	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: status %d", url, resp.StatusCode)
	}
	return nil
}
