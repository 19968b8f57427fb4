// Package notify sends operator notices to a Mattermost-compatible incoming webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/jara-app/rewards-gateway/internal/config"
	"github.com/jara-app/rewards-gateway/internal/remote"
	"github.com/jara-app/rewards-gateway/pkg/logger"
)

const botName = "Jara Rewards"

// Client handles webhook notifications.
type Client struct {
	webhookURL string
	channel    string
	enabled    bool
	http       *retryablehttp.Client
	log        *logger.Logger
}

// NewClient creates a new webhook client.
func NewClient(cfg *config.NotifyConfig, log *logger.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &Client{
		webhookURL: cfg.WebhookURL,
		channel:    cfg.Channel,
		enabled:    cfg.Enabled && cfg.WebhookURL != "",
		http:       rc,
		log:        log.Component("notify"),
	}
}

// Message represents a webhook message payload.
type Message struct {
	Channel     string       `json:"channel,omitempty"`
	Username    string       `json:"username,omitempty"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment represents a message attachment.
type Attachment struct {
	Fallback string  `json:"fallback,omitempty"`
	Color    string  `json:"color,omitempty"`
	Title    string  `json:"title,omitempty"`
	Text     string  `json:"text,omitempty"`
	Fields   []Field `json:"fields,omitempty"`
	Footer   string  `json:"footer,omitempty"`
}

// Field represents a message field.
type Field struct {
	Short bool   `json:"short"`
	Title string `json:"title"`
	Value string `json:"value"`
}

// Enabled reports whether messages are actually delivered.
func (c *Client) Enabled() bool {
	return c.enabled
}

// SendMessage posts msg to the webhook.
func (c *Client) SendMessage(ctx context.Context, msg *Message) error {
	if !c.enabled {
		c.log.Debug().Msg("Notifications are disabled, skipping message")
		return nil
	}

	if msg.Channel == "" {
		msg.Channel = c.channel
	}
	if msg.Username == "" {
		msg.Username = botName
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	c.log.Debug().Str("channel", msg.Channel).Msg("Sent notification")
	return nil
}

// SendLowPoolAlert warns operators that the shared coin pool is running dry.
func (c *Client) SendLowPoolAlert(ctx context.Context, pool *remote.CoinPool, threshold int) error {
	pct := 0.0
	if pool.Total > 0 {
		pct = float64(pool.Remaining) / float64(pool.Total) * 100
	}
	color := "#f2c744"
	if pool.Remaining == 0 {
		color = "#d24b4e"
	}

	return c.SendMessage(ctx, &Message{
		Text: "### ⚠️ Coin pool running low",
		Attachments: []Attachment{{
			Fallback: fmt.Sprintf("Coin pool at %d of %d", pool.Remaining, pool.Total),
			Color:    color,
			Fields: []Field{
				{Short: true, Title: "Remaining", Value: fmt.Sprintf("%d (%.2f%%)", pool.Remaining, pct)},
				{Short: true, Title: "Total supply", Value: fmt.Sprintf("%d", pool.Total)},
				{Short: true, Title: "Alert threshold", Value: fmt.Sprintf("%d", threshold)},
			},
			Footer: "Members earn nothing once the pool is empty",
		}},
	})
}
