package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/iSwxkzyEU/sk-trade/internal/config"
	"github.com/iSwxkzyEU/sk-trade/internal/constants"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

var ErrWebhookDisabled = errors.New("no webhook configured")

// WebhookClient posts plain text messages to a chat webhook.
type WebhookClient struct {
	url    string
	client *fasthttp.Client
	logger zerolog.Logger
}

type webhookMessage struct {
	Content string `json:"content"`
}

func NewWebhookClient(cfg *config.Config, logger zerolog.Logger) *WebhookClient {
	return &WebhookClient{
		url: cfg.WebhookURL,
		client: &fasthttp.Client{
			MaxConnsPerHost:     10,
			ReadTimeout:         constants.WebhookTimeout,
			WriteTimeout:        constants.WebhookTimeout,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		logger: logger,
	}
}

func (c *WebhookClient) Enabled() bool {
	return c.url != ""
}

// Post sends content, cut to the chat message limit.
func (c *WebhookClient) Post(ctx context.Context, content string) error {
	if !c.Enabled() {
		return ErrWebhookDisabled
	}

	body, err := json.Marshal(webhookMessage{Content: Truncate(content, constants.WebhookMessageLimit)})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(constants.WebhookTimeout)
	}
	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		c.logger.Error().Err(err).Msg("webhook request failed")
		return fmt.Errorf("webhook request failed: %w", err)
	}

	if code := resp.StatusCode(); code < 200 || code >= 300 {
		c.logger.Warn().Int("status", code).Msg("webhook rejected message")
		return fmt.Errorf("webhook error: %d", code)
	}

	c.logger.Info().Int("length", len(body)).Msg("message posted")
	return nil
}

// Truncate cuts s to at most limit runes, marking the cut with "…".
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
