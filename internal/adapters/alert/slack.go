// Package alert delivers operator alerts for directives that exhausted their retries
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	slackapi "github.com/slack-go/slack"

	"syncbridge/internal/config"
	"syncbridge/internal/core/ports"
)

const (
	maxRetries = 2
	alertColor = "danger"
)

// slackClient abstracts the Slack API method we use, enabling test servers and mocks
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts alerts as attachments to one channel
type Slack struct {
	client  slackClient
	channel string
}

// LogOnly records alerts in the log when no Slack workspace is configured
type LogOnly struct{}

var (
	_ ports.Alerter = (*Slack)(nil)
	_ ports.Alerter = LogOnly{}
)

// New returns a Slack alerter when a token and channel are configured, otherwise LogOnly
func New(cfg config.AlertConfig, options ...slackapi.Option) ports.Alerter {
	if cfg.SlackToken == "" || cfg.SlackChannel == "" {
		slog.Info("Slack alerts disabled; failures are only logged")
		return LogOnly{}
	}
	return &Slack{
		client:  slackapi.New(cfg.SlackToken, options...),
		channel: cfg.SlackChannel,
	}
}

// Alert implements ports.Alerter
func (s *Slack) Alert(ctx context.Context, title, text string) error {
	att := slackapi.Attachment{
		Title:    title,
		Text:     text,
		Color:    alertColor,
		Fallback: title,
		Footer:   "syncbridge",
	}

	err := retryOnRateLimit(ctx, func() error {
		_, _, err := s.client.PostMessageContext(ctx, s.channel, slackapi.MsgOptionAttachments(att))
		return err
	})
	if err != nil {
		slog.Error("Failed to post Slack alert",
			"error", err,
			"channel", s.channel,
			"title", title,
		)
		return fmt.Errorf("post slack alert: %w", err)
	}
	return nil
}

// Alert implements ports.Alerter
func (LogOnly) Alert(ctx context.Context, title, text string) error {
	slog.Error("ALERT", "title", title, "text", text)
	return nil
}

// retryOnRateLimit retries fn while Slack answers with a rate limit, honoring RetryAfter
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(1<<attempt) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
