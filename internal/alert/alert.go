// Package alert delivers budget notifications over the configured channel.
//
// FILES:
//   - alert.go:    Deliverer interface, channel selection, log fallback
//   - webhook.go:  generic JSON webhook delivery
//   - telegram.go: Telegram bot delivery
package alert

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/pinch/internal/config"
)

// Deliverer sends one alert message to its channel. Implementations must
// honor the context deadline; callers own retry policy (currently none, an
// alert is best-effort).
type Deliverer interface {
	Deliver(ctx context.Context, text string) error
}

// Option configures the constructed deliverer.
type Option func(*options)

type options struct {
	httpClient *http.Client
}

// WithHTTPClient sets a custom HTTP client for webhook and telegram delivery.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// New selects a deliverer from configuration. The zero-config default logs
// alerts locally so budget warnings are never silently dropped.
func New(cfg config.AlertConfig, opts ...Option) Deliverer {
	o := &options{
		httpClient: &http.Client{Timeout: config.DefaultAlertTimeout},
	}
	for _, opt := range opts {
		opt(o)
	}

	switch cfg.Channel {
	case "webhook":
		return &Webhook{URL: cfg.WebhookURL, httpClient: o.httpClient}
	case "telegram":
		return &Telegram{
			BotToken:   cfg.Telegram.BotToken,
			ChatID:     cfg.Telegram.ChatID,
			httpClient: o.httpClient,
		}
	default:
		return LogDeliverer{}
	}
}

// LogDeliverer writes alerts to the process log. The default channel.
type LogDeliverer struct{}

func (LogDeliverer) Deliver(_ context.Context, text string) error {
	log.Warn().Str("channel", "log").Msg(text)
	return nil
}
