package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/pinch/internal/utils"
)

// telegramAPIBase is overridable for tests.
var telegramAPIBase = "https://api.telegram.org"

// Telegram delivers alerts through the Telegram Bot API sendMessage call.
type Telegram struct {
	BotToken   string
	ChatID     string
	httpClient *http.Client
}

type telegramRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) Deliver(ctx context.Context, text string) error {
	body, err := json.Marshal(telegramRequest{ChatID: t.ChatID, Text: text})
	if err != nil {
		return fmt.Errorf("alert: marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", telegramAPIBase, t.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alert: build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		// The token is part of the URL; url.Error would echo it, so the
		// raw error is logged masked and never returned to the caller.
		log.Error().Str("bot_token", utils.MaskKey(t.BotToken)).Msg("alert: telegram POST failed")
		return fmt.Errorf("alert: telegram POST failed")
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var tr telegramResponse
	if err := json.Unmarshal(data, &tr); err != nil || !tr.OK {
		desc := tr.Description
		if desc == "" {
			desc = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("alert: telegram rejected message: %s", desc)
	}
	return nil
}
