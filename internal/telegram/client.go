// Package telegram sends evaluation run notifications via the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/retroeval/internal/models"
)

// maxRows caps the table rows listed in a summary; Telegram rejects
// messages over 4096 characters.
const maxRows = 15

// Sender is the subset of the bot API used for notifications.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications.
type Client struct {
	bot            Sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	return newClient(bot, chatIDInt, maxRetries, retryDelayBase), nil
}

func newClient(bot Sender, chatID int64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a run failure notification.
func (c *Client) SendError(ctx context.Context, runErr error) error {
	text := fmt.Sprintf("⚠️ *Evaluation failed*\n`%s`", escapeMarkdownV2(runErr.Error()))
	return c.sendMarkdownV2(ctx, text)
}

// SendSummary sends the outcome of a run: its counters, the leading table
// rows and the keys of failed scenarios.
func (c *Client) SendSummary(ctx context.Context, run *models.Run, table *models.Table, failed []string) error {
	return c.sendMarkdownV2(ctx, formatSummary(run, table, failed))
}

func formatSummary(run *models.Run, table *models.Table, failed []string) string {
	var b strings.Builder

	b.WriteString("📊 *Retrospective evaluation*\n\n")
	mode := run.Mode
	if run.Band != "" && run.Mode == "registry" {
		mode += " / " + run.Band
	}
	fmt.Fprintf(&b, "🆔 `%s`\n", escapeMarkdownV2(run.ID))
	fmt.Fprintf(&b, "⚙️ Mode: %s\n", escapeMarkdownV2(mode))
	fmt.Fprintf(&b, "📅 Finished: %s \\(%s\\)\n",
		escapeMarkdownV2(run.FinishedAt.Format("2006-01-02 15:04:05")),
		escapeMarkdownV2(run.Duration().Round(time.Millisecond).String()))
	fmt.Fprintf(&b, "✅ %d succeeded, ❌ %d failed\n\n", run.Scenarios-run.Failures, run.Failures)

	if table != nil && len(table.Rows) > 0 {
		fmt.Fprintf(&b, "*%s*\n", escapeMarkdownV2(strings.Join(table.Columns, " | ")))
		for i, row := range table.Rows {
			if i == maxRows {
				fmt.Fprintf(&b, "_\\.\\.\\. and %d more rows_\n", len(table.Rows)-maxRows)
				break
			}
			cells := make([]string, len(row.Values))
			for j, v := range row.Values {
				cells[j] = formatValue(v)
			}
			fmt.Fprintf(&b, "%d\\. %s: %s\n", i+1,
				escapeMarkdownV2(strings.TrimPrefix(row.Label, "Scenario: ")),
				escapeMarkdownV2(strings.Join(cells, " | ")))
		}
	}

	if len(failed) > 0 {
		b.WriteString("\n⚠️ *Failed scenarios*\n")
		for _, key := range failed {
			fmt.Fprintf(&b, "   • %s\n", escapeMarkdownV2(key))
		}
	}

	return b.String()
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
