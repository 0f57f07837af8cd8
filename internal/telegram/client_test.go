package telegram

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/retroeval/internal/models"
)

type fakeBot struct {
	failures int
	sent     []tgbotapi.MessageConfig
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.failures > 0 {
		f.failures--
		return tgbotapi.Message{}, errors.New("telegram unavailable")
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"Hello_World", "Hello\\_World"},
		{"Test*bold*", "Test\\*bold\\*"},
		{"Scenario: 2021/05/21 New hosp.", "Scenario: 2021/05/21 New hosp\\."},
		{"[link](url)", "\\[link\\]\\(url\\)"},
		{"-0.4", "\\-0\\.4"},
		{"=equal|pipe", "\\=equal\\|pipe"},
		{"{brace}", "\\{brace\\}"},
		{"end!", "end\\!"},
		{"", ""},
		{"_*[]()~`>#+-=|{}.!", "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeMarkdownV2(tt.input)
			if result != tt.expected {
				t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	_, err := NewClient("", "not-a-number", 3, time.Second)
	if err == nil {
		t.Error("Expected error for invalid chat ID, got nil")
	}
}

func testRun() *models.Run {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.Run{
		ID:         "run-1",
		Mode:       "registry",
		Band:       "med",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Scenarios:  3,
		Failures:   1,
	}
}

func TestFormatSummary(t *testing.T) {
	table := models.NewTable([]string{"MAE", "ME"}, nil)
	_ = table.Append(models.Row{Label: "Scenario: 2021/05/21 ICU", Values: []float64{0.4, -0.2}, Tags: []string{}})
	_ = table.Append(models.Row{Label: "Scenario: 2021/06/04", Values: []float64{1.1, math.NaN()}, Tags: []string{}})

	msg := formatSummary(testRun(), table, []string{"2021/07/01"})

	for _, want := range []string{
		"*Retrospective evaluation*",
		"Mode: registry / med",
		"1\\.5s",
		"✅ 2 succeeded, ❌ 1 failed",
		"*MAE \\| ME*",
		"1\\. 2021/05/21 ICU: 0\\.4 \\| \\-0\\.2",
		"2\\. 2021/06/04: 1\\.1 \\| n/a",
		"• 2021/07/01",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("summary missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatSummary_TruncatesRows(t *testing.T) {
	table := models.NewTable([]string{"MAE"}, nil)
	for i := 0; i < maxRows+5; i++ {
		_ = table.Append(models.Row{Label: "x", Values: []float64{1}, Tags: []string{}})
	}
	msg := formatSummary(testRun(), table, nil)
	if !strings.Contains(msg, "and 5 more rows") {
		t.Errorf("expected truncation note:\n%s", msg)
	}
	if strings.Contains(msg, "Failed scenarios") {
		t.Error("unexpected failure section")
	}
}

func TestSendSummary_Retries(t *testing.T) {
	bot := &fakeBot{failures: 2}
	c := newClient(bot, 42, 3, time.Millisecond)

	if err := c.SendSummary(context.Background(), testRun(), nil, nil); err != nil {
		t.Fatalf("SendSummary: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("got %d messages, want 1", len(bot.sent))
	}
	if bot.sent[0].ChatID != 42 || bot.sent[0].ParseMode != "MarkdownV2" {
		t.Errorf("unexpected message config: %+v", bot.sent[0])
	}
}

func TestSendError_GivesUp(t *testing.T) {
	bot := &fakeBot{failures: 10}
	c := newClient(bot, 42, 2, time.Millisecond)

	err := c.SendError(context.Background(), errors.New("boom"))
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if len(bot.sent) != 0 {
		t.Errorf("got %d messages, want 0", len(bot.sent))
	}
}

func TestSendError_Cancelled(t *testing.T) {
	bot := &fakeBot{failures: 10}
	c := newClient(bot, 42, 5, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.SendError(ctx, errors.New("boom")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
