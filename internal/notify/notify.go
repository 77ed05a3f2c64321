// Package notify sends position health alerts via the Telegram Bot API.
package notify

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/boro-labs/borod/internal/models"
)

// Notifier sends Telegram notifications with per-asset cooldown so a
// position sitting at a health boundary does not spam the chat.
type Notifier struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	cooldown       time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

// New creates a notifier for the given bot token and chat.
func New(botToken, chatID string, cooldown time.Duration) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if cooldown <= 0 {
		cooldown = 30 * time.Minute
	}

	return &Notifier{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     3,
		retryDelayBase: time.Second,
		cooldown:       cooldown,
		lastSent:       make(map[string]time.Time),
		now:            time.Now,
	}, nil
}

// HealthDegraded notifies that a position crossed into a worse health band.
// Repeated alerts for the same asset within the cooldown window are dropped.
func (n *Notifier) HealthDegraded(asset string, snap *models.RiskSnapshot) error {
	if !n.shouldSend(asset) {
		return nil
	}

	emoji := "🟡"
	switch snap.Health {
	case models.HealthDanger:
		emoji = "🟠"
	case models.HealthLiquidated:
		emoji = "🔴"
	}

	text := fmt.Sprintf("%s *%s position is %s*\nLTV: %s\nHealth: %s\nLiquidation price: %s",
		emoji,
		escapeMarkdownV2(asset),
		escapeMarkdownV2(snap.HealthName),
		escapeMarkdownV2(formatPercent(snap.LTVPercent)),
		escapeMarkdownV2(snap.HealthRatio.Round(2).String()),
		escapeMarkdownV2(formatUSD(snap.LiquidationPrice)),
	)
	return n.sendMarkdownV2(text)
}

// TxFailed notifies that a submitted transaction reverted or errored.
func (n *Notifier) TxFailed(in *models.Intent) error {
	text := fmt.Sprintf("❌ *%s %s failed*\n`%s`",
		escapeMarkdownV2(in.Asset),
		escapeMarkdownV2(in.Kind.String()),
		escapeMarkdownV2(in.Reason),
	)
	return n.sendMarkdownV2(text)
}

// SendError notifies about a polling error.
// Call this only on the first occurrence of a consecutive error sequence.
func (n *Notifier) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Polling error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return n.sendMarkdownV2(text)
}

// SendRecovery notifies that polling recovered after consecutive failures.
func (n *Notifier) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Polling recovered* after %d consecutive failure\\(s\\)", failureCount)
	return n.sendMarkdownV2(text)
}

// shouldSend records and checks the per-asset cooldown window.
func (n *Notifier) shouldSend(asset string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	last, ok := n.lastSent[asset]
	if ok && n.now().Sub(last) < n.cooldown {
		return false
	}
	n.lastSent[asset] = n.now()
	return true
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (n *Notifier) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < n.maxRetries; i++ {
		if _, err := n.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(n.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", n.maxRetries, lastErr)
}

func formatPercent(v decimal.Decimal) string {
	return v.Round(2).String() + "%"
}

func formatUSD(v decimal.Decimal) string {
	if v.IsZero() {
		return "n/a"
	}
	return "$" + v.Round(2).String()
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
