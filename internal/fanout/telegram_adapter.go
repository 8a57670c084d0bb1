package fanout

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"gemwatch/internal/domain"
)

// TelegramBot is the slice of tgbotapi.BotAPI this adapter needs, kept as
// an interface so tests can substitute a fake instead of hitting the
// Telegram API.
type TelegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// unreachableSubstrings classifies a Telegram send error as permanent
// ("remove this subscriber") rather than transient.
var unreachableSubstrings = []string{
	"chat not found",
	"bot was blocked by the user",
	"user is deactivated",
	"forbidden",
}

// TelegramAdapter fans alerts out over Telegram: one message per matching
// subscriber, plus a broadcast-channel post for every Tier-1 record.
type TelegramAdapter struct {
	bot             TelegramBot
	registry        SubscriberRegistry
	broadcastChatID int64
	log             logrus.FieldLogger
}

// NewTelegramAdapter builds a TelegramAdapter. broadcastChatID is the
// configured Tier-1 broadcast channel; 0 disables it.
func NewTelegramAdapter(bot TelegramBot, registry SubscriberRegistry, broadcastChatID int64, log logrus.FieldLogger) *TelegramAdapter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &TelegramAdapter{bot: bot, registry: registry, broadcastChatID: broadcastChatID, log: log}
}

var _ Adapter = (*TelegramAdapter)(nil)

// Deliver sends rec to every registered subscriber whose tier filter
// accepts rec.Tier, with per-recipient retry, removing subscribers whose
// failure is permanent. Tier-1 records also post to the broadcast
// channel.
func (a *TelegramAdapter) Deliver(ctx context.Context, rec domain.AlertRecord) {
	text := formatAlertMessage(rec)

	subs, err := a.registry.List(ctx)
	if err != nil {
		a.log.WithError(err).Error("fanout: list subscribers failed")
	}
	for _, sub := range subs {
		if !sub.AcceptsTier(rec.Tier) {
			continue
		}
		chatID, err := strconv.ParseInt(sub.Destination, 10, 64)
		if err != nil {
			a.log.WithField("subscriber", sub.ID).WithError(err).Warn("fanout: invalid telegram destination")
			continue
		}
		permanent := deliverWithRetry(ctx, func(ctx context.Context) error {
			return a.send(chatID, text)
		})
		if permanent {
			a.log.WithField("subscriber", sub.ID).Warn("fanout: removing permanently unreachable subscriber")
			if err := a.registry.Remove(ctx, sub.ID); err != nil {
				a.log.WithField("subscriber", sub.ID).WithError(err).Error("fanout: remove subscriber failed")
			}
		}
	}

	if rec.Tier == domain.Tier1 && a.broadcastChatID != 0 {
		deliverWithRetry(ctx, func(ctx context.Context) error {
			return a.send(a.broadcastChatID, text)
		})
	}
}

func (a *TelegramAdapter) send(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := a.bot.Send(msg)
	if err == nil {
		return nil
	}
	if isUnreachableTelegramError(err) {
		return &UnreachableError{Err: err}
	}
	return err
}

func isUnreachableTelegramError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range unreachableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func formatAlertMessage(rec domain.AlertRecord) string {
	mc := "unknown"
	if rec.EntryMarketCapUSD != nil {
		mc = fmt.Sprintf("$%.0f", *rec.EntryMarketCapUSD)
	}
	return fmt.Sprintf(
		"[%s] %s (%s)\ncontract: %s\nmc: %s\nhotlist: %s\n%s",
		rec.Level, rec.Token, rec.ID, rec.Contract, mc, rec.Hotlist, rec.Description,
	)
}
