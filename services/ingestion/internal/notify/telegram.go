package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"jobwatch/services/ingestion/internal/errors"
	"jobwatch/services/ingestion/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// telegramMaxListings keeps one summary under Telegram's message size limit.
const telegramMaxListings = 20

type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

func NewTelegram(logger *zap.Logger, token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Config("initialising telegram bot", err)
	}
	return NewTelegramWithBot(logger, bot, chatID), nil
}

func NewTelegramWithBot(logger *zap.Logger, bot *tgbotapi.BotAPI, chatID int64) *Telegram {
	return &Telegram{bot: bot, chatID: chatID, logger: logger}
}

func (t *Telegram) Notify(ctx context.Context, term string, listings []models.Listing) error {
	msg := tgbotapi.NewMessage(t.chatID, TelegramText(term, listings))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := t.bot.Send(msg); err != nil {
		return errors.Notification("sending telegram message for "+term, err)
	}
	t.logger.Info("telegram message sent",
		zap.String("search_term", term),
		zap.Int("count", len(listings)))
	return nil
}

// TelegramText renders the HTML summary for one term.
func TelegramText(term string, listings []models.Listing) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%d new jobs for '%s'</b>\n", len(listings), html.EscapeString(term))

	shown := listings
	if len(shown) > telegramMaxListings {
		shown = shown[:telegramMaxListings]
	}
	for _, l := range shown {
		title := html.EscapeString(l.Title)
		if l.JobURL != "" {
			title = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(l.JobURL), title)
		}
		fmt.Fprintf(&b, "\n• %s at %s", title, html.EscapeString(l.Company))
		if l.Location != "" {
			fmt.Fprintf(&b, " (%s)", html.EscapeString(l.Location))
		}
	}
	if rest := len(listings) - len(shown); rest > 0 {
		fmt.Fprintf(&b, "\n\n…and %d more", rest)
	}
	return b.String()
}
