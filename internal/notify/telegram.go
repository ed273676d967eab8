package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/iurnickita/keyvend/internal/model"
	"github.com/iurnickita/keyvend/internal/notify/config"
)

const defaultTelegramAPIURL = "https://api.telegram.org"

// JSON Telegram Bot API
type telegramMessage struct {
	ChatID      int64           `json:"chat_id"`
	Text        string          `json:"text"`
	ReplyMarkup *telegramMarkup `json:"reply_markup,omitempty"`
}
type telegramMarkup struct {
	InlineKeyboard [][]telegramButton `json:"inline_keyboard"`
}
type telegramButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}
type telegramAnswer struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

type telegram struct {
	client   *resty.Client
	operator int64
}

// NewTelegram sends notifications through the Telegram Bot API. Buyer ids are
// Telegram chat ids.
func NewTelegram(cfg config.Config) Notifier {
	apiURL := cfg.TelegramAPIURL
	if apiURL == "" {
		apiURL = defaultTelegramAPIURL
	}
	client := resty.New().
		SetBaseURL(apiURL + "/bot" + cfg.TelegramToken).
		SetRetryCount(2)
	return &telegram{client: client, operator: cfg.OperatorChatID}
}

func (t *telegram) Notify(ctx context.Context, to Recipient, kind string, payload Payload) error {
	msg := telegramMessage{
		ChatID: to.Buyer,
		Text:   Render(kind, payload),
	}
	if to.Operator {
		msg.ChatID = t.operator
		if kind == model.EventLatePayment {
			msg.ReplyMarkup = &telegramMarkup{InlineKeyboard: [][]telegramButton{{
				{Text: "Approve Key", CallbackData: ApproveAction(payload.OrderID)},
			}}}
		}
	}

	var answer telegramAnswer
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(msg).
		SetResult(&answer).
		SetError(&answer).
		Post("/sendMessage")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK || !answer.OK {
		return fmt.Errorf("telegram request status: %d %s", resp.StatusCode(), answer.Description)
	}
	return nil
}
