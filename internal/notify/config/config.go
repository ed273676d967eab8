package config

type Config struct {
	TelegramToken  string
	TelegramAPIURL string
	OperatorChatID int64
}
