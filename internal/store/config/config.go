package config

import "time"

type Config struct {
	DBDsn    string
	OrderTTL time.Duration

	// GraceWindow - пока заказ в окне, его сумма не выдается другим заказам
	GraceWindow time.Duration
}
