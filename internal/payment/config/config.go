package config

import "time"

type Config struct {
	OracleTimeout time.Duration

	TronGridURL    string
	TronGridAPIKey string
	USDTContract   string

	BinancePayURL    string
	BinancePayAPIKey string
	BinancePaySecret string

	RateURL string
}
