package config

import "github.com/shopspring/decimal"

type Config struct {
	// DepositAddress - TRON-адрес для приема USDT
	DepositAddress   string
	MinTopUp         decimal.Decimal
	ResellerDiscount decimal.Decimal
}
