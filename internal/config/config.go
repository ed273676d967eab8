package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	authConfig "github.com/iurnickita/keyvend/internal/auth/config"
	handlerConfig "github.com/iurnickita/keyvend/internal/handler/config"
	inventoryConfig "github.com/iurnickita/keyvend/internal/inventory/config"
	loggerConfig "github.com/iurnickita/keyvend/internal/logger/config"
	notifyConfig "github.com/iurnickita/keyvend/internal/notify/config"
	paymentConfig "github.com/iurnickita/keyvend/internal/payment/config"
	reconcilerConfig "github.com/iurnickita/keyvend/internal/reconciler/config"
	serviceConfig "github.com/iurnickita/keyvend/internal/service/config"
	storeConfig "github.com/iurnickita/keyvend/internal/store/config"
)

type Config struct {
	Handler    handlerConfig.Config
	Auth       authConfig.Config
	Service    serviceConfig.Config
	Store      storeConfig.Config
	Logger     loggerConfig.Config
	Inventory  inventoryConfig.Config
	Payment    paymentConfig.Config
	Notify     notifyConfig.Config
	Reconciler reconcilerConfig.Config
}

// GetConfig reads the environment, optionally seeded from .env files.
func GetConfig(envFiles ...string) Config {
	// файла может не быть
	_ = godotenv.Load(envFiles...)

	return Config{
		Handler: handlerConfig.Config{
			ServerAddr: getenv("SERVER_ADDRESS", ":8080"),
		},
		Auth: authConfig.Config{
			JWTSecret: getenv("JWT_SECRET", ""),
		},
		Service: serviceConfig.Config{
			DepositAddress:   getenv("TRON_DEPOSIT_ADDRESS", ""),
			MinTopUp:         getenvDecimal("MIN_TOPUP", decimal.NewFromInt(50)),
			ResellerDiscount: getenvDecimal("RESELLER_DISCOUNT", decimal.NewFromFloat(0.2)),
		},
		Store: storeConfig.Config{
			DBDsn:       getenv("DATABASE_URI", ""),
			OrderTTL:    getenvDuration("ORDER_TTL", 30*time.Minute),
			GraceWindow: getenvDuration("GRACE_WINDOW", 6*time.Hour),
		},
		Logger: loggerConfig.Config{
			LogLevel: getenv("LOG_LEVEL", "info"),
		},
		Inventory: inventoryConfig.Config{
			LowWaterMark: getenvInt("LOW_WATER_MARK", 2),
			SealSecret:   getenv("KEY_SEAL_SECRET", ""),
		},
		Payment: paymentConfig.Config{
			OracleTimeout:    getenvDuration("ORACLE_TIMEOUT", 5*time.Second),
			TronGridURL:      getenv("TRONGRID_URL", "https://api.trongrid.io"),
			TronGridAPIKey:   getenv("TRONGRID_API_KEY", ""),
			USDTContract:     getenv("USDT_CONTRACT", "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"),
			BinancePayURL:    getenv("BINANCE_PAY_URL", "https://bpay.binanceapi.com"),
			BinancePayAPIKey: getenv("BINANCE_PAY_API_KEY", ""),
			BinancePaySecret: getenv("BINANCE_PAY_SECRET", ""),
			RateURL:          getenv("RATE_URL", "https://api.coingecko.com/api/v3/simple/price"),
		},
		Notify: notifyConfig.Config{
			TelegramToken:  getenv("TELEGRAM_TOKEN", ""),
			TelegramAPIURL: getenv("TELEGRAM_API_URL", "https://api.telegram.org"),
			OperatorChatID: getenvInt64("OPERATOR_CHAT_ID", 0),
		},
		Reconciler: reconcilerConfig.Config{
			Interval:     getenvDuration("RECONCILE_INTERVAL", 10*time.Second),
			GraceWindow:  getenvDuration("GRACE_WINDOW", 6*time.Hour),
			ReminderLead: getenvDuration("REMINDER_LEAD", 5*time.Minute),
			AuditEvery:   getenvInt("AUDIT_EVERY", 360),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDecimal(key string, def decimal.Decimal) decimal.Decimal {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return def
	}
	return parsed
}
