package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Заказы

type Order struct {
	ID   int64
	Data OrderData
}
type OrderData struct {
	Buyer       int64
	Variant     string
	PriceUSD    decimal.Decimal
	PriceUSDT   decimal.Decimal
	Method      string
	Destination string
	PaymentRef  string
	Status      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	PaidAt      *time.Time
}

const (
	OrderStatusPending   = "Pending"
	OrderStatusExpired   = "Expired"
	OrderStatusConfirmed = "Confirmed"
)

const (
	PaymentMethodUSDT       = "USDT"
	PaymentMethodBinancePay = "BinancePay"
	PaymentMethodBalance    = "Balance"
)

// VariantTopUp - пополнение баланса, ключ не выдается
const VariantTopUp = "TopUp"

func (o Order) IsTopUp() bool {
	return o.Data.Variant == VariantTopUp
}

// Ключи

type KeyRecord struct {
	ID   int64
	Data KeyRecordData
}
type KeyRecordData struct {
	Variant     string
	Payload     []byte
	Status      string
	OrderID     *int64
	AllocatedAt *time.Time
}

const (
	KeyStatusAvailable = "Available"
	KeyStatusUsed      = "Used"
)

// Журнал событий

type Event struct {
	ID        int64
	Kind      string
	OrderID   *int64
	BuyerID   *int64
	Details   string
	CreatedAt time.Time
}

const (
	EventOrderCreated        = "OrderCreated"
	EventOrderExpired        = "OrderExpired"
	EventPaymentReceived     = "PaymentReceived"
	EventLatePayment         = "LatePayment"
	EventLatePaymentApproved = "LatePaymentApproved"
	EventNoKeyAvailable      = "NoKeyAvailable"
	EventLowInventory        = "LowInventory"
	EventKeysAdded           = "KeysAdded"
	EventOrphanedKey         = "OrphanedKey"
	EventBalanceCredited     = "BalanceCredited"
	EventInvariantViolation  = "InvariantViolation"
	EventRoleAssigned        = "RoleAssigned"
	EventBalanceAdjusted     = "BalanceAdjusted"
)

// Однократные уведомления по заказу
const (
	NoticeReminder    = "reminder"
	NoticeLatePayment = "late_payment"
	NoticeNoKey       = "no_key"
)

// Каталог

type Product struct {
	Variant  string
	PriceUSD decimal.Decimal
}

// Покупатели. Без записи покупатель считается Normal

type Buyer struct {
	ID   int64
	Role string
}

const (
	BuyerRoleNormal   = "Normal"
	BuyerRoleReseller = "Reseller"
)

// Баланс и история

type Balance struct {
	Key  BalanceKey
	Data BalanceData
}
type BalanceKey struct {
	Buyer     int64
	Operation int64
}
type BalanceData struct {
	Timestamp  time.Time
	Difference decimal.Decimal
	Balance    decimal.Decimal
	Order      int64
}
