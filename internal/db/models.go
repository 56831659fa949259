package db

import (
	"time"

	"github.com/shopspring/decimal"
)

// Протоколы VPN-серверов.
const (
	ProtocolOutline = "outline"
	ProtocolV2Ray   = "v2ray"
)

// Статусы платежей. Переходы только pending -> completed | failed.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
)

type User struct {
	ID         uint  `gorm:"primaryKey" json:"id"`
	TelegramID int64 `gorm:"uniqueIndex" json:"telegram_id"`
	VIP        bool  `gorm:"default:false" json:"vip"`
	CreatedAt  time.Time
}

// Server — удалённый VPN-узел с management API.
type Server struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Name     string `json:"name"`
	Protocol string `gorm:"index" json:"protocol"` // outline | v2ray
	APIURL   string `json:"api_url"`
	// CertSHA256 — отпечаток самоподписанного сертификата Outline-сервера.
	CertSHA256 string `json:"cert_sha256,omitempty"`
	// APIKey — ключ заголовка X-API-Key для V2Ray management API.
	APIKey    string `json:"-"`
	Country   string `json:"country"`
	Active    bool   `gorm:"default:true;index" json:"active"`
	CreatedAt time.Time
}

// Tariff — покупаемый план. Нередактируем после первой ссылки из платежа.
type Tariff struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `gorm:"type:numeric(10,2)" json:"price"`
	DurationDays int             `json:"duration_days"`
	// TrafficLimit — лимит трафика в байтах, 0 = безлимит.
	TrafficLimit int64  `json:"traffic_limit"`
	Protocol     string `json:"protocol"`
	Active       bool   `gorm:"default:true" json:"active"`
	CreatedAt    time.Time
}

// IsFree — бесплатный тариф выдаётся без оплаты, не чаще раза на пользователя.
func (t *Tariff) IsFree() bool {
	return t.Price.IsZero()
}

// OutlineKey — выданный ключ Outline. RemoteID — идентификатор ключа
// в management API сервера; AccessURL — ss:// строка подключения.
type OutlineKey struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	UserID       uint   `gorm:"index" json:"user_id"`
	ServerID     uint   `gorm:"index" json:"server_id"`
	RemoteID     string `gorm:"index" json:"remote_id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	AccessURL    string `json:"access_url"`
	TrafficLimit int64  `json:"traffic_limit"`
	TrafficUsed  int64  `json:"traffic_used"`
	Active       bool   `gorm:"default:true;index" json:"active"`
	CreatedAt    time.Time
	ExpiresAt    time.Time `gorm:"index" json:"expires_at"`
}

// V2RayKey — выданный VLESS-ключ. UUID — идентификатор клиента на сервере.
type V2RayKey struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	UserID         uint   `gorm:"index" json:"user_id"`
	ServerID       uint   `gorm:"index" json:"server_id"`
	SubscriptionID *uint  `gorm:"index" json:"subscription_id,omitempty"`
	UUID           string `gorm:"index" json:"uuid"`
	Email          string `json:"email"`
	// AccessURL — vless:// строка подключения, кэш последнего get-config.
	AccessURL    string `json:"access_url"`
	TrafficLimit int64  `json:"traffic_limit"`
	TrafficUsed  int64  `json:"traffic_used"`
	Active       bool   `gorm:"default:true;index" json:"active"`
	CreatedAt    time.Time
	ExpiresAt    time.Time `gorm:"index" json:"expires_at"`
}

// Subscription — пакет V2Ray-ключей на нескольких серверах с общим сроком
// и лимитом, выдаётся одной subscription-ссылкой по токену.
type Subscription struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	UserID       uint   `gorm:"index" json:"user_id"`
	TariffID     uint   `json:"tariff_id"`
	Token        string `gorm:"uniqueIndex" json:"token"`
	TrafficLimit int64  `json:"traffic_limit"`
	// Notified — доставлено ли пользователю уведомление о выдаче;
	// false подхватывается фоновым повтором.
	Notified  bool `gorm:"default:false;index" json:"notified"`
	Active    bool `gorm:"default:true" json:"active"`
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}

// Payment — транзакция платёжного шлюза.
// Processing — флаг "идёт выдача" против дублированной доставки webhook:
// выставляется атомарным условным UPDATE, см. Store.ClaimPendingPayment.
type Payment struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	UserID     uint            `gorm:"index" json:"user_id"`
	TariffID   uint            `json:"tariff_id"`
	GatewayID  string          `gorm:"uniqueIndex" json:"gateway_id"`
	Amount     decimal.Decimal `gorm:"type:numeric(10,2)" json:"amount"`
	Currency   string          `gorm:"default:RUB" json:"currency"`
	Email      string          `json:"email"`
	Status     string          `gorm:"index;default:pending" json:"status"`
	Processing bool            `gorm:"default:false" json:"-"`
	// Metadata — произвольный JSON от шлюза, для диагностики.
	Metadata  string `json:"metadata,omitempty"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
