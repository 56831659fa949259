package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/merdocx/veilbot-sub000/internal/db"
	"github.com/merdocx/veilbot-sub000/internal/logger"
)

// checkYooKassaSignature сверяет HMAC-подпись webhook (заголовок
// Authorization "HMAC ..."/"HMAC-SHA256 ..." либо Content-Yoomoney-Signature).
func checkYooKassaSignature(secret string, body []byte, authHeader, yoomoneyHeader string) bool {
	var signatures []string
	if authHeader != "" {
		if strings.HasPrefix(authHeader, "HMAC ") || strings.HasPrefix(authHeader, "HMAC-SHA256 ") {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 {
				signatures = append(signatures, parts[1])
			}
		}
	}
	if yoomoneyHeader != "" {
		signatures = append(signatures, yoomoneyHeader)
	}
	if len(signatures) == 0 {
		return false
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	calc := hex.EncodeToString(h.Sum(nil))
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(calc)) {
			return true
		}
	}
	return false
}

// WebhookStore — срез репозитория для обработки уведомлений об оплате.
type WebhookStore interface {
	PaymentByGatewayID(gatewayID string) (*db.Payment, error)
	SavePaymentMetadata(id uint, metadata string) error
	ClaimPendingPayment(id uint) (bool, error)
	CompletePayment(id uint) error
	FailPayment(id uint) error
}

// KeyProvisioner выдаёт ключи по оплаченному платежу.
type KeyProvisioner interface {
	ProvisionPayment(ctx context.Context, pay *db.Payment) (*Result, error)
}

// ResultNotifier доставляет пользователю выданный ключ (best-effort).
type ResultNotifier interface {
	NotifyIssued(userID uint, res *Result)
}

// WebhookHandler обрабатывает уведомления YooKassa. Повторная или
// конкурентная доставка одного платежа безопасна: выдачу выполняет
// только доставка, захватившая платёж через ClaimPendingPayment.
type WebhookHandler struct {
	Secret      string
	Store       WebhookStore
	Provisioner KeyProvisioner
	Notifier    ResultNotifier
	Alert       interface{ NotifyAdmin(msg string) }
	// ProvisionTimeout ограничивает выдачу ключей, по умолчанию 5 минут.
	ProvisionTimeout time.Duration
}

type webhookEvent struct {
	Event  string `json:"event"`
	Object struct {
		ID       string          `json:"id"`
		Status   string          `json:"status"`
		Metadata json.RawMessage `json:"metadata"`
	} `json:"object"`
}

func (h *WebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	authHeader := c.GetHeader("Authorization")
	yoomoneyHeader := c.GetHeader("Content-Yoomoney-Signature")
	if !checkYooKassaSignature(h.Secret, body, authHeader, yoomoneyHeader) {
		h.alert("Недействительная подпись webhook")
		c.String(http.StatusUnauthorized, "invalid signature")
		return
	}
	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.alert("Ошибка парсинга webhook: " + err.Error())
		c.Status(http.StatusBadRequest)
		return
	}
	logger.Info("payment webhook",
		zap.String("gateway_id", event.Object.ID),
		zap.String("status", event.Object.Status))

	pay, err := h.Store.PaymentByGatewayID(event.Object.ID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			h.alert("Webhook по неизвестному платежу: " + event.Object.ID)
		} else {
			h.alert("Ошибка поиска платежа: " + err.Error())
		}
		// Неизвестный платёж подтверждаем, чтобы шлюз не долбил повторно.
		c.Status(http.StatusOK)
		return
	}
	if len(event.Object.Metadata) > 0 && pay.Metadata != string(event.Object.Metadata) {
		if err := h.Store.SavePaymentMetadata(pay.ID, string(event.Object.Metadata)); err != nil {
			logger.Warn("save payment metadata", zap.Uint("payment_id", pay.ID), zap.Error(err))
		}
	}

	switch event.Object.Status {
	case "succeeded":
		h.handleSucceeded(c, pay)
	case "canceled":
		if err := h.Store.FailPayment(pay.ID); err != nil && err != db.ErrPaymentNotPending {
			h.alert("Ошибка отмены платежа: " + err.Error())
		}
		c.Status(http.StatusOK)
	default:
		// waiting_for_capture и прочие промежуточные статусы — только ack.
		c.Status(http.StatusOK)
	}
}

func (h *WebhookHandler) handleSucceeded(c *gin.Context, pay *db.Payment) {
	// Атомарный захват: из двух конкурентных доставок выдачу делает одна,
	// вторая наблюдает флаг уже выставленным и просто подтверждает приём.
	claimed, err := h.Store.ClaimPendingPayment(pay.ID)
	if err != nil {
		h.alert("Ошибка захвата платежа: " + err.Error())
		c.Status(http.StatusInternalServerError)
		return
	}
	if !claimed {
		c.Status(http.StatusOK)
		return
	}

	// Выдача идёт дольше, чем шлюз ждёт ответ на webhook: обрыв
	// соединения не должен прерывать её на середине, поэтому контекст
	// запроса здесь не используется.
	timeout := h.ProvisionTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	res, err := h.Provisioner.ProvisionPayment(ctx, pay)
	if err != nil {
		logger.Error("provisioning failed",
			zap.Uint("payment_id", pay.ID),
			zap.String("gateway_id", pay.GatewayID),
			zap.Error(err))
		h.alert("Ошибка выдачи ключа по платежу " + pay.GatewayID + ": " + err.Error())
		if ferr := h.Store.FailPayment(pay.ID); ferr != nil {
			logger.Error("fail payment", zap.Uint("payment_id", pay.ID), zap.Error(ferr))
		}
		c.Status(http.StatusOK)
		return
	}
	if err := h.Store.CompletePayment(pay.ID); err != nil {
		h.alert("Ключ выдан, но платёж не закрыт: " + pay.GatewayID + ": " + err.Error())
		c.Status(http.StatusOK)
		return
	}
	if h.Notifier != nil {
		h.Notifier.NotifyIssued(pay.UserID, res)
	}
	c.Status(http.StatusOK)
}

func (h *WebhookHandler) alert(msg string) {
	logger.Warn("webhook", zap.String("msg", msg))
	if h.Alert != nil {
		h.Alert.NotifyAdmin(msg)
	}
}
