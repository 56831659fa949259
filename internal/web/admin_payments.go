package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/merdocx/veilbot-sub000/internal/db"
	"github.com/merdocx/veilbot-sub000/internal/services"
)

func setPaymentRoutes(g *gin.RouterGroup, opts Options) {
	g.GET("/payments", func(c *gin.Context) {
		var from, to time.Time
		if v := c.Query("from"); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				badRequest(c, "from: expected YYYY-MM-DD")
				return
			}
			from = t
		}
		if v := c.Query("to"); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				badRequest(c, "to: expected YYYY-MM-DD")
				return
			}
			to = t
		}
		pays, total, err := opts.Store.ListPayments(listFilterFromQuery(c), c.Query("payment_status"), from, to)
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"payments": pays, "total": total})
	})

	g.GET("/payments/:id", func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		pay, err := opts.Store.GetPayment(id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
			return
		}
		c.JSON(http.StatusOK, pay)
	})

	g.POST("/payments/:id/recheck", recheckPaymentHandler(opts.Store, opts.Payments))

	g.GET("/stats", func(c *gin.Context) {
		users, err := opts.Store.CountUsers()
		if err != nil {
			internalError(c, err)
			return
		}
		activeKeys, err := opts.Store.CountActiveKeys()
		if err != nil {
			internalError(c, err)
			return
		}
		now := time.Now()
		today, _ := opts.Store.SumPayments(now.Truncate(24*time.Hour), now)
		month, _ := opts.Store.SumPayments(now.AddDate(0, 0, -30), now)
		c.JSON(http.StatusOK, gin.H{
			"users":         users,
			"active_keys":   activeKeys,
			"revenue_today": today,
			"revenue_month": month,
		})
	})
}

// paymentRechecker — срез репозитория для сверки платежа со шлюзом.
type paymentRechecker interface {
	GetPayment(id uint) (*db.Payment, error)
	ReleasePayment(id uint) error
	FailPayment(id uint) error
}

// recheckPaymentHandler сверяет локальный платёж с актуальным статусом
// в YooKassa. Платёж, застрявший с захваченным флагом выдачи (процесс
// оборвался посреди выдачи), освобождается, чтобы повторная доставка
// webhook прошла конвейер заново; отменённый шлюзом pending-платёж
// переводится в failed.
func recheckPaymentHandler(store paymentRechecker, gateway PaymentGateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		pay, err := store.GetPayment(id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
			return
		}
		remote, err := gateway.GetPayment(c.Request.Context(), pay.GatewayID)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "gateway: " + err.Error()})
			return
		}
		action := "none"
		switch {
		case remote.Status == "canceled" && pay.Status == db.PaymentPending:
			if err := store.FailPayment(pay.ID); err != nil {
				internalError(c, err)
				return
			}
			action = "failed"
		case remote.Status == "succeeded" && pay.Status == db.PaymentPending && pay.Processing:
			if err := store.ReleasePayment(pay.ID); err != nil {
				internalError(c, err)
				return
			}
			action = "released"
		}
		c.JSON(http.StatusOK, gin.H{
			"local_status":   pay.Status,
			"gateway_status": remote.Status,
			"action":         action,
		})
	}
}

// PaymentGateway — срез платёжного клиента, нужный сверке статуса.
type PaymentGateway interface {
	GetPayment(ctx context.Context, paymentID string) (*services.PaymentResponse, error)
}

var _ PaymentGateway = (*services.YooKassaClient)(nil)
