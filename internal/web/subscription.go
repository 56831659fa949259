package web

import (
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/merdocx/veilbot-sub000/internal/db"
)

// subscriptionStore — срез репозитория для выдачи subscription-бандла.
type subscriptionStore interface {
	SubscriptionByToken(token string) (*db.Subscription, error)
	V2RayKeysBySubscription(subID uint) ([]db.V2RayKey, error)
}

// subscriptionHandler отдаёт бандл конфигов по токену подписки.
// Формат — ожидаемый "subscription import" экосистемы V2Ray-клиентов:
// base64 от списка vless:// строк, по одной на строку, text/plain.
func subscriptionHandler(store subscriptionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Param("token")
		sub, err := store.SubscriptionByToken(token)
		if err != nil {
			c.Status(http.StatusNotFound)
			return
		}
		if !sub.Active || sub.ExpiresAt.Before(time.Now()) {
			c.Status(http.StatusNotFound)
			return
		}
		keys, err := store.V2RayKeysBySubscription(sub.ID)
		if err != nil {
			internalError(c, err)
			return
		}
		var uris []string
		for _, k := range keys {
			if k.Active && k.AccessURL != "" {
				uris = append(uris, k.AccessURL)
			}
		}
		payload := base64.StdEncoding.EncodeToString([]byte(strings.Join(uris, "\n")))
		c.Header("Profile-Update-Interval", "12")
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(payload))
	}
}
