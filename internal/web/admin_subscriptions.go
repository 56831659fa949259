package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/merdocx/veilbot-sub000/internal/db"
	"github.com/merdocx/veilbot-sub000/internal/logger"
	"github.com/merdocx/veilbot-sub000/internal/syncer"
	"github.com/merdocx/veilbot-sub000/internal/vpn"
)

func setSubscriptionRoutes(g *gin.RouterGroup, opts Options) {
	g.GET("/subscriptions", func(c *gin.Context) {
		subs, total, err := opts.Store.ListSubscriptions(listFilterFromQuery(c))
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"subscriptions": subs, "total": total})
	})

	g.GET("/subscriptions/:id", func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		sub, err := opts.Store.GetSubscription(id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
			return
		}
		keys, err := opts.Store.V2RayKeysBySubscription(sub.ID)
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"subscription": sub, "keys": keys})
	})

	// Продление подписки сдвигает срок самой подписки и всех её ключей:
	// инвариант — срок у всех ключей пакета общий.
	g.POST("/subscriptions/:id/extend", func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		days, ok := bindExtendDays(c)
		if !ok {
			return
		}
		sub, err := opts.Store.GetSubscription(id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
			return
		}
		sub.ExpiresAt = extendFrom(sub.ExpiresAt, days)
		sub.Active = true
		if err := opts.Store.UpdateSubscription(sub); err != nil {
			internalError(c, err)
			return
		}
		keys, err := opts.Store.V2RayKeysBySubscription(sub.ID)
		if err != nil {
			internalError(c, err)
			return
		}
		for i := range keys {
			keys[i].ExpiresAt = sub.ExpiresAt
			keys[i].Active = true
			if err := opts.Store.UpdateV2RayKey(&keys[i]); err != nil {
				internalError(c, err)
				return
			}
		}
		c.JSON(http.StatusOK, sub)
	})

	g.DELETE("/subscriptions/:id", deleteSubscriptionHandler(opts.Store, opts.Clients))

	// Запуск синхронизации из админки. Прогон долгий, поэтому таймаут
	// здесь — минуты; клиентский abort сервер не прерывает, прогон
	// доработает по своему расписанию на отвязанном контексте.
	g.POST("/subscriptions/sync-keys", func(c *gin.Context) {
		var sopts syncer.Options
		if err := c.ShouldBindJSON(&sopts); err != nil {
			badRequest(c, err.Error())
			return
		}
		if !sopts.IncludeV2Ray && !sopts.IncludeOutline {
			badRequest(c, "at least one of include_v2ray/include_outline must be set")
			return
		}
		logger.LogAdminAction(0, "sync-keys", sopts.Describe())
		ctx, cancel := context.WithTimeout(context.Background(), opts.SyncTimeout)
		defer cancel()
		report, err := opts.Sync.Run(ctx, sopts)
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	})

	g.POST("/cleanup", func(c *gin.Context) {
		report, err := opts.Store.Cleanup(30 * 24 * time.Hour)
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	})
}

// subscriptionDeleter — срез репозитория для удаления подписки.
type subscriptionDeleter interface {
	GetSubscription(id uint) (*db.Subscription, error)
	V2RayKeysBySubscription(subID uint) ([]db.V2RayKey, error)
	GetServer(id uint) (*db.Server, error)
	DeleteV2RayKey(id uint) error
	DeleteSubscription(id uint) error
}

// deleteSubscriptionHandler удаляет подписку вместе со всеми её ключами,
// предварительно отозвав их на серверах. Если отзыв хотя бы одного ключа
// не удался, записи остаются и оператор получает ошибку с деталями.
func deleteSubscriptionHandler(store subscriptionDeleter, clients func(srv db.Server) (vpn.Client, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		sub, err := store.GetSubscription(id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
			return
		}
		keys, err := store.V2RayKeysBySubscription(sub.ID)
		if err != nil {
			internalError(c, err)
			return
		}
		for i := range keys {
			key := keys[i]
			if err := revokeSubscriptionKey(c, store, clients, key); err != nil {
				c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("key %d: remote delete failed: %v", key.ID, err)})
				return
			}
			if err := store.DeleteV2RayKey(key.ID); err != nil {
				internalError(c, err)
				return
			}
		}
		if err := store.DeleteSubscription(sub.ID); err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func revokeSubscriptionKey(c *gin.Context, store subscriptionDeleter, clients func(srv db.Server) (vpn.Client, error), key db.V2RayKey) error {
	srv, err := store.GetServer(key.ServerID)
	if err != nil {
		return err
	}
	client, err := clients(*srv)
	if err != nil {
		return err
	}
	remote, err := client.ListKeys(c.Request.Context())
	if err != nil {
		return err
	}
	for _, k := range remote {
		if k.UUID == key.UUID {
			if err := client.DeleteKey(c.Request.Context(), k.ID); err != nil && !errors.Is(err, vpn.ErrKeyNotFound) {
				return err
			}
			return nil
		}
	}
	// На сервере ключа уже нет — локальную запись можно снимать.
	return nil
}
