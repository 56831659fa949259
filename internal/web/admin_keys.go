package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/merdocx/veilbot-sub000/internal/vpn"
)

func setKeyRoutes(g *gin.RouterGroup, opts Options) {
	g.GET("/keys/outline", func(c *gin.Context) {
		keys, total, err := opts.Store.ListOutlineKeys(listFilterFromQuery(c))
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"keys": keys, "total": total})
	})

	g.GET("/keys/v2ray", func(c *gin.Context) {
		keys, total, err := opts.Store.ListV2RayKeys(listFilterFromQuery(c))
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"keys": keys, "total": total})
	})

	// Продление: сдвиг срока действия на N дней.
	g.POST("/keys/outline/:id/extend", func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		days, ok := bindExtendDays(c)
		if !ok {
			return
		}
		key, err := opts.Store.GetOutlineKey(id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
			return
		}
		key.ExpiresAt = extendFrom(key.ExpiresAt, days)
		key.Active = true
		if err := opts.Store.UpdateOutlineKey(key); err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, key)
	})

	g.POST("/keys/v2ray/:id/extend", func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		days, ok := bindExtendDays(c)
		if !ok {
			return
		}
		key, err := opts.Store.GetV2RayKey(id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
			return
		}
		key.ExpiresAt = extendFrom(key.ExpiresAt, days)
		key.Active = true
		if err := opts.Store.UpdateV2RayKey(key); err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, key)
	})

	// Удаление ключа обязано отозвать его и на сервере. Если отзыв не
	// удался, ключ НЕ считается удалённым: локальная запись остаётся,
	// оператор получает ошибку с деталями.
	g.DELETE("/keys/outline/:id", func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		key, err := opts.Store.GetOutlineKey(id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
			return
		}
		if err := revokeRemote(c, opts, key.ServerID, func(client vpn.Client) error {
			return client.DeleteKey(c.Request.Context(), key.RemoteID)
		}); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "remote delete failed: " + err.Error()})
			return
		}
		if err := opts.Store.DeleteOutlineKey(id); err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	g.DELETE("/keys/v2ray/:id", func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		key, err := opts.Store.GetV2RayKey(id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
			return
		}
		if err := revokeRemote(c, opts, key.ServerID, func(client vpn.Client) error {
			keys, err := client.ListKeys(c.Request.Context())
			if err != nil {
				return err
			}
			for _, k := range keys {
				if k.UUID == key.UUID {
					return client.DeleteKey(c.Request.Context(), k.ID)
				}
			}
			// На сервере ключа уже нет — локальную запись можно снимать.
			return nil
		}); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "remote delete failed: " + err.Error()})
			return
		}
		if err := opts.Store.DeleteV2RayKey(id); err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
}

func revokeRemote(c *gin.Context, opts Options, serverID uint, fn func(client vpn.Client) error) error {
	srv, err := opts.Store.GetServer(serverID)
	if err != nil {
		return err
	}
	client, err := opts.Clients(*srv)
	if err != nil {
		return err
	}
	if err := fn(client); err != nil && !errors.Is(err, vpn.ErrKeyNotFound) {
		return err
	}
	return nil
}

func bindExtendDays(c *gin.Context) (int, bool) {
	var req struct {
		Days int `json:"days"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Days <= 0 {
		badRequest(c, "days must be a positive integer")
		return 0, false
	}
	return req.Days, true
}

func extendFrom(cur time.Time, days int) time.Time {
	base := cur
	if base.Before(time.Now()) {
		base = time.Now()
	}
	return base.Add(time.Duration(days) * 24 * time.Hour)
}
