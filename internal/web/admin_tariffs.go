package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/merdocx/veilbot-sub000/internal/db"
)

func setTariffRoutes(g *gin.RouterGroup, opts Options) {
	g.GET("/tariffs", func(c *gin.Context) {
		tariffs, err := opts.Store.ListTariffs(c.Query("protocol"), c.Query("active") == "true")
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tariffs": tariffs})
	})

	g.POST("/tariffs", func(c *gin.Context) {
		var t db.Tariff
		if err := c.ShouldBindJSON(&t); err != nil {
			badRequest(c, err.Error())
			return
		}
		if t.Name == "" || t.DurationDays <= 0 {
			badRequest(c, "name and positive duration_days are required")
			return
		}
		if t.Protocol != db.ProtocolOutline && t.Protocol != db.ProtocolV2Ray {
			badRequest(c, "protocol must be outline or v2ray")
			return
		}
		if t.Price.IsNegative() {
			badRequest(c, "price must not be negative")
			return
		}
		if err := opts.Store.CreateTariff(&t); err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusCreated, t)
	})

	g.PUT("/tariffs/:id", func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		cur, err := opts.Store.GetTariff(id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "tariff not found"})
			return
		}
		var upd db.Tariff
		if err := c.ShouldBindJSON(&upd); err != nil {
			badRequest(c, err.Error())
			return
		}
		upd.ID = cur.ID
		upd.CreatedAt = cur.CreatedAt
		if err := opts.Store.UpdateTariff(&upd); err != nil {
			if errors.Is(err, db.ErrTariffReferenced) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, upd)
	})

	g.DELETE("/tariffs/:id", func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		if err := opts.Store.DeleteTariff(id); err != nil {
			if errors.Is(err, db.ErrTariffReferenced) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
}
