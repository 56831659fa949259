package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/merdocx/veilbot-sub000/internal/db"
)

var errNoDiagnostics = errors.New("client does not support diagnostics")

// v2rayDiagnostics — расширенная диагностика V2Ray management API,
// за пределами общего контракта клиента.
type v2rayDiagnostics interface {
	ValidateConfig(ctx context.Context) error
	PortsStatus(ctx context.Context) (map[string]bool, error)
	VerifyReality(ctx context.Context) (bool, error)
}

func setServerRoutes(g *gin.RouterGroup, opts Options) {
	g.GET("/servers", func(c *gin.Context) {
		servers, err := opts.Store.ListServers(c.Query("protocol"), c.Query("active") == "true")
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"servers": servers})
	})

	g.GET("/servers/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"statuses": opts.Monitor.Statuses()})
	})

	g.GET("/servers/:id", func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		srv, err := opts.Store.GetServer(id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
			return
		}
		c.JSON(http.StatusOK, srv)
	})

	// Диагностика V2Ray-сервера: валидность конфига, статусы портов,
	// Reality-настройки. Для Outline этих проверок нет.
	g.GET("/servers/:id/diagnostics", func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		srv, err := opts.Store.GetServer(id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
			return
		}
		if srv.Protocol != db.ProtocolV2Ray {
			badRequest(c, "diagnostics are available for v2ray servers only")
			return
		}
		client, err := opts.Clients(*srv)
		if err != nil {
			internalError(c, err)
			return
		}
		diag, ok := client.(v2rayDiagnostics)
		if !ok {
			internalError(c, errNoDiagnostics)
			return
		}
		ctx := c.Request.Context()
		out := gin.H{"config_valid": true}
		if err := diag.ValidateConfig(ctx); err != nil {
			out["config_valid"] = false
			out["config_error"] = err.Error()
		}
		if ports, err := diag.PortsStatus(ctx); err != nil {
			out["ports_error"] = err.Error()
		} else {
			out["ports"] = ports
		}
		if valid, err := diag.VerifyReality(ctx); err != nil {
			out["reality_error"] = err.Error()
		} else {
			out["reality_valid"] = valid
		}
		c.JSON(http.StatusOK, out)
	})

	g.POST("/servers", func(c *gin.Context) {
		var srv db.Server
		if err := c.ShouldBindJSON(&srv); err != nil {
			badRequest(c, err.Error())
			return
		}
		if srv.Name == "" || srv.APIURL == "" {
			badRequest(c, "name and api_url are required")
			return
		}
		if err := opts.Store.CreateServer(&srv); err != nil {
			badRequest(c, err.Error())
			return
		}
		c.JSON(http.StatusCreated, srv)
	})

	g.PUT("/servers/:id", func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		srv, err := opts.Store.GetServer(id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
			return
		}
		var upd db.Server
		if err := c.ShouldBindJSON(&upd); err != nil {
			badRequest(c, err.Error())
			return
		}
		upd.ID = srv.ID
		upd.CreatedAt = srv.CreatedAt
		if err := opts.Store.UpdateServer(&upd); err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, upd)
	})

	g.DELETE("/servers/:id", func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		if err := opts.Store.DeleteServer(id); err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
}

func paramID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		badRequest(c, "invalid id")
		return 0, false
	}
	return uint(id), true
}

func listFilterFromQuery(c *gin.Context) db.ListFilter {
	f := db.ListFilter{Search: c.Query("search"), Status: c.Query("status")}
	if v, err := strconv.ParseUint(c.Query("server_id"), 10, 32); err == nil {
		f.ServerID = uint(v)
	}
	if v, err := strconv.ParseUint(c.Query("user_id"), 10, 32); err == nil {
		f.UserID = uint(v)
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil {
		f.Offset = v
	}
	if v, err := strconv.Atoi(c.Query("limit")); err == nil {
		f.Limit = v
	}
	return f
}
