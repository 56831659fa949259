package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func setUserRoutes(g *gin.RouterGroup, opts Options) {
	g.GET("/users", func(c *gin.Context) {
		users, total, err := opts.Store.ListUsers(listFilterFromQuery(c))
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users, "total": total})
	})

	g.POST("/users/:id/vip", func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		var req struct {
			VIP bool `json:"vip"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if err := opts.Store.SetUserVIP(id, req.VIP); err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
}
