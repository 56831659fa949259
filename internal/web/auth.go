package web

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const sessionAdminKey = "admin"

// loginHandler сверяет пароль оператора с bcrypt-хэшем из конфигурации.
func loginHandler(passwordHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "password is required")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
			return
		}
		sess := sessions.Default(c)
		sess.Set(sessionAdminKey, true)
		if err := sess.Save(); err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		sess.Clear()
		_ = sess.Save()
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		v := sessions.Default(c).Get(sessionAdminKey)
		if ok, _ := v.(bool); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			c.Abort()
			return
		}
		c.Next()
	}
}
