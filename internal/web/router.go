// Package web — HTTP-поверхность приложения: webhook оплаты,
// subscription-ссылки для клиентских приложений и JSON API админ-панели.
package web

import (
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/merdocx/veilbot-sub000/internal/db"
	"github.com/merdocx/veilbot-sub000/internal/logger"
	"github.com/merdocx/veilbot-sub000/internal/services"
	"github.com/merdocx/veilbot-sub000/internal/syncer"
	"github.com/merdocx/veilbot-sub000/internal/vpn"
)

// Options — зависимости HTTP-слоя.
type Options struct {
	Store   *db.Store
	Sync    *syncer.Engine
	Webhook *services.WebhookHandler
	Monitor *services.StatusMonitor
	Clients func(srv db.Server) (vpn.Client, error)
	// Payments — клиент шлюза для сверки статуса платежа.
	Payments PaymentGateway

	AdminPasswordHash string
	SessionSecret     string
	// SyncTimeout — сколько ждать прогон синхронизации из админки.
	SyncTimeout time.Duration
}

// NewRouter собирает gin-роутер со всеми маршрутами.
func NewRouter(opts Options) *gin.Engine {
	if opts.Clients == nil {
		opts.Clients = vpn.ForServer
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 5 * time.Minute
	}

	r := gin.New()
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(opts.SessionSecret))
	store.Options(sessions.Options{HttpOnly: true, MaxAge: 12 * 3600, Path: "/"})
	r.Use(sessions.Sessions("veilbot_admin", store))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.POST("/yookassa/webhook", opts.Webhook.Handle)
	r.GET("/api/subscription/:token", subscriptionHandler(opts.Store))

	admin := r.Group("/admin")
	admin.POST("/login", loginHandler(opts.AdminPasswordHash))
	admin.POST("/logout", logoutHandler())

	auth := admin.Group("", requireAdmin())
	setServerRoutes(auth, opts)
	setTariffRoutes(auth, opts)
	setKeyRoutes(auth, opts)
	setSubscriptionRoutes(auth, opts)
	setPaymentRoutes(auth, opts)
	setUserRoutes(auth, opts)

	return r
}

// NewHTTPServer оборачивает роутер в http.Server. WriteTimeout подобран
// под самый долгий запрос — запуск синхронизации из админки.
func NewHTTPServer(addr string, opts Options) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      NewRouter(opts),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: opts.SyncTimeout + time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func internalError(c *gin.Context, err error) {
	logger.Error("admin api error", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
