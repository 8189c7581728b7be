package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fleetgate/internal/auth"
	"fleetgate/internal/handler"
	"fleetgate/internal/logging"
	"fleetgate/internal/middleware"
	"fleetgate/internal/store"
)

// OperatorDeps wires the operator listener: WebSocket endpoint, admin REST
// API and the static web UI share one HTTP layer.
type OperatorDeps struct {
	Socket      http.Handler // operator connection registry
	Store       store.Store
	TokenConfig auth.TokenConfig
	StaticDir   string
	Log         *logging.Logger
}

func NewOperatorRouter(deps OperatorDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	r.GET("/ws", gin.WrapH(deps.Socket))

	loginLimiter := middleware.NewLimiter(10, time.Minute)
	authHandler := &handler.AuthHandler{Store: deps.Store, TokenConfig: deps.TokenConfig, Log: deps.Log}
	r.POST("/v1/auth", middleware.RateLimit(loginLimiter), authHandler.Login)

	protected := r.Group("/v1")
	protected.Use(middleware.RequireAuth(deps.TokenConfig))

	deviceHandler := &handler.DeviceHandler{Store: deps.Store, Log: deps.Log}
	protected.GET("/devices", deviceHandler.List)
	protected.POST("/devices/approval", deviceHandler.SetApproval)

	r.NoRoute(StaticHandler(deps.StaticDir))

	return r
}

// NewDeviceRouter exposes only the WebSocket endpoint; devices have no HTTP
// surface beyond the upgrade.
func NewDeviceRouter(socket http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/", gin.WrapH(socket))
	r.GET("/ws", gin.WrapH(socket))
	return r
}
