package http

import (
	"github.com/gin-gonic/gin"
	"github.com/layer-3/walletgate/adapters/extension"
	"github.com/layer-3/walletgate/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// RouterOptions configures transport concerns of the router
type RouterOptions struct {
	SecureCookie bool
	RateLimit    rate.Limit
	Burst        int
}

// SetupRouter sets up the Gin router
func SetupRouter(authService *service.AuthService, manager *service.Manager, bridges *extension.Bridges, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Create handlers
	handlers := NewHandlers(authService, manager, bridges)

	limited := RateLimitMiddleware(opts.RateLimit, opts.Burst)

	// Session routes
	api := router.Group("/")
	api.Use(SessionMiddleware(authService, manager, opts.SecureCookie))
	{
		zk := api.Group("/auth/zklogin", limited)
		{
			zk.GET("/:provider", handlers.BeginZkLogin)
			zk.POST("/callback", handlers.ZkCallback)
		}

		api.GET("/wallet", handlers.Wallet)
		api.POST("/wallet/disconnect", handlers.Disconnect)
		api.POST("/wallet/copy", handlers.CopyAddress)

		ext := api.Group("/wallets/extension")
		{
			ext.GET("", handlers.ExtensionWallets)
			ext.POST("/detected", handlers.DetectedWallets)
			ext.GET("/challenge", limited, handlers.ExtensionChallenge)
			ext.POST("/connect", limited, handlers.ConnectExtension)
			ext.POST("/events", handlers.ExtensionEvent)
		}

		api.GET("/unlock", handlers.UnlockState)
		api.POST("/unlock", handlers.Unlock)
		api.POST("/unlock/extend", handlers.ExtendUnlock)
		api.POST("/lock", handlers.Lock)

		api.POST("/session/end", handlers.EndSession)
	}

	return router
}
