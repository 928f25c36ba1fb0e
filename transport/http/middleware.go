package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/walletgate/core"
	"github.com/layer-3/walletgate/service"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Cookie names
const (
	SessionCookie = "walletgate_session"
	DeviceCookie  = "walletgate_device"
)

// Context keys set by SessionMiddleware
const (
	ctxSession = "session"
	ctxBundle  = "bundle"
)

// SessionMiddleware resolves the browser session and device from their cookies,
// issuing new ones when missing or no longer valid, and attaches the session's
// flows to the request.
func SessionMiddleware(authService *service.AuthService, manager *service.Manager, secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		session, err := cookieSession(c, authService, SessionCookie)
		if err != nil {
			var token string
			token, session, err = authService.StartSession()
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to start session"})
				return
			}
			// No MaxAge: the cookie dies with the browser session
			c.SetCookie(SessionCookie, token, 0, "/", "", secure, true)
		}

		device, err := cookieSession(c, authService, DeviceCookie)
		if err != nil {
			var token string
			token, device, err = authService.StartDevice()
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to start session"})
				return
			}
			c.SetCookie(DeviceCookie, token, int(authService.DeviceTTL()/time.Second), "/", "", secure, true)
		}

		c.Set(ctxSession, session)
		c.Set(ctxBundle, manager.Get(ctx, session, device.ID))

		c.Next()
	}
}

func cookieSession(c *gin.Context, authService *service.AuthService, name string) (*core.Session, error) {
	token, err := c.Cookie(name)
	if err != nil || token == "" {
		return nil, core.ErrInvalidToken
	}
	return authService.ValidateSession(c.Request.Context(), token)
}

func bundleFrom(c *gin.Context) *service.Bundle {
	return c.MustGet(ctxBundle).(*service.Bundle)
}

func sessionFrom(c *gin.Context) *core.Session {
	return c.MustGet(ctxSession).(*core.Session)
}

// RateLimitMiddleware limits requests per client IP
func RateLimitMiddleware(limit rate.Limit, burst int) gin.HandlerFunc {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		limiter, ok := limiters[ip]
		if !ok {
			limiter = rate.NewLimiter(limit, burst)
			limiters[ip] = limiter
		}
		mu.Unlock()

		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}

// RequestLogger logs every request with the global zerolog logger
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
