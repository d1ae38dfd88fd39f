package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/hostpanel/platform/instance-service/internal/config"
)

// RateLimiter is a simple in-memory sliding-window rate limiter.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow reports whether a request for key is within the limit.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.window)

	var valid []time.Time
	for _, t := range rl.requests[key] {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false
	}

	rl.requests[key] = append(valid, now)
	return true
}

// RateLimitMiddleware limits per user, falling back to client IP.
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString("userID")
		if key == "" {
			key = c.ClientIP()
		}

		if !rl.Allow(key) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, please try again later",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

type Server struct {
	router  *gin.Engine
	handler *Handler
	cfg     *config.Config
}

// Per-user API limiter: at most 60 requests per minute. The dashboard
// polls the list endpoint, so this is higher than a pure command rate.
var userRateLimiter = NewRateLimiter(60, time.Minute)

// Creation limiter: at most 10 creates per user per hour. The per-owner
// quota is the real ceiling, this only absorbs dialog retries.
var createRateLimiter = NewRateLimiter(10, time.Hour)

func NewServer(cfg *config.Config, handler *Handler) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:  router,
		handler: handler,
		cfg:     cfg,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "instance-service",
		})
	})

	// Prometheus metrics
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Runtime callback API - called by the process runtime
	callback := s.router.Group("/api/callback")
	callback.Use(InternalAuthMiddleware(s.cfg.InternalSecret))
	{
		callback.POST("/runtime/status", s.handler.RuntimeStatus)
	}

	// User API - requires JWT authentication
	user := s.router.Group("/api/v1")
	user.Use(JWTAuthMiddleware(s.cfg.JWT.SecretKey))
	user.Use(RateLimitMiddleware(userRateLimiter))
	{
		user.GET("/me", s.handler.GetMe)
		user.POST("/logout", s.handler.Logout)

		// Instance management
		user.GET("/instances", s.handler.ListInstances)
		user.POST("/instances", RateLimitMiddleware(createRateLimiter), s.handler.CreateInstance)
		user.GET("/instances/:id", s.handler.GetInstance)
		user.GET("/instances/:id/events", s.handler.GetInstanceEvents)
		user.POST("/instances/:id/start", s.handler.StartInstance)
		user.POST("/instances/:id/stop", s.handler.StopInstance)
		user.DELETE("/instances/:id", s.handler.DeleteInstance)
	}
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
