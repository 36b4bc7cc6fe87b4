package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"range-instance-backend/config"
	"range-instance-backend/internal/mw"
	"range-instance-backend/internal/orchestrator"
	"range-instance-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.ServerConfig, facade *orchestrator.Facade, orch *orchestrator.Orchestrator, s store.Store, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(facade, orch, s, webpushOptions)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	r.Use(rateLimiter)

	// Async lifecycle operations: synchronous trigger, asynchronous
	// completion via the per-user progress channel.
	r.POST("/instances/async", handler.CreateInstance)
	r.POST("/instances/:id/start/async", handler.StartInstance)
	r.POST("/instances/:id/stop/async", handler.StopInstance)
	r.DELETE("/instances/:id/async", handler.TerminateInstance)

	// Point-in-time status read; cheap to cache briefly.
	r.GET("/rooms/:roomId/instance_details", caching, handler.GetRoomInstanceDetails)

	api := r.Group("/api")
	{
		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
