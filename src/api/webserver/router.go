package webserver

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stake-plus/polkadot-grant-pay/src/api/config"
	"github.com/stake-plus/polkadot-grant-pay/src/api/middleware"
	"github.com/stake-plus/polkadot-grant-pay/src/multisig"
	"github.com/stake-plus/polkadot-grant-pay/src/notify"
	"gorm.io/gorm"
)

func attachRoutes(r *gin.Engine, cfg config.Config, db *gorm.DB, rdb *redis.Client, mgr *multisig.Manager, hub *notify.Hub) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	authH := NewAuth(rdb, []byte(cfg.JWTSecret))
	reviewH := NewReviews(mgr)
	approvalH := NewApprovals(mgr)
	eventH := NewEvents(hub)

	limiter := NewRateLimiter(30, time.Minute)

	v1 := r.Group("/v1")
	{
		v1.POST("/auth/challenge", authH.Challenge)
		v1.POST("/auth/verify", authH.Verify)

		// Public transparency view, no auth.
		v1.GET("/milestones/:id/approval", approvalH.Status)

		secured := v1.Use(middleware.JWT([]byte(cfg.JWTSecret)), RateLimitMiddleware(limiter))
		secured.POST("/reviews", reviewH.Submit)
		secured.POST("/approvals", approvalH.Initiate)
		secured.POST("/approvals/:id/votes", approvalH.CastVote)
		secured.POST("/approvals/:id/execute", approvalH.Finalize)
		secured.GET("/events", eventH.Stream)
	}
}
