package webserver

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/stake-plus/polkadot-grant-pay/src/api/config"
	"github.com/stake-plus/polkadot-grant-pay/src/multisig"
	"github.com/stake-plus/polkadot-grant-pay/src/notify"
)

func New(cfg config.Config, db *gorm.DB, rdb *redis.Client, mgr *multisig.Manager, hub *notify.Hub) *gin.Engine {
	g := gin.New()
	g.Use(gin.Logger(), gin.Recovery())
	attachRoutes(g, cfg, db, rdb, mgr, hub)
	return g
}
