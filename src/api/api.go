package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stake-plus/polkadot-grant-pay/src/api/config"
	"github.com/stake-plus/polkadot-grant-pay/src/api/data"
	"github.com/stake-plus/polkadot-grant-pay/src/api/types"
	"github.com/stake-plus/polkadot-grant-pay/src/api/webserver"
	"github.com/stake-plus/polkadot-grant-pay/src/chain"
	"github.com/stake-plus/polkadot-grant-pay/src/multisig"
	"github.com/stake-plus/polkadot-grant-pay/src/notify"
	"github.com/stake-plus/polkadot-grant-pay/src/oracle"
	"gorm.io/gorm"
)

var allModels = []interface{}{
	&types.Committee{}, &types.CommitteeMember{},
	&types.Submission{}, &types.Milestone{},
	&types.ReviewVote{}, &types.MilestoneApproval{},
	&types.ApprovalSignature{}, &types.Payout{},
}

func migrate(db *gorm.DB) {
	if err := db.AutoMigrate(allModels...); err != nil {
		log.Fatalf("migrate: %v", err)
	}
}

func main() {
	cfg := config.Load()

	db := data.MustMySQL(cfg.MySQLDSN)
	migrate(db)

	rdb := data.MustRedis(cfg.RedisURL)

	chainClient, err := chain.NewClient(cfg.RPCURL, cfg.Network, cfg.SS58Prefix, time.Duration(cfg.ChainTimeout)*time.Second)
	if err != nil {
		log.Fatalf("chain: %v", err)
	}
	keyring, err := chain.NewKeyring(cfg.SignerSeedsEnv, chainClient.SS58Prefix())
	if err != nil {
		log.Fatalf("keyring: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	hub := notify.NewHub(rdb)
	go hub.Run(ctx)

	pricer := oracle.New(cfg.PriceURL, time.Duration(cfg.PriceTimeout)*time.Second)
	mgr := multisig.NewManager(db, chainClient, keyring, pricer, hub)

	router := webserver.New(cfg, db, rdb, mgr, hub)
	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()
	log.Printf("GrantPay API listening on %s", cfg.Port)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()

	shutCtx, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()
	_ = httpSrv.Shutdown(shutCtx)
}
