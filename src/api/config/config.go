package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	MySQLDSN       string
	RedisURL       string
	JWTSecret      string
	RPCURL         string
	Network        string // polkadot|kusama
	SS58Prefix     uint16
	Port           string
	PriceURL       string
	PriceTimeout   int // seconds
	ChainTimeout   int // seconds, bounded wait for extrinsic inclusion
	SignerSeedsEnv string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		if def == "" {
			log.Fatalf("missing env %s", key)
		}
		return def
	}
	return v
}

func Load() Config {
	_ = godotenv.Load()

	pt, _ := strconv.Atoi(getenv("PRICE_TIMEOUT", "10"))
	ct, _ := strconv.Atoi(getenv("CHAIN_TIMEOUT", "60"))

	network := getenv("NETWORK", "polkadot")
	defPrefix := "0"
	if network == "kusama" {
		defPrefix = "2"
	}
	sp, _ := strconv.Atoi(getenv("SS58_PREFIX", defPrefix))

	return Config{
		MySQLDSN:       getenv("MYSQL_DSN", "grantpay:grantpay@tcp(127.0.0.1:3306)/grantpay"),
		RedisURL:       getenv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		JWTSecret:      getenv("JWT_SECRET", ""),
		RPCURL:         getenv("RPC_URL", "wss://rpc.polkadot.io"),
		Network:        network,
		SS58Prefix:     uint16(sp),
		Port:           getenv("PORT", "8080"),
		PriceURL:       getenv("PRICE_URL", "https://api.coingecko.com/api/v3/simple/price?ids=polkadot&vs_currencies=usd"),
		PriceTimeout:   pt,
		ChainTimeout:   ct,
		SignerSeedsEnv: getenv("SIGNER_SEEDS", "none"),
	}
}
