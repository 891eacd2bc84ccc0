package data

import (
	"log"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// MustMySQL opens the grant-pay schema or exits. The approval tables are
// created at boot via AutoMigrate, so a reachable server is all that is
// required here.
func MustMySQL(dsn string) *gorm.DB {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		log.Fatalf("grantpay mysql: %v", err)
	}
	return db
}
