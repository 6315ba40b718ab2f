package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/trackmystartup/tms-payments/app/models"
	"github.com/trackmystartup/tms-payments/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

var ErrMissingConfig = errors.New("database configuration missing")

var DB *gorm.DB

// Models lists every table owned by the service, in migration order.
func Models() []interface{} {
	return []interface{}{
		&models.Profile{},
		&models.SubscriptionPlan{},
		&models.UserSubscription{},
		&models.PaymentTransaction{},
		&models.BillingCycle{},
		&models.AdvisorCredit{},
		&models.CreditPurchaseHistory{},
		&models.BillingWebhookEvent{},
	}
}

// Dialector builds the gorm dialector for the configured driver.
func Dialector() (gorm.Dialector, error) {
	driver := strings.ToLower(strings.TrimSpace(env.GetEnv("DB_DRIVER", DriverPostgres)))

	switch driver {
	case DriverPostgres:
		dsn := strings.TrimSpace(env.GetEnv("DATABASE_URL", ""))
		if dsn == "" {
			if env.GetEnv("DB_HOST", "") == "" || env.GetEnv("DB_NAME", "") == "" {
				return nil, ErrMissingConfig
			}
			dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
				env.GetEnv("DB_HOST", ""),
				env.GetEnv("DB_USER", "postgres"),
				env.GetEnv("DB_PASSWORD", ""),
				env.GetEnv("DB_NAME", ""),
				env.GetEnv("DB_PORT", "5432"),
				env.GetEnv("DB_SSLMODE", "require"),
			)
		}
		return postgres.Open(dsn), nil
	case DriverMySQL:
		if env.GetEnv("DB_HOST", "") == "" || env.GetEnv("DB_NAME", "") == "" {
			return nil, ErrMissingConfig
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			env.GetEnv("DB_USER", ""),
			env.GetEnv("DB_PASSWORD", ""),
			env.GetEnv("DB_HOST", ""),
			env.GetEnv("DB_PORT", "3306"),
			env.GetEnv("DB_NAME", ""),
		)
		return mysql.New(mysql.Config{
			DSN:                       dsn,
			DefaultStringSize:         256,
			SkipInitializeWithVersion: false,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}
}

// SetupDatabase connects with retries and migrates all models. It panics when
// the database cannot be reached, the service is useless without it.
func SetupDatabase() {
	dialector, err := Dialector()
	if err != nil {
		panic(err)
	}

	for i := 0; i < maxRetries; i++ {
		var db *gorm.DB
		db, err = gorm.Open(dialector, &gorm.Config{})
		if err == nil {
			if err = db.AutoMigrate(Models()...); err != nil {
				log.Errorf("[Database] AutoMigrate failed: %v", err)
			}
			SetDB(db)
			return
		}

		log.Warnf("[Database] Failed to connect (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Infof("[Database] Retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		panic(err)
	}
}

func GetDB() *gorm.DB {
	return DB
}

func SetDB(db *gorm.DB) {
	DB = db
}
