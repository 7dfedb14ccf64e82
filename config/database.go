package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

const SearchLimit = 10

var (
	db *gorm.DB
)

func GetDB() *gorm.DB {
	return db
}

func init() {
	// Load env from .env
	godotenv.Load()
	// IMPORTANT (Cloud Run):
	// Do NOT block startup in init() waiting for DB.
	// The container must start listening on $PORT quickly.
}

// ConnectDatabaseWithRetry connects and sets the global DB.
// Call this from main() AFTER the HTTP server is listening.
func ConnectDatabaseWithRetry() {
	dbUser := os.Getenv("DB_USER")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbName := os.Getenv("DB_NAME")

	network := "tcp"
	address := fmt.Sprintf("%s:%s", dbHost, dbPort)

	// Cloud Run + Cloud SQL: when DB_HOST is "/cloudsql/<CONNECTION_NAME>",
	// connect using the Unix socket provided by the Cloud SQL Auth Proxy.
	if strings.HasPrefix(dbHost, "/cloudsql/") {
		network = "unix"
		address = dbHost
	}

	databaseConfig := fmt.Sprintf("%s:%s@%s(%s)/%s?multiStatements=true&parseTime=true",
		dbUser, dbPassword, network, address, dbName)

	gormLogger := logger.New(
		log.New(io.Discard, "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	if strings.EqualFold(strings.TrimSpace(os.Getenv("DB_DEBUG")), "true") {
		gormLogger = logger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			logger.Config{
				SlowThreshold: 200 * time.Millisecond,
				LogLevel:      logger.Info,
				Colorful:      true,
			},
		)
	}

	// The global DB is either set on return or the process is gone: callers
	// dereference it unconditionally, so there is no "connected maybe" state.
	// By default this retries forever while the health endpoint reports not
	// ready. DB_CONNECT_MAX_ATTEMPTS bounds the retries for one-shot tooling.
	maxAttempts := connectMaxAttempts()
	for attempt := 1; ; attempt++ {
		conn, err := gorm.Open(mysql.Open(databaseConfig), &gorm.Config{
			Logger: gormLogger,
			NamingStrategy: schema.NamingStrategy{
				SingularTable: false,
			},
		})
		if err == nil {
			if err := conn.Use(otelgorm.NewPlugin()); err != nil {
				log.Printf("otelgorm plugin: %v", err)
			}
			sqlDB, err := conn.DB()
			if err == nil {
				sqlDB.SetMaxOpenConns(25)
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetConnMaxLifetime(30 * time.Minute)
			}
			db = conn
			log.Printf("connected to database (attempt=%d)", attempt)
			return
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			log.Fatalf("database not connected after %d attempts: %v", attempt, err)
		}
		sleep := connectBackoff(attempt)
		log.Printf("failed to connect database (attempt=%d): %v; retrying in %s", attempt, err, sleep)
		time.Sleep(sleep)
	}
}

// connectMaxAttempts reads DB_CONNECT_MAX_ATTEMPTS; zero means unbounded.
func connectMaxAttempts() int {
	v := strings.TrimSpace(os.Getenv("DB_CONNECT_MAX_ATTEMPTS"))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0
	}
	return n
}

func connectBackoff(attempt int) time.Duration {
	sleep := time.Second * time.Duration(1<<min(attempt, 5))
	if sleep > 30*time.Second {
		sleep = 30 * time.Second
	}
	return sleep
}
