package main

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/trackmystartup/tms-payments/internal/pkg/database"
	"github.com/trackmystartup/tms-payments/internal/pkg/env"
)

func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	driver := strings.ToLower(env.GetEnv("DB_DRIVER", database.DriverPostgres))
	dbURL, err := migrationURL(driver)
	if err != nil {
		log.Fatalf("Invalid database configuration: %v", err)
	}

	log.Printf("Connecting to %s database: %s@%s:%s/%s",
		driver,
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_HOST", ""),
		env.GetEnv("DB_PORT", ""),
		env.GetEnv("DB_NAME", ""),
	)

	m, err := migrate.New("file://migrations/"+driver, dbURL)
	if err != nil {
		log.Fatalf("Failed to initialize migrations: %v", err)
	}

	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Printf("Failed to close migration resources: %v, %v", sourceErr, dbErr)
		}
	}()

	switch command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("Failed to apply migrations: %v", err)
		} else if errors.Is(err, migrate.ErrNoChange) {
			log.Println("No change: database is already up to date")
		} else {
			log.Println("Migrations applied")
		}

	case "down":
		if err := m.Steps(-1); err != nil {
			log.Fatalf("Failed to roll back the last migration: %v", err)
		}
		log.Println("Rolled back the last migration")

	case "goto":
		if len(os.Args) < 3 {
			log.Fatalf("Please provide a version number")
		}
		version, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			log.Fatalf("Invalid version number: %v", err)
		}

		if err := m.Migrate(uint(version)); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("Failed to migrate to version %d: %v", version, err)
		} else if errors.Is(err, migrate.ErrNoChange) {
			log.Printf("No change: database is already at version %d", version)
		} else {
			log.Printf("Migrated to version %d", version)
		}

	case "status":
		version, dirty, err := m.Version()
		if err != nil {
			if errors.Is(err, migrate.ErrNilVersion) {
				log.Println("No migrations have been applied yet")
			} else {
				log.Fatalf("Failed to read migration version: %v", err)
			}
		} else {
			dirtyStatus := ""
			if dirty {
				dirtyStatus = " (dirty)"
			}
			log.Printf("Current migration version: %d%s", version, dirtyStatus)
		}

	default:
		printUsage()
		os.Exit(1)
	}
}

// migrationURL builds the golang-migrate database URL. DATABASE_URL wins for
// postgres, the same as for the application itself.
func migrationURL(driver string) (string, error) {
	switch driver {
	case database.DriverPostgres:
		if raw := strings.TrimSpace(env.GetEnv("DATABASE_URL", "")); raw != "" {
			return raw, nil
		}
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(env.GetEnv("DB_USER", "postgres"), env.GetEnv("DB_PASSWORD", "")),
			Host:   fmt.Sprintf("%s:%s", env.GetEnv("DB_HOST", "localhost"), env.GetEnv("DB_PORT", "5432")),
			Path:   "/" + env.GetEnv("DB_NAME", "tms"),
		}
		q := u.Query()
		q.Set("sslmode", env.GetEnv("DB_SSLMODE", "require"))
		u.RawQuery = q.Encode()
		return u.String(), nil
	case database.DriverMySQL:
		return fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true&parseTime=true",
			env.GetEnv("DB_USER", "tms"),
			env.GetEnv("DB_PASSWORD", ""),
			env.GetEnv("DB_HOST", "localhost"),
			env.GetEnv("DB_PORT", "3306"),
			env.GetEnv("DB_NAME", "tms"),
		), nil
	default:
		return "", fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}
}

func printUsage() {
	fmt.Println("Usage: go run cmd/migrate/main.go [command]")
	fmt.Println("Commands:")
	fmt.Println("  up     - apply all pending migrations")
	fmt.Println("  down   - roll back the last migration")
	fmt.Println("  goto N - migrate to version N")
	fmt.Println("  status - show the current migration version")
}
