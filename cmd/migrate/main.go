package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Schema migration runner for the sentinel database. Separate binary so
// deployments can migrate before rolling the server.

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	var (
		databaseURL    = flag.String("database", "", "database URL (falls back to DATABASE_URL)")
		migrationsPath = flag.String("path", "migrations", "path to the migrations directory")
		command        = flag.String("command", "up", "up, down, version or force")
	)
	flag.Parse()

	url := *databaseURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		return errors.New("database URL is required: use -database or DATABASE_URL")
	}

	m, err := migrate.New("file://"+*migrationsPath, url)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	switch *command {
	case "up":
		if err := m.Up(); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				log.Println("schema already up to date")
				return nil
			}
			return fmt.Errorf("migrating up: %w", err)
		}
		log.Println("migrations applied")

	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrating down: %w", err)
		}
		log.Println("rollback complete")

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return fmt.Errorf("reading version: %w", err)
		}
		log.Printf("version %d (dirty: %v)", version, dirty)

	case "force":
		if flag.NArg() < 1 {
			return errors.New("force requires a version argument")
		}
		version, err := strconv.Atoi(flag.Arg(0))
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", flag.Arg(0), err)
		}
		if err := m.Force(version); err != nil {
			return fmt.Errorf("forcing version: %w", err)
		}
		log.Printf("forced version to %d", version)

	default:
		return fmt.Errorf("unknown command %q: use up, down, version or force", *command)
	}
	return nil
}
