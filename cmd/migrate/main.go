package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"

	"grok2api-go/internal/config"
	"grok2api-go/internal/migrations"

	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

func main() {
	dsn := flag.String("dsn", "", "PostgreSQL connection string (default: storage.postgres_dsn from config)")
	configPath := flag.String("config", "", "path to configuration file")
	action := flag.String("action", "up", "migration action: up, down, or version")
	steps := flag.Int("steps", 1, "steps to migrate when action=down")
	flag.Parse()

	if strings.TrimSpace(*dsn) == "" {
		if cm, err := config.NewConfigManager(*configPath); err == nil {
			*dsn = cm.Get().Storage.PostgresDSN
			cm.Close()
		}
	}
	if strings.TrimSpace(*dsn) == "" {
		fmt.Fprintln(os.Stderr, "missing required flag: -dsn")
		os.Exit(2)
	}

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer db.Close()

	switch *action {
	case "up":
		if err := migrations.PostgresUp(db); err != nil {
			log.WithError(err).Fatal("migrate up")
		}
		log.Info("migrations applied")
	case "down":
		if err := migrations.PostgresDown(db, *steps); err != nil {
			log.WithError(err).Fatal("migrate down")
		}
		log.Infof("rolled back %d step(s)", *steps)
	case "version":
		version, dirty, err := migrations.PostgresVersion(db)
		if err != nil {
			log.WithError(err).Fatal("read version")
		}
		log.WithFields(log.Fields{"version": version, "dirty": dirty}).Info("current schema version")
	default:
		fmt.Fprintf(os.Stderr, "unknown action %q (expected up, down, version)\n", *action)
		os.Exit(2)
	}
}
