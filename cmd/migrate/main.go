package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"assetdesk.io/internal/config"
	"assetdesk.io/internal/docstore/pg"
	"assetdesk.io/internal/migrate"
	"assetdesk.io/internal/obs"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		dsn        = flag.String("dsn", "", "PostgreSQL DSN, overrides store.dsn")
		seedsPath  = flag.String("seeds", "", "directory of *.sql seed files")
	)
	flag.Parse()
	log := obs.Logger()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: migrate [-config file] [-dsn dsn] [-seeds dir] up|down|seed|status")
		os.Exit(2)
	}
	if *dsn == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("load config")
		}
		*dsn = cfg.Store.DSN
	}
	if *dsn == "" {
		log.Fatal().Msg("missing DSN: pass -dsn or set ASSETDESK_STORE__DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	migrations, err := fs.Sub(pg.Migrations, "migrations")
	if err != nil {
		log.Fatal().Err(err).Msg("embedded migrations")
	}
	var opts []migrate.Option
	if *seedsPath != "" {
		opts = append(opts, migrate.WithSeeds(os.DirFS(*seedsPath)))
	}
	mgr := migrate.NewManager(db, migrations, opts...)

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, name := range applied {
			fmt.Println("applied", name)
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if errors.Is(err, migrate.ErrNothingApplied) {
			fmt.Println("nothing to roll back")
			err = nil
		} else if err == nil {
			fmt.Println("rolled back", name)
		}
	case "seed":
		var seeded []string
		seeded, err = mgr.Seed(ctx)
		for _, name := range seeded {
			fmt.Println("seeded", name)
		}
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		for _, name := range history {
			fmt.Println(name)
		}
	default:
		log.Fatal().Str("command", cmd).Msg("unknown command")
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", cmd).Msg("migrate failed")
	}
}
