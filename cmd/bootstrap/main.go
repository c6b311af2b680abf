// Command bootstrap creates a tenant and its first administrator against the
// configured store, then optionally seeds a few demo records.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"assetdesk.io/internal/app"
	"assetdesk.io/internal/asset"
	"assetdesk.io/internal/config"
	"assetdesk.io/internal/obs"
	"assetdesk.io/internal/stock"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		tenantID   = flag.String("tenant", "", "tenant id to create")
		email      = flag.String("email", "", "administrator email")
		demo       = flag.Bool("demo", false, "seed a demo asset and consumable")
	)
	flag.Parse()
	log := obs.Logger()

	password := os.Getenv("ASSETDESK_BOOTSTRAP_PASSWORD")
	if *tenantID == "" || *email == "" || password == "" {
		fmt.Fprintln(os.Stderr, "usage: ASSETDESK_BOOTSTRAP_PASSWORD=... bootstrap -tenant id -email addr [-demo]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	obs.Init(obs.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log = obs.Logger()

	a, err := app.Open(cfg, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("open application")
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := a.Deps.Tenants.Get(ctx, *tenantID); err == nil {
		log.Fatal().Str("tenant", *tenantID).Msg("tenant already exists")
	}
	ident, err := a.Deps.Identities.Register(ctx, *email, password, *tenantID)
	if err != nil {
		log.Fatal().Err(err).Msg("register administrator")
	}
	sess, err := a.Deps.Sessions.Start(ctx, ident)
	if err != nil {
		log.Fatal().Err(err).Msg("provision administrator")
	}
	log.Info().
		Str("tenant", sess.Tenant.ID).
		Str("user_id", sess.UserID()).
		Str("role", sess.Role().String()).
		Msg("tenant bootstrapped")

	if !*demo {
		return
	}
	laptop, err := a.Deps.Assets.Create(ctx, sess, asset.NewAsset{
		Name:         "Demo laptop",
		AssetTag:     "DEMO-0001",
		Category:     "laptop",
		OfficeID:     "hq",
		PurchaseCost: 125_000,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("seed asset")
	}
	paper, err := a.Deps.Stock.Create(ctx, sess, stock.NewConsumable{
		Name:         "A4 paper",
		SKU:          "PAPER-A4",
		Category:     "office",
		Unit:         "ream",
		OfficeID:     "hq",
		Quantity:     20,
		ReorderLevel: 5,
		UnitCost:     450,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("seed consumable")
	}
	log.Info().Str("asset_id", laptop.ID).Str("consumable_id", paper.ID).Msg("demo data seeded")
}
