package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/firewatch-ops/firewatch-backend/internal/catalog"
	"github.com/firewatch-ops/firewatch-backend/internal/config"
	"github.com/firewatch-ops/firewatch-backend/internal/db"
	"github.com/firewatch-ops/firewatch-backend/internal/spatial"
	"github.com/firewatch-ops/firewatch-backend/internal/telemetry"
	"github.com/google/uuid"
)

func main() {
	var (
		path      = flag.String("geojson", "", "path to the municipality FeatureCollection")
		dbURL     = flag.String("db", "", "DATABASE_URL (defaults to the environment)")
		district  = flag.String("district", "", "link every zone of this district to the territory")
		org       = flag.String("org", "", "organization UUID owning the territory")
		territory = flag.String("territory", "", "name of the territory to create")
	)
	flag.Parse()

	if *path == "" {
		flag.Usage()
		os.Exit(2)
	}
	linking := *district != "" || *org != "" || *territory != ""
	if linking && (*district == "" || *org == "" || *territory == "") {
		log.Println("-district, -org and -territory must be given together")
		os.Exit(2)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatal(err)
	}
	if *dbURL != "" {
		cfg.DatabaseURL = *dbURL
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	conn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	if err := spatial.Migrate(conn); err != nil {
		log.Fatal(err)
	}

	store := spatial.NewStore(conn)
	cat := catalog.New(store, telemetry.NewPipeline(store), cfg)

	n, err := cat.ImportZonesFile(ctx, *path)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("[zone-import] %d new zones from %s", n, *path)

	if !linking {
		return
	}

	orgID, err := uuid.Parse(*org)
	if err != nil {
		log.Fatalf("invalid -org: %v", err)
	}
	t, err := cat.CreateTerritory(ctx, orgID, *territory, "")
	if err != nil {
		log.Fatalf("create territory %q: %v", *territory, err)
	}
	report, err := cat.LinkDistrict(ctx, t.ID, *district)
	if err != nil {
		log.Fatalf("link district %q: %v", *district, err)
	}
	for zoneID, err := range report.Failed {
		log.Printf("[zone-import] zone %d not linked: %v", zoneID, err)
	}
	log.Printf("[zone-import] territory %s: %d zones linked, %d already linked, %d failed",
		t.ID, len(report.Linked), len(report.Conflicts), len(report.Failed))
}
