package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/firewatch-ops/firewatch-backend/internal/api"
	"github.com/firewatch-ops/firewatch-backend/internal/cache"
	"github.com/firewatch-ops/firewatch-backend/internal/catalog"
	"github.com/firewatch-ops/firewatch-backend/internal/config"
	"github.com/firewatch-ops/firewatch-backend/internal/db"
	"github.com/firewatch-ops/firewatch-backend/internal/middleware"
	"github.com/firewatch-ops/firewatch-backend/internal/spatial"
	"github.com/firewatch-ops/firewatch-backend/internal/telemetry"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RootHandler(w http.ResponseWriter, r *http.Request) {
	response := "Server is up!"
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, response)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	conn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	if err := spatial.Migrate(conn); err != nil {
		log.Fatal(err)
	}

	store := spatial.NewStore(conn)
	pipeline := telemetry.NewPipeline(store)

	var opts []catalog.Option
	if cfg.RedisAddress != "" {
		rdb, err := cache.Connect(context.Background(), cfg.RedisAddress, cfg.RedisPassword)
		if err != nil {
			log.Fatal(err)
		}
		defer rdb.Close()
		opts = append(opts, catalog.WithCache(cache.NewAreaCache(rdb, cfg.RedisPrefix, cfg.AreaCacheTTL)))
		log.Printf("[main] territory area cache at %s", cfg.RedisAddress)
	}
	cat := catalog.New(store, pipeline, cfg, opts...)

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Get("/", RootHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Mount("/api", api.SetupRoutes(cat, pipeline, cfg))

	log.Printf("Server listening on port :%s...", cfg.Port)
	log.Fatal(http.ListenAndServe("0.0.0.0:"+cfg.Port, r))
}
