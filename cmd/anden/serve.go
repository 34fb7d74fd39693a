package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/andenapp/anden/internal/api"
	"github.com/andenapp/anden/internal/config"
	"github.com/andenapp/anden/internal/departures"
	"github.com/andenapp/anden/internal/ids"
	"github.com/andenapp/anden/internal/planner"
	"github.com/andenapp/anden/internal/platform"
	"github.com/andenapp/anden/internal/realtime"
	"github.com/andenapp/anden/internal/realtime/visor"
	"github.com/andenapp/anden/internal/schedule"
	"github.com/andenapp/anden/internal/store"
	"github.com/andenapp/anden/internal/store/postgres"
	"github.com/andenapp/anden/internal/store/sqlitedb"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and the real-time ingestion engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

// openStore selects the backend: DATABASE_URL means Postgres, otherwise
// the SQLite file.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.DatabaseURL != "" {
		log.Println("Storage: connecting to Postgres")
		return postgres.Connect(ctx, cfg.DatabaseURL)
	}
	log.Printf("Storage: opening SQLite database %s", cfg.SQLitePath)
	return sqlitedb.Connect(cfg.SQLitePath)
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// First schedule load before accepting traffic; /readyz stays 503
	// until this completes.
	sched := schedule.NewStore()
	if err := sched.Load(ctx, db); err != nil {
		return err
	}

	norm := ids.NewNormalizer(cfg.KnownPrefixes(), ids.DefaultAliases(), ids.MadridVariants())
	recorder := platform.NewRecorder(sched, norm)
	visorClient := visor.New(cfg.VisorBaseURL, cfg.VisorTimeout)
	processor := platform.NewProcessor(db, visorClient, recorder)
	engine := realtime.NewEngine(cfg, db, sched, norm, processor, nil)
	go engine.Run(ctx)

	deps := departures.NewEngine(sched, db, norm)
	pl := planner.New(sched, db)
	srv := api.New(cfg, db, sched, deps, pl, engine.Status)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP shutdown: %v", err)
		}
	}()

	log.Printf("API server listening on %s", cfg.ListenAddr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
