// main.go
//
// Entry point for the race-betting server.
// Responsibilities:
//   - Load .env and configure the global zerolog level.
//   - Load the race card once (embedded, TSV file or SQLite).
//   - Register metrics and start the HTTP server.
//
// A race card that fails to load does not stop the server: it starts in a
// data-unavailable state and the API reports it on every session route.

package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/keiba-duel/internal/config"
	"github.com/robalobadob/keiba-duel/internal/httpserver"
	"github.com/robalobadob/keiba-duel/internal/monitoring"
	"github.com/robalobadob/keiba-duel/internal/racecard"
	"github.com/robalobadob/keiba-duel/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, db, err := raceSource(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare race database")
	}
	if db != nil {
		defer db.Close()
	}

	data := loadRaceData(ctx, src)
	monitoring.Init()

	mem := store.NewMemoryStore()
	defer mem.Close()

	srv := httpserver.New(mem, data, httpserver.Options{
		Rules:         cfg.Rules,
		TickInterval:  cfg.TickInterval,
		SessionSecret: cfg.SessionSecret,
		ClientOrigin:  cfg.ClientOrigin,
		SecureCookie:  httpserver.SecureCookieFromEnv(),
	})

	hs := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()

	log.Info().Str("port", cfg.Port).Str("source", cfg.RacesSource).Dur("tick", cfg.TickInterval).Msg("starting keiba-duel")
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server exited")
	}
}

// raceSource picks the race card source for cfg. For the sqlite source it
// also opens, migrates and seeds the database; the caller closes it.
func raceSource(ctx context.Context, cfg config.Config) (racecard.Source, *sql.DB, error) {
	switch cfg.RacesSource {
	case config.SourceSQLite:
		var seed racecard.Source = racecard.EmbeddedSource{}
		if cfg.RacesFile != "" {
			seed = racecard.FileSource{Path: cfg.RacesFile}
		}
		db, err := openRaceDB(ctx, cfg.DBPath, "sql", seed)
		if err != nil {
			return nil, nil, err
		}
		return racecard.SQLiteSource{DB: db}, db, nil
	case config.SourceFile:
		return racecard.FileSource{Path: cfg.RacesFile}, nil, nil
	default:
		return racecard.EmbeddedSource{}, nil, nil
	}
}

// loadRaceData performs the one-shot race card load.
func loadRaceData(ctx context.Context, src racecard.Source) httpserver.RaceData {
	entrants, races, err := racecard.LoadRaces(ctx, src)
	if err != nil {
		log.Error().Err(err).Msg("race data unavailable")
		return httpserver.RaceData{Err: err}
	}
	log.Info().Int("entrants", len(entrants)).Int("races", len(races)).Msg("race card loaded")
	return httpserver.RaceData{Entrants: entrants, Races: races}
}
