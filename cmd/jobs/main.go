// Command jobs runs the maintenance tasks that the API server does not:
// garbage collection, stale-upload reaping, integrity verification, and
// thumbnail backfill. Meant to be invoked from cron or an operator shell.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/mediavault/backend/internal/config"
	"github.com/mediavault/backend/internal/models"
	"github.com/mediavault/backend/internal/repository"
	"github.com/mediavault/backend/internal/services"
	"github.com/mediavault/backend/internal/storage"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.New()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	db, err := models.InitDB(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}

	driver, err := buildDriver(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StorageBackend).Msg("failed to initialize storage driver")
	}

	repo := repository.NewMediaRepository(db)
	audit := services.NewAuditService(db)

	// Jobs stop cleanly on SIGINT/SIGTERM; partial progress is kept.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "gc":
		runGC(ctx, cfg, repo, driver, audit, logger, os.Args[2:])
	case "reap":
		runReap(ctx, cfg, repo, driver, logger, os.Args[2:])
	case "verify":
		runVerify(ctx, repo, driver, logger, os.Args[2:])
	case "thumbsync":
		runThumbSync(ctx, cfg, repo, driver, audit, logger, os.Args[2:])
	case "audit":
		runAudit(ctx, audit, logger, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: jobs <gc|reap|verify|thumbsync|audit> [flags]")
}

func runGC(ctx context.Context, cfg *config.Config, repo *repository.MediaRepository, driver storage.Driver, audit services.AuditSink, logger zerolog.Logger, args []string) {
	fs := flag.NewFlagSet("gc", flag.ExitOnError)
	mode := fs.String("mode", "orphan", "gc mode: orphan or retention")
	dryRun := fs.Bool("dry-run", false, "count candidates without deleting")
	limit := fs.Int("limit", 0, "max deletions, 0 for unlimited")
	allowPublic := fs.Bool("allow-public", false, "let retention mode delete public objects")
	_ = fs.Parse(args)

	walker, ok := driver.(storage.Walker)
	if !ok {
		logger.Fatal().Str("disk", driver.Name()).Msg("storage driver cannot enumerate objects")
	}

	gc := services.NewGCService(cfg, repo, driver, walker, audit, logger)
	report, err := gc.Run(ctx, services.GCOptions{
		Mode:              services.GCMode(*mode),
		DryRun:            *dryRun,
		Limit:             *limit,
		AllowPublicDelete: *allowPublic,
	})
	printReport(report)
	if err != nil {
		logger.Fatal().Err(err).Msg("gc run aborted")
	}
}

func runReap(ctx context.Context, cfg *config.Config, repo *repository.MediaRepository, driver storage.Driver, logger zerolog.Logger, args []string) {
	fs := flag.NewFlagSet("reap", flag.ExitOnError)
	age := fs.Duration("age", cfg.ReaperCutoff, "reap uploads stuck longer than this")
	limit := fs.Int("limit", 500, "max rows per run")
	_ = fs.Parse(args)

	orch, err := storage.NewOrchestrator(driver, cfg.QuarantinePath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage orchestrator")
	}

	reaper := services.NewUploadReaper(repo, orch, logger)
	reaped, err := reaper.Reap(ctx, time.Now().Add(-*age), *limit)
	if err != nil {
		logger.Fatal().Err(err).Int("reaped", reaped).Msg("reap aborted")
	}
	logger.Info().Int("reaped", reaped).Msg("reap complete")
}

func runVerify(ctx context.Context, repo *repository.MediaRepository, driver storage.Driver, logger zerolog.Logger, args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	since := fs.Duration("since", 0, "only verify objects created within this window, 0 for all")
	batch := fs.Int("batch", 200, "rows per page")
	_ = fs.Parse(args)

	var from time.Time
	if *since > 0 {
		from = time.Now().Add(-*since)
	}

	verifier := services.NewVerifier(repo, driver, logger)
	report, err := verifier.Verify(ctx, from, *batch)
	printReport(report)
	if err != nil {
		logger.Fatal().Err(err).Msg("verify aborted")
	}
}

func runThumbSync(ctx context.Context, cfg *config.Config, repo *repository.MediaRepository, driver storage.Driver, audit services.AuditSink, logger zerolog.Logger, args []string) {
	fs := flag.NewFlagSet("thumbsync", flag.ExitOnError)
	batch := fs.Int("batch", 100, "rows per page")
	_ = fs.Parse(args)

	thumbs := services.NewThumbnailer(cfg, driver, audit, logger)
	report, err := thumbs.SyncAll(ctx, repo, *batch)
	printReport(report)
	if err != nil {
		logger.Fatal().Err(err).Msg("thumbsync aborted")
	}
}

func runAudit(ctx context.Context, audit *services.AuditService, logger zerolog.Logger, args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	action := fs.String("action", "", "filter by action, empty for all")
	page := fs.Int("page", 1, "result page")
	limit := fs.Int("limit", 50, "rows per page")
	window := fs.Duration("count-window", 0, "print only the event count for this window")
	_ = fs.Parse(args)

	if *window > 0 {
		count, err := audit.GetActionCount(ctx, *action, time.Now().Add(-*window))
		if err != nil {
			logger.Fatal().Err(err).Msg("audit count failed")
		}
		printReport(map[string]interface{}{"action": *action, "window": window.String(), "count": count})
		return
	}

	logs, total, err := audit.GetRecentActions(ctx, *page, *limit, *action)
	if err != nil {
		logger.Fatal().Err(err).Msg("audit listing failed")
	}
	printReport(map[string]interface{}{"total": total, "entries": logs})
}

func printReport(report interface{}) {
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return
	}
	fmt.Println(string(out))
}

func buildDriver(cfg *config.Config, logger zerolog.Logger) (storage.Driver, error) {
	if cfg.StorageBackend == "s3" {
		return storage.NewS3Driver(cfg, logger)
	}
	return storage.NewLocalDriver(cfg.LocalBasePath, logger)
}
