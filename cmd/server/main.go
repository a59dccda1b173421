// Package main is the entry point for the voice notes server.
//
// main only reads configuration, builds the dependencies and starts the
// server. All actual logic lives in the internal packages.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sakif/voice-notes/internal/audio"
	"github.com/sakif/voice-notes/internal/auth"
	"github.com/sakif/voice-notes/internal/config"
	"github.com/sakif/voice-notes/internal/handler"
	"github.com/sakif/voice-notes/internal/repository/sqlstore"
	"github.com/sakif/voice-notes/internal/server"
	"github.com/sakif/voice-notes/internal/service"
	"github.com/sakif/voice-notes/internal/transcribe"
	"github.com/sakif/voice-notes/internal/transcribe/docker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// === 1. CONFIGURATION ===
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// === 2. LOGGING ===
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if cfg.JWTSecret == config.DevJWTSecret {
		logger.Warn("JWT_SECRET not set, using the development secret; set it before deploying")
	}

	// === 3. DATABASE ===
	if cfg.DBDriver == sqlstore.DriverSQLite {
		dbDir := filepath.Dir(cfg.DBDSN)
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return fmt.Errorf("creating database directory %s: %w", dbDir, err)
		}
	}

	db, err := sqlstore.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}

	// === 4. AUDIO STORAGE ===
	store, err := audio.NewStore(cfg.UploadDir)
	if err != nil {
		db.Close()
		return err
	}

	var archive audio.Archive = audio.NopArchive{}
	if cfg.ArchiveEnabled() {
		s3Archive, err := audio.NewS3Archive(ctx, audio.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			db.Close()
			return err
		}
		archive = s3Archive
		logger.Info("audio archive enabled", slog.String("bucket", cfg.S3Bucket))
	}

	// === 5. TRANSCRIPTION ENGINE ===
	// Loading the model can take a while (and download it on first run).
	engine, err := newEngine(ctx, cfg, logger)
	if err != nil {
		db.Close()
		return err
	}

	// === 6. SERVICES ===
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTAlgorithm, cfg.TokenTTL())
	if err != nil {
		engine.Close()
		db.Close()
		return err
	}

	svcs := server.Services{
		Auth:        service.NewAuthService(db.Users(), tokens, auth.NewPasswordService(auth.DefaultCost), logger),
		Transcripts: service.NewTranscriptService(db.Transcripts(), store, archive, engine, logger),
	}

	// Assigned only when enabled: a typed nil would register the routes.
	var github handler.GitHubExchanger
	if cfg.GitHubEnabled() {
		github = auth.NewGitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubCallbackURL)
		logger.Info("GitHub login enabled")
	}
	svcs.GitHub = github

	// === 7. SERVER ===
	srv := server.New(server.Config{
		Addr:           cfg.Addr(),
		CORSOrigins:    cfg.CORSOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		// The engine's deadline includes queueing for a worker, so a minute
		// on top covers the upload and the reply.
		WriteTimeout: cfg.TranscribeTimeout + time.Minute,
	}, svcs, logger)
	srv.OnShutdown(engine, db)

	// Start blocks until SIGINT/SIGTERM.
	return srv.Start(ctx)
}

// newEngine builds the configured transcription engine.
func newEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (transcribe.Engine, error) {
	opts := transcribe.DefaultOptions()
	opts.Model = cfg.WhisperModel
	opts.Device = cfg.WhisperDevice
	opts.ComputeType = cfg.WhisperComputeType

	switch cfg.Transcriber {
	case "docker":
		dcfg := docker.DefaultConfig()
		dcfg.Image = cfg.DockerImage
		dcfg.AudioDir = cfg.UploadDir
		dcfg.ModelCache = cfg.DockerModelCache
		dcfg.User = cfg.DockerUser
		dcfg.MemoryLimit = cfg.DockerMemoryMB << 20
		dcfg.CPULimit = float64(cfg.DockerCPUs)
		dcfg.Network = cfg.DockerNetwork
		dcfg.Timeout = cfg.TranscribeTimeout
		dcfg.PoolSize = cfg.DockerPoolSize
		dcfg.Options = opts

		logger.Info("starting docker transcription runtime",
			slog.String("image", dcfg.Image),
			slog.Int("poolSize", dcfg.PoolSize),
		)
		engine, err := docker.New(ctx, dcfg, logger)
		if err != nil {
			return nil, err
		}
		return engine, nil

	default:
		logger.Info("loading whisper model",
			slog.String("model", opts.Model),
			slog.String("device", opts.Device),
			slog.String("computeType", opts.ComputeType),
		)
		engine, err := transcribe.NewLocal(ctx, transcribe.LocalConfig{
			Python:  cfg.PythonBin,
			Options: opts,
			Timeout: cfg.TranscribeTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return engine, nil
	}
}
