package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Atharva-Werulkar/mailsuite-backend/internal/config"
	"github.com/Atharva-Werulkar/mailsuite-backend/internal/coordinator"
	"github.com/Atharva-Werulkar/mailsuite-backend/internal/crypto"
	"github.com/Atharva-Werulkar/mailsuite-backend/internal/logging"
	"github.com/Atharva-Werulkar/mailsuite-backend/internal/reliability"
	"github.com/Atharva-Werulkar/mailsuite-backend/internal/store/sqlite"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logCfg := logging.Config{
		Level:    cfg.LogLevel,
		Sanitize: cfg.LogSanitize,
		Secret:   cfg.LogHashSecret,
	}
	logger := logging.New(logCfg)
	sanitizer := logging.NewSanitizer(logCfg)
	log := logging.Component(logger, "main")

	st, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("opening store")
	}

	saltPath := filepath.Join(filepath.Dir(cfg.DatabasePath), "credential.salt")
	passphrase := os.Getenv(cfg.DecryptionPassphraseEnv)
	decryptor, err := crypto.NewAESGCMDecryptor(passphrase, saltPath)
	if err != nil {
		log.Fatal().Err(err).Msg("initializing credential decryptor")
	}

	coord := coordinator.New(st, decryptor, nil, coordinator.Config{
		BatchSize:  cfg.BatchSize,
		SinceDays:  cfg.SinceDays,
		WorkerPool: cfg.WorkerPoolSize,
		Timeouts: reliability.TimeoutConfig{
			Connect:  cfg.ConnectTimeout,
			Greeting: cfg.GreetingTimeout,
			Socket:   cfg.SocketTimeout,
			Total:    reliability.DefaultIMAPTimeouts().Total,
		},
		SubjectThread: cfg.SubjectFallbackThreading,
	}, logger, sanitizer)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().
		Dur("cycle_interval", cfg.CycleInterval).
		Int("worker_pool_size", cfg.WorkerPoolSize).
		Str("database_path", cfg.DatabasePath).
		Msg("sync engine starting")

	coord.RunLoop(ctx, cfg.CycleInterval, st.ListActiveMailboxIDs)

	log.Info().Msg("sync engine stopped")
}
