package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/room4-2/GramHealth/config"
	"github.com/room4-2/GramHealth/consult"
	"github.com/room4-2/GramHealth/eventbus"
	"github.com/room4-2/GramHealth/gemini"
	"github.com/room4-2/GramHealth/server"
	"github.com/room4-2/GramHealth/session"
	"github.com/room4-2/GramHealth/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gramhealth",
		Short: "AI doctor consultation server",
	}
	rootCmd.AddCommand(newServeCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	var (
		port    int
		offline bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve consultations over WebSocket and the HTTP APIs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return errors.Wrap(err, "failed to load config")
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if offline {
				cfg.OfflineMode = true
			}
			if err := config.SetupLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "listen port (overrides PORT)")
	cmd.Flags().BoolVar(&offline, "offline", false, "answer every turn with the offline triage assistant")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	consultCfg, err := cfg.Consultation()
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient = store.ConnectRedis(ctx, cfg.RedisURL, cfg.RedisPassword)
		if redisClient != nil {
			defer func() { _ = redisClient.Close() }()
		}
	}

	var (
		advisor consult.Advisor
		opts    = server.Options{Preferences: store.NewPreferenceStore(redisClient)}
	)
	if cfg.OfflineMode {
		log.Warn().Msg("offline mode: the triage assistant answers every turn")
	} else {
		client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return err
		}
		advisor = gemini.NewAdvisor(client, cfg.AdvisorModel)
		opts.Photo = gemini.NewPhotoAnalyzer(client, "")
		opts.Translator = gemini.NewTranslator(client, "")
	}

	var sinks []consult.EventSink
	if cfg.ArchiveDSN != "" {
		archive, err := store.NewArchive(cfg.ArchiveDSN)
		if err != nil {
			return err
		}
		defer func() { _ = archive.Close() }()
		recorder := store.NewRecorder(archive)
		defer recorder.Wait()
		sinks = append(sinks, recorder)
		opts.Archive = archive
	}

	publisher, err := eventbus.ForBackend(cfg.EventsBackend, redisClient)
	if err != nil {
		return err
	}
	if publisher != nil {
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Warn().Err(err).Msg("event publisher close error")
			}
		}()
		sinks = append(sinks, publisher)
	}

	manager := session.NewManager(cfg, redisClient, advisor, consultCfg, sinks...)
	srv := server.New(cfg, manager, opts)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return manager.StartCleanupRoutine(egCtx) })

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			log.Info().Msg("received shutdown signal")
		case <-egCtx.Done():
		}
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cancel()
			return errors.Wrap(err, "server error")
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
