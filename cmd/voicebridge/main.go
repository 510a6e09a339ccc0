// Command voicebridge serves the real-time voice-dialog bridge: a
// WebSocket listener that accepts telephony audio, runs it through a
// configured session variant, and returns synthesized speech.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lokutor-ai/voicebridge/internal/config"
	"github.com/lokutor-ai/voicebridge/internal/logging"
	"github.com/lokutor-ai/voicebridge/internal/notify"
	"github.com/lokutor-ai/voicebridge/pkg/server"
	"github.com/lokutor-ai/voicebridge/pkg/telemetry"
)

// version is set by the release build; left as "dev" for local builds.
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voicebridge",
		Short: "Real-time voice-dialog telephony bridge",
	}
	cmd.AddCommand(serveCmd(), versionCmd(), configCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the voicebridge version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Configuration utilities"}
	cmd.AddCommand(configCheckCmd())
	return cmd
}

func configCheckCmd() *cobra.Command {
	var robotDir string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load and validate a robot's configuration without serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(robotDir)
			if err != nil {
				return fmt.Errorf("config check: %w", err)
			}
			fmt.Printf("mode=%s ws=%s:%d fs_sample_rate=%d\n", cfg.Mode, cfg.WSHost, cfg.WSPort, cfg.FSSampleRate)
			fmt.Printf("asr=%s llm=%s tts=%s\n", cfg.ASR.Provider, cfg.LLM.Provider, cfg.TTS.Provider)
			if cfg.Mode == "realtime" && cfg.Realtime.URL == "" && cfg.Secrets.YandexRealtimeURL == "" {
				return fmt.Errorf("config check: mode is realtime but no realtime.url or YANDEX_REALTIME_URL is set")
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&robotDir, "robot-dir", ".", "robot directory containing config.json")
	return cmd
}

func serveCmd() *cobra.Command {
	var robotDir string
	var demoAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept PBX connections and run calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), robotDir, demoAddr)
		},
	}
	cmd.Flags().StringVar(&robotDir, "robot-dir", ".", "robot directory containing config.json")
	cmd.Flags().StringVar(&demoAddr, "demo-addr", "", "optional separate address for the browser demo channel (empty serves /demo on the main listener)")
	return cmd
}

func runServe(ctx context.Context, robotDir, demoAddr string) error {
	cfg, err := config.Load(robotDir)
	if err != nil {
		return fmt.Errorf("voicebridge: load config: %w", err)
	}

	log := logging.New("")

	recorder, closeSinks := buildTelemetry(ctx, cfg, log)
	defer closeSinks()

	var notifier *notify.Telegram
	if cfg.Telegram.Enabled {
		notifier = notify.New(cfg.Secrets.TelegramToken, cfg.Secrets.TelegramChatID, log)
	}

	factory, err := sessionFactory(cfg, recorder, notifier)
	if err != nil {
		return fmt.Errorf("voicebridge: build session factory: %w", err)
	}

	srv := server.New(log, factory)

	mux := http.NewServeMux()
	mux.Handle("/", srv)
	if demoAddr == "" {
		mux.Handle("/demo", srv.Demo)
	}

	addr := fmt.Sprintf("%s:%d", cfg.WSHost, cfg.WSPort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  0, // PBX connections are long-lived WebSocket upgrades
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	var demoServer *http.Server
	if demoAddr != "" {
		demoMux := http.NewServeMux()
		demoMux.Handle("/demo", srv.Demo)
		demoServer = &http.Server{Addr: demoAddr, Handler: demoMux}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	serveErrs := make(chan error, 2)
	go func() {
		log.Info("voicebridge listening", "addr", addr, "mode", cfg.Mode)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrs <- err
		}
	}()
	if demoServer != nil {
		go func() {
			log.Info("demo channel listening", "addr", demoAddr)
			if err := demoServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serveErrs <- err
			}
		}()
	}

	select {
	case <-sig:
		log.Info("shutting down")
	case err := <-serveErrs:
		log.Error("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	if demoServer != nil {
		_ = demoServer.Shutdown(shutdownCtx)
	}
	return nil
}

// buildTelemetry connects every configured sink, logging and continuing
// past any that fail to connect — telemetry degradation must never stop
// the server from serving calls. It returns a cleanup func closing
// whichever sinks connected.
func buildTelemetry(ctx context.Context, cfg *config.Config, log logging.Logger) (*telemetry.Recorder, func()) {
	var pg *telemetry.Postgres
	var mongo *telemetry.Mongo
	var redis *telemetry.Redis

	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		p, err := telemetry.ConnectPostgres(ctx, dsn)
		if err != nil {
			log.Error("postgres sink unavailable", "error", err)
		} else {
			pg = p
		}
	}
	if uri := os.Getenv("MONGO_URI"); uri != "" {
		m, err := telemetry.ConnectMongo(ctx, uri, "voicebridge")
		if err != nil {
			log.Error("mongo sink unavailable", "error", err)
		} else {
			mongo = m
		}
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		r, err := telemetry.ConnectRedis(ctx, url)
		if err != nil {
			log.Error("redis sink unavailable", "error", err)
		} else {
			redis = r
		}
	}

	recorder := telemetry.NewRecorder(pg, mongo, redis, log)
	return recorder, func() {
		if pg != nil {
			pg.Close()
		}
		if mongo != nil {
			mongo.Close(context.Background())
		}
		if redis != nil {
			redis.Close()
		}
	}
}
