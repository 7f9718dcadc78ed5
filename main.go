package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mrsingh-rishi/voice-relay/auth"
	"github.com/mrsingh-rishi/voice-relay/config"
	"github.com/mrsingh-rishi/voice-relay/live"
	"github.com/mrsingh-rishi/voice-relay/llm"
	"github.com/mrsingh-rishi/voice-relay/server"
	"github.com/mrsingh-rishi/voice-relay/session"
	"github.com/mrsingh-rishi/voice-relay/storage"
	"github.com/mrsingh-rishi/voice-relay/store"
	"github.com/mrsingh-rishi/voice-relay/stt"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)

	serveCmd.Flags().Int("port", 8000, "HTTP server port")
	serveCmd.Flags().String("deepgram-api-key", "", "Deepgram API key")
	serveCmd.Flags().String("database-url", "", "Postgres connection string")
	serveCmd.Flags().Bool("debug", false, "Verbose logging and periodic session stats")

	viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("deepgram_api_key", serveCmd.Flags().Lookup("deepgram-api-key"))
	viper.BindPFlag("database_url", serveCmd.Flags().Lookup("database-url"))
	viper.BindPFlag("debug", serveCmd.Flags().Lookup("debug"))

	rootCmd.AddCommand(serveCmd)
}

func initConfig() {
	config.LoadDotEnv()
	config.SetDefaults(viper.GetViper())
	logger = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "voice-relay",
	})
}

var rootCmd = &cobra.Command{
	Use:   "voice-relay",
	Short: "Live transcription relay with shareable viewer streams",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket and REST server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	opts := stt.DefaultOptions()
	opts.Model = cfg.DeepgramModel
	opts.KeepAlive = cfg.KeepAlive
	deepgram := stt.NewDeepgramClient(cfg.DeepgramAPIKey, opts, logger)

	deps := server.Deps{
		Auth:  auth.NewJWTVerifier(cfg.SupabaseJWTSecret, cfg.JWTAudience),
		Store: db,
		Dial: func(ctx context.Context) (session.Relay, error) {
			return deepgram.Dial(ctx)
		},
		Hub:    live.NewHub(logger),
		Logger: logger,
	}
	if cfg.StorageEnabled() {
		deps.Blobs = storage.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.StorageBucket)
	} else {
		logger.Warn("SUPABASE_URL or SUPABASE_SERVICE_KEY not set, audio will not be uploaded")
	}
	if cfg.OpenAIAPIKey != "" {
		deps.Titles = llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, logger)
	}

	srvOpts := server.Options{
		Limits:       cfg.Limits,
		ShareTTL:     cfg.ShareTTL,
		SignedURLTTL: cfg.SignedURLTTL,
	}
	if cfg.Debug {
		srvOpts.StatsEvery = 10 * time.Second
	}
	srv := server.New(srvOpts, deps)

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Listen(":" + strconv.Itoa(cfg.Port))
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
