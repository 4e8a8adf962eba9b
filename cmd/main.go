package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"prompt2web_server/config"
	"prompt2web_server/internal/ai"
	"prompt2web_server/internal/api"
	"prompt2web_server/internal/deploy"
	"prompt2web_server/internal/session"
	"prompt2web_server/internal/store"
	"prompt2web_server/internal/tracer"
)

const serviceName = "prompt2web-server"

func main() {
	// Load .env file (optional, useful for local development)
	err := godotenv.Load()
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("Error loading .env file", "err", err)
		} else {
			log.Info(".env file not found, relying on system environment variables.")
		}
	} else {
		log.Info("Loaded environment variables from .env file.")
	}

	cfg, err := config.LoadConfig(".") // Load from config.yaml or env vars
	if err != nil {
		log.Fatalf("Cannot load config: %v", err)
	}
	setupLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := tracer.Init(ctx, tracer.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTelEndpoint,
		SampleRate:  cfg.OTelSampleRate,
		Enabled:     cfg.OTelEnabled,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	// --- Persistence ---
	st, guard, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.StoreBackend, err)
	}
	log.Info("Project store ready", "backend", cfg.StoreBackend)

	// --- Providers ---
	providers, err := buildProviders(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize providers: %v", err)
	}
	log.Info("Providers configured", "providers", providers.Names())

	sessions := session.NewManager(guard, st, cfg.StreamIdleTimeout)
	deployer := deploy.NewDeployer(cfg.DeployOutputDir, cfg.DeployPublishCommand)
	apiHandler := api.NewAPIHandler(providers, sessions, st, deployer, cfg.StreamIdleTimeout)

	router := api.NewEngine(api.ServerOptions{
		Production:     cfg.AppEnv == "production",
		AllowedOrigins: cfg.AllowedOrigins(),
		Tracing:        cfg.OTelEnabled,
		ServiceName:    serviceName,
	}, apiHandler)

	server := &http.Server{
		Addr:    cfg.ServerAddress,
		Handler: router,
		// Generation streams can run for minutes, so no write timeout.
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("Starting API server", "addr", cfg.ServerAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("API server listen error: %s", err)
		}
		log.Info("API server has stopped listening.")
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Shutting down server...", "signal", sig)

	shutdownCtx, serverCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer serverCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("API server forced shutdown", "err", err)
	} else {
		log.Info("API server gracefully stopped.")
	}

	// Let in-flight persistence finish before the store goes away.
	sessions.Wait()
	if err := st.Close(); err != nil {
		log.Error("Failed to close store", "err", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error("Failed to flush traces", "err", err)
	}
	cancel()
	log.Info("Application exiting.")
}

func setupLogger(cfg config.Config) {
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.Warn("Unknown LOG_LEVEL, keeping info", "value", cfg.LogLevel)
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		log.SetFormatter(log.JSONFormatter)
	case "logfmt":
		log.SetFormatter(log.LogfmtFormatter)
	default:
		log.SetFormatter(log.TextFormatter)
	}
	log.SetReportTimestamp(true)
}

// openStore picks the persistence backend. The redis backend also shares
// its connection with the per-account busy guard.
func openStore(ctx context.Context, cfg config.Config) (store.Store, session.Guard, error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		rs, err := store.NewRedis(ctx, store.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		return rs, session.NewRedisGuard(rs.Client(), 0), nil
	case config.StorePostgres:
		ps, err := store.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return ps, session.NewMemoryGuard(), nil
	default:
		ms, err := store.NewMemory(cfg.StoreMemorySize)
		if err != nil {
			return nil, nil, err
		}
		return ms, session.NewMemoryGuard(), nil
	}
}

func buildProviders(ctx context.Context, cfg config.Config) (*ai.Router, error) {
	settings := ai.Settings{
		MaxTokens:   cfg.ProviderMaxTokens,
		Temperature: cfg.ProviderTemperature,
	}
	router := ai.NewRouter()

	openaiProfile := ai.OpenAIProfile
	if cfg.OpenAIBaseURL != "" {
		openaiProfile.BaseURL = cfg.OpenAIBaseURL
	}
	compat := []struct {
		profile ai.Profile
		key     string
	}{
		{ai.GroqProfile, cfg.GroqKey},
		{ai.DeepSeekProfile, cfg.DeepSeekKey},
		{ai.OpenRouterProfile, cfg.OpenRouterAPIKey()},
		{openaiProfile, cfg.OpenAIKey},
	}
	for _, c := range compat {
		router.Register(ai.NewOpenAICompatible(c.profile, c.key, settings), c.key != "")
	}

	geminiSettings := settings
	geminiSettings.MaxTokens = cfg.GeminiMaxTokens
	gemini, err := ai.NewGemini(ctx, cfg.GeminiKey, geminiSettings)
	if err != nil {
		return nil, err
	}
	router.Register(gemini, cfg.GeminiKey != "")
	return router, nil
}
