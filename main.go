package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	apihttp "homelink/internal/api/http"
	"homelink/internal/config"
	"homelink/internal/conversation"
	"homelink/internal/heal"
	"homelink/internal/homelink"
	"homelink/internal/intent"
	"homelink/internal/llm"
	"homelink/internal/memory"
	"homelink/internal/settings"
	"homelink/internal/storage"
	"homelink/internal/voice"
	"homelink/pkg"
	"homelink/src"
	"homelink/src/logger"
	"homelink/src/model"

	"github.com/joho/godotenv"
	"github.com/openai/openai-go/v3/option"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	configDir := pflag.String("config-dir", "", "Directory holding settings.yml, SETTINGS_OPT.yml and intents.yml (overrides CONFIG_DIR)")
	addr := pflag.String("addr", "", "Listen address (overrides SERVER_ADDR)")
	inMemory := pflag.Bool("memory-store", false, "Keep memories and settings in process memory instead of Redis")
	pflag.Parse()

	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
	}

	cfg, err := src.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logger.InitLogger(cfg.LogConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	if *configDir != "" {
		cfg.ServerConfig.ConfigDir = *configDir
	}
	if *addr != "" {
		cfg.ServerConfig.Addr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *inMemory); err != nil {
		logger.Fatal().Err(err).Msg("HomeLink server stopped")
	}
	logger.Info().Msg("HomeLink server stopped")
}

func run(ctx context.Context, cfg *src.Config, inMemory bool) error {
	kv, err := openStore(ctx, cfg.RedisConfig, inMemory)
	if err != nil {
		return err
	}
	defer kv.Close()

	dir := cfg.ServerConfig.ConfigDir
	store, err := settings.Load(ctx, dir, kv)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	catalog, err := config.LoadIntents(filepath.Join(dir, config.IntentsFile))
	if err != nil {
		return fmt.Errorf("failed to load intents: %w", err)
	}

	provider := llm.NewProvider(store, cfg.LLMConfig, nil)
	invoker := heal.NewInvoker(
		heal.WithMaxAttempts(cfg.HealConfig.MaxAttempts),
		heal.WithCallTimeout(cfg.HealConfig.CallTimeout),
	)

	engine, err := intent.NewEngine(catalog, provider.Intent(), invoker)
	if err != nil {
		return fmt.Errorf("failed to build intent engine: %w", err)
	}
	memories := memory.NewStore(kv, provider.Intent(), provider.Reasoning(), invoker)
	conv, err := conversation.NewManager(memories, provider.Reasoning(), invoker, store, cfg.ConversationConfig,
		conversation.WithFeatures(features(catalog)))
	if err != nil {
		return fmt.Errorf("failed to build conversation manager: %w", err)
	}

	tts := voice.NewOpenAISpeech(store, speechOptions(cfg.LLMConfig)...)
	link, err := homelink.New(engine, memories, conv, voice.NewClientSpeaker(tts, cfg.ServerConfig.ClientURL))
	if err != nil {
		return err
	}
	handlers := map[string]homelink.Handler{
		homelink.AgentMemory:   homelink.MemoryHandler(memories),
		homelink.AgentSettings: homelink.NewSettingsHandler(store, provider.Reasoning(), invoker),
		homelink.AgentClock:    homelink.ClockHandler(time.Now),
	}
	for agent, handler := range handlers {
		if err := link.Register(agent, handler); err != nil {
			return err
		}
	}

	h := apihttp.NewServer(link, store, memories).Build(cfg.ServerConfig.Addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return conv.Run(gctx) })
	g.Go(func() error {
		logger.Info().Str("addr", cfg.ServerConfig.Addr).Int("intents", len(catalog)).Msg("HomeLink server listening")
		if err := h.Run(); err != nil && gctx.Err() == nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return h.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg model.RedisConfig, inMemory bool) (storage.KV, error) {
	if inMemory {
		logger.Warn().Msg("Using in-process store, memories and settings are lost on exit")
		return storage.NewMemoryKV(), nil
	}
	kv, err := storage.NewRedisKV(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return kv, nil
}

func speechOptions(cfg model.LLMConfig) []option.RequestOption {
	opts := []option.RequestOption{option.WithAPIKey(cfg.OpenAIAPIKey)}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.OpenAIBaseURL))
	}
	return opts
}

// features describes the catalog for the conversation system prompt
func features(catalog []pkg.Intent) string {
	lines := make([]string, 0, len(catalog))
	for _, in := range catalog {
		lines = append(lines, fmt.Sprintf("%s: %s", in.Name, in.Description))
	}
	return strings.Join(lines, "; ")
}
