package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	apihttp "homelink/internal/api/http"
	"homelink/internal/config"
	"homelink/internal/voice"
	"homelink/src"
	"homelink/src/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	configDir := pflag.String("config-dir", "config", "Directory holding client.yml")
	addr := pflag.String("addr", "", "Listen address (defaults to listen_port from client.yml)")
	useStdin := pflag.Bool("stdin", true, "Read recognized phrases from stdin, one per line")
	source := pflag.String("source", "", "Read recognized phrases from this file or named pipe instead of stdin")
	pflag.Parse()

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

	client, err := config.LoadClientConfig(filepath.Join(*configDir, config.ClientFile))
	if err != nil {
		logger.Fatal().Err(err).Msg("Quitting because there is no usable client file")
	}
	if *addr == "" {
		*addr = fmt.Sprintf(":%d", client.ListenPort)
	}

	in, err := openSource(*useStdin, *source)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open phrase source")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, client, in, *addr); err != nil {
		logger.Fatal().Err(err).Msg("HomeLink client stopped")
	}
	logger.Info().Msg("HomeLink client stopped")
}

func openSource(useStdin bool, path string) (voice.AudioSource, error) {
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		return voice.ReaderSource(f), nil
	}
	if !useStdin {
		return nil, fmt.Errorf("no phrase source: pass --stdin or --source")
	}
	return voice.ReaderSource(os.Stdin), nil
}

func run(ctx context.Context, client *config.ClientConfig, in voice.AudioSource, addr string) error {
	listener, err := voice.NewListener(in, voice.NewLineRecognizer(), client.WakeWords,
		time.Duration(client.ContinuousMaxSeconds)*time.Second,
		voice.AwakeTrigger(client.ServerURL(), 2*time.Minute))
	if err != nil {
		return err
	}
	h := apihttp.NewClient(listener, voice.NewPlayer(client.PlayerCommand)).Build(addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer logger.Info().Msg("Phrase source closed")
		return listener.Run(gctx)
	})
	g.Go(func() error {
		logger.Info().Str("addr", addr).Str("server", client.ServerURL()).Msg("HomeLink client listening")
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
