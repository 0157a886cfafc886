package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/gemini-chat/adapters/hasher"
	httpadapter "github.com/satriahrh/gemini-chat/adapters/http"
	"github.com/satriahrh/gemini-chat/adapters/llm"
	"github.com/satriahrh/gemini-chat/adapters/message_broker"
	"github.com/satriahrh/gemini-chat/adapters/session"
	"github.com/satriahrh/gemini-chat/adapters/speech"
	"github.com/satriahrh/gemini-chat/adapters/tts"
	"github.com/satriahrh/gemini-chat/adapters/websocket"
	"github.com/satriahrh/gemini-chat/config"
	"github.com/satriahrh/gemini-chat/usecase"
	"github.com/satriahrh/gemini-chat/utils/log"
	"github.com/satriahrh/gemini-chat/utils/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := config.LoadEnvFiles(envFiles...); err != nil {
		return err
	}

	cfg, err := config.Load()
	if cfg == nil {
		return err
	}
	log.Setup(cfg.Debug, cfg.LogFile)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if errors.Is(err, config.ErrConfigurationMissing) {
		log.WithCtx(ctx).Error("configuration missing, serving error state only", zap.Error(err))
		return listen(ctx, httpadapter.NewMisconfiguredServer(config.MissingKeyMessage), cfg.HTTPAddr)
	}
	if err != nil {
		return err
	}

	tel := telemetry.Disabled()
	if cfg.OtelEnabled {
		if tel, err = telemetry.Init(ctx, os.Stderr); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tel.Shutdown(shutdownCtx); err != nil {
				log.WithCtx(ctx).Error("telemetry shutdown failed", zap.Error(err))
			}
		}()
	}

	gemini, err := llm.NewGeminiClient(ctx, cfg.APIKey)
	if err != nil {
		return err
	}

	broker := message_broker.NewChannelMessageBroker()
	defer broker.Close()

	sessions := session.NewMemoryStore()
	svc := usecase.NewChatService(gemini, broker, tel, settingsFromConfig(cfg))

	opts := httpadapter.HandlerOptions{
		JWTSecret: cfg.JWTSecret,
		APIKey:    cfg.APIKeyID,
		APISecret: cfg.APISecret,
	}
	if cfg.VoiceEnabled {
		if opts.Transcriber, err = speech.NewGoogleSpeech(ctx, cfg.VoiceLanguage); err != nil {
			return err
		}
		if opts.Synthesizer, err = tts.NewGoogleTTS(ctx, cfg.VoiceLanguage); err != nil {
			return err
		}
	}

	wsServer := websocket.NewServer(svc, sessions, broker)
	if err := wsServer.Run(ctx); err != nil {
		return fmt.Errorf("starting websocket server: %w", err)
	}

	handler := httpadapter.NewChatHandler(svc, sessions, hasher.New(), opts)
	e := httpadapter.NewServer(handler, wsServer.Handler)

	log.WithCtx(ctx).Info("Starting server",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("model_mode", string(cfg.ModelMode)),
		zap.Bool("persona", cfg.Persona != ""),
		zap.Bool("voice", cfg.VoiceEnabled))
	return listen(ctx, e, cfg.HTTPAddr)
}

// settingsFromConfig maps the two configurable variants onto the service.
func settingsFromConfig(cfg *config.Config) usecase.Settings {
	sel := usecase.ModelSelection{
		Fixed:   cfg.ModelMode == config.ModelFixed,
		Default: cfg.Model,
		Allowed: cfg.Models,
	}
	if !sel.Fixed && len(sel.Allowed) > 0 && !slices.Contains(sel.Allowed, sel.Default) {
		sel.Default = sel.Allowed[0]
	}
	return usecase.Settings{
		Models:        sel,
		Persona:       cfg.Persona,
		ErrorDetail:   cfg.ErrorDetail,
		HistoryWindow: cfg.HistoryWindow,
	}
}

func listen(ctx context.Context, e *echo.Echo, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.WithCtx(ctx).Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
