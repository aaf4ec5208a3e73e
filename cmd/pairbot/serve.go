package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pairbot/handler"
	"pairbot/internal/config"
	"pairbot/internal/domain"
	"pairbot/internal/integrations/mega"
	"pairbot/internal/integrations/paramstore"
	"pairbot/internal/integrations/phone"
	"pairbot/internal/integrations/whatsapp"
	"pairbot/internal/logging"
	"pairbot/internal/repository"
	"pairbot/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve GET /?number= and run one pairing session",
	Long: `Start the HTTP server. The first valid request starts a pairing session;
the process exits once that session ends (0 on export, 1 on failure).

Examples:
  pairbot serve --config /etc/pairbot/config.yaml
  PAIRBOT_HTTP_ADDR=:9000 pairbot serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New("pairbot", cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	launcher, err := buildLauncher(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to wire pairing session")
		return err
	}
	h, err := handler.NewHandler(launcher, logger)
	if err != nil {
		return err
	}
	e := handler.NewServer(h)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("starting http server")
		serveErr <- e.Start(cfg.HTTP.Addr)
	}()

	var term *domain.Termination
	select {
	case t := <-launcher.Results():
		term = &t
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}

	if term == nil {
		// A session interrupted by the signal still reports its outcome.
		select {
		case t := <-launcher.Results():
			term = &t
		case <-shutdownCtx.Done():
		}
	}
	if term == nil {
		return nil
	}

	evt := logger.Info()
	if term.Outcome == domain.OutcomeFatal {
		evt = logger.Error().Err(term.Reason)
	}
	evt.Str("outcome", string(term.Outcome)).Str("reference", string(term.Reference)).Msg("session ended")
	if code := term.ExitCode(); code != 0 {
		return exitError{code: code}
	}
	return nil
}

func buildLauncher(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*usecase.Launcher, error) {
	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		return nil, err
	}
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, err
	}
	blobs, err := mega.NewClient(params, cfg.AWS.ParamPrefix)
	if err != nil {
		return nil, err
	}

	// Assigned below, before any connection can raise a fatal error.
	var director *usecase.Director
	filter, err := usecase.NewFilter(logger, func(err error) {
		logger.Error().Err(err).Msg("unrecoverable error, exiting")
		if director != nil {
			director.CleanupActive()
		}
		os.Exit(1)
	})
	if err != nil {
		return nil, err
	}
	connections, err := whatsapp.NewFactory(logger, filter)
	if err != nil {
		return nil, err
	}
	exporter, err := usecase.NewExporter(blobs, logger)
	if err != nil {
		return nil, err
	}

	deps := usecase.Dependencies{
		Validator:   phone.New(),
		Credentials: whatsapp.NewCredentialStore(logger),
		Connections: connections,
		Exporter:    exporter,
		Cleaner:     usecase.NewCleaner(logger),
		Filter:      filter,
	}
	if cfg.AWS.StateTable != "" {
		recorder, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.AWS.StateTable)
		if err != nil {
			return nil, err
		}
		deps.Recorder = recorder
	}

	s := cfg.Session
	director, err = usecase.NewDirector(deps, usecase.Options{
		SessionsDir: s.Dir,
		MaxAttempts: s.MaxAttempts,
		Backoff: usecase.Backoff{
			Initial:    s.InitialBackoff,
			Max:        s.MaxBackoff,
			Multiplier: s.BackoffMultiplier,
		},
		ReadyTimeout:   s.ReadyTimeout,
		SettleDelay:    s.SettleDelay,
		CleanupDelay:   s.CleanupDelay,
		SessionTimeout: s.Timeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	return usecase.NewLauncher(ctx, director)
}
