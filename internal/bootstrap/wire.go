package bootstrap

import (
	"fmt"

	"go.uber.org/zap"

	"rekapo/internal/audio"
	"rekapo/internal/auth"
	"rekapo/internal/config"
	"rekapo/internal/journal"
	"rekapo/internal/logging"
	"rekapo/internal/ports"
	"rekapo/internal/providers/rekapo"
	"rekapo/internal/rules"
	"rekapo/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Config     config.Config
	Tokens     *auth.StaticTokenSource
	Journal    *journal.Store
	Logger     *zap.SugaredLogger
}

// Close releases the recording device and flushes local state.
func (s Services) Close() {
	if s.Controller != nil {
		s.Controller.Shutdown()
	}
	if s.Journal != nil {
		if err := s.Journal.Close(); err != nil {
			s.Logger.Warnw("failed to close journal", "error", err)
		}
	}
	_ = s.Logger.Sync()
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink, clipboard ports.Clipboard) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	logger, err := logging.New("rekapo", cfg.Log.Level)
	if err != nil {
		return Services{}, err
	}

	rulesEngine, err := rules.NewEngine(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return Services{}, err
	}

	store, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return Services{}, fmt.Errorf("open journal: %w", err)
	}

	tokens := auth.NewStaticTokenSource(cfg.API.Token)
	audioCfg := ports.AudioConfig{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
	}

	controller := usecase.NewSessionController(
		usecase.Dependencies{
			Recorder:   audio.NewFFMPEGRecorder(cfg.Audio.RecorderCommand, audioCfg, cfg.Audio.ChunkDir, logger.Named("audio")),
			Permission: audio.NewMicrophoneChecker(cfg.Audio.RecorderCommand, cfg.Audio.InputDevice),
			Meetings: rekapo.NewClient(rekapo.Config{
				BaseURL: cfg.API.BaseURL,
				Timeout: cfg.API.Timeout,
			}, tokens),
			Dialer:    rekapo.NewDialer(cfg.API.BaseURL, tokens, logger.Named("channel")),
			Journal:   store,
			Rules:     rulesEngine,
			Clipboard: clipboard,
			Events:    eventSink,
			Logger:    logger.Named("session"),
		},
		usecase.Config{
			DefaultTitle:       cfg.Session.DefaultTitle,
			HardLimit:          cfg.Session.ChunkDuration,
			MinChunkDuration:   cfg.Session.MinChunkDuration,
			MaxRetries:         cfg.Session.MaxRetries,
			RetryBackoff:       cfg.Session.RetryBackoff,
			ChannelOpenTimeout: cfg.Stream.OpenTimeout,
			TeardownGrace:      cfg.Session.TeardownGrace,
			ModelSize:          cfg.Stream.ModelSize,
			FilterHint:         cfg.NoiseFilterHint(),
			Preflight:          cfg.API.Preflight,
		},
	)

	logger.Infow("recorder ready",
		"api", cfg.API.BaseURL,
		"authenticated", tokens.Authenticated(),
		"model_size", cfg.Stream.ModelSize,
		"journal", cfg.Journal.Path,
	)

	return Services{
		Controller: controller,
		Config:     cfg,
		Tokens:     tokens,
		Journal:    store,
		Logger:     logger,
	}, nil
}
