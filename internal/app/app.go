package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"parley/internal/sweeper"
	"parley/pkg/cache"
	"parley/pkg/completion"
	"parley/pkg/config"
	"parley/pkg/idem"
	"parley/pkg/logger"
	"parley/pkg/mirror"
	"parley/pkg/prompt"
	"parley/pkg/store"
	"parley/pkg/turn"
	"parley/pkg/workers"
)

// App encapsulates the server components and lifecycle.
type App struct {
	cfg       *config.Config
	addr      string
	dbPath    string
	source    string
	version   string
	commit    string
	buildDate string

	memCache *cache.Memory
	pool     *workers.Pool
	mirror   *mirror.Worker
	svc      *turn.Service

	srv         *http.Server
	stopSweeper context.CancelFunc
}

// Options carries the resolved startup inputs.
type Options struct {
	Config    *config.Config
	Addr      string
	DBPath    string
	Source    string
	Version   string
	Commit    string
	BuildDate string
}

// New initializes everything that does not need a running context: config
// validation, runtime keys, the store, the character seed and the turn
// pipeline. Call Run to start the HTTP server and block until shutdown.
func New(opts Options) (*App, error) {
	_ = godotenv.Load(".env")

	cfg := opts.Config
	if err := validateConfig(cfg, opts.DBPath); err != nil {
		return nil, err
	}

	// runtime signing keys
	runtimeCfg := &config.RuntimeConfig{SigningKeys: map[string]struct{}{}}
	for _, k := range cfg.Security.SigningKeys {
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	config.SetRuntime(runtimeCfg)

	if err := store.Open(opts.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", opts.DBPath, err)
	}

	if p := cfg.Characters.SeedFile; p != "" {
		n, err := store.SeedCharacters(p)
		if err != nil {
			return nil, fmt.Errorf("character seed failed: %w", err)
		}
		logger.Info("characters_seeded", "count", n, "file", p)
	}

	a := &App{
		cfg:       cfg,
		addr:      opts.Addr,
		dbPath:    opts.DBPath,
		source:    opts.Source,
		version:   opts.Version,
		commit:    opts.Commit,
		buildDate: opts.BuildDate,
	}
	a.buildPipeline()
	return a, nil
}

// buildPipeline wires the duplicate window, worker pool, mirror fan-out and
// turn service from the effective config.
func (a *App) buildPipeline() {
	cfg := a.cfg

	var window cache.Cache
	if addr := cfg.Idempotency.RedisAddr; addr != "" {
		window = cache.NewRedis(addr, cfg.Idempotency.RedisPassword, cfg.Idempotency.RedisDB)
		logger.Info("duplicate_window_backend", "backend", "redis", "addr", addr)
	} else {
		a.memCache = cache.NewMemory()
		window = a.memCache
		logger.Info("duplicate_window_backend", "backend", "memory")
	}
	guard := idem.NewGuard(window, cfg.Idempotency.TTL.Duration())

	a.pool = workers.NewPool(cfg.Workers.PerUser, cfg.Workers.Global, cfg.Workers.Wait.Duration())
	a.mirror = mirror.NewWorker(cfg.Mirror.QueueCapacity)

	client := completion.NewHTTPClient(
		cfg.Completion.BaseURL,
		cfg.Completion.APIKey,
		cfg.Completion.FallbackModels,
		cfg.Completion.Timeout.Duration(),
	)
	retrier := &turn.Retrier{
		Client: client,
		Model:  cfg.Completion.Model,
		Base: completion.DecodingParams{
			Temperature:       cfg.Completion.Temperature,
			TopP:              cfg.Completion.TopP,
			RepetitionPenalty: cfg.Completion.RepetitionPenalty,
			PresencePenalty:   cfg.Completion.PresencePenalty,
			FrequencyPenalty:  cfg.Completion.FrequencyPenalty,
			Stop:              cfg.Completion.Stop,
			MaxTokens:         cfg.Completion.MaxTokens,
		},
		MaxAttempts: cfg.Completion.MaxAttempts,
	}

	a.svc = turn.NewService(retrier, guard, a.pool, a.mirror, turn.Config{
		PacingThreshold: cfg.Guard.PacingThreshold,
		History: prompt.HistoryLimits{
			Messages:     cfg.Guard.HistoryMessages,
			Budget:       cfg.Guard.HistoryBudget,
			ItemTrim:     cfg.Guard.ItemTrim,
			UserTurnTrim: cfg.Guard.UserTurnTrim,
		},
		Format: prompt.FormatPolicy{
			MinSentences: cfg.Guard.FreeMinSentences,
			MaxSentences: cfg.Guard.FreeMaxSentences,
			MinWords:     cfg.Guard.FreeMinWords,
			MaxWords:     cfg.Guard.FreeMaxWords,
		},
	})
}

// Run starts the mirror workers, maintenance sweeper and HTTP server, and
// blocks until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.mirror.Start(a.cfg.Mirror.Workers)

	tasks := []sweeper.Task{
		func() int { return a.pool.EvictIdle(a.cfg.Workers.IdleEvict.Duration()) },
	}
	if a.memCache != nil {
		tasks = append(tasks, a.memCache.Sweep)
	}
	cancel, err := sweeper.Start(ctx, a.cfg.Sweep.Enabled, a.cfg.Sweep.Cron, tasks...)
	if err != nil {
		return err
	}
	a.stopSweeper = cancel

	a.printBanner()

	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		return a.shutdown()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// shutdown drains the HTTP server and the mirror queue, then closes the
// store.
func (a *App) shutdown() error {
	logger.Info("shutdown_started")
	if a.stopSweeper != nil {
		a.stopSweeper()
	}
	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(ctx); err != nil {
			logger.Warn("http_shutdown_error", "error", err)
		}
	}
	// mirror events already enqueued still land before the store closes
	a.mirror.Close()
	if err := store.Close(); err != nil {
		return err
	}
	logger.Info("shutdown_complete")
	return nil
}
