// Package app initializes and holds the service's long-lived collaborators,
// acting as the composition root.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/finchsearch/finch/internal/api"
	"github.com/finchsearch/finch/internal/config"
	"github.com/finchsearch/finch/internal/connector"
	"github.com/finchsearch/finch/internal/connector/factory"
	"github.com/finchsearch/finch/internal/dispatcher"
	"github.com/finchsearch/finch/internal/document"
	"github.com/finchsearch/finch/internal/history"
	historymem "github.com/finchsearch/finch/internal/history/memory"
	historypg "github.com/finchsearch/finch/internal/history/postgres"
	"github.com/finchsearch/finch/internal/index"
	"github.com/finchsearch/finch/internal/metrics"
	"github.com/finchsearch/finch/internal/notify"
	"github.com/finchsearch/finch/internal/notify/sinks"
)

// App wires configuration into the running service.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	provider   *api.StaticProvider
	dispatcher *dispatcher.Dispatcher
	hub        *notify.Hub
	server     *http.Server

	closeHistory func()
}

// New builds all collaborators. It fails fast when any cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	store, closeHistory, err := newHistoryStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	hub, err := newHub(ctx, cfg, logger)
	if err != nil {
		closeHistory()
		return nil, err
	}

	deps := factory.Deps{
		Logger:      logger,
		UserAgent:   cfg.Ingest.UserAgent,
		HTTPTimeout: cfg.HTTPTimeout(),
		State:       connector.NewMemoryStateStore(),
	}
	disp, err := dispatcher.New(dispatcher.Config{
		Build: func(src document.SourceDefinition) (connector.Connector, error) {
			return factory.Build(src, deps)
		},
		Embedder: index.HashEmbedder{Dimensions: cfg.Index.EmbeddingDimensions},
		Indexer:  index.NewMemoryIndex(),
		History:  store,
		Hub:      hub,
		Logger:   logger,
	})
	if err != nil {
		closeHistory()
		return nil, err
	}

	provider := api.NewStaticProvider()
	server := api.NewServer(provider, disp, logger)

	return &App{
		cfg:      cfg,
		logger:   logger,
		provider: provider,
		hub:      hub,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           server.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		dispatcher:   disp,
		closeHistory: closeHistory,
	}, nil
}

// Dispatcher exposes the run controller for embedding programs.
func (a *App) Dispatcher() *dispatcher.Dispatcher { return a.dispatcher }

// Sources exposes the source provider so definitions can be registered.
func (a *App) Sources() *api.StaticProvider { return a.provider }

// LoadSources registers source definitions from a JSON file holding an array
// of definitions.
func (a *App) LoadSources(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read sources file: %w", err)
	}
	var defs []document.SourceDefinition
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("parse sources file: %w", err)
	}
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return fmt.Errorf("source %s: %w", def.ID, err)
		}
		a.provider.Add(def)
	}
	a.logger.Info("sources loaded", zap.Int("count", len(defs)), zap.String("path", path))
	return nil
}

// Run serves HTTP until the context is cancelled, then shuts everything down
// within the configured timeout.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		a.shutdown(context.Background())
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}
	a.shutdown(shutdownCtx)
	return nil
}

func (a *App) shutdown(ctx context.Context) {
	if err := a.dispatcher.Shutdown(ctx); err != nil {
		a.logger.Warn("dispatcher shutdown", zap.Error(err))
	}
	if err := a.hub.Close(ctx); err != nil {
		a.logger.Warn("notification hub shutdown", zap.Error(err))
	}
	a.closeHistory()
}

func newHistoryStore(ctx context.Context, cfg config.Config) (history.Store, func(), error) {
	switch cfg.History.Provider {
	case "postgres":
		store, err := historypg.New(ctx, cfg.History.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize history store: %w", err)
		}
		return store, store.Close, nil
	default:
		return historymem.New(), func() {}, nil
	}
}

func newHub(ctx context.Context, cfg config.Config, logger *zap.Logger) (*notify.Hub, error) {
	hubSinks := []notify.Sink{sinks.NewLogSink(logger)}

	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		return nil, fmt.Errorf("initialize prometheus sink: %w", err)
	}
	hubSinks = append(hubSinks, promSink)

	if cfg.Notify.Provider == "pubsub" {
		ps, err := sinks.NewPubSubSink(ctx, cfg.Notify.PubSub.ProjectID, cfg.Notify.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("initialize pubsub sink: %w", err)
		}
		hubSinks = append(hubSinks, ps)
	}

	return notify.NewHub(notify.Config{
		BufferSize: cfg.Notify.Buffer,
		Logger:     logger,
	}, hubSinks...), nil
}
