// Package app assembles the scanflow services from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/raysh454/scanflow/internal/access"
	"github.com/raysh454/scanflow/internal/apiclient"
	"github.com/raysh454/scanflow/internal/config"
	"github.com/raysh454/scanflow/internal/history"
	"github.com/raysh454/scanflow/internal/logging"
	"github.com/raysh454/scanflow/internal/scan"
	"github.com/raysh454/scanflow/internal/server"
	"github.com/raysh454/scanflow/internal/session"
	"github.com/raysh454/scanflow/internal/webclient"
)

// Application is the global runtime state container. It owns every shared
// service; views created from it share one session, one access cache and one
// history store.
type Application struct {
	Config *config.Config
	Logger logging.Logger

	Session  *session.Session
	API      *apiclient.Client
	Resolver *access.Resolver
	History  *history.Store
	Views    *scan.Views

	webClient webclient.WebClient
}

// NewApplication constructs an Application from cfg. history may be disabled
// by setting cfg.HistoryDB to "".
func NewApplication(cfg *config.Config, logger logging.Logger) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("scanflow").SetLevel(cfg.LogLevel)
	}

	wc, err := webclient.NewWebClient(cfg.WebClientConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("creating webclient: %w", err)
	}

	sess := session.New(cfg.Token)
	api, err := apiclient.New(apiclient.Config{BaseURL: cfg.BackendURL, Locale: cfg.Locale}, wc, sess, logger)
	if err != nil {
		_ = wc.Close()
		return nil, fmt.Errorf("creating api client: %w", err)
	}
	resolver := access.NewResolver(api, sess, access.NewCache(cfg.AccessCacheTTL), logger)

	a := &Application{
		Config:    cfg,
		Logger:    logger,
		Session:   sess,
		API:       api,
		Resolver:  resolver,
		webClient: wc,
	}

	var recorder scan.Recorder
	if cfg.HistoryDB != "" {
		store, err := history.Open(cfg.HistoryDB, logger)
		if err != nil {
			_ = wc.Close()
			return nil, fmt.Errorf("opening history: %w", err)
		}
		a.History = store
		recorder = store
	}

	a.Views = scan.NewViews(ScanConfig(cfg), api, resolver, sess, recorder, logger)
	return a, nil
}

// ScanConfig derives the per-view settings from cfg.
func ScanConfig(cfg *config.Config) scan.Config {
	sc := scan.DefaultConfig()
	sc.Locale = cfg.Locale
	sc.AIMode = cfg.AIMode
	if cfg.DebounceWindow > 0 {
		sc.DebounceWindow = cfg.DebounceWindow
	}
	if cfg.PollInterval > 0 {
		sc.PollInterval = cfg.PollInterval
	}
	if cfg.PollMaxInterval > 0 {
		sc.PollMaxInterval = cfg.PollMaxInterval
	}
	return sc
}

// NewServer exposes the application over the local HTTP API.
func (a *Application) NewServer() (*server.Server, error) {
	var hist server.HistoryReader
	if a.History != nil {
		hist = a.History
	}
	return server.NewServer(server.Config{ListenAddr: a.Config.ListenAddr, Logger: a.Logger}, a.Views, a.Resolver, a.Session, hist)
}

// OpenView is a shortcut for a single in-process view.
func (a *Application) OpenView(ctx context.Context) *scan.Controller {
	return a.Views.Create(ctx)
}

// Shutdown closes every view, then the history store and the transport.
func (a *Application) Shutdown() error {
	if a == nil {
		return errors.New("application is nil")
	}
	a.Logger.Info("application shutdown initiated")

	a.Views.CloseAll()

	var errs []error
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing history: %w", err))
		}
	}
	if err := a.webClient.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing webclient: %w", err))
	}
	return errors.Join(errs...)
}
