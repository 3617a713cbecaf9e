// Package app builds the application context once at startup: the store,
// the queue, the sync engine, the connectivity sources and every feature
// area. Nothing in tilth is a package-level singleton; commands, the web
// server and the MCP server all work through an *App.
package app

import (
	"context"
	"database/sql"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/hpungsan/tilth/internal/appstate"
	"github.com/hpungsan/tilth/internal/backend"
	"github.com/hpungsan/tilth/internal/cache"
	"github.com/hpungsan/tilth/internal/config"
	"github.com/hpungsan/tilth/internal/dispatch"
	"github.com/hpungsan/tilth/internal/drain"
	"github.com/hpungsan/tilth/internal/errors"
	"github.com/hpungsan/tilth/internal/feature"
	"github.com/hpungsan/tilth/internal/netstatus"
	"github.com/hpungsan/tilth/internal/optimistic"
	"github.com/hpungsan/tilth/internal/queue"
)

// Options override collaborators, mainly for tests. Zero fields are built
// from the config.
type Options struct {
	// Online forces the starting connectivity. Nil means: probe once when a
	// probe URL is configured, otherwise start online.
	Online *bool

	Backend    *backend.Backend
	Diagnoser  backend.Diagnoser
	Answerer   backend.Answerer
	Forecaster backend.Forecaster
	HTTPClient *http.Client
}

// App is the application context.
type App struct {
	Config *config.Config
	DB     *sql.DB
	Logger *zap.Logger

	Shell    *appstate.Shell
	Queue    *queue.Queue
	Dispatch *dispatch.Table
	Drainer  *drain.Drainer
	Monitor  *netstatus.Monitor
	Runner   *optimistic.Runner
	Backend  *backend.Backend
	Content  *cache.Content
	Answers  *cache.Knowledge

	Community *feature.Community
	Calendar  *feature.Calendar
	Tracker   *feature.Tracker
	Knowledge *feature.Knowledge
	Diagnosis *feature.Diagnosis
	Admin     *feature.Admin
	Directory *feature.Directory
	Weather   *feature.Weather

	probe  *netstatus.Probe
	signal *netstatus.FileSignal

	// storeErr is set when the store could not be read at startup. Online
	// work still runs; queueing and cached reads fail with it.
	storeErr error

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopViews func()
	viewsWG   sync.WaitGroup
}

// New wires the application over an initialized database. The pending
// count is recomputed from the queue before New returns.
//
// database may be nil or unusable. The app then starts without its store:
// online operations work, while queueing fails with ENQUEUE_FAILED and
// cached reads with STORE_UNAVAILABLE.
func New(ctx context.Context, cfg *config.Config, database *sql.DB, logger *zap.Logger, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{
		Config:  cfg,
		DB:      database,
		Logger:  logger,
		Shell:   appstate.New(cfg.Language, cfg.SyncNoticeDuration()),
		Content: cache.NewContent(database),
		Answers: cache.NewKnowledge(database),
	}

	a.Backend = opts.Backend
	if a.Backend == nil {
		a.Backend = buildBackend(cfg, opts.HTTPClient, logger)
	}
	diagnoser, answerer := opts.Diagnoser, opts.Answerer
	if cfg.AIAPIKey != "" && (diagnoser == nil || answerer == nil) {
		ai := backend.NewAI(cfg.AIAPIKey, cfg.AIModel)
		if diagnoser == nil {
			diagnoser = ai
		}
		if answerer == nil {
			answerer = ai
		}
	}
	forecaster := opts.Forecaster
	if forecaster == nil {
		om := backend.NewOpenMeteo()
		if opts.HTTPClient != nil {
			om.HTTP = opts.HTTPClient
		}
		forecaster = om
	}

	a.Queue = queue.New(database, logger, queue.WithCountHook(a.Shell.SetPending))
	a.Dispatch = dispatch.New(a.Backend, diagnoser, logger)
	a.Drainer = drain.New(a.Queue, a.Dispatch, logger)

	if cfg.ProbeURL != "" {
		a.probe = &netstatus.Probe{
			URL:      cfg.ProbeURL,
			Interval: cfg.ProbeInterval(),
			HTTP:     opts.HTTPClient,
			Logger:   logger.Named("probe"),
		}
	}
	online := true
	switch {
	case opts.Online != nil:
		online = *opts.Online
	case a.probe != nil:
		online = a.probe.Check(ctx)
	}
	a.Monitor = netstatus.NewMonitor(a.Drainer, a.Shell, a.Queue, online, logger)
	if a.probe != nil {
		a.probe.Target = a.Monitor
	}
	a.Runner = optimistic.NewRunner(a.Monitor, a.Queue, a.Dispatch, logger)

	deps := feature.Deps{
		Runner:     a.Runner,
		Backend:    a.Backend,
		Content:    a.Content,
		Knowledge:  a.Answers,
		Diagnoser:  diagnoser,
		Answerer:   answerer,
		Forecaster: forecaster,
		Language:   func() string { return a.Shell.Snapshot().Language },
		Logger:     logger,
	}
	a.Community = feature.NewCommunity(deps)
	a.Calendar = feature.NewCalendar(deps)
	a.Tracker = feature.NewTracker(deps)
	a.Knowledge = feature.NewKnowledge(deps)
	a.Diagnosis = feature.NewDiagnosis(deps)
	a.Admin = feature.NewAdmin(deps)
	a.Directory = feature.NewDirectory(deps)
	a.Weather = feature.NewWeather(deps)

	if _, err := a.Queue.Refresh(ctx); err != nil {
		if !errors.Is(err, errors.ErrStoreUnavailable) {
			return nil, err
		}
		a.storeErr = err
		logger.Error("local store unavailable, offline features disabled", zap.Error(err))
	}
	a.watchRefresh()
	return a, nil
}

// watchRefresh refetches the feature lists each time the shell's refresh
// token moves, so placeholders left by a drained queue are replaced.
func (a *App) watchRefresh() {
	ctx, cancel := context.WithCancel(context.Background())
	events, unsubscribe := a.Shell.Subscribe()
	a.stopViews = func() {
		cancel()
		unsubscribe()
	}

	a.viewsWG.Add(1)
	go func() {
		defer a.viewsWG.Done()
		for ev := range events {
			if ev.Type == appstate.EventRefresh {
				a.RefreshViews(ctx)
			}
		}
	}()
}

// RefreshViews refetches every feature list from the backend. It does
// nothing offline. A failing area is logged and the rest still refresh.
func (a *App) RefreshViews(ctx context.Context) {
	if !a.Monitor.Online() {
		return
	}
	user := a.User().ID
	areas := []struct {
		name    string
		perUser bool
		fn      func(context.Context) error
	}{
		{"community", false, a.Community.Refresh},
		{"admin", false, a.Admin.Refresh},
		{"calendar", true, func(ctx context.Context) error { return a.Calendar.Refresh(ctx, user, a.Calendar.Month()) }},
		{"tracker", true, func(ctx context.Context) error { return a.Tracker.Refresh(ctx, user) }},
		{"knowledge", true, func(ctx context.Context) error { return a.Knowledge.Refresh(ctx, user) }},
		{"diagnosis", true, func(ctx context.Context) error { return a.Diagnosis.Refresh(ctx, user) }},
	}

	log := a.Logger.Named("views")
	for _, area := range areas {
		if area.perUser && user == "" {
			continue
		}
		if err := area.fn(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("view refresh failed", zap.String("area", area.name), zap.Error(err))
		}
	}
}

// StoreErr reports why the store is unavailable, or nil when it works.
func (a *App) StoreErr() error {
	return a.storeErr
}

func buildBackend(cfg *config.Config, httpClient *http.Client, logger *zap.Logger) *backend.Backend {
	if cfg.BackendURL == "" {
		logger.Info("no backend_url configured, using in-process backend")
		return backend.NewMemory().Backend
	}
	return backend.NewREST(backend.NewClient(backend.ClientOptions{
		BaseURL:           cfg.BackendURL,
		Key:               cfg.BackendKey,
		RequestsPerSecond: cfg.RequestsPerSecond,
		HTTPClient:        httpClient,
		Logger:            logger,
	}))
}

// Start runs the background connectivity sources: the probe loop and the
// signal file watcher, when configured. Call Close to stop them.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.Config.SignalFile != "" {
		fs, err := netstatus.NewFileSignal(a.Config.SignalFile, a.Monitor, a.Logger)
		if err != nil {
			cancel()
			a.cancel = nil
			return err
		}
		if err := fs.Start(ctx); err != nil {
			cancel()
			a.cancel = nil
			return err
		}
		a.signal = fs
	}
	if a.probe != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.probe.Run(ctx)
		}()
	}
	return nil
}

// Close stops background sources and the shell. The database is owned by
// the caller.
func (a *App) Close() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	signal := a.signal
	a.signal = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if signal != nil {
		if err := signal.Stop(); err != nil {
			a.Logger.Warn("stopping signal file watcher failed", zap.Error(err))
		}
	}
	a.wg.Wait()

	a.mu.Lock()
	stopViews := a.stopViews
	a.stopViews = nil
	a.mu.Unlock()
	if stopViews != nil {
		stopViews()
	}
	a.viewsWG.Wait()
	a.Shell.Close()
}

// User returns the configured farmer.
func (a *App) User() feature.User {
	return feature.User{ID: a.Config.UserID, Email: a.Config.UserEmail}
}

// Status is the combined view shown by `tilth status`, the web API and MCP.
type Status struct {
	appstate.Snapshot
	Draining   bool          `json:"draining"`
	LastSync   *drain.Result `json:"last_sync,omitempty"`
	StoreError string        `json:"store_error,omitempty"`
}

// Status returns the current shell state plus sync engine state.
func (a *App) Status() Status {
	st := Status{
		Snapshot: a.Shell.Snapshot(),
		Draining: a.Drainer.Running(),
		LastSync: a.Monitor.LastResult(),
	}
	if a.storeErr != nil {
		st.StoreError = a.storeErr.Error()
	}
	return st
}

// SetOnline records a connectivity reading from an external source.
func (a *App) SetOnline(ctx context.Context, online bool) (*drain.Result, error) {
	return a.Monitor.SetOnline(ctx, online)
}

// Sync runs a drain pass now. Fails with netstatus.ErrOffline while offline.
func (a *App) Sync(ctx context.Context) (*drain.Result, error) {
	return a.Monitor.SyncNow(ctx)
}
