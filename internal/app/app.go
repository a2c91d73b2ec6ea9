// Package app wires the daemon together: config manager, logging service,
// firing-history storage, event bus, runner, and the optional pprof server.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/daemon"

	"tokensched/internal/config"
	"tokensched/internal/eventbus"
	"tokensched/internal/pprofsrv"
	"tokensched/internal/runner"
	"tokensched/internal/storage"
	logx "tokensched/pkg/logx"
)

type App struct {
	cm     *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus   eventbus.Bus
	store storage.Store
	run   *runner.Service
	pprof *pprofsrv.Server

	mu          sync.Mutex
	cancelWatch context.CancelFunc
	wg          sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cm := config.NewManager(cfgPath)
	cfg, err := cm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logConfigFrom(cfg))
	cm.SetLogger(log)
	cm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		// Config.Validate already ran in Parse; additionally reject cron
		// specs the runner cannot parse before committing a reload.
		for _, e := range cfg.Schedules {
			if e.Disabled {
				continue
			}
			if _, err := runner.ParseTrigger(e); err != nil {
				return err
			}
		}
		return nil
	})

	return &App{
		cm:     cm,
		logSvc: logSvc,
		log:    log,
		bus:    eventbus.New(),
		pprof:  pprofsrv.New(log),
	}, nil
}

// Bus exposes the firing fanout so other in-process consumers can subscribe.
func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Start(ctx context.Context) error {
	cfg := a.cm.Get()

	st, err := storage.Open(storageConfigFrom(cfg), a.log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = st

	rcfg, err := runnerConfigFrom(cfg)
	if err != nil {
		return err
	}
	run, err := runner.New(rcfg, a.log, a.bus, a.store)
	if err != nil {
		return err
	}
	a.run = run
	a.run.Start(ctx)

	a.pprof.Apply(ctx, pprofConfigFrom(cfg))

	watchCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancelWatch = cancel
	a.mu.Unlock()

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		_ = a.cm.Watch(watchCtx)
	}()
	sub := a.cm.Subscribe(4)
	go func() {
		defer a.wg.Done()
		defer a.cm.Unsubscribe(sub)
		for {
			select {
			case <-watchCtx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyReload(watchCtx, cfg)
			}
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("tokensched started")
	return nil
}

func (a *App) applyReload(ctx context.Context, cfg *config.Config) {
	a.logSvc.Apply(logConfigFrom(cfg))

	rcfg, err := runnerConfigFrom(cfg)
	if err != nil {
		a.log.Warn("reload rejected", logx.Err(err))
		return
	}
	if err := a.run.Apply(rcfg); err != nil {
		a.log.Warn("reload rejected", logx.Err(err))
		return
	}
	a.pprof.Apply(ctx, pprofConfigFrom(cfg))

	// Storage driver/path changes need a restart; call it out instead of
	// silently ignoring the edit.
	if sc := storageConfigFrom(cfg); a.store != nil || sc.Driver != "" {
		a.log.Debug("storage config changes apply on next start")
	}
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.mu.Lock()
	cancel := a.cancelWatch
	a.cancelWatch = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	a.wg.Wait()

	if a.run != nil {
		a.run.Stop()
	}
	a.pprof.Stop(ctx)
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("tokensched stopped")
	_ = a.logSvc.Close()
	return nil
}

func logConfigFrom(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func storageConfigFrom(cfg *config.Config) storage.Config {
	if cfg.Storage == nil {
		return storage.Config{}
	}
	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}
}

func runnerConfigFrom(cfg *config.Config) (runner.Config, error) {
	width, err := cfg.Scheduler.Width()
	if err != nil {
		return runner.Config{}, err
	}
	return runner.Config{
		BucketWidth: width,
		Entries:     cfg.Schedules,
	}, nil
}

func pprofConfigFrom(cfg *config.Config) pprofsrv.Config {
	return pprofsrv.Config{
		Enabled:              cfg.Pprof.Enabled,
		Addr:                 cfg.Pprof.Addr,
		BlockProfileRate:     cfg.Pprof.BlockProfileRate,
		MutexProfileFraction: cfg.Pprof.MutexProfileFraction,
	}
}
