package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"reflect"
	"sync"
	"time"

	"MissionCore/internal/catalog"
	"MissionCore/internal/game"
	"MissionCore/internal/storage/sqlite"
)

// App wires the catalog, the room hub and optional SQLite storage.
type App struct {
	Config  Config
	Catalog *catalog.Catalog
	Hub     *game.Hub
	Storage *sqlite.Store

	logger     *log.Logger
	fileTables []*catalog.MemTable
	dbTables   []*catalog.MemTable
	reloadMu   sync.Mutex
}

// NewApp loads definition tables from the configured YAML files and SQLite
// database and builds the hub.
func NewApp(ctx context.Context, cfg Config, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = log.Default()
	}
	a := &App{Config: cfg, logger: logger}

	fileTables, err := catalog.LoadYAMLFiles(cfg.TableFiles...)
	if err != nil {
		return nil, fmt.Errorf("load tables: %w", err)
	}
	a.fileTables = fileTables

	if cfg.SQLitePath != "" {
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.Storage = store
		if a.dbTables, err = store.Tables(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("load stored tables: %w", err)
		}
	}

	tables := append(catalog.AsTables(a.fileTables), catalog.AsTables(a.dbTables)...)
	cat, report := catalog.New(tables, logger)
	a.Catalog = cat
	logger.Printf("[app] catalog loaded: tables=%d missions=%d skipped=%d", report.Tables, report.Loaded, len(report.Skipped))
	for _, issue := range catalog.Validate(cat.Registry()) {
		logger.Printf("[app] validate: %s", issue)
	}

	opts := game.HubOptions{Source: cat, Logger: logger, Epsilon: cfg.Epsilon}
	if a.Storage != nil {
		opts.Progress = a.Storage
	}
	a.Hub = game.NewHub(opts)
	cat.OnReload(a.Hub.Reconcile)
	return a, nil
}

// Reload re-reads YAML files and stored tables, then swaps the catalog if
// anything changed. Tables that appear in files for the first time are not
// picked up until restart.
func (a *App) Reload(ctx context.Context) (bool, catalog.LoadReport, error) {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	fresh, err := catalog.LoadYAMLFiles(a.Config.TableFiles...)
	if err != nil {
		return false, catalog.LoadReport{}, fmt.Errorf("reload tables: %w", err)
	}
	byName := make(map[string]*catalog.MemTable, len(fresh))
	for _, t := range fresh {
		byName[t.Name()] = t
	}
	for _, t := range a.fileTables {
		if f, ok := byName[t.Name()]; ok && !sameRows(t.Rows(), f.Rows()) {
			t.Replace(f.Rows())
		}
	}
	if a.Storage != nil {
		for _, t := range a.dbTables {
			if err := a.Storage.RefreshTable(ctx, t); err != nil {
				return false, catalog.LoadReport{}, err
			}
		}
	}
	if !a.Catalog.Stale() {
		return false, catalog.LoadReport{}, nil
	}
	_, report := a.Catalog.Reload()
	a.logger.Printf("[app] catalog reloaded: missions=%d skipped=%d", report.Loaded, len(report.Skipped))
	return true, report, nil
}

func (a *App) runLoops(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(a.Config.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.Hub.Flush()
			}
		}
	}()

	// Periodic cleanup of empty rooms
	go func() {
		ticker := time.NewTicker(a.Config.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.Hub.CleanupEmptyRooms()
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(a.Config.ReloadInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, _, err := a.Reload(ctx); err != nil {
					a.logger.Printf("[app] reload: %v", err)
				}
			}
		}
	}()
}

// Serve runs the HTTP server until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.runLoops(loopCtx)

	srv := &http.Server{Addr: a.Config.Addr, Handler: a.Handler()}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Printf("[app] starting web server on %s", a.Config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		return srv.Shutdown(shutdownCtx)
	}
}

// Close saves progress and releases storage.
func (a *App) Close(ctx context.Context) error {
	a.Hub.Close(ctx)
	a.Catalog.Close()
	if a.Storage != nil {
		return a.Storage.Close()
	}
	return nil
}

func sameRows(a, b []catalog.Row) bool {
	return reflect.DeepEqual(a, b)
}
