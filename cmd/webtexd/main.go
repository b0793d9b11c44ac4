// Command webtexd is the collaborative document server: it holds the
// authoritative project state, synchronizes edits between websocket
// clients, and proxies compilation to the external typesetting service.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/webtexlab/webtexd/pkg/api"
	"github.com/webtexlab/webtexd/pkg/assets"
	"github.com/webtexlab/webtexd/pkg/compile"
	"github.com/webtexlab/webtexd/pkg/config"
	"github.com/webtexlab/webtexd/pkg/engine"
	"github.com/webtexlab/webtexd/pkg/store"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "", "the address to listen on (overrides config)")
	configVar := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configVar)
	if err != nil {
		return err
	}
	if *addrVar != "" {
		cfg.Addr = *addrVar
	}

	logger := slog.Default()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}

	slog.Info("opening database", "path", cfg.DatabasePath())
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer st.Close()

	assetStore, err := assets.NewStore(cfg.UploadsDir())
	if err != nil {
		return err
	}

	snaps, err := st.LoadAll()
	if err != nil {
		return err
	}
	slog.Info("loaded projects", "count", len(snaps))

	registry := engine.NewRegistry(logger, assetStore)
	registry.Bootstrap(snaps)

	eng := engine.New(registry, logger)
	compiler := compile.NewClient(cfg.CompilerURL, cfg.CompileTimeout.Std(), logger)
	handlers := api.NewHandlers(eng, assetStore, compiler, st, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg := new(sync.WaitGroup)

	save := func() {
		if err := st.SaveAll(registry.Snapshots()); err != nil {
			slog.Error("failed to persist projects", "err", err)
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(cfg.SnapshotInterval.Std())
		defer t.Stop()
		for {
			select {
			case <-t.C:
				save()
			case <-registry.SaveSignal():
				save()
			case <-ctx.Done():
				return
			}
		}
	}()

	httpServer := &http.Server{Addr: cfg.Addr, Handler: handlers.Router()}

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1) // buffered so the notifier is never blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("signal caught", "sig", sig)
	cancel()
	_ = httpServer.Close()

	// Final snapshot is taken while the rooms still run; closing them first
	// would leave nothing to collect.
	slog.Info("saving projects before exit")
	finalSnaps := registry.Snapshots()
	registry.CloseAll()
	wg.Wait()

	if err := st.SaveAll(finalSnaps); err != nil {
		slog.Error("failed to persist projects", "err", err)
	}
	return nil
}
