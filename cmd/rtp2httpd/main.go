// Command rtp2httpd is the gateway binary: re-exec'd once per worker by
// its own supervisor, and itself the supervisor on first invocation.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/r2hgw/rtp2httpd/internal/bufpool"
	"github.com/r2hgw/rtp2httpd/internal/config"
	"github.com/r2hgw/rtp2httpd/internal/logging"
	"github.com/r2hgw/rtp2httpd/internal/reactor"
	"github.com/r2hgw/rtp2httpd/internal/statusapi"
	"github.com/r2hgw/rtp2httpd/internal/statusmem"
	"github.com/r2hgw/rtp2httpd/internal/supervisor"
)

// statusRegionFD is the fd number a worker finds its inherited status
// memfd at: exec.Cmd.ExtraFiles always starts remapping at fd 3.
const statusRegionFD = 3

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rtp2httpd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Configure(logging.Config{
		Verbosity:  cfg.Global.Verbose,
		IncludePID: true,
	})

	if idStr, ok := os.LookupEnv(supervisor.WorkerIDEnv); ok {
		id, err := strconv.Atoi(idStr)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", supervisor.WorkerIDEnv, idStr, err)
		}
		return runWorker(cfg, id, logger)
	}
	return runSupervisor(cfg, logger)
}

func runSupervisor(cfg *config.Config, logger *slog.Logger) error {
	count := cfg.Global.Workers
	if count <= 0 {
		count = runtime.GOMAXPROCS(0)
	}

	region, statusFile, err := statusmem.CreateShared()
	if err != nil {
		return fmt.Errorf("create status region: %w", err)
	}
	defer region.Close()
	defer statusFile.Close()

	sup, err := supervisor.New(count, os.Args[1:], logger)
	if err != nil {
		return fmt.Errorf("build supervisor: %w", err)
	}
	sup.ExtraFiles = []*os.File{statusFile}

	workerIDs := make([]int, count)
	for i := range workerIDs {
		workerIDs[i] = i
	}
	statusSrv := statusapi.New(region, workerIDs, "127.0.0.1", 8053, logger)
	go func() {
		if err := statusSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server stopped", "err", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("rtp2httpd supervisor starting", "workers", count, "binds", len(cfg.Binds), "services", len(cfg.Services))
	err = sup.Run(ctx)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	_ = statusSrv.Shutdown(shutdownCtx)
	return err
}

func runWorker(cfg *config.Config, id int, logger *slog.Logger) error {
	logger = logger.With("worker_id", id)

	region, err := statusmem.OpenShared(statusRegionFD)
	if err != nil {
		return fmt.Errorf("open inherited status region: %w", err)
	}
	defer region.Close()

	poolCfg := bufpool.DefaultConfig()
	if cfg.Global.BufferPoolMaxSize > 0 {
		poolCfg.MaxBuffers = cfg.Global.BufferPoolMaxSize
	}
	pool, err := bufpool.New(poolCfg)
	if err != nil {
		return fmt.Errorf("create buffer pool: %w", err)
	}

	rx, err := reactor.New(logger)
	if err != nil {
		return fmt.Errorf("create reactor: %w", err)
	}
	defer rx.Close()

	w := newWorker(cfg, id, logger, pool, region, rx)
	defer w.Close()
	for _, bind := range cfg.Binds {
		if err := w.listen(bind); err != nil {
			return fmt.Errorf("listen %s:%s: %w", bind.Node, bind.Service, err)
		}
	}
	rx.SetMaintenance(w.maintenance)

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				logger.Info("worker: reload signalled, exiting for supervisor respawn with fresh config")
				rx.Stop()
				return
			case syscall.SIGTERM, syscall.SIGINT:
				rx.Stop()
				return
			}
		}
	}()

	logger.Info("worker started", "pid", os.Getpid())
	return rx.Run()
}
