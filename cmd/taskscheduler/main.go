package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"

	"github.com/swarmguard/taskscheduler/internal/admission"
	"github.com/swarmguard/taskscheduler/internal/config"
	"github.com/swarmguard/taskscheduler/internal/dispatcher"
	"github.com/swarmguard/taskscheduler/internal/executor"
	"github.com/swarmguard/taskscheduler/internal/httpapi"
	"github.com/swarmguard/taskscheduler/internal/logging"
	"github.com/swarmguard/taskscheduler/internal/otelinit"
	"github.com/swarmguard/taskscheduler/internal/recovery"
	"github.com/swarmguard/taskscheduler/internal/resilience"
	"github.com/swarmguard/taskscheduler/internal/store"
	"github.com/swarmguard/taskscheduler/internal/workerpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logging.Init(cfg.ServiceName)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, cfg.ServiceName)
	shutdownMetrics := otelinit.InitMetrics(ctx, cfg.ServiceName)
	meter := otel.GetMeterProvider().Meter("taskscheduler")

	st, err := store.Open(ctx, cfg.DBPath, meter)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		return
	}
	defer st.Close()

	// Restore invariant I6 before the dispatcher accepts any wake-ups: a
	// task left RUNNING by a prior crash has nothing actually executing it.
	if err := recovery.Run(ctx, st); err != nil {
		slog.Error("recovery failed", "error", err)
		return
	}

	pool := workerpool.New(st, executor.SleepExecutor{})
	disp := dispatcher.New(st, pool, cfg.MaxConcurrent, cfg.PollTick)

	limiter := resilience.NewRateLimiter(cfg.RateLimitCapacity, cfg.RateLimitFillRate, cfg.RateLimitWindow, cfg.RateLimitMaxPerWindow)
	admitter := admission.New(st, admission.WakeFunc(disp.Nudge))

	server := httpapi.New(admitter, st, limiter)
	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: server.Handler()}

	go disp.Run(ctx)
	// Pick up any tasks recovery just reset to QUEUED without waiting for
	// the first poll tick.
	disp.Nudge()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()
	slog.Info("scheduler started", "listen_addr", cfg.ListenAddr, "max_concurrent", cfg.MaxConcurrent)

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	_ = httpSrv.Shutdown(shutdownCtx)
	pool.Wait()

	otelinit.Flush(shutdownCtx, shutdownTrace)
	_ = shutdownMetrics(shutdownCtx)
	slog.Info("shutdown complete")
}
