package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/circulation/libs/grpcx"
	"github.com/md-rashed-zaman/circulation/libs/httpx"
	"github.com/md-rashed-zaman/circulation/libs/kafkax"
	otelx "github.com/md-rashed-zaman/circulation/libs/otel"
	"github.com/md-rashed-zaman/circulation/libs/runtime"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/handlers"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/jobs"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/outbox"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxBodyBytes = 1 << 20

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the expiry sweeper and the outbox publisher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(opts)
		},
	}
}

func runServe(opts *rootOptions) error {
	ctx, stop := runtime.SignalContext()
	defer stop()

	d, err := loadDeps(ctx, opts)
	if err != nil {
		return err
	}
	defer d.Close()
	logger := d.logger
	st := d.settings

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv("circulation-service"))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	svc := d.service()

	var sink outbox.Sink
	checks := d.checks
	if brokers := kafkax.SplitBrokers(st.KafkaBrokers); len(brokers) > 0 {
		sink = outbox.NewKafkaSink(brokers)
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(st.KafkaBrokers)})
	} else {
		logger.Warn("KAFKA_BROKERS not set; notifications are logged only")
		sink = outbox.NewLogSink(logger)
	}
	// The publisher owns the sink and closes it when Run returns.
	publisher := outbox.NewPublisher(d.events, sink, logger, outbox.PublisherConfig{
		PollEvery: st.OutboxPollEvery,
		BatchSize: 50,
	})
	publisherDone := make(chan struct{})
	go func() {
		defer close(publisherDone)
		publisher.Run(ctx)
	}()

	worker := jobs.NewSweepWorker(svc, d.locker(), logger, jobs.WorkerConfig{Interval: st.SweepInterval})
	go worker.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.New(svc, logger, st.JWTSecret).Register(mux)

	var limiter httpx.Limiter
	if st.RateLimitPerMinute > 0 {
		if d.redis != nil {
			limiter = httpx.NewRedisRateLimiter(d.redis, st.RateLimitPerMinute, time.Minute, "circulation:rl")
		} else {
			limiter = httpx.NewMemoryRateLimiter(st.RateLimitPerMinute, time.Minute)
		}
	}

	middleware := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(func(r *http.Request, v any) {
			logger.Error("handler panic", "path", r.URL.Path, "panic", v)
		}),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: st.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", httpx.RequestIDHeader, handlers.HeaderUserID, handlers.HeaderRole},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(maxBodyBytes),
	}
	if limiter != nil {
		middleware = append(middleware, httpx.RateLimit(limiter, logger, st.RateLimitFailOpen))
	}
	middleware = append(middleware, httpx.WithTimeout(st.RequestTimeout))
	httpHandler := otelhttp.NewHandler(httpx.Chain(mux, middleware...), "circulation")

	srv := &http.Server{
		Addr:              ":" + st.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "store", st.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	var grpcSrv *grpcx.Server
	if st.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+st.GRPCPort)
		if err != nil {
			return err
		}
		grpcSrv = grpcx.NewServer(logger)
		go grpcSrv.WatchReadiness(ctx, healthService, 10*time.Second, checks...)
		go func() {
			logger.Info("grpc health server starting", "addr", lis.Addr().String())
			if err := grpcSrv.Serve(lis); err != nil {
				logger.Error("grpc server error", "err", err)
			}
		}()
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.Shutdown()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
	<-publisherDone
	return nil
}
