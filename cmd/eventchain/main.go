package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/totegamma/eventchain/client"
	"github.com/totegamma/eventchain/internal/application"
	"github.com/totegamma/eventchain/internal/config"
	"github.com/totegamma/eventchain/internal/domain"
	"github.com/totegamma/eventchain/internal/infra/database"
	"github.com/totegamma/eventchain/internal/infra/gateway"
	"github.com/totegamma/eventchain/internal/infra/repository"
	"github.com/totegamma/eventchain/internal/present/rest"
	"github.com/totegamma/eventchain/internal/present/rest/middleware"
	"github.com/totegamma/eventchain/internal/service"
	"github.com/totegamma/eventchain/internal/usecase"
)

const (
	serviceName = "eventchain"
	userAgent   = "eventchain/0.2.0"
)

func main() {
	configPath := flag.String("config", "/etc/eventchain/config.yaml", "path to the config file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	conf, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.Server.EnableTrace {
		cleanup, err := setupTraceProvider(ctx, conf.Server.TraceEndpoint, conf.NodeInfo.FQDN)
		if err != nil {
			slog.Error("failed to setup tracing", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer cleanup()
	}

	db, err := database.NewPostgres(conf.Server.PostgresDsn)
	if err != nil {
		slog.Error("failed to connect database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	err = database.MigratePostgres(db)
	if err != nil {
		slog.Error("failed to migrate database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rdb := database.NewRedis(conf.Server.RedisAddr, conf.Server.RedisDB)
	mc := database.NewMemcached(conf.Server.MemcachedAddr)

	cl := client.New(conf.NodeInfo.Account, conf.NodeInfo.Address, userAgent)

	var anchor usecase.AnchorClient
	if conf.Anchor.URL != "" {
		anchor = gateway.NewAnchorClient(cl, conf.Anchor.URL, mc)
	}

	var dispatcher usecase.Dispatcher
	if conf.Dispatcher.URL != "" {
		d := gateway.NewDispatcher(cl, conf.Dispatcher.URL)
		if node, err := d.Node(ctx); err == nil {
			slog.Info("connected to dispatcher", slog.String("node", node))
		} else {
			slog.Warn("dispatcher unavailable", slog.String("error", err.Error()))
		}
		dispatcher = d
	}

	signalService := service.NewSignalService(rdb)

	chains := application.NewEventChainApplication(application.Deps{
		Repo:       repository.NewChainRepository(db),
		Node:       conf.NodeInfo.Account,
		Origin:     conf.NodeInfo.FQDN,
		Extractor:  domain.NewResourceFactory(),
		Storage:    gateway.NewResourceStorage(cl, conf.Endpoints, conf.Triggers),
		Anchor:     anchor,
		Dispatcher: dispatcher,
		Signal:     signalService,
	})

	authService := service.NewAuthService(conf.Domain())
	authMiddleware := middleware.NewAuthMiddleware(authService)

	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware(serviceName, otelecho.WithSkipper(
		func(c echo.Context) bool {
			return c.Path() == "/.well-known/eventchain"
		},
	)))
	e.Use(traceIDHeader)
	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(authMiddleware.IdentifyIdentity)

	rest.NewHandler(conf.Domain(), chains, signalService).RegisterRoutes(e)

	listen := conf.Server.Listen
	if listen == "" {
		listen = ":8000"
	}

	go func() {
		if err := e.Start(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown server", slog.String("error", err.Error()))
	}
}

func traceIDHeader(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		span := trace.SpanFromContext(c.Request().Context())
		if span.SpanContext().HasTraceID() {
			c.Response().Header().Set("trace-id", span.SpanContext().TraceID().String())
		}
		return next(c)
	}
}

func setupTraceProvider(ctx context.Context, endpoint, fqdn string) (func(), error) {
	exporter, err := otlptracehttp.New(
		ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", serviceName),
			attribute.String("service.namespace", fqdn),
		),
	)
	if err != nil {
		return nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", slog.String("error", err.Error()))
		}
	}
	return cleanup, nil
}
