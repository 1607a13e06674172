package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/zaqqye/seb_monitor/internal/config"
	"github.com/zaqqye/seb_monitor/internal/database"
	"github.com/zaqqye/seb_monitor/internal/indicator"
	"github.com/zaqqye/seb_monitor/internal/logging"
	"github.com/zaqqye/seb_monitor/internal/middleware"
	"github.com/zaqqye/seb_monitor/internal/notification"
	"github.com/zaqqye/seb_monitor/internal/routes"
	"github.com/zaqqye/seb_monitor/internal/service"
	"github.com/zaqqye/seb_monitor/internal/session"
	"github.com/zaqqye/seb_monitor/internal/ws"
)

func main() {
	// Load .env (non-fatal if missing in production)
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Connect(cfg)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}

	if err := database.Migrate(db); err != nil {
		log.WithError(err).Fatal("database migration failed")
	}

	if cfg.SeedDemo() {
		if err := database.SeedDemoExam(db, cfg, log); err != nil {
			log.WithError(err).Fatal("demo exam seed failed")
		}
	}

	store := database.NewStore(db)
	registry := session.NewRegistry(store, log.WithField("component", "registry"))
	engine, err := indicator.NewEngine(store, cfg.IndicatorCacheEntries(), log.WithField("component", "indicators"))
	if err != nil {
		log.WithError(err).Fatal("indicator engine setup failed")
	}
	tracker := notification.NewTracker(store, log.WithField("component", "notifications"))
	hubs := ws.NewHubs(log.WithField("component", "ws"))

	svc := service.New(store, registry, engine, tracker, hubs.Client, log, service.Options{
		MinClientVersion: cfg.MinClientVersion,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Restore(ctx); err != nil {
		// connections whose indicators failed to attach pick them up on their next ping
		log.WithError(err).Warn("restoring monitoring state was incomplete")
	}

	hubs.Start()
	go hubs.Monitoring.Publish(ctx, svc, cfg.MonitoringIntervalDuration())

	if log.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))
	routes.Register(r, cfg, svc, hubs, store, log)

	port := cfg.Port
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{Addr: ":" + port, Handler: r}

	go func() {
		log.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server exited with error")
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
		os.Exit(1)
	}
	log.Info("server stopped")
}
