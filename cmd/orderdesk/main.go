package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/publisherauthority/orderdesk/internal/auth"
	"github.com/publisherauthority/orderdesk/internal/circuitbreaker"
	"github.com/publisherauthority/orderdesk/internal/config"
	"github.com/publisherauthority/orderdesk/internal/events"
	"github.com/publisherauthority/orderdesk/internal/orders"
	"github.com/publisherauthority/orderdesk/internal/prefs"
	"github.com/publisherauthority/orderdesk/internal/websocket"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n\n%s", os.Args[0], config.Usage())
	}
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	logger.SetLevel(cfg.Log.LogrusLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("orderdesk stopped")
	}
	logger.Info("Server gracefully stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:        "backend",
		MaxFailures: cfg.Breaker.MaxFailures,
		Timeout:     cfg.Breaker.Timeout,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Backend circuit changed state")
		},
	}, logger)

	client := orders.NewClient(cfg.Backend.URL, &http.Client{Timeout: cfg.Backend.Timeout}, breaker, logger)
	logger.WithField("url", cfg.Backend.URL).Info("Order backend configured")

	hub := websocket.NewHub(cfg.HTTP.CORSOrigins, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })

	var publisher events.StatusPublisher = events.NewLocalPublisher(hub)
	if cfg.Kafka.Enabled() {
		producer, err := events.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			return err
		}
		defer producer.Close()
		publisher = producer

		consumer, err := events.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.Topic, hub, logger)
		if err != nil {
			return err
		}
		defer consumer.Close()
		g.Go(func() error { return consumer.Start(gctx) })

		logger.WithFields(logrus.Fields{
			"brokers":  cfg.Kafka.Brokers,
			"topic":    cfg.Kafka.Topic,
			"group_id": cfg.Kafka.GroupID,
		}).Info("Status changes fan out through Kafka")
	} else {
		logger.Info("Kafka not configured - status changes stay on this instance")
	}

	var store prefs.Store
	if cfg.DB.DatabaseURL != "" {
		pg, err := prefs.Open(ctx, cfg.DB.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer pg.Close()
		g.Go(func() error { return pg.Run(gctx) })
		store = pg
		logger.Info("Preferences stored in Postgres")
	} else {
		store = prefs.NewMemoryStore()
		logger.Info("Database not configured - preferences kept in memory")
	}

	unsubscribe := store.Subscribe(func(c prefs.Change) {
		userID, name, ok := prefs.SplitUserKey(c.Key)
		if !ok {
			return
		}
		hub.SendToUser(userID, websocket.TypePreferenceChanged, map[string]string{
			"key":   name,
			"value": c.Value,
		})
	})
	defer unsubscribe()

	handler := orders.NewHandler(client, publisher, store, logger)
	requireSession := auth.Middleware(cfg.Auth.JWTSecret, logger)

	router := mux.NewRouter()
	router.HandleFunc("/health", handler.HealthCheck).Methods(http.MethodGet)
	router.Handle("/ws", requireSession(http.HandlerFunc(hub.HandleWebSocket)))

	api := router.PathPrefix("/api").Subrouter()
	api.Use(requireSession)
	handler.RegisterRoutes(api)

	router.Use(loggingMiddleware(logger))

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.HTTP.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      c.Handler(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		logger.WithField("port", cfg.HTTP.Port).Info("Starting orderdesk server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Server forced to shutdown")
		}
		return nil
	})

	return g.Wait()
}

func loggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			logger.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			}).Debug("Request received")

			next.ServeHTTP(w, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start).Milliseconds(),
			}).Info("Request completed")
		})
	}
}
