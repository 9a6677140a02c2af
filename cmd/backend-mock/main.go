package main

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/publisherauthority/orderdesk/internal/auth"
	"github.com/publisherauthority/orderdesk/internal/lifecycle"
	"github.com/publisherauthority/orderdesk/pkg/models"
	"github.com/sirupsen/logrus"
)

type mockConfig struct {
	Port       string        `env:"MOCK_PORT"       env-default:"8082"`
	JWTSecret  string        `env:"JWT_SECRET"      env-default:"dev-secret"`
	Publishers []string      `env:"MOCK_PUBLISHERS" env-default:"pub-1,pub-2" env-separator:","`
	Latency    time.Duration `env:"MOCK_LATENCY"    env-default:"0s"`
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	var cfg mockConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	store := NewOrderStore()
	store.Seed(cfg.Publishers)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: newRouter(store, cfg, logger),
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":       cfg.Port,
			"publishers": cfg.Publishers,
		}).Info("Starting backend mock server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down backend mock server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("HTTP server forced to shutdown")
	}
	logger.Info("Backend mock server gracefully stopped")
}

func newRouter(store *OrderStore, cfg mockConfig, logger *logrus.Logger) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods(http.MethodGet)
	router.HandleFunc("/auth/dev-token", devToken(cfg.JWTSecret, logger)).Methods(http.MethodPost)

	api := router.NewRoute().Subrouter()
	api.Use(auth.Middleware(cfg.JWTSecret, logger))
	if cfg.Latency > 0 {
		api.Use(latencyMiddleware(cfg.Latency))
	}
	api.HandleFunc("/orders", listOrders(store, logger)).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", getOrder(store, logger)).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/submit", submitOrder(store, logger)).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(requireAdmin)
	admin.HandleFunc("/orders", listOrders(store, logger)).Methods(http.MethodGet)
	admin.HandleFunc("/orders/{id}", getOrder(store, logger)).Methods(http.MethodGet)
	admin.HandleFunc("/orders/{id}/status", updateStatus(store, logger)).Methods(http.MethodPut)

	return router
}

// latencyMiddleware simulates a slow marketplace.
func latencyMiddleware(max time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(time.Duration(rand.Int63n(int64(max))))
			next.ServeHTTP(w, r)
		})
	}
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, _ := auth.FromContext(r.Context())
		if session.Actor != lifecycle.Admin {
			respondWithError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// scope is the publisher a request is limited to; admins see everything.
func scope(r *http.Request) string {
	session, _ := auth.FromContext(r.Context())
	if session.Actor == lifecycle.Admin {
		return ""
	}
	return session.UserID
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "backend-mock",
	})
}

func devToken(secret string, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID string `json:"userId"`
			Role   string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			respondWithError(w, http.StatusBadRequest, "userId and role are required")
			return
		}
		actor, ok := lifecycle.ParseActor(req.Role)
		if !ok {
			respondWithError(w, http.StatusBadRequest, "role must be publisher or admin")
			return
		}

		token, err := auth.Sign(secret, req.UserID, actor, 24*time.Hour)
		if err != nil {
			logger.WithError(err).Error("Failed to sign dev token")
			respondWithError(w, http.StatusInternalServerError, "Failed to sign token")
			return
		}

		logger.WithFields(logrus.Fields{"user_id": req.UserID, "role": actor}).Info("Issued dev token")
		respondWithJSON(w, http.StatusOK, map[string]string{"token": token})
	}
}

func listOrders(store *OrderStore, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		publisherID := scope(r)
		if publisherID == "" {
			publisherID = r.URL.Query().Get("publisherId")
		}
		orders := store.List(publisherID, r.URL.Query().Get("status"))

		logger.WithFields(logrus.Fields{
			"publisher_id": publisherID,
			"count":        len(orders),
		}).Info("Listed orders")

		respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"orders": orders},
		})
	}
}

func getOrder(store *OrderStore, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID := mux.Vars(r)["id"]
		order, err := store.Get(orderID, scope(r))
		if err != nil {
			logger.WithField("order_id", orderID).Warn("Order not found")
			respondWithError(w, http.StatusNotFound, "Order not found")
			return
		}
		respondWithJSON(w, http.StatusOK, order)
	}
}

func submitOrder(store *OrderStore, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, _ := auth.FromContext(r.Context())

		var req struct {
			SubmittedURL string `json:"submittedUrl"`
			Notes        string `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		orderID := mux.Vars(r)["id"]
		order, err := store.Apply(orderID, scope(r), session.Actor, lifecycle.Submit, lifecycle.Payload{
			URL:   req.SubmittedURL,
			Notes: req.Notes,
		})
		if err != nil {
			respondWithStoreError(w, logger, orderID, err)
			return
		}

		logger.WithField("order_id", orderID).Info("Order submitted for verification")
		respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"order": order},
		})
	}
}

func updateStatus(store *OrderStore, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, _ := auth.FromContext(r.Context())

		var req struct {
			Status string `json:"status"`
			Notes  string `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		action, ok := actionForStatus(req.Status)
		if !ok {
			respondWithError(w, http.StatusBadRequest, "Unsupported status: "+req.Status)
			return
		}

		orderID := mux.Vars(r)["id"]
		order, err := store.Apply(orderID, "", session.Actor, action, lifecycle.Payload{
			Notes:  req.Notes,
			Reason: req.Notes,
		})
		if err != nil {
			respondWithStoreError(w, logger, orderID, err)
			return
		}

		logger.WithFields(logrus.Fields{
			"order_id": orderID,
			"status":   order.Status,
		}).Info("Order status updated")
		respondWithJSON(w, http.StatusOK, models.OrderResponse{
			Success: true,
			Message: "Order status updated",
			Order:   &order,
		})
	}
}

func respondWithStoreError(w http.ResponseWriter, logger *logrus.Logger, orderID string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, errNotFound):
		code = http.StatusNotFound
	case errors.Is(err, errConflict):
		code = http.StatusConflict
	case errors.Is(err, errMissing):
		code = http.StatusBadRequest
	}
	logger.WithError(err).WithField("order_id", orderID).Warn("Rejected order update")
	respondWithError(w, code, err.Error())
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}
