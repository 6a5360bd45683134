package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/herihandoko/apimanager-new-sub000/internal/admin"
	"github.com/herihandoko/apimanager-new-sub000/internal/broker"
	"github.com/herihandoko/apimanager-new-sub000/internal/calllog"
	"github.com/herihandoko/apimanager-new-sub000/internal/config"
	"github.com/herihandoko/apimanager-new-sub000/internal/database"
	"github.com/herihandoko/apimanager-new-sub000/internal/gateway"
	"github.com/herihandoko/apimanager-new-sub000/internal/logging"
	"github.com/herihandoko/apimanager-new-sub000/internal/queries"
)

func main() {
	config.Load()
	logging.Init()
	defer logging.Close()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	cacheTTL, err := time.ParseDuration(config.Cfg.ConnectionCacheTTL)
	if err != nil {
		cacheTTL = broker.DefaultCacheTTL
	}

	connBroker := broker.New(cacheTTL)
	queryEngine := queries.NewEngine(connBroker)

	gateway.Broker = connBroker
	gateway.Engine = queryEngine
	admin.ConnBroker = connBroker
	admin.QueryEngine = queryEngine

	// Background maintenance: cache sweeps plus nightly log retention.
	sched := cron.New()
	sched.AddFunc("@every 1m", connBroker.Sweep)
	sched.AddFunc("@every 1m", queryEngine.Sweep)
	if config.Cfg.LogRetentionDays > 0 {
		sched.AddFunc("@every 24h", func() {
			cutoff := time.Now().AddDate(0, 0, -config.Cfg.LogRetentionDays)
			calllog.PruneOlderThan(cutoff)
		})
	}
	sched.Start()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Gateway surface (API-key-bearing clients)
	r.Group(func(r chi.Router) {
		r.Use(gateway.APIKeyAuth)

		r.HandleFunc("/proxy/provider/{providerID}/*", gateway.ProxyHandler)
		r.Get("/proxy/dynamic/{externalApiID}", gateway.DynamicProxyHandler)
		r.Post("/proxy/dynamic/{externalApiID}", gateway.DynamicProxyHandler)

		r.Post("/dynamic-queries/{id}/execute", gateway.ExecuteQueryHandler)
		r.Post("/dynamic-queries/{id}/test", gateway.TestQueryHandler)
		r.Post("/database-connections/test", gateway.TestConnectionHandler)
	})

	// Management API (operator-facing)
	r.Route("/admin", func(r chi.Router) {
		r.Use(admin.AdminAuth)

		r.Get("/providers", admin.ListProviders)
		r.Post("/providers", admin.CreateProvider)
		r.Get("/providers/{id}", admin.GetProviderHandler)
		r.Put("/providers/{id}", admin.UpdateProvider)
		r.Delete("/providers/{id}", admin.DeleteProvider)
		r.Post("/providers/{id}/endpoints", admin.CreateEndpoint)
		r.Put("/endpoints/{id}", admin.UpdateEndpoint)
		r.Delete("/endpoints/{id}", admin.DeleteEndpoint)

		r.Get("/connections", admin.ListConnections)
		r.Post("/connections", admin.CreateConnection)
		r.Get("/connections/{id}", admin.GetConnectionHandler)
		r.Put("/connections/{id}", admin.UpdateConnection)
		r.Delete("/connections/{id}", admin.DeleteConnection)

		r.Get("/queries", admin.ListQueries)
		r.Post("/queries", admin.CreateQuery)
		r.Get("/queries/{id}", admin.GetQueryHandler)
		r.Put("/queries/{id}", admin.UpdateQuery)
		r.Delete("/queries/{id}", admin.DeleteQuery)

		r.Get("/keys", admin.ListAPIKeys)
		r.Post("/keys", admin.CreateAPIKey)
		r.Put("/keys/{id}/enable", admin.EnableAPIKey)
		r.Put("/keys/{id}/disable", admin.DisableAPIKey)
		r.Delete("/keys/{id}", admin.DeleteAPIKey)

		r.Get("/logs/calls", admin.ListCallLogs)
		r.Get("/logs/connections/{id}", admin.ListConnectionLogs)
		r.Get("/logs/queries/{id}", admin.ListQueryLogs)
	})

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("API manager starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	sched.Stop()
	connBroker.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
