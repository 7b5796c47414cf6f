package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/dom/league-match-engine/internal/api"
	"github.com/dom/league-match-engine/internal/balancer"
	"github.com/dom/league-match-engine/internal/config"
	"github.com/dom/league-match-engine/internal/coordination"
	"github.com/dom/league-match-engine/internal/engine"
	"github.com/dom/league-match-engine/internal/entry"
	"github.com/dom/league-match-engine/internal/monitor"
	"github.com/dom/league-match-engine/internal/registry"
	"github.com/dom/league-match-engine/internal/replication"
	"github.com/dom/league-match-engine/internal/repository/postgres"
	"github.com/dom/league-match-engine/internal/room"
	"github.com/dom/league-match-engine/internal/service"
	"github.com/dom/league-match-engine/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := postgres.NewConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	// Initialize repositories
	repos := postgres.NewRepositories(db)

	// Initialize shared coordination store
	var store coordination.Store
	if cfg.RedisURL != "" {
		redisStore, err := coordination.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to coordination store: %v", err)
		}
		defer redisStore.Close()
		store = redisStore
	} else {
		log.Println("WARN no REDIS_URL configured, using in-process store (single-server mode)")
		store = coordination.NewMemoryStore()
	}

	// Initialize live-state components
	replicator := replication.NewReplicator(store, cfg.ServerID, cfg.MatchStateTTL)
	eng := engine.New(cfg.PeriodDuration, cfg.ExtraTimeDuration)
	rooms := room.NewManager(repos.Match)

	// The draft validator checks entered minutes against the live clock.
	validator := entry.NewValidator(func(matchID string) (int, bool) {
		snap, err := eng.Snapshot(matchID)
		if err != nil || !snap.TimerRunning {
			return 0, false
		}
		return snap.CurrentMinute, true
	})
	sessions := entry.NewSessions(validator)

	perf := monitor.New(cfg.SampleInterval, cfg.SampleRetention, cfg.MaxSamples)
	replicator.SetStoreObserver(perf.RecordStoreLatency)

	// Initialize fleet registry
	reg := registry.New(store, cfg.ServerID, cfg.Hostname, cfg.Port, cfg.HeartbeatInterval, cfg.ServerTTL, cfg.StalenessThreshold)

	lb, err := balancer.New(reg, balancer.Strategy(cfg.BalancerStrategy), cfg.StalenessThreshold, cfg.MaxConnections, cfg.MaxActiveMatches)
	if err != nil {
		log.Fatalf("invalid balancer configuration: %v", err)
	}

	// Initialize WebSocket hub
	hub := websocket.NewHub()
	go hub.Run()

	// Initialize services
	services := service.NewServices(repos, cfg, replicator, eng, rooms, sessions, validator, nil, perf)
	services.Match.SetBroadcaster(hub)

	// Tournament room joins also subscribe the user's sockets to the
	// tournament broadcast channel.
	rooms.SetTournamentJoinFunc(func(userID, tournamentID string) error {
		hub.SubscribeUser(userID, websocket.ChannelTournament(tournamentID))
		return nil
	})

	perf.SetConnectionsFunc(hub.ClientCount)
	perf.SetMatchesFunc(eng.ActiveCount)
	reg.SetMetricsFunc(func() registry.Metrics {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		m := registry.Metrics{
			ActiveMatches:    eng.ActiveCount(),
			TotalConnections: hub.ClientCount(),
			MemoryUsage:      mem.Alloc,
		}
		if sample, ok := perf.Latest(); ok {
			m.CPUUsage = sample.CPUPercent
		}
		return m
	})

	// Announce this server and pick up state left by others.
	if err := reg.Register(ctx); err != nil {
		log.Printf("ERROR initial fleet registration failed: %v", err)
	}
	if err := replicator.Hydrate(ctx); err != nil {
		log.Printf("ERROR boot hydration failed: %v", err)
	}

	go eng.Run()
	go rooms.Run()
	go sessions.Run()
	go perf.Run()
	go replicator.Run(ctx)
	go reg.Run(ctx)

	// Initialize router
	router := api.NewRouter(services, hub, rooms, lb, reg, perf)

	// Create server
	srv := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server %s starting on port %s", cfg.ServerID, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR server forced to shutdown: %v", err)
	}

	// Drop out of the fleet before tearing down local state so peers
	// stop routing here.
	if err := reg.Deregister(shutdownCtx); err != nil {
		log.Printf("ERROR fleet deregistration failed: %v", err)
	}
	cancel()

	hub.Stop()
	reg.Stop()
	replicator.Stop()
	perf.Stop()
	sessions.Stop()
	rooms.Stop()
	eng.Stop()

	log.Println("Server stopped")
}
