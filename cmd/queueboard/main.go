package main

import (
	"context"
	"encoding/json"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"queueboard/internal/config"
	"queueboard/internal/httpapi"
	"queueboard/internal/hub"
	"queueboard/internal/kv"
	"queueboard/internal/queue"
	"queueboard/internal/snapshot"
	"queueboard/internal/syncer"
	"queueboard/internal/telemetry"
	"queueboard/internal/tracker"
	trackerpg "queueboard/internal/tracker/postgres"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type changeEnvelope struct {
	Type       string    `json:"type"`
	Collection string    `json:"collection,omitempty"`
	At         time.Time `json:"at"`
}

type trackerEnvelope struct {
	Type    string         `json:"type"`
	Payload tracker.Ticket `json:"payload"`
	At      time.Time      `json:"at"`
}

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("queueboard")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	var store kv.Store
	if cfg.RedisURL != "" {
		redisStore, err := kv.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connect: %v", err)
		}
		store = redisStore
	} else {
		log.Printf("REDIS_URL not set, using in-process store (single replica)")
		store = kv.NewMemory()
	}
	defer store.Close()

	snap := snapshot.New(store)
	manager := queue.NewManager(snap, queue.Options{AvgServiceMinutes: cfg.AvgServiceMinutes})

	h := hub.New()
	snap.OnChange(func(key string) {
		payload, _ := json.Marshal(changeEnvelope{Type: "queue.changed", Collection: key, At: time.Now().UTC()})
		h.Broadcast(hub.TopicQueue, payload)
	})

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 10*time.Second)
	manager.Load(loadCtx)
	cancelLoad()

	engine := syncer.New(store, snap, manager, syncer.Options{
		Interval: cfg.SyncInterval,
		Debounce: cfg.SyncDebounce,
		Settle:   cfg.SyncSettle,
		OnApply: func() {
			payload, _ := json.Marshal(changeEnvelope{Type: "queue.changed", At: time.Now().UTC()})
			h.Broadcast(hub.TopicQueue, payload)
		},
	})
	if err := engine.Start(context.Background()); err != nil {
		log.Fatalf("sync engine start: %v", err)
	}
	defer engine.Stop()

	var trackerStore tracker.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect: %v", err)
		}
		defer pool.Close()
		trackerStore = trackerpg.NewStore(pool)

		go pollTracker(trackerStore, h, cfg.TrackerPollInterval, cfg.TrackerBatchSize)
	} else {
		log.Printf("DB_DSN not set, tracker subsystem disabled")
	}

	handler := httpapi.NewHandler(manager, trackerStore)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})

	sockjsHandler := sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

		// A fresh client attaching is the "tab became visible" signal.
		engine.Resume()

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.Subscribe(client, "")
				continue
			}
			h.Subscribe(client, parsed.Topic)
			engine.Resume()
		}
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/realtime/", sockjsHandler)
	mux.Handle("/", handler.Routes())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "queueboard"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("queueboard listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// pollTracker tails tracker updates and feeds them to subscribed
// realtime clients. Only changes made after startup are broadcast.
func pollTracker(store tracker.Store, h *hub.Hub, interval time.Duration, batchSize int) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	since := time.Now().UTC()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		tickets, err := store.ListChangedSince(ctx, since, batchSize)
		cancel()
		if err != nil {
			log.Printf("tracker poll error: %v", err)
			continue
		}
		for _, ticket := range tickets {
			since = ticket.UpdatedAt
			payload, _ := json.Marshal(trackerEnvelope{Type: "tracker.changed", Payload: ticket, At: time.Now().UTC()})
			h.Broadcast(hub.TopicTracker, payload)
		}
	}
}
