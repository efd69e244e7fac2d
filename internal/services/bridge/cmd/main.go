package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/varbridge/varbridge/internal/audit"
	"github.com/varbridge/varbridge/internal/repo"
	"github.com/varbridge/varbridge/internal/services/bridge"
	"github.com/varbridge/varbridge/internal/store"
	"github.com/varbridge/varbridge/internal/sync"
	"github.com/varbridge/varbridge/pkg/dedup"
	"github.com/varbridge/varbridge/pkg/mqtt"
)

func main() {
	cfg := loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === Object store (seeded) ===
	st := store.NewMemStore()
	if err := loadSeed(cfg.SeedPath, st); err != nil {
		log.Fatalf("bridge: seed: %v", err)
	}
	targets := make([]store.Handle, 0, len(cfg.Targets))
	for _, p := range cfg.Targets {
		h, err := resolvePath(st, p)
		if err != nil {
			log.Fatalf("bridge: target: %v", err)
		}
		targets = append(targets, h)
	}
	mirrorRoot, err := st.CreateCategory(st.Root(), cfg.MirrorName, "mirror_root")
	if err != nil {
		log.Fatalf("bridge: mirror root: %v", err)
	}

	// === Persisted state ===
	r, err := repo.Open(cfg.StateDB)
	if err != nil {
		log.Fatalf("bridge: %v", err)
	}
	defer r.Close()

	// === MQTT ===
	client, err := mqtt.NewConn(ctx, &cfg.Broker)
	if err != nil {
		log.Fatalf("bridge: mqtt: %v", err)
	}
	defer mqtt.CloseConn(client)

	publisher := mqtt.NewPublisher(client, cfg.SendTopic, 1)
	breakered := sync.NewBreakerPublisher(publisher, "mqtt-publish",
		uint32(cfg.BreakerFails), cfg.BreakerOpenFor)

	// === Audit sink (optional) ===
	var sink audit.Sink = audit.Nop{}
	if cfg.InfluxURL != "" {
		influx := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
		defer influx.Close()
		sink = audit.NewInfluxSink(influx.WriteAPI(cfg.InfluxOrg, cfg.InfluxBucket))
		log.Printf("bridge: auditing to %s", cfg.InfluxURL)
	}

	// === Engine + bridge loop ===
	metrics := sync.NewMetrics(prometheus.DefaultRegisterer)
	engine := sync.NewEngine(sync.Config{
		ReceiveTopic:  cfg.ReceiveTopic,
		ProfilePrefix: cfg.ProfilePrefix,
		MirrorRoot:    mirrorRoot,
		Targets:       targets,
		PendingTTL:    cfg.PendingTTL,
	}, st, r, breakered, sync.NewEchoGuard(cfg.GuardAutoRelease), metrics, sink)

	consumer := mqtt.NewConsumer(client, cfg.ReceiveTopic, 1, nil)
	b := bridge.New(engine, consumer, dedup.New(cfg.DedupWindow, 20000), cfg.Debounce)
	st.Subscribe(b.NotifyChange)

	// === Admin HTTP ===
	mux := http.NewServeMux()
	mux.Handle("/healthz", bridge.NewHealthHandler(client, r))
	mux.Handle("/readyz", bridge.NewReadyHandler(client, r))
	mux.Handle("/sync", bridge.NewSyncHandler(b))
	mux.Handle("/pending", bridge.NewPendingHandler(r))
	mux.Handle("/metrics", promhttp.Handler())

	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("bridge: HTTP listening on :%d", cfg.HTTPPort)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("bridge: http server: %v", err)
		}
	}()

	go b.Start(ctx)
	log.Printf("bridge: publishing %d subtrees on %s, receiving on %s",
		len(targets), cfg.SendTopic, cfg.ReceiveTopic)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Println("bridge: shutting down")

	cancel()
	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	_ = hs.Shutdown(shCtx)
}
