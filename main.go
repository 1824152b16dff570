package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"relay-core/internal/api"
	"relay-core/internal/bridge"
	"relay-core/internal/events"
	"relay-core/internal/monitor"
	"relay-core/internal/persistence"
	"relay-core/internal/registry"
	"relay-core/internal/relay"
	"relay-core/internal/router"
	"relay-core/pkg/config"
	"relay-core/pkg/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("starting relay on %s, db at %s", cfg.ListenAddr, cfg.DBPath)

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("database init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("database migrations failed: %v", err)
	}
	store := database.Store()

	presets, err := config.LoadPresets(cfg.PresetsPath)
	if err != nil {
		log.Fatalf("symbol presets load failed: %v", err)
	}
	if len(presets.Brokers) > 0 {
		log.Printf("loaded %d broker symbol preset(s)", len(presets.Brokers))
	}

	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()

	pruner := persistence.NewPruner(database.DB, cfg.RetentionMaxAge, cfg.RetentionInterval)
	pruner.Start()

	reg := registry.New(bus, registry.WithHeartbeat(cfg.HeartbeatInterval, cfg.HeartbeatMissedLimit))
	reg.StartSweeper()

	rt := router.New(store, bus, metrics,
		router.WithRetry(cfg.SendRetries, cfg.SendRetryBase),
		router.WithDedupeTTL(cfg.DedupeTTL))

	rl := relay.New(reg, rt, store, bus, metrics)
	if err := rl.Reload(context.Background()); err != nil {
		log.Fatalf("relay warm-up failed: %v", err)
	}
	rl.Start(cfg.RelayWorkers)
	rl.ReevaluateAll()

	bridgeCfg := bridge.DefaultConfig()
	bridgeCfg.WriteTimeout = cfg.BridgeWriteTimeout
	bridgeCfg.PongTimeout = cfg.BridgePongTimeout
	bridgeCfg.PingInterval = cfg.BridgePingInterval
	bridgeCfg.DecodeFailLimit = cfg.DecodeFailLimit
	br := bridge.New(rl, rt, metrics, bridgeCfg)

	server := api.NewServer(bus, store, rl, reg, metrics, presets, br.Handle, cfg.JWTSecret)
	go func() {
		if err := server.Run(cfg.ListenAddr); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")

	rl.Stop()
	reg.Close()
	rt.Close()
	pruner.Close()
	bus.Close()
}
