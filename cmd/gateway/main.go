// The gateway binary serves WebSocket sessions out of the shared Redis
// cache, so dashboard traffic can scale independently of the alert engine.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto-alerts/config"
	"crypto-alerts/internal/gateway"
	"crypto-alerts/internal/logger"
	"crypto-alerts/internal/model"
	redisstore "crypto-alerts/internal/store/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[gateway] starting...")

	cfg := config.Load()
	logger.Init("gateway", logger.ParseLevel(cfg.LogLevel))

	reader, err := redisstore.NewReader(redisstore.ReaderConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatalf("[gateway] redis init failed: %v", err)
	}
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	hub := gateway.NewHub()

	tickCh := make(chan model.PriceTick, 4096)
	triggerCh := make(chan *model.TriggeredAlert, 1024)
	go reader.ConsumePrices(ctx, tickCh)
	go reader.ConsumeTriggers(ctx, triggerCh)
	go hub.Run(ctx, tickCh, triggerCh)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "healthy",
			"sessions": hub.SessionCount(),
		})
	})

	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: mux}
	go func() {
		log.Printf("[gateway] listening on %s", cfg.GatewayAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[gateway] server error: %v", err)
		}
	}()

	<-sigCh
	log.Println("[gateway] shutdown signal received, cleaning up...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	log.Println("[gateway] shutdown complete.")
}
