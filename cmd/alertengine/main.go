package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"crypto-alerts/config"
	"crypto-alerts/internal/alertindex"
	"crypto-alerts/internal/bus"
	"crypto-alerts/internal/candles"
	"crypto-alerts/internal/dispatch"
	"crypto-alerts/internal/evaluate"
	"crypto-alerts/internal/exchange/rest"
	"crypto-alerts/internal/exchange/stream"
	"crypto-alerts/internal/gateway"
	"crypto-alerts/internal/logger"
	"crypto-alerts/internal/metrics"
	"crypto-alerts/internal/model"
	"crypto-alerts/internal/notification"
	"crypto-alerts/internal/pricecache"
	"crypto-alerts/internal/recorder"
	"crypto-alerts/internal/retry"
	redisstore "crypto-alerts/internal/store/redis"
	sqlitestore "crypto-alerts/internal/store/sqlite"
	"crypto-alerts/internal/syncbridge"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[alertengine] starting...")

	cfg := config.Load()
	logger.Init("alertengine", logger.ParseLevel(cfg.LogLevel))

	symbols := cfg.ParseSymbols()
	if len(symbols) == 0 {
		log.Fatal("[alertengine] no symbols configured (set SYMBOLS)")
	}
	log.Printf("[alertengine] configured universe: %v", symbols)

	prom := metrics.New()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// ---- Durable store ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	store, err := sqlitestore.Open(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[alertengine] sqlite init failed: %v", err)
	}
	defer store.Close()

	// ---- Shared cache + pub/sub: required at boot, retried before fatal ----
	bootPolicy := retry.Policy{Base: time.Second, Cap: 5 * time.Second, Jitter: 0.25, MaxAttempts: 5}
	redisWriter, err := redisstore.NewWithRetry(ctx, redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}, bootPolicy)
	if err != nil {
		if !cfg.AllowDegradedRedis {
			log.Fatalf("[alertengine] redis unreachable after boot retries: %v", err)
		}
		log.Printf("[alertengine] WARNING: ALLOW_DEGRADED_REDIS set, continuing without redis: %v", err)
		redisWriter = nil
	} else {
		redisWriter.OnPublishError = func() { prom.RedisPublishErrors.Inc() }
	}

	var redisReader *redisstore.Reader
	if redisWriter != nil {
		redisReader, err = redisstore.NewReader(redisstore.ReaderConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			if !cfg.AllowDegradedRedis {
				log.Fatalf("[alertengine] redis reader init failed: %v", err)
			}
			log.Printf("[alertengine] WARNING: redis reader init failed: %v", err)
			redisReader = nil
		}
	}

	if redisWriter != nil {
		health.StartLivenessChecker(ctx, redisWriter.Client(), store.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, store.DB(), 10*time.Second)
	}

	// ---- Price cache ----
	cache := pricecache.New()
	cache.OnStale = func() { prom.StaleTicks.Inc() }

	// ---- Candle fetcher + volume side-channel ----
	restClient := rest.New(cfg.ExchangeRESTURL, cfg.RESTTimeout)
	fetcher := candles.New(restClient, nil)
	fetcher.OnFetchError = func() { prom.CandleFetchErrors.Inc() }
	volumes := evaluate.NewVolumeCache(restClient, cfg.VolumeRefresh)

	// ---- Alert index + sync bridge ----
	index := alertindex.New()
	var mirror syncbridge.IndexMirror
	if redisWriter != nil {
		mirror = redisWriter
	}
	bridge := syncbridge.New(store, index, mirror)
	bridge.OnResync = func(n int) {
		prom.AlertsCount.Set(float64(n))
		health.SetIndexedAlerts(n)
	}
	if err := bridge.Resync(ctx); err != nil {
		log.Fatalf("[alertengine] cold-start index rebuild failed: %v", err)
	}

	// ---- Dispatch fabric ----
	notifiers := []dispatch.Notifier{notification.NewLogNotifier()}
	if cfg.ChatBotToken != "" {
		notifiers = append(notifiers, notification.NewChatNotifier(cfg.ChatBotToken, ""))
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	var publisher dispatch.Publisher
	if redisWriter != nil {
		publisher = redisWriter
	}
	fabric := dispatch.New(dispatch.Config{SubBufferSize: cfg.AlertSubBuffer}, publisher, notifiers)
	fabric.OnDisconnect = func(string) { prom.DispatchEvictions.Inc() }
	fabric.OnNotified = prom.RecordNotification
	fabricDone := make(chan struct{})
	go func() {
		fabric.Run(ctx)
		close(fabricDone)
	}()

	// ---- Trigger recorder ----
	rec := recorder.New(recorder.Config{}, store, fabric)
	rec.OnDropped = func() { prom.DroppedTriggers.Inc() }
	if alerts, err := store.LoadActiveAlerts(ctx); err != nil {
		log.Fatalf("[alertengine] counter reconciliation scan failed: %v", err)
	} else if err := rec.Reconcile(ctx, alerts); err != nil {
		log.Fatalf("[alertengine] counter reconciliation failed: %v", err)
	}
	recDone := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(recDone)
	}()

	// ---- Evaluator ----
	eval := evaluate.New(evaluate.Config{
		Workers:                 cfg.EvalWorkers,
		FailClosedOnCandleError: cfg.FailClosedOnCandleErr,
	}, index, fetcher, volumes, rec, rec.Counters())
	eval.OnEvaluated = func() { prom.AlertsEvaluated.Inc() }
	eval.OnGateFail = func(gate string) { prom.GatesFailed.WithLabelValues(gate).Inc() }
	eval.OnTriggered = func() { prom.AlertsTriggered.Inc() }
	eval.OnSkipped = func() { prom.AlertsSkipped.Inc() }

	// ---- Pipeline channels and fan-out ----
	tickCh := make(chan model.PriceTick, cfg.TickBuffer)
	pricesCh := make(chan model.PriceTick, cfg.TickBuffer)

	fanout := bus.New(cfg.TickBuffer)
	fanout.OnDrop = func(int) { prom.DroppedTicks.Inc() }
	evalCh := fanout.Subscribe()
	statsCh := fanout.Subscribe()
	hubCh := fanout.Subscribe()

	var cacheMirror pricecache.Mirror
	if redisWriter != nil {
		cacheMirror = redisWriter
	}
	go cache.Run(ctx, tickCh, pricesCh, cacheMirror)
	go fanout.Run(ctx, pricesCh)
	evalDone := make(chan struct{})
	go func() {
		eval.Run(ctx, evalCh)
		close(evalDone)
	}()

	// Accepted-tick bookkeeping off the hot path.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tick, ok := <-statsCh:
				if !ok {
					return
				}
				prom.PriceUpdatesReceived.Inc()
				health.SetLastTickTime(time.UnixMilli(tick.EventTimeMs))
				health.SetStreamConnected(true)
			}
		}
	}()

	// ---- Embedded gateway hub (price + trigger push for local sessions) ----
	hub := gateway.NewHub()
	triggerCh, cancelSub := fabric.Subscribe("gateway")
	defer cancelSub()
	go hub.Run(ctx, hubCh, triggerCh)
	go serveGateway(ctx, cfg.GatewayAddr, hub)

	// ---- Incremental alert updates ----
	if redisReader != nil {
		go bridge.Run(ctx, redisReader)
	} else {
		log.Println("[alertengine] WARNING: no redis, alert updates require SIGHUP resync")
	}

	// ---- Exchange stream, last so consumers are ready ----
	streamClient := stream.New(stream.Config{
		URL:               cfg.ExchangeWSURL,
		Conns:             cfg.StreamConns,
		MaxStreamsPerConn: cfg.MaxStreamsPerConn,
		Policy:            retry.Policy{Base: cfg.ReconnectBase, Cap: cfg.ReconnectCap, Jitter: 0.25},
		SubscribeRetries:  cfg.SubscribeRetries,
	})
	streamClient.OnReconnect = func() {
		prom.WSReconnects.Inc()
		health.SetStreamConnected(false)
	}
	streamClient.OnMalformed = func() { prom.MalformedMessages.Inc() }
	streamClient.SetSymbols(universe(symbols, index))
	health.SetStreamConnected(true)
	go streamClient.Run(ctx, tickCh)

	// ---- Occupancy gauges ----
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		var lastOverflow uint64
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				prom.QueueDepth.Set(float64(eval.QueueDepth()))
				prom.CacheSize.Set(float64(cache.Len()))
				prom.AlertsCount.Set(float64(index.Size()))
				if o := eval.Overflow(); o > lastOverflow {
					prom.DroppedTicks.Add(float64(o - lastOverflow))
					lastOverflow = o
				}
			}
		}
	}()

	log.Printf("[alertengine] pipeline ready: %d symbols, %d alerts, %d eval workers",
		len(streamClient.Symbols()), index.Size(), cfg.EvalWorkers)

	// ---- Signal loop: SIGHUP reloads, SIGINT/SIGTERM shut down ----
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			log.Println("[alertengine] SIGHUP: resyncing alerts and symbol universe")
			if err := bridge.Resync(ctx); err != nil {
				log.Printf("[alertengine] resync failed, keeping previous index: %v", err)
				continue
			}
			active := universe(cfg.ParseSymbols(), index)
			streamClient.SetSymbols(active)
			keep := make(map[string]bool, len(active))
			for _, s := range active {
				keep[s] = true
			}
			cache.Evict(keep)
			continue
		}
		log.Printf("[alertengine] %s received, shutting down...", sig)
		break
	}

	cancel()

	// Reverse of start order: ctx cancel stops the stream, then each stage
	// gets its grace period to drain (the recorder flushes its write queues,
	// dispatch delivers what is still buffered).
	stages := []struct {
		name string
		done <-chan struct{}
	}{
		{"evaluator", evalDone},
		{"recorder", recDone},
		{"dispatch", fabricDone},
	}
	for _, stage := range stages {
		if !waitOrTimeout(stage.done, 10*time.Second) {
			log.Printf("[alertengine] %s did not stop within its grace period", stage.name)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	if redisWriter != nil {
		redisWriter.Close()
	}
	if redisReader != nil {
		redisReader.Close()
	}

	log.Println("[alertengine] shutdown complete.")
}

// waitOrTimeout waits for done up to d and reports whether it closed in time.
func waitOrTimeout(done <-chan struct{}, d time.Duration) bool {
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// serveGateway runs the WebSocket endpoint for local sessions until ctx is
// cancelled.
func serveGateway(ctx context.Context, addr string, hub *gateway.Hub) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[alertengine] gateway listening on %s", addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Printf("[alertengine] gateway server error: %v", err)
	}
}

// universe merges the configured symbols with every symbol that has an
// indexed alert, so alerts on symbols outside SYMBOLS still evaluate.
func universe(configured []string, index *alertindex.Index) []string {
	seen := make(map[string]bool, len(configured))
	out := make([]string, 0, len(configured))
	for _, s := range configured {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range index.Symbols() {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
