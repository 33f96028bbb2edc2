package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"swap-quote/internal/catalog"
	"swap-quote/internal/config"
	"swap-quote/internal/delivery/ws"
	"swap-quote/internal/metrics"
	"swap-quote/internal/quote"
	"swap-quote/internal/rpc"
	"swap-quote/internal/signing"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.Parse()

	// Local-dev convenience; absent .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	cred, err := signing.Load(cfg.SigningOptions())
	if err != nil {
		fatal(err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	client := rpc.NewClient(cred, rpc.Options{
		BaseURL: cfg.Exchange.BaseURL,
		Timeout: cfg.HTTPTimeout(),
		Metrics: m,
	})

	var backup catalog.Backup
	if cfg.Redis.Addr != "" {
		redisBackup, err := catalog.NewRedisBackup(ctx, cfg.Redis.Addr, cfg.CatalogTTL())
		if err != nil {
			fatal(fmt.Sprintf("redis backup: %v", err))
		}
		defer func() {
			if closeErr := redisBackup.Close(); closeErr != nil {
				fmt.Fprintf(os.Stderr, "close redis backup failed: %v\n", closeErr)
			}
		}()
		backup = redisBackup
	}

	cat := catalog.New(client, catalog.Options{
		TTL:     cfg.CatalogTTL(),
		Backup:  backup,
		Metrics: m,
	})
	if restored, err := cat.RestoreFromBackup(ctx); err != nil {
		log.Printf("level=WARN event=catalog_restore_failed err=%q", err.Error())
	} else if restored {
		log.Printf("level=INFO event=catalog_restored refreshed_at=%s", cat.RefreshedAt().Format(time.RFC3339))
	}
	if err := cat.Refresh(ctx); err != nil {
		// Startup proceeds on a restored snapshot or none at all; the
		// refresh loop keeps retrying and /healthz reports the gap.
		log.Printf("level=WARN event=catalog_initial_refresh_failed err=%q", err.Error())
	}
	go cat.AutoRefresh(ctx, cfg.RefreshCheckInterval())

	engine := quote.NewEngine(cat, client, quote.EngineOptions{
		QuoteTTL: cfg.QuoteTTL(),
		Metrics:  m,
	})

	mux := http.NewServeMux()
	mux.Handle("/ws/quote", ws.NewHandler(engine, cfg.Debounce()))
	mux.Handle("/healthz", healthHandler(cat))
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("level=INFO event=server_listening addr=%s", cfg.Server.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "server shutdown failed: %v\n", err)
		}
		log.Printf("level=INFO event=server_stopped")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			fatal(err.Error())
		}
	}
}

type healthResponse struct {
	Status      string    `json:"status"`
	CatalogOK   bool      `json:"catalog_ok"`
	Stale       bool      `json:"stale"`
	RefreshedAt time.Time `json:"refreshed_at,omitempty"`
}

func healthHandler(cat *catalog.Catalog) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:    "ok",
			CatalogOK: cat.Ready(),
			Stale:     cat.IsStale(),
		}
		if resp.CatalogOK {
			resp.RefreshedAt = cat.RefreshedAt()
		}
		code := http.StatusOK
		if !resp.CatalogOK {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	})
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
