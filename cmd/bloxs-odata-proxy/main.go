package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/bloxs/odata-agent-proxy/internal/catalog"
	"github.com/bloxs/odata-agent-proxy/internal/config"
	"github.com/bloxs/odata-agent-proxy/internal/forbidden"
	"github.com/bloxs/odata-agent-proxy/internal/httpclient"
	"github.com/bloxs/odata-agent-proxy/internal/learn"
	"github.com/bloxs/odata-agent-proxy/internal/proxy"
	"github.com/bloxs/odata-agent-proxy/internal/token"
)

func main() {
	// Self-contained healthcheck for scratch containers (no curl/wget available).
	// Usage: bloxs-odata-proxy -healthcheck
	if len(os.Args) > 1 && os.Args[1] == "-healthcheck" {
		resp, err := http.Get("http://127.0.0.1:8080/healthz")
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg := config.Load()

	if cfg.ProxyAPIKey == "" {
		fmt.Fprintln(os.Stderr, "PROXY_API_KEY is required")
		os.Exit(1)
	}
	if cfg.BloxsBaseURL == "" {
		fmt.Fprintln(os.Stderr, "BLOXS_BASE_URL is required")
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, err := newKV(ctx, cfg)
	if err != nil {
		slog.Error("failed to open learning KV backend", "backend", cfg.LearningBackend, "error", err)
		os.Exit(1)
	}

	httpClient := httpclient.New()
	learner := learn.New(cfg.EnableLearning, kv)
	go learner.Run(ctx)

	handler := &proxy.Handler{
		Catalog:   catalog.New(),
		Forbidden: forbidden.New(cfg.ForbiddenOwnerNames),
		Tokens:    token.New(cfg.BloxsBaseURL, cfg.BloxsAPIKey, cfg.BloxsAPISecret, httpClient),
		Upstream:  proxy.NewUpstreamClient(httpClient, cfg.BloxsBaseURL),
		Learner:   learner,
		ShortKey:  cfg.ProxyAPIKey,
	}

	mux := http.NewServeMux()
	mux.Handle("/odatafeed/", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	logged := proxy.LoggingMiddleware(mux)

	// Wrap with h2c for cleartext HTTP/2 support alongside HTTP/1.1.
	h2s := &http2.Server{}
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: h2c.NewHandler(logged, h2s),
	}

	go func() {
		slog.Info("starting server", "addr", cfg.ListenAddr, "upstream", cfg.BloxsBaseURL, "learning", learner.Enabled())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// newKV opens the configured learning KV backend. An empty or "none"
// backend name disables learning regardless of ENABLE_LEARNING (spec.md §4.6).
func newKV(ctx context.Context, cfg config.Config) (learn.KV, error) {
	switch cfg.LearningBackend {
	case "bbolt":
		return learn.OpenBolt(cfg.LearningBoltPath)
	case "s3":
		return learn.OpenS3(ctx, cfg.LearningS3Bucket, cfg.LearningS3Prefix, cfg.LearningS3ForcePathStyle)
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown learning backend: %q", cfg.LearningBackend)
	}
}
