package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"threadloom/pkg/api"
	"threadloom/pkg/banner"
	"threadloom/pkg/chat"
	"threadloom/pkg/config"
	"threadloom/pkg/logger"
	"threadloom/pkg/security"
	"threadloom/pkg/store"
	"threadloom/pkg/stream"
)

func main() {
	// build metadata - set via ldflags during build/release
	var (
		version   = "dev"
		commit    = "none"
		buildDate = "unknown"
	)
	_ = godotenv.Load(".env")
	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()

	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])
	cfg, backendKeys, signingKeys, envUsed, err := config.LoadEffective(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.InitWithLevel(cfg.Logging.Level)
	chat.SetDefaultTitle(cfg.DefaultTitle())

	// Flags win over config/env when explicitly set.
	addr := addrVal
	if !setFlags["addr"] {
		addr = cfg.Addr()
	}
	dbPath := dbVal
	if !setFlags["db"] && cfg.Storage.DBPath != "" {
		dbPath = cfg.Storage.DBPath
	}

	if err := store.Open(dbPath); err != nil {
		log.Fatalf("failed to open pebble at %s: %v", dbPath, err)
	}

	registry := stream.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	maxLiveAge := stream.DefaultMaxLiveAge
	if v := strings.TrimSpace(cfg.Chat.Stream.MaxLiveAge); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			maxLiveAge = d
		} else {
			logger.Warn("invalid_max_live_age", "value", v)
		}
	}
	stopReaper, err := stream.StartReaper(ctx, cfg.Chat.Stream.ReapCron, maxLiveAge)
	if err != nil {
		log.Fatalf("failed to start stream reaper: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigc
		logger.Info("signal_received", "signal", s.String())
		stopReaper()
		cancel()
		_ = registry.Close()
		_ = store.Close()
		os.Exit(0)
	}()

	srcs := []string{}
	if len(setFlags) > 0 {
		srcs = append(srcs, "flags")
	}
	if envUsed {
		srcs = append(srcs, "env")
	}
	if _, err := config.Load(cfgPath); err == nil {
		srcs = append(srcs, "config")
	}
	verStr := version
	if commit != "none" {
		verStr = verStr + " (" + commit + ")"
	}
	if buildDate != "unknown" {
		verStr = verStr + " @ " + buildDate
	}
	banner.Print(addr, dbPath, strings.Join(srcs, ", "), verStr)

	mux := http.NewServeMux()

	// Liveness probe used by deployment systems and CI.
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.Handle("/", api.Handler(registry))

	mux.Handle("/docs/", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	mux.Handle("/openapi.yaml", http.FileServer(http.Dir("./docs")))
	mux.Handle("/metrics", promhttp.Handler())

	secCfg := security.SecConfig{
		BackendKeys:  map[string]struct{}{},
		FrontendKeys: map[string]struct{}{},
		AdminKeys:    map[string]struct{}{},
	}
	secCfg.AllowedOrigins = append(secCfg.AllowedOrigins, cfg.Security.CORS.AllowedOrigins...)
	if cfg.Security.RateLimit.RPS > 0 {
		secCfg.RPS = cfg.Security.RateLimit.RPS
	}
	if cfg.Security.RateLimit.Burst > 0 {
		secCfg.Burst = cfg.Security.RateLimit.Burst
	}
	if len(cfg.Security.IPWhitelist) > 0 {
		secCfg.IPWhitelist = append(secCfg.IPWhitelist, cfg.Security.IPWhitelist...)
	}
	for k := range backendKeys {
		secCfg.BackendKeys[k] = struct{}{}
	}
	for _, k := range cfg.Security.APIKeys.Frontend {
		secCfg.FrontendKeys[k] = struct{}{}
	}
	for _, k := range cfg.Security.APIKeys.Admin {
		secCfg.AdminKeys[k] = struct{}{}
	}

	runtimeCfg := &config.RuntimeConfig{BackendKeys: map[string]struct{}{}, SigningKeys: map[string]struct{}{}}
	for k := range backendKeys {
		runtimeCfg.BackendKeys[k] = struct{}{}
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	for k := range signingKeys {
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	config.SetRuntime(runtimeCfg)

	wrapped := security.AuthenticateRequestMiddleware(secCfg)(mux)

	cert := cfg.Server.TLS.CertFile
	key := cfg.Server.TLS.KeyFile
	var errServe error
	if cert != "" && key != "" {
		errServe = http.ListenAndServeTLS(addr, cert, key, wrapped)
	} else {
		errServe = http.ListenAndServe(addr, wrapped)
	}
	if errServe != nil {
		log.Fatal(errServe)
	}
}
