package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fieldworks/fieldsync/internal/fieldsync"
	"github.com/fieldworks/fieldsync/internal/httpapi"
)

func main() {
	addr := envOrDefault("FIELDSYNC_ADDR", ":8080")
	agentID := strings.TrimSpace(os.Getenv("FIELDSYNC_AGENT_ID"))
	if agentID == "" {
		log.Fatalf("FIELDSYNC_AGENT_ID is required")
	}
	backendURL := envOrDefault("FIELDSYNC_BACKEND_URL", "http://127.0.0.1:8090")

	storeDSN, err := storeDSNFromEnv()
	if err != nil {
		log.Fatalf("%v", err)
	}
	store, err := fieldsync.BuildRecordStoreFromDSN(storeDSN)
	if err != nil {
		log.Fatalf("failed to initialize record store: %v", err)
	}
	defer store.Close()

	auth := fieldsync.NewStaticAuthProvider(&fieldsync.Identity{
		ID:    agentID,
		Email: strings.TrimSpace(os.Getenv("FIELDSYNC_AGENT_EMAIL")),
	}, os.Getenv("FIELDSYNC_BACKEND_TOKEN"))

	client := fieldsync.NewHTTPSubmissionClient(backendURL, &http.Client{
		Timeout: durationEnv("FIELDSYNC_SUBMIT_TIMEOUT", 30*time.Second),
	})

	observer := fieldsync.NewNetworkObserver(fieldsync.NetworkObserverOptions{
		ProbeURL:      envOrDefault("FIELDSYNC_PROBE_URL", backendURL+"/health"),
		ProbeInterval: durationEnv("FIELDSYNC_PROBE_INTERVAL", 15*time.Second),
		StateFile:     strings.TrimSpace(os.Getenv("FIELDSYNC_NETWORK_STATE_FILE")),
		InitialOnline: boolEnv("FIELDSYNC_ASSUME_ONLINE", true),
		Logger:        log.Default(),
	})
	if err := observer.Start(); err != nil {
		log.Fatalf("failed to start network observer: %v", err)
	}
	defer observer.Close()

	orchestrator, err := fieldsync.NewOrchestrator(fieldsync.OrchestratorOptions{
		Store:            store,
		API:              client,
		Auth:             auth,
		Observer:         observer,
		Logger:           log.Default(),
		StartupSyncDelay: durationEnv("FIELDSYNC_STARTUP_SYNC_DELAY", 2*time.Second),
	})
	if err != nil {
		log.Fatalf("failed to initialize orchestrator: %v", err)
	}

	service, err := fieldsync.NewService(fieldsync.ServiceOptions{
		Store:        store,
		Orchestrator: orchestrator,
		Logger:       log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to initialize service: %v", err)
	}

	server := httpapi.NewServerWithConfig(service, observer, httpapi.ServerConfig{
		JWTSecret:       os.Getenv("FIELDSYNC_JWT_SECRET"),
		RateLimitMax:    intEnv("FIELDSYNC_RATE_LIMIT_MAX", 0),
		RateLimitWindow: durationEnv("FIELDSYNC_RATE_LIMIT_WINDOW", time.Minute),
		MaxBodyBytes:    int64Env("FIELDSYNC_MAX_BODY_BYTES", 0),
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := orchestrator.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("orchestrator stopped: %v", err)
		}
	}()

	httpServer := &http.Server{Addr: addr, Handler: server}
	go func() {
		<-rootCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("fieldsync agent %s listening on %s", agentID, addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server failed: %v", err)
	}
}

// storeDSNFromEnv resolves the record store location: an explicit DSN
// wins, then the backend profile, then a durable local default.
func storeDSNFromEnv() (string, error) {
	if dsn := strings.TrimSpace(os.Getenv("FIELDSYNC_STORE_DSN")); dsn != "" {
		return dsn, nil
	}
	profile := strings.ToLower(strings.TrimSpace(os.Getenv("FIELDSYNC_BACKEND_PROFILE")))
	dataDir := envOrDefault("FIELDSYNC_DATA_DIR", ".fieldsync")
	switch profile {
	case "", "durable-local", "local-durable":
		return "file://" + filepath.Join(dataDir, "records.json"), nil
	case "memory", "inmemory":
		return "memory://", nil
	case "production", "prod":
		dsn := strings.TrimSpace(os.Getenv("FIELDSYNC_POSTGRES_DSN"))
		if dsn == "" {
			return "", fmt.Errorf("FIELDSYNC_POSTGRES_DSN is required when FIELDSYNC_BACKEND_PROFILE=%s", profile)
		}
		return dsn, nil
	default:
		return "", fmt.Errorf("unsupported FIELDSYNC_BACKEND_PROFILE: %s", profile)
	}
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func boolEnv(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %t", name, raw, fallback)
		return fallback
	}
	return value
}
