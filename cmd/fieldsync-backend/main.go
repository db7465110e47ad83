package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fieldworks/fieldsync/internal/fieldsync"
)

// fieldsync-backend is a reference receiver for agent submissions: it
// validates each application against the shared schema and records the
// accepted ones, so a fleet of agents can be exercised without the real
// processing platform.
func main() {
	addr := envOrDefault("FIELDSYNC_BACKEND_ADDR", ":8090")
	token := strings.TrimSpace(os.Getenv("FIELDSYNC_BACKEND_TOKEN"))

	store, err := fieldsync.BuildRecordStoreFromDSN(envOrDefault("FIELDSYNC_BACKEND_STORE_DSN", "memory://"))
	if err != nil {
		log.Fatalf("failed to initialize record store: %v", err)
	}
	defer store.Close()

	validator, err := fieldsync.NewSchemaValidator()
	if err != nil {
		log.Fatalf("failed to build validator: %v", err)
	}

	receiver := &receiver{store: store, validator: validator, token: token}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{Addr: addr, Handler: receiver}
	go func() {
		<-rootCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("fieldsync backend listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server failed: %v", err)
	}
}

type receiver struct {
	store     fieldsync.RecordStore
	validator fieldsync.Validator
	token     string
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case r.URL.Path == "/api/submit-application" && r.Method == http.MethodPost:
		rc.handleSubmit(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "route not found"})
	}
}

func (rc *receiver) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if rc.token != "" {
		if r.Header.Get("Authorization") != "Bearer "+rc.token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return
	}
	var req struct {
		ApplicationData json.RawMessage `json:"applicationData"`
		ApplicationID   string          `json:"applicationId"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	if strings.TrimSpace(req.ApplicationID) == "" || len(req.ApplicationData) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "applicationId and applicationData are required"})
		return
	}

	if ok, details := rc.validator.Validate(req.ApplicationData); !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Validation failed",
			"details": details,
		})
		return
	}

	var agent struct {
		AgentInfo struct {
			Email string `json:"email"`
		} `json:"agentInfo"`
	}
	_ = json.Unmarshal(req.ApplicationData, &agent)
	agentID := agent.AgentInfo.Email
	if agentID == "" {
		agentID = "unknown"
	}

	now := time.Now().UTC()
	if _, err := rc.store.UpsertByApplicationID(r.Context(), fieldsync.SubmissionRecord{
		ApplicationID:   req.ApplicationID,
		AgentID:         agentID,
		Status:          fieldsync.StatusSynced,
		Payload:         req.ApplicationData,
		CreatedAt:       now,
		LastModified:    now,
		LastSyncAttempt: &now,
	}); err != nil {
		log.Printf("failed to record submission %s: %v", req.ApplicationID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to record submission"})
		return
	}

	log.Printf("accepted submission %s from %s", req.ApplicationID, agentID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":       true,
		"applicationId": req.ApplicationID,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}
