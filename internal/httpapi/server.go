package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fieldworks/fieldsync/internal/fieldsync"
)

type ServerConfig struct {
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
}

// Server exposes the submission queue over HTTP: drafts, queueing,
// lists, stats, retry, delete, manual sync, connectivity state and a
// websocket event stream.
type Server struct {
	service     *fieldsync.Service
	observer    *fieldsync.NetworkObserver
	cfg         ServerConfig
	rateLimiter *rateLimiter
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(service *fieldsync.Service, observer *fieldsync.NetworkObserver) *Server {
	return NewServerWithConfig(service, observer, ServerConfig{})
}

func NewServerWithConfig(service *fieldsync.Service, observer *fieldsync.NetworkObserver, cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		service:     service,
		observer:    observer,
		cfg:         cfg,
		rateLimiter: limiter,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/dashboard" {
		s.handleDashboard(w, r)
		return
	}
	if r.URL.Path == "/v1/events" && r.Method == http.MethodGet {
		s.handleEvents(w, r)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	var (
		requiredScope string
		route         string
		pinnedAgent   string
	)
	switch {
	case len(parts) == 2 && parts[1] == "sync" && r.Method == http.MethodPost:
		requiredScope = "sync:trigger"
		route = "sync"
	case len(parts) == 2 && parts[1] == "network" && r.Method == http.MethodGet:
		requiredScope = "applications:read"
		route = "network_get"
	case len(parts) == 2 && parts[1] == "network" && r.Method == http.MethodPut:
		requiredScope = "sync:trigger"
		route = "network_set"
	case len(parts) == 5 && parts[1] == "agents" && parts[3] == "applications" && parts[4] == "draft" && r.Method == http.MethodPost:
		requiredScope = "applications:write"
		route = "draft"
		pinnedAgent = parts[2]
	case len(parts) == 5 && parts[1] == "agents" && parts[3] == "applications" && parts[4] == "queue" && r.Method == http.MethodPost:
		requiredScope = "applications:write"
		route = "queue"
		pinnedAgent = parts[2]
	case len(parts) == 4 && parts[1] == "agents" && parts[3] == "applications" && r.Method == http.MethodGet:
		requiredScope = "applications:read"
		route = "list"
		pinnedAgent = parts[2]
	case len(parts) == 4 && parts[1] == "agents" && parts[3] == "stats" && r.Method == http.MethodGet:
		requiredScope = "applications:read"
		route = "stats"
		pinnedAgent = parts[2]
	case len(parts) == 3 && parts[1] == "applications" && r.Method == http.MethodGet:
		requiredScope = "applications:read"
		route = "application"
	case len(parts) == 3 && parts[1] == "applications" && r.Method == http.MethodDelete:
		requiredScope = "applications:write"
		route = "delete"
	case len(parts) == 4 && parts[1] == "applications" && parts[3] == "retry" && r.Method == http.MethodPost:
		requiredScope = "sync:trigger"
		route = "retry"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	claims, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, pinnedAgent, requiredScope, time.Now().UTC())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}
	correlationID := getCorrelationID(r)
	if correlationID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing X-Correlation-Id header", "")
		return
	}
	if s.rateLimiter != nil {
		if !s.rateLimiter.allow(claims.AgentID, time.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
			return
		}
	}

	switch route {
	case "sync":
		s.handleSync(w, r, correlationID)
	case "network_get":
		s.handleNetworkGet(w, correlationID)
	case "network_set":
		s.handleNetworkSet(w, r, correlationID)
	case "draft":
		s.handleDraft(w, r, claims.AgentID, correlationID)
	case "queue":
		s.handleQueue(w, r, claims.AgentID, correlationID)
	case "list":
		s.handleList(w, r, claims.AgentID, correlationID)
	case "stats":
		s.handleStats(w, r, claims.AgentID, correlationID)
	case "application":
		s.handleApplication(w, r, claims.AgentID, parts[2], correlationID)
	case "delete":
		s.handleDelete(w, r, claims.AgentID, parts[2], correlationID)
	case "retry":
		s.handleRetry(w, r, claims.AgentID, parts[2], correlationID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request, correlationID string) {
	result, err := s.service.ProcessQueue(r.Context())
	if err != nil {
		s.writeServiceError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleNetworkGet(w http.ResponseWriter, correlationID string) {
	online := true
	if s.observer != nil {
		online = s.observer.IsOnline()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"online": online})
}

func (s *Server) handleNetworkSet(w http.ResponseWriter, r *http.Request, correlationID string) {
	if s.observer == nil {
		writeError(w, http.StatusConflict, "invalid_state", "no network observer configured", correlationID)
		return
	}
	var body struct {
		Online *bool `json:"online"`
	}
	if !s.decodeJSONBody(w, r, correlationID, &body) {
		return
	}
	if body.Online == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "missing online field", correlationID)
		return
	}
	s.observer.SetOnline(*body.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"online": s.observer.IsOnline()})
}

func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request, agentID, correlationID string) {
	payload, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	record, err := s.service.SaveDraft(r.Context(), agentID, payload)
	if err != nil {
		s.writeServiceError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request, agentID, correlationID string) {
	payload, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	record, err := s.service.QueueForSubmission(r.Context(), agentID, payload)
	if err != nil {
		s.writeServiceError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusAccepted, record)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, agentID, correlationID string) {
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	var (
		records []fieldsync.SubmissionRecord
		err     error
	)
	switch fieldsync.Status(status) {
	case "":
		records, err = s.service.ListAll(r.Context(), agentID)
	case fieldsync.StatusDraft:
		records, err = s.service.ListDrafts(r.Context(), agentID)
	case fieldsync.StatusQueued:
		records, err = s.service.ListQueued(r.Context(), agentID)
	case fieldsync.StatusFailed:
		records, err = s.service.ListFailed(r.Context(), agentID)
	case fieldsync.StatusSynced:
		records, err = s.service.ListSynced(r.Context(), agentID)
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "invalid status filter", correlationID)
		return
	}
	if err != nil {
		s.writeServiceError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Items []fieldsync.SubmissionRecord `json:"items"`
	}{Items: records})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, agentID, correlationID string) {
	stats, err := s.service.GetStats(r.Context(), agentID)
	if err != nil {
		s.writeServiceError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleApplication(w http.ResponseWriter, r *http.Request, agentID, applicationID, correlationID string) {
	record, err := s.service.GetApplication(r.Context(), applicationID)
	if err != nil {
		s.writeServiceError(w, err, correlationID)
		return
	}
	if record.AgentID != agentID {
		writeError(w, http.StatusNotFound, "not_found", "not found", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, agentID, applicationID, correlationID string) {
	record, err := s.service.GetApplication(r.Context(), applicationID)
	if err != nil {
		s.writeServiceError(w, err, correlationID)
		return
	}
	if record.AgentID != agentID {
		writeError(w, http.StatusNotFound, "not_found", "not found", correlationID)
		return
	}
	if err := s.service.DeleteApplication(r.Context(), applicationID); err != nil {
		s.writeServiceError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request, agentID, applicationID, correlationID string) {
	record, err := s.service.GetApplication(r.Context(), applicationID)
	if err != nil {
		s.writeServiceError(w, err, correlationID)
		return
	}
	if record.AgentID != agentID {
		writeError(w, http.StatusNotFound, "not_found", "not found", correlationID)
		return
	}
	synced, err := s.service.RetryApplication(r.Context(), applicationID)
	if err != nil {
		s.writeServiceError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"synced": synced})
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error, correlationID string) {
	var validationErr *fieldsync.ValidationError
	if errors.As(err, &validationErr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"code":          "validation_failed",
			"message":       "validation failed",
			"details":       validationErr.Details,
			"correlationId": correlationID,
		})
		return
	}
	switch {
	case errors.Is(err, fieldsync.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
	case errors.Is(err, fieldsync.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
	case errors.Is(err, fieldsync.ErrSyncBusy):
		writeError(w, http.StatusConflict, "sync_busy", err.Error(), correlationID)
	case errors.Is(err, fieldsync.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_state", err.Error(), correlationID)
	case errors.Is(err, fieldsync.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error(), correlationID)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
	}
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}
