package directline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/verastack/switchboard/pkg/auth"
	"github.com/verastack/switchboard/pkg/logger"
)

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status         string `json:"status"`
	Connection     string `json:"connection"`
	ConversationID string `json:"conversation_id,omitempty"`
	Uptime         string `json:"uptime"`
	TokenExpiry    string `json:"token_expiry,omitempty"`
}

// HealthServer exposes the client's connection state over HTTP for
// liveness and readiness probes.
type HealthServer struct {
	server    *http.Server
	client    *Client
	startTime time.Time
	running   atomic.Bool
}

// NewHealthServer creates a health check server for a client.
func NewHealthServer(client *Client, port int) *HealthServer {
	hs := &HealthServer{
		client:    client,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", hs.handleHealth)
	mux.HandleFunc("/healthz", hs.handleHealth) // Kubernetes-style endpoint
	mux.HandleFunc("/ready", hs.handleReady)
	mux.HandleFunc("/readyz", hs.handleReady)
	mux.HandleFunc("/live", hs.handleLive)
	mux.HandleFunc("/livez", hs.handleLive)

	hs.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	return hs
}

// Start starts the health check server.
func (hs *HealthServer) Start() error {
	if hs.running.Load() {
		return fmt.Errorf("health server already running")
	}

	hs.running.Store(true)
	logger.Info("Starting health check server", "addr", hs.server.Addr)

	go func() {
		if err := hs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health check server error", "error", err)
		}

		hs.running.Store(false)
	}()

	return nil
}

// Stop gracefully stops the health check server.
func (hs *HealthServer) Stop(ctx context.Context) error {
	if !hs.running.Load() {
		return nil
	}

	logger.Info("Stopping health check server...")

	return hs.server.Shutdown(ctx)
}

// handleHealth returns the overall health status.
func (hs *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := hs.getHealthStatus()

	w.Header().Set("Content-Type", "application/json")

	if status.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(status); err != nil {
		logger.Error("Failed to encode health response", "error", err)
	}
}

// handleReady returns readiness status (is the conversation online?)
func (hs *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if hs.client.ctrl.status.Current() == StatusOnline {
		w.WriteHeader(http.StatusOK)

		if _, err := w.Write([]byte("ready")); err != nil {
			logger.Error("Failed to write ready response", "error", err)
		}
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)

		if _, err := w.Write([]byte("conversation not online")); err != nil {
			logger.Error("Failed to write not ready response", "error", err)
		}
	}
}

// handleLive returns liveness status (is the process alive?)
func (hs *HealthServer) handleLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("alive")); err != nil {
		logger.Error("Failed to write alive response", "error", err)
	}
}

// getHealthStatus builds the health status response.
func (hs *HealthServer) getHealthStatus() HealthStatus {
	connection := hs.client.ctrl.status.Current()

	status := HealthStatus{
		Connection:     connection.String(),
		ConversationID: hs.client.ConversationID(),
		Uptime:         time.Since(hs.startTime).Round(time.Second).String(),
	}

	tokenValid := false
	if claims, err := auth.ParseClaims(hs.client.ctrl.currentToken()); err == nil {
		if expiresIn := claims.ExpiresIn(); expiresIn > 0 {
			status.TokenExpiry = expiresIn.Round(time.Second).String()
			tokenValid = true
		} else {
			status.TokenExpiry = "expired"
		}
	}

	switch {
	case connection == StatusOnline && tokenValid:
		status.Status = "healthy"
	case connection == StatusOnline:
		status.Status = "degraded" // Online but token issues
	default:
		status.Status = "unhealthy"
	}

	return status
}
