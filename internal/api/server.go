// Package api serves the bridge's HTTP endpoints: health, the paired
// appliances with their registered entities, the published entity states,
// manual refresh and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"homeconnect-bridge/internal/entity"
	"homeconnect-bridge/internal/hass"
	"homeconnect-bridge/internal/homeconnect"
	"homeconnect-bridge/internal/metrics"
	"homeconnect-bridge/pkg/plugin"
)

// StateSource lists the entity states published to the host
type StateSource interface {
	Published() []hass.EntityState
}

// Refresher runs a refresh pass on demand
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Server provides HTTP API endpoints for the bridge
type Server struct {
	hub       *homeconnect.HomeConnect
	states    StateSource
	plugins   []plugin.Plugin
	refresher Refresher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	server    *http.Server
	router    chi.Router
}

// NewServer creates a new API server. refresher may be nil, which disables
// POST /api/refresh.
func NewServer(hub *homeconnect.HomeConnect, states StateSource, plugins []plugin.Plugin, refresher Refresher, m *metrics.Metrics, logger *zap.Logger, port int) *Server {
	s := &Server{
		hub:       hub,
		states:    states,
		plugins:   plugins,
		refresher: refresher,
		metrics:   m,
		logger:    logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(m.Middleware)
	r.Get("/", s.handleSitemap)
	r.Get("/health", s.handleHealth)
	r.Get("/api/appliances", s.handleAppliances)
	r.Get("/api/appliances/{haID}", s.handleAppliance)
	r.Get("/api/entities", s.handleEntities)
	r.Post("/api/refresh", s.handleRefresh)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	s.router = r

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status        string `json:"status"`
	ServiceStatus string `json:"service_status"`
	Appliances    int    `json:"appliances"`
}

// ApplianceResponse describes a paired appliance and its registered entities
type ApplianceResponse struct {
	HaID      string              `json:"ha_id"`
	Name      string              `json:"name"`
	Brand     string              `json:"brand"`
	Type      string              `json:"type"`
	VIB       string              `json:"vib,omitempty"`
	Connected bool                `json:"connected"`
	Selected  string              `json:"selected_program,omitempty"`
	Active    string              `json:"active_program,omitempty"`
	Entities  map[string][]string `json:"entities"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		ServiceStatus: s.hub.Status().String(),
		Appliances:    len(s.hub.Appliances()),
	})
}

func (s *Server) handleAppliances(w http.ResponseWriter, r *http.Request) {
	byAppliance := s.registeredEntities()

	appliances := s.hub.Appliances()
	response := make([]ApplianceResponse, 0, len(appliances))
	for _, a := range appliances {
		response = append(response, describe(a, byAppliance[entity.NormalizeID(a.HaID)]))
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleAppliance(w http.ResponseWriter, r *http.Request) {
	haID := chi.URLParam(r, "haID")
	a, ok := s.hub.Appliance(haID)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "appliance not found: " + haID})
		return
	}
	s.writeJSON(w, http.StatusOK, describe(a, s.registeredEntities()[entity.NormalizeID(a.HaID)]))
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	states := []hass.EntityState{}
	if s.states != nil {
		states = append(states, s.states.Published()...)
	}
	if haID := r.URL.Query().Get("ha_id"); haID != "" {
		haID = entity.NormalizeID(haID)
		filtered := states[:0]
		for _, st := range states {
			if st.HaID == haID {
				filtered = append(filtered, st)
			}
		}
		states = filtered
	}
	s.writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "refresh is not available"})
		return
	}
	err := s.refresher.Refresh(r.Context())
	if errors.Is(err, homeconnect.ErrRefreshInProgress) {
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		s.logger.Warn("Manual refresh failed", zap.Error(err))
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": s.hub.Status().String()})
}

// registeredEntities groups the unique ids registered by each platform
// plugin by appliance, then by plugin name.
func (s *Server) registeredEntities() map[string]map[string][]string {
	result := make(map[string]map[string][]string)
	for _, p := range s.plugins {
		provider, ok := p.(plugin.EntityProvider)
		if !ok {
			continue
		}
		for _, e := range provider.Entities() {
			haID := e.HaID()
			if haID == "" {
				continue
			}
			if result[haID] == nil {
				result[haID] = make(map[string][]string)
			}
			result[haID][p.Name()] = append(result[haID][p.Name()], e.UniqueID())
		}
	}
	for _, byPlugin := range result {
		for _, ids := range byPlugin {
			sort.Strings(ids)
		}
	}
	return result
}

func describe(a *homeconnect.Appliance, entities map[string][]string) ApplianceResponse {
	if entities == nil {
		entities = map[string][]string{}
	}
	snap := a.Snapshot()
	resp := ApplianceResponse{
		HaID:      a.HaID,
		Name:      a.Name,
		Brand:     a.Brand,
		Type:      a.Type,
		VIB:       a.VIB,
		Connected: snap.Connected,
		Entities:  entities,
	}
	if snap.SelectedProgram != nil {
		resp.Selected = snap.SelectedProgram.Key
	}
	if snap.ActiveProgram != nil {
		resp.Active = snap.ActiveProgram.Key
	}
	return resp
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap"},
	{Path: "/health", Method: "GET", Description: "Health check with the Home Connect service status"},
	{Path: "/api/appliances", Method: "GET", Description: "Paired appliances and their registered entities"},
	{Path: "/api/appliances/{haID}", Method: "GET", Description: "A single paired appliance"},
	{Path: "/api/entities", Method: "GET", Description: "Published entity states, optionally filtered by ?ha_id="},
	{Path: "/api/refresh", Method: "POST", Description: "Reload every appliance catalog now"},
	{Path: "/metrics", Method: "GET", Description: "Prometheus metrics"},
}

// handleSitemap lists the endpoints as plain text
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Home Connect Bridge API\n")
	fmt.Fprintf(w, "=======================\n\n")
	for _, ep := range endpoints {
		fmt.Fprintf(w, "  %-6s %-24s %s\n", ep.Method, ep.Path, ep.Description)
	}
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
