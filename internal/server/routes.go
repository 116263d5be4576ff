package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route (progress channel)
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.handleJobsRoute)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes) // Handles /api/jobs/{id} and subpaths

	// API routes - Integrations
	mux.HandleFunc("/api/integrations", s.handleIntegrationsRoute)
	mux.HandleFunc("/api/integrations/", s.handleIntegrationRoutes)

	// API routes - Queues
	mux.HandleFunc("/api/queues", s.app.QueueHandler.StatsHandler)

	// API routes - Logs
	mux.HandleFunc("/api/logs/recent", s.app.WSHandler.GetRecentLogsHandler)

	// API routes - Admin recovery
	mux.HandleFunc("/api/admin/deadletter", s.app.AdminHandler.ListDeadLettersHandler)
	mux.HandleFunc("/api/admin/deadletter/", s.handleDeadLetterRoutes)
	mux.HandleFunc("/api/admin/raw/", s.handleRawRoutes)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobsRoute dispatches the jobs collection endpoint by method
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.JobHandler.ListJobsHandler(w, r)
	case http.MethodPost:
		s.app.JobHandler.CreateJobHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobRoutes routes job-related requests to the appropriate handler
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if path == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	// POST /api/jobs/{id}/trigger
	if r.Method == http.MethodPost && strings.HasSuffix(path, "/trigger") {
		jobID := strings.TrimSuffix(path, "/trigger")
		s.app.JobHandler.TriggerJobHandler(w, r, jobID)
		return
	}

	if strings.Contains(path, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.app.JobHandler.GetJobHandler(w, r, path)
	case http.MethodDelete:
		s.app.JobHandler.DeleteJobHandler(w, r, path)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleIntegrationsRoute dispatches the integrations collection endpoint
func (s *Server) handleIntegrationsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.IntegrationHandler.ListIntegrationsHandler(w, r)
	case http.MethodPost:
		s.app.IntegrationHandler.CreateIntegrationHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleIntegrationRoutes routes integration subpaths: the integration
// itself, its custom field mappings, and the discovery catalogs.
func (s *Server) handleIntegrationRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/integrations/")
	if path == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	// PUT /api/integrations/{id}/mappings
	if r.Method == http.MethodPut && strings.HasSuffix(path, "/mappings") {
		id := strings.TrimSuffix(path, "/mappings")
		s.app.IntegrationHandler.SetMappingsHandler(w, r, id)
		return
	}

	// GET /api/integrations/{id}/fields
	if r.Method == http.MethodGet && strings.HasSuffix(path, "/fields") {
		id := strings.TrimSuffix(path, "/fields")
		s.app.IntegrationHandler.ListCustomFieldsHandler(w, r, id)
		return
	}

	// GET /api/integrations/{id}/issue-types
	if r.Method == http.MethodGet && strings.HasSuffix(path, "/issue-types") {
		id := strings.TrimSuffix(path, "/issue-types")
		s.app.IntegrationHandler.ListIssueTypesHandler(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.app.IntegrationHandler.GetIntegrationHandler(w, r, path)
	case http.MethodPut:
		s.app.IntegrationHandler.UpdateIntegrationHandler(w, r, path)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleDeadLetterRoutes handles POST /api/admin/deadletter/{id}/replay
func (s *Server) handleDeadLetterRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/admin/deadletter/")

	if r.Method == http.MethodPost && strings.HasSuffix(path, "/replay") {
		id := strings.TrimSuffix(path, "/replay")
		s.app.AdminHandler.ReplayDeadLetterHandler(w, r, id)
		return
	}

	http.Error(w, "Not found", http.StatusNotFound)
}

// handleRawRoutes handles POST /api/admin/raw/{id}/requeue
func (s *Server) handleRawRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/admin/raw/")

	if r.Method == http.MethodPost && strings.HasSuffix(path, "/requeue") {
		id := strings.TrimSuffix(path, "/requeue")
		s.app.AdminHandler.RequeueRawHandler(w, r, id)
		return
	}

	http.Error(w, "Not found", http.StatusNotFound)
}
