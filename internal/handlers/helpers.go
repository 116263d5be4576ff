package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ternarybob/confluo/internal/models"
	"github.com/ternarybob/confluo/internal/orchestrator"
)

// TenantHeader carries the caller's tenant on every API request.
const TenantHeader = "X-Tenant-ID"

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// RequireTenant extracts the tenant id header, writing a 400 when absent.
func RequireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := r.Header.Get(TenantHeader)
	if tenantID == "" {
		WriteError(w, http.StatusBadRequest, "missing "+TenantHeader+" header")
		return "", false
	}
	return tenantID, true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a standard success JSON response.
func WriteSuccess(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": message,
	})
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteDomainError maps the service sentinel errors to HTTP statuses.
func WriteDomainError(w http.ResponseWriter, err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrConflict):
		return WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrTenantMismatch):
		return WriteError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, orchestrator.ErrBackpressure):
		return WriteError(w, http.StatusTooManyRequests, err.Error())
	}
	return WriteError(w, http.StatusInternalServerError, err.Error())
}

// QueryInt reads an integer query parameter, falling back to def.
func QueryInt(r *http.Request, name string, def int) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
