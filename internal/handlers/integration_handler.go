package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/confluo/internal/common"
	"github.com/ternarybob/confluo/internal/interfaces"
	"github.com/ternarybob/confluo/internal/models"
)

// IntegrationHandler manages source connections, custom field mappings
// and the discovery catalogs.
type IntegrationHandler struct {
	integrations interfaces.IntegrationStorage
	catalogs     interfaces.CatalogStorage
	logger       arbor.ILogger
}

func NewIntegrationHandler(integrations interfaces.IntegrationStorage, catalogs interfaces.CatalogStorage, logger arbor.ILogger) *IntegrationHandler {
	return &IntegrationHandler{
		integrations: integrations,
		catalogs:     catalogs,
		logger:       logger,
	}
}

// sanitize strips credentials before an integration leaves the API.
func sanitize(integ *models.Integration) *models.Integration {
	clone := *integ
	clone.Credentials = nil
	return &clone
}

// ListIntegrationsHandler returns the tenant's integrations without
// credentials.
func (h *IntegrationHandler) ListIntegrationsHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := RequireTenant(w, r)
	if !ok {
		return
	}

	integrations, err := h.integrations.ListIntegrations(r.Context(), tenantID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	out := make([]*models.Integration, 0, len(integrations))
	for _, integ := range integrations {
		out = append(out, sanitize(integ))
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"integrations": out,
		"count":        len(out),
	})
}

// GetIntegrationHandler returns one integration without credentials.
func (h *IntegrationHandler) GetIntegrationHandler(w http.ResponseWriter, r *http.Request, id string) {
	tenantID, ok := RequireTenant(w, r)
	if !ok {
		return
	}

	integ, err := h.integrations.GetIntegration(r.Context(), tenantID, id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sanitize(integ))
}

// CreateIntegrationHandler registers a new source connection.
func (h *IntegrationHandler) CreateIntegrationHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := RequireTenant(w, r)
	if !ok {
		return
	}

	var integ models.Integration
	if err := json.NewDecoder(r.Body).Decode(&integ); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if integ.ID == "" {
		integ.ID = common.NewIntegrationID()
	}
	integ.TenantID = tenantID
	integ.Active = true

	if err := integ.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.integrations.CreateIntegration(r.Context(), &integ); err != nil {
		h.logger.Error().Err(err).Str("integration_id", integ.ID).Msg("Failed to create integration")
		WriteDomainError(w, err)
		return
	}

	h.logger.Info().
		Str("integration_id", integ.ID).
		Str("tenant_id", tenantID).
		Str("provider", integ.Provider.String()).
		Msg("Integration created")
	WriteJSON(w, http.StatusCreated, sanitize(&integ))
}

// UpdateIntegrationHandler replaces an integration's settings. Omitted
// credentials keep the stored value.
func (h *IntegrationHandler) UpdateIntegrationHandler(w http.ResponseWriter, r *http.Request, id string) {
	tenantID, ok := RequireTenant(w, r)
	if !ok {
		return
	}

	existing, err := h.integrations.GetIntegration(r.Context(), tenantID, id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	var integ models.Integration
	if err := json.NewDecoder(r.Body).Decode(&integ); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	integ.ID = id
	integ.TenantID = tenantID
	if len(integ.Credentials) == 0 {
		integ.Credentials = existing.Credentials
	}
	if integ.CustomFieldMappings == nil {
		integ.CustomFieldMappings = existing.CustomFieldMappings
	}

	if err := integ.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.integrations.UpdateIntegration(r.Context(), &integ); err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sanitize(&integ))
}

// SetMappingsHandler replaces the custom field slot mappings.
func (h *IntegrationHandler) SetMappingsHandler(w http.ResponseWriter, r *http.Request, id string) {
	tenantID, ok := RequireTenant(w, r)
	if !ok {
		return
	}

	var mappings map[string]string
	if err := json.NewDecoder(r.Body).Decode(&mappings); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if len(mappings) > models.MaxCustomFieldSlots {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("custom field mappings exceed %d slots", models.MaxCustomFieldSlots))
		return
	}
	for slot := range mappings {
		if !models.ValidCustomFieldSlot(slot) {
			WriteError(w, http.StatusBadRequest, "invalid custom field slot: "+slot)
			return
		}
	}

	if err := h.integrations.SetCustomFieldMappings(r.Context(), tenantID, id, mappings); err != nil {
		WriteDomainError(w, err)
		return
	}

	h.logger.Info().
		Str("integration_id", id).
		Str("tenant_id", tenantID).
		Int("mappings", len(mappings)).
		Msg("Custom field mappings updated")
	WriteSuccess(w, "mappings updated")
}

// ListCustomFieldsHandler returns the discovered custom field catalog.
func (h *IntegrationHandler) ListCustomFieldsHandler(w http.ResponseWriter, r *http.Request, id string) {
	tenantID, ok := RequireTenant(w, r)
	if !ok {
		return
	}

	activeOnly := r.URL.Query().Get("all") == ""
	fields, err := h.catalogs.ListCustomFields(r.Context(), tenantID, id, activeOnly)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"fields": fields,
		"count":  len(fields),
	})
}

// ListIssueTypesHandler returns the discovered issue type catalog.
func (h *IntegrationHandler) ListIssueTypesHandler(w http.ResponseWriter, r *http.Request, id string) {
	tenantID, ok := RequireTenant(w, r)
	if !ok {
		return
	}

	activeOnly := r.URL.Query().Get("all") == ""
	types, err := h.catalogs.ListIssueTypes(r.Context(), tenantID, id, activeOnly)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"issue_types": types,
		"count":       len(types),
	})
}
