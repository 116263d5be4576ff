package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/confluo/internal/interfaces"
	"github.com/ternarybob/confluo/internal/models"
)

// AdminHandler covers operator recovery paths: dead letter inspection
// and replay, plus re-queueing staged raw records for transform.
type AdminHandler struct {
	broker interfaces.Broker
	raw    interfaces.RawStorage
	logger arbor.ILogger
}

func NewAdminHandler(broker interfaces.Broker, raw interfaces.RawStorage, logger arbor.ILogger) *AdminHandler {
	return &AdminHandler{
		broker: broker,
		raw:    raw,
		logger: logger,
	}
}

// ListDeadLettersHandler returns envelopes parked on the dead-letter queue.
func (h *AdminHandler) ListDeadLettersHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	envelopes, err := h.broker.DeadLetters(r.Context(), QueryInt(r, "limit", 100))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"messages": envelopes,
		"count":    len(envelopes),
	})
}

type replayRequest struct {
	Queue string `json:"queue"`
}

// ReplayDeadLetterHandler moves a dead-lettered envelope back to a work
// queue with a fresh retry budget.
func (h *AdminHandler) ReplayDeadLetterHandler(w http.ResponseWriter, r *http.Request, id string) {
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	target := models.QueueName(req.Queue)
	if !target.IsValid() || target == models.QueueDeadLetter {
		WriteError(w, http.StatusBadRequest, "invalid target queue: "+req.Queue)
		return
	}

	if err := h.broker.Replay(r.Context(), id, target); err != nil {
		WriteDomainError(w, err)
		return
	}

	h.logger.Info().
		Str("message_id", id).
		Str("queue", target.String()).
		Msg("Dead letter replayed")
	WriteSuccess(w, "message replayed")
}

// RequeueRawHandler resets a staged raw record to pending and publishes
// a fresh transform message for it. The replayed message carries no
// bracket flags, so step completion bookkeeping is untouched.
func (h *AdminHandler) RequeueRawHandler(w http.ResponseWriter, r *http.Request, rawID string) {
	tenantID, ok := RequireTenant(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	rec, err := h.raw.GetRaw(ctx, tenantID, rawID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	if err := h.raw.MarkProcessed(ctx, tenantID, rawID, models.ProcessingPending, ""); err != nil {
		WriteDomainError(w, err)
		return
	}

	env := &models.Envelope{
		TenantID:      rec.TenantID,
		IntegrationID: rec.IntegrationID,
		JobID:         rec.Metadata.JobID,
		StepName:      rec.Metadata.StepName,
		EntityType:    rec.EntityType,
		Ref:           &models.Ref{RawID: rec.ID},
		Priority:      models.PriorityLow,
	}
	if err := h.broker.Publish(ctx, models.QueueTransform, env); err != nil {
		WriteDomainError(w, err)
		return
	}

	h.logger.Info().
		Str("raw_id", rawID).
		Str("tenant_id", tenantID).
		Str("job_id", rec.Metadata.JobID).
		Msg("Raw record requeued for transform")
	WriteSuccess(w, "raw record requeued")
}
