package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/confluo/internal/interfaces"
)

// QueueHandler exposes read-only queue statistics.
type QueueHandler struct {
	broker interfaces.Broker
	logger arbor.ILogger
}

func NewQueueHandler(broker interfaces.Broker, logger arbor.ILogger) *QueueHandler {
	return &QueueHandler{broker: broker, logger: logger}
}

// StatsHandler returns depth and unacked counts for all queues.
func (h *QueueHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := h.broker.Stats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read queue stats")
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"queues": stats,
	})
}
