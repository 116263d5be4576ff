package handlers

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

// LogEntry is one parsed line from the in-memory log buffer.
type LogEntry struct {
	Index     int    `json:"index"`
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// GetRecentLogsHandler returns recent in-memory log entries as JSON.
// Connected clients fetch these after a progress event rather than
// having every log line streamed over the socket.
func (h *WebSocketHandler) GetRecentLogsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	memWriter := arbor.GetRegisteredMemoryWriter(arbor.WRITER_MEMORY)
	var logs []LogEntry

	if memWriter != nil {
		entries, err := memWriter.GetEntriesWithLimit(100)
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to get log entries")
			http.Error(w, "Failed to retrieve logs", http.StatusInternalServerError)
			return
		}

		// Map keys are timestamps - sorting gives chronological order
		keys := make([]string, 0, len(entries))
		for key := range entries {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			logLine := entries[key]
			// Skip internal handler logs
			if strings.Contains(logLine, "WebSocket client connected") ||
				strings.Contains(logLine, "WebSocket client disconnected") ||
				strings.Contains(logLine, "HTTP request") ||
				strings.Contains(logLine, "HTTP response") {
				continue
			}

			parts := strings.SplitN(logLine, "|", 3)
			if len(parts) != 3 {
				continue
			}

			levelStr := strings.TrimSpace(parts[0])
			dateTime := strings.TrimSpace(parts[1])
			message := strings.TrimSpace(parts[2])

			timeParts := strings.Fields(dateTime)
			var timestamp string
			if len(timeParts) >= 3 {
				timestamp = timeParts[len(timeParts)-1]
			} else {
				timestamp = time.Now().Format("15:04:05")
			}

			level := "INF"
			switch levelStr {
			case "ERR", "ERROR", "FATAL", "PANIC":
				level = "ERR"
			case "WRN", "WARN":
				level = "WRN"
			case "DBG", "DEBUG":
				level = "DBG"
			}

			logs = append(logs, LogEntry{
				Index:     len(logs),
				Timestamp: timestamp,
				Level:     level,
				Message:   message,
			})
		}
	}

	if logs == nil {
		logs = []LogEntry{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}
