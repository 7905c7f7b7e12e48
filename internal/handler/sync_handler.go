package handler

import (
	"net/http"

	"github.com/parisxmas/OxiDB/OxiField/internal/syncwork"
)

type SyncHandler struct {
	queue *syncwork.Queue
}

func NewSyncHandler(queue *syncwork.Queue) *SyncHandler {
	return &SyncHandler{queue: queue}
}

// Status lists the sync requests still waiting to be delivered.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	pending, err := h.queue.Pending(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending":  pending,
		"queued":   len(pending),
		"maxRetry": syncwork.MaxRetryCount,
	})
}
