package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/parisxmas/OxiDB/OxiField/internal/models"
	"github.com/parisxmas/OxiDB/OxiField/internal/service"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamMessage is the JSON frame pushed to mutation stream clients.
type StreamMessage struct {
	Type      string                      `json:"type"`
	Mutations []models.SubmissionMutation `json:"mutations"`
}

type MutationHandler struct {
	svc    *service.SubmissionService
	logger *slog.Logger
}

func NewMutationHandler(svc *service.SubmissionService, logger *slog.Logger) *MutationHandler {
	return &MutationHandler{svc: svc, logger: logger}
}

// List returns the current incomplete mutations of the LOI.
func (h *MutationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch, err := h.svc.GetIncompleteSubmissionMutationsOnceAndStream(ctx,
		chi.URLParam(r, "surveyId"), chi.URLParam(r, "loiId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	snapshot, ok := <-ch
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "mutation stream closed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mutations": snapshot})
}

// Stream pushes the incomplete mutations of the LOI over a WebSocket: once
// on connect and again whenever they change.
func (h *MutationHandler) Stream(w http.ResponseWriter, r *http.Request) {
	surveyID, loiID := chi.URLParam(r, "surveyId"), chi.URLParam(r, "loiId")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Client frames are ignored; reading detects the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ch, err := h.svc.GetIncompleteSubmissionMutationsOnceAndStream(ctx, surveyID, loiID)
	if err != nil {
		h.logger.Error("mutation stream: subscribe failed", "loi_id", loiID, "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
			time.Now().Add(writeWait))
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case snapshot, ok := <-ch:
			if !ok {
				return
			}
			msg, err := json.Marshal(StreamMessage{Type: "mutations", Mutations: snapshot})
			if err != nil {
				h.logger.Error("mutation stream: encode", "error", err)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}
