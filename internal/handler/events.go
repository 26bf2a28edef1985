package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/astroconnect/call-billing-go/internal/errors"
	"github.com/astroconnect/call-billing-go/internal/service"
	"github.com/astroconnect/call-billing-go/internal/sse"
)

type EventsHandler struct {
	broker *sse.Broker
	calls  *service.CallStateService
}

func NewEventsHandler(broker *sse.Broker, calls *service.CallStateService) *EventsHandler {
	return &EventsHandler{
		broker: broker,
		calls:  calls,
	}
}

// ServeHTTP streams call status and billing tick events for one call.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	if callID == "" {
		writeError(w, apperrors.MissingRequired("callID"))
		return
	}

	call, err := h.calls.GetCall(r.Context(), callID)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(callID)
	defer h.broker.Unsubscribe(client)

	log.Info().Str("callId", callID).Msg("sse connection established")

	// Current state first, so late subscribers do not wait for the next tick.
	if err := h.sendRawEvent(w, flusher, sse.Event{
		Type: "call_status",
		Data: call.ToSSEEventData(),
	}); err != nil {
		return
	}

	ctx := r.Context()
	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("callId", callID).Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().Str("callId", callID).Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().Str("callId", callID).Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
