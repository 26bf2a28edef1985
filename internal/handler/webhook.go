package handler

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/astroconnect/call-billing-go/internal/errors"
	"github.com/astroconnect/call-billing-go/internal/service"
)

type WebhookHandler struct {
	ingestion *service.IngestionService
}

func NewWebhookHandler(ingestion *service.IngestionService) *WebhookHandler {
	return &WebhookHandler{ingestion: ingestion}
}

// Webhook processes one gateway event. Once the signature middleware has let
// the request through, the response is always 200: a retry storm from the
// gateway cannot fix a bad event, so failures are reported in the body and
// logged instead.
func (h *WebhookHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var req GatewayWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn().Err(err).Msg("invalid gateway webhook request")
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   "invalid request body",
		})
		return
	}

	ev := service.GatewayEvent{
		Event:               req.Event,
		RoomName:            req.GetRoomName(),
		ParticipantIdentity: req.Participant.Identity,
		TrackSource:         req.GetTrackSource(),
	}

	log.Info().
		Str("event", ev.Event).
		Str("roomName", ev.RoomName).
		Str("identity", ev.ParticipantIdentity).
		Msg("received gateway webhook")

	if err := h.ingestion.ProcessEvent(r.Context(), ev); err != nil {
		if appErr, ok := apperrors.AsAppError(err); ok {
			log.Warn().
				Str("code", string(appErr.Code)).
				Str("event", ev.Event).
				Str("roomName", ev.RoomName).
				Msg("gateway event not applied")
			writeJSON(w, http.StatusOK, map[string]any{
				"success": false,
				"error":   appErr.Message,
			})
			return
		}

		log.Error().Err(err).
			Str("event", ev.Event).
			Str("roomName", ev.RoomName).
			Msg("failed to process gateway event")
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   "internal error",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
