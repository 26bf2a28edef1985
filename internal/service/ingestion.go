package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/astroconnect/call-billing-go/internal/audit"
	apperrors "github.com/astroconnect/call-billing-go/internal/errors"
	"github.com/astroconnect/call-billing-go/internal/model"
	"github.com/astroconnect/call-billing-go/internal/repository"
)

const (
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventTrackPublished    = "track_published"
	EventTrackUnpublished  = "track_unpublished"

	trackSourceMicrophone = "microphone"
)

// GatewayEvent is one decoded media-gateway webhook notification.
type GatewayEvent struct {
	Event               string
	RoomName            string
	ParticipantIdentity string
	TrackSource         string
}

// CallEvents is the call-state surface ingestion drives. Satisfied by
// CallStateService.
type CallEvents interface {
	MarkParticipantJoined(ctx context.Context, callID string, role model.ParticipantRole) (*JoinResult, error)
	MarkAudioPublished(ctx context.Context, callID string) (*JoinResult, error)
	MarkParticipantLeft(ctx context.Context, callID string, role model.ParticipantRole) (*LeaveResult, error)
}

// IngestionService turns raw gateway events into call-state and billing
// transitions. Events arrive duplicated and out of order; every transition
// they trigger is gated on persisted state downstream, so ingestion itself
// stays straight-line.
type IngestionService struct {
	callRepo repository.CallRepository
	calls    CallEvents
	billing  Biller
	lookback time.Duration
}

func NewIngestionService(callRepo repository.CallRepository, calls CallEvents, billing Biller, lookback time.Duration) *IngestionService {
	return &IngestionService{
		callRepo: callRepo,
		calls:    calls,
		billing:  billing,
		lookback: lookback,
	}
}

// ProcessEvent correlates the event to a call and applies it. Uncorrelated
// events come back as EVENT_UNCORRELATED; the webhook handler reports them in
// a 200 body so the gateway does not retry forever.
func (s *IngestionService) ProcessEvent(ctx context.Context, ev GatewayEvent) error {
	call, err := s.correlate(ctx, ev)
	if err != nil {
		return err
	}
	if call == nil {
		audit.Log(ctx, audit.Event{
			Type:     audit.EventWebhookUncorrelated,
			RoomName: ev.RoomName,
			Details:  map[string]interface{}{"event": ev.Event, "identity": ev.ParticipantIdentity},
		})
		return apperrors.New(apperrors.ErrCodeEventUncorrelated,
			fmt.Sprintf("no call found for room %s", ev.RoomName))
	}

	switch ev.Event {
	case EventParticipantJoined:
		return s.handleJoined(ctx, call, ev)
	case EventParticipantLeft:
		return s.handleLeft(ctx, call, ev)
	case EventTrackPublished:
		return s.handleTrackPublished(ctx, call, ev)
	case EventTrackUnpublished:
		log.Debug().
			Str("callId", call.ID).
			Str("identity", ev.ParticipantIdentity).
			Str("source", ev.TrackSource).
			Msg("track unpublished")
		return nil
	default:
		log.Debug().Str("event", ev.Event).Str("roomName", ev.RoomName).Msg("ignoring unhandled gateway event")
		return nil
	}
}

func (s *IngestionService) handleJoined(ctx context.Context, call *model.CallSession, ev GatewayEvent) error {
	role, _, ok := model.ParseParticipantIdentity(ev.ParticipantIdentity)
	if !ok {
		return apperrors.InvalidInput("participantIdentity", "unrecognized identity prefix")
	}

	result, err := s.calls.MarkParticipantJoined(ctx, call.ID, role)
	if err != nil {
		return err
	}
	if result.CanStartBilling {
		if _, err := s.billing.StartBilling(ctx, call.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *IngestionService) handleLeft(ctx context.Context, call *model.CallSession, ev GatewayEvent) error {
	role, _, ok := model.ParseParticipantIdentity(ev.ParticipantIdentity)
	if !ok {
		return apperrors.InvalidInput("participantIdentity", "unrecognized identity prefix")
	}

	result, err := s.calls.MarkParticipantLeft(ctx, call.ID, role)
	if err != nil {
		return err
	}
	if result.ShouldFinalize {
		if _, err := s.billing.FinalizeBilling(ctx, call.ID, "participant_left"); err != nil {
			return err
		}
	}
	if result.CancelledNow {
		return s.billing.CancelBilling(ctx, call.ID)
	}
	return nil
}

func (s *IngestionService) handleTrackPublished(ctx context.Context, call *model.CallSession, ev GatewayEvent) error {
	if ev.TrackSource != trackSourceMicrophone {
		log.Debug().
			Str("callId", call.ID).
			Str("source", ev.TrackSource).
			Msg("ignoring non-audio track")
		return nil
	}

	result, err := s.calls.MarkAudioPublished(ctx, call.ID)
	if err != nil {
		return err
	}
	if result.CanStartBilling {
		if _, err := s.billing.StartBilling(ctx, call.ID); err != nil {
			return err
		}
	}
	return nil
}

// correlate resolves the event's room to a call: exact room-name match first,
// then a scan of recent in-flight calls for a room-name or participant match.
// The fallback covers rooms created before the call record landed.
func (s *IngestionService) correlate(ctx context.Context, ev GatewayEvent) (*model.CallSession, error) {
	if ev.RoomName == "" {
		return nil, apperrors.MissingRequired("roomName")
	}

	call, err := s.callRepo.FindByRoomName(ctx, ev.RoomName)
	if err != nil {
		return nil, fmt.Errorf("find call by room: %w", err)
	}
	if call != nil {
		return call, nil
	}

	_, participantID, hasIdentity := model.ParseParticipantIdentity(ev.ParticipantIdentity)

	candidates, err := s.callRepo.FindRecentInFlight(ctx, time.Now().Add(-s.lookback))
	if err != nil {
		return nil, fmt.Errorf("scan recent calls: %w", err)
	}
	for i := range candidates {
		c := &candidates[i]
		matched := strings.Contains(ev.RoomName, c.ID) ||
			strings.Contains(ev.RoomName, c.UserID) ||
			strings.Contains(ev.RoomName, c.AstrologerID)
		if !matched && hasIdentity {
			matched = participantID == c.UserID || participantID == c.AstrologerID
		}
		if matched {
			audit.Log(ctx, audit.Event{
				Type:     audit.EventFallbackCorrelation,
				CallID:   c.ID,
				RoomName: ev.RoomName,
				Details:  map[string]interface{}{"event": ev.Event, "identity": ev.ParticipantIdentity},
			})
			return c, nil
		}
	}
	return nil, nil
}
