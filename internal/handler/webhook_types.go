package handler

import "strings"

// GatewayWebhookRequest mirrors the media gateway's webhook payload. The
// gateway nests room/participant/track objects but older payloads carry flat
// roomName, so both spellings are accepted.
type GatewayWebhookRequest struct {
	Event string `json:"event"`
	Room  struct {
		Name string `json:"name"`
	} `json:"room"`
	RoomName    string `json:"roomName"`
	Participant struct {
		Identity string `json:"identity"`
	} `json:"participant"`
	Track struct {
		Source string `json:"source"`
		Type   string `json:"type"`
	} `json:"track"`
}

func (r *GatewayWebhookRequest) GetRoomName() string {
	if r.Room.Name != "" {
		return r.Room.Name
	}
	return r.RoomName
}

// GetTrackSource normalizes the track source; the gateway emits upper-case
// enum names.
func (r *GatewayWebhookRequest) GetTrackSource() string {
	return strings.ToLower(r.Track.Source)
}
