package model

import (
	"encoding/json"
	"strings"
	"time"
)

type CallSession struct {
	ID               string     `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"userId"`
	AstrologerID     string     `db:"astrologer_id" json:"astrologerId"`
	CallType         CallType   `db:"call_type" json:"callType"`
	Status           CallStatus `db:"status" json:"status"`
	RoomName         *string    `db:"room_name" json:"roomName,omitempty"`
	UserJoined       bool       `db:"user_joined" json:"userJoined"`
	AstrologerJoined bool       `db:"astrologer_joined" json:"astrologerJoined"`
	AudioPublished   bool       `db:"audio_published" json:"audioPublished"`
	ConnectedAt      *time.Time `db:"connected_at" json:"connectedAt,omitempty"`
	EndTime          *time.Time `db:"end_time" json:"endTime,omitempty"`
	TimeoutReason    *string    `db:"timeout_reason" json:"timeoutReason,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updatedAt"`
}

// BothJoined reports whether both participants have joined the room.
func (c *CallSession) BothJoined() bool {
	return c.UserJoined && c.AstrologerJoined
}

// DurationSeconds returns elapsed talk time. Zero before the call connects;
// frozen at endTime once the call has ended.
func (c *CallSession) DurationSeconds(now time.Time) int64 {
	if c.ConnectedAt == nil {
		return 0
	}
	end := now
	if c.EndTime != nil {
		end = *c.EndTime
	}
	d := end.Sub(*c.ConnectedAt)
	if d < 0 {
		return 0
	}
	return int64(d.Seconds())
}

// ToSSEEventData returns JSON data for SSE call status events
func (c *CallSession) ToSSEEventData() json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"callId":      c.ID,
		"status":      c.Status,
		"connectedAt": c.ConnectedAt,
		"endTime":     c.EndTime,
		"updatedAt":   c.UpdatedAt,
	})
	return data
}

type CreateCallParams struct {
	UserID       string
	AstrologerID string
	CallType     CallType
}

// ParseParticipantIdentity splits a media-gateway participant identity of the
// form "user-<id>" or "astrologer-<id>" into role and bare id.
func ParseParticipantIdentity(identity string) (ParticipantRole, string, bool) {
	if id, ok := strings.CutPrefix(identity, "astrologer-"); ok {
		return RoleAstrologer, id, true
	}
	if id, ok := strings.CutPrefix(identity, "user-"); ok {
		return RoleUser, id, true
	}
	return "", "", false
}
