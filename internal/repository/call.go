package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/astroconnect/call-billing-go/internal/model"
)

type CallRepository interface {
	Create(ctx context.Context, params model.CreateCallParams) (*model.CallSession, error)
	FindByID(ctx context.Context, id string) (*model.CallSession, error)
	FindByRoomName(ctx context.Context, roomName string) (*model.CallSession, error)
	// FindRecentInFlight returns non-terminal calls created after since,
	// newest first. Used as the fallback pool for webhook correlation.
	FindRecentInFlight(ctx context.Context, since time.Time) ([]model.CallSession, error)
	// UpdateStatusIf is the guarded transition primitive: set status to `to`
	// only if the persisted status is one of `from`. Returns true when this
	// call performed the transition.
	UpdateStatusIf(ctx context.Context, id string, from []model.CallStatus, to model.CallStatus) (bool, error)
	// Accept moves a pending call to active and assigns its room name.
	Accept(ctx context.Context, id, roomName string) (bool, error)
	// Finish moves the call to a terminal status, freezing end_time on first
	// observation and recording an optional timeout reason.
	Finish(ctx context.Context, id string, from []model.CallStatus, to model.CallStatus, timeoutReason *string) (bool, error)
	SetParticipantJoined(ctx context.Context, id string, role model.ParticipantRole) (bool, error)
	SetParticipantLeft(ctx context.Context, id string, role model.ParticipantRole) (bool, error)
	// SetConnectedIfBothJoined promotes the call to connected, stamping
	// connected_at from the server clock exactly once.
	SetConnectedIfBothJoined(ctx context.Context, id string) (bool, error)
	SetAudioPublished(ctx context.Context, id string) (bool, error)
	// FindTimedOut returns pending calls created before pendingBefore and
	// active-but-never-connected calls created before connectBefore.
	FindTimedOut(ctx context.Context, pendingBefore, connectBefore time.Time) ([]model.CallSession, error)
}

type callRepo struct {
	db *sqlx.DB
}

func NewCallRepository(db *sqlx.DB) CallRepository {
	return &callRepo{db: db}
}

func (r *callRepo) Create(ctx context.Context, params model.CreateCallParams) (*model.CallSession, error) {
	var call model.CallSession
	err := r.db.GetContext(ctx, &call, `
		INSERT INTO calls (user_id, astrologer_id, call_type, status)
		VALUES ($1, $2, $3, 'pending')
		RETURNING *
	`, params.UserID, params.AstrologerID, params.CallType)
	if err != nil {
		return nil, err
	}
	return &call, nil
}

func (r *callRepo) FindByID(ctx context.Context, id string) (*model.CallSession, error) {
	var call model.CallSession
	err := r.db.GetContext(ctx, &call, `
		SELECT * FROM calls WHERE id = $1
	`, id)
	return HandleNotFound(&call, err)
}

func (r *callRepo) FindByRoomName(ctx context.Context, roomName string) (*model.CallSession, error) {
	var call model.CallSession
	err := r.db.GetContext(ctx, &call, `
		SELECT * FROM calls WHERE room_name = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, roomName)
	return HandleNotFound(&call, err)
}

func (r *callRepo) FindRecentInFlight(ctx context.Context, since time.Time) ([]model.CallSession, error) {
	var calls []model.CallSession
	err := r.db.SelectContext(ctx, &calls, `
		SELECT * FROM calls
		WHERE status IN ('pending', 'active', 'connected', 'billing_active')
		  AND created_at > $1
		ORDER BY created_at DESC
	`, since)
	return calls, err
}

func (r *callRepo) UpdateStatusIf(ctx context.Context, id string, from []model.CallStatus, to model.CallStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE calls SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
	`, id, statusArray(from), to)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *callRepo) Accept(ctx context.Context, id, roomName string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE calls SET status = 'active', room_name = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, roomName)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *callRepo) Finish(ctx context.Context, id string, from []model.CallStatus, to model.CallStatus, timeoutReason *string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE calls SET
			status = $3,
			end_time = COALESCE(end_time, NOW()),
			timeout_reason = COALESCE($4, timeout_reason),
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
	`, id, statusArray(from), to, timeoutReason)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *callRepo) SetParticipantJoined(ctx context.Context, id string, role model.ParticipantRole) (bool, error) {
	res, err := r.db.ExecContext(ctx, joinedColumnQuery(role, true), id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *callRepo) SetParticipantLeft(ctx context.Context, id string, role model.ParticipantRole) (bool, error) {
	res, err := r.db.ExecContext(ctx, joinedColumnQuery(role, false), id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *callRepo) SetConnectedIfBothJoined(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE calls SET
			status = 'connected',
			connected_at = COALESCE(connected_at, NOW()),
			updated_at = NOW()
		WHERE id = $1
		  AND status IN ('pending', 'active')
		  AND user_joined AND astrologer_joined
	`, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *callRepo) SetAudioPublished(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE calls SET audio_published = TRUE, updated_at = NOW()
		WHERE id = $1 AND NOT audio_published
	`, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *callRepo) FindTimedOut(ctx context.Context, pendingBefore, connectBefore time.Time) ([]model.CallSession, error) {
	var calls []model.CallSession
	err := r.db.SelectContext(ctx, &calls, `
		SELECT * FROM calls
		WHERE (status = 'pending' AND created_at < $1)
		   OR (status IN ('active', 'connected') AND connected_at IS NULL AND created_at < $2)
		ORDER BY created_at ASC
	`, pendingBefore, connectBefore)
	return calls, err
}

func joinedColumnQuery(role model.ParticipantRole, joined bool) string {
	column := "user_joined"
	if role == model.RoleAstrologer {
		column = "astrologer_joined"
	}
	if joined {
		return `UPDATE calls SET ` + column + ` = TRUE, updated_at = NOW()
			WHERE id = $1 AND NOT ` + column
	}
	return `UPDATE calls SET ` + column + ` = FALSE, updated_at = NOW()
		WHERE id = $1 AND ` + column
}

func statusArray(statuses []model.CallStatus) interface{} {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	return pq.Array(values)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
